package chatter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize is the page size used for initial history loads when no
// other size is configured.
const DefaultBatchSize = 50

// Session wires a Backend, a ChannelCache and a MessageCache together the
// way a host application would. Caches are plain constructor-injected
// objects; nothing here is global, so tests and multi-account apps can run
// any number of independent sessions.
type Session struct {
	Channels *ChannelCache
	Messages *MessageCache

	backend      Backend
	initialBatch int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithInitialBatch sets the page size for the automatic initial load that
// follows an active-channel change.
func WithInitialBatch(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.initialBatch = n
		}
	}
}

// NewSession builds the cache pair for the given user. Whenever the active
// channel changes, the message cache is hard-reset and, for confirmed
// channels, the first page of history is loaded in the background.
func NewSession(backend Backend, self string, opts ...SessionOption) *Session {
	s := &Session{
		backend:      backend,
		initialBatch: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Channels = NewChannelCache(backend, self)
	s.Messages = NewMessageCache(backend, self)

	s.Channels.OnActiveChanged(func(ch *Channel) {
		s.Messages.SetActive(ch)
		if ch != nil && ch.Kind != KindPending {
			go func() {
				_, _ = s.Messages.LoadInitial(context.Background(), s.initialBatch)
			}()
		}
	})

	return s
}

// Start populates the channel cache with a full listing.
func (s *Session) Start(ctx context.Context) error {
	return s.Channels.Refresh(ctx)
}

// Route feeds one push event to both caches. The channel cache handles
// channel and membership semantics and forwards the rest; the message cache
// picks out message events for the active conversation.
func (s *Session) Route(ctx context.Context, ev Event) {
	s.Channels.ApplyEvent(ctx, ev)
	s.Messages.ApplyEvent(ev)
}

// Attach subscribes the session to a realtime stream. Events are routed on
// the stream's delivery goroutine, preserving arrival order.
func (s *Session) Attach(stream *EventStream) {
	stream.OnEvent(func(ev Event) {
		s.Route(context.Background(), ev)
	})
}

// NewPendingChannel builds a local placeholder for a channel the user just
// created, keyed by a client-chosen unique name that the backend echoes in
// the confirmation event.
func NewPendingChannel(displayName string) Channel {
	unique := uuid.NewString()
	return Channel{
		ID:           "local-" + unique,
		Name:         displayName,
		UniqueName:   unique,
		Status:       MemberJoined,
		Kind:         KindPending,
		MemberCount:  1,
		LastActivity: time.Now().UTC(),
	}
}
