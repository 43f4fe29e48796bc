package chatter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Message Cache
// ============================================================================

// MessageCache maintains the message list for the currently active
// conversation, merged from paginated history and live events, and the
// day-bucketed sections derived from it.
//
// Switching the active channel is a hard reset: any in-flight fetch result
// is discarded, the list is cleared, and the caller issues a fresh initial
// load. Only one conversation is materialized at a time; events for other
// channels are ignored.
type MessageCache struct {
	mu      sync.Mutex
	backend Backend
	self    string

	channel  *Channel
	messages []Message // chronological ascending
	sections []Section

	// Pagination cursor: the smallest server index materialized locally.
	// Unset means no lower bound is known yet.
	cursor    int64
	cursorSet bool

	fetching bool   // at most one in-flight backward fetch
	gen      uint64 // bumped on every active-channel change

	onSections []func([]Section)
}

// NewMessageCache creates an empty cache scoped to no conversation. self is
// the current user's id, used for unread derivation and optimistic sends.
func NewMessageCache(backend Backend, self string) *MessageCache {
	return &MessageCache{backend: backend, self: self}
}

// OnSectionsChanged registers a handler invoked with the fully-rebuilt
// section list after every mutation of the message list.
func (mc *MessageCache) OnSectionsChanged(h func([]Section)) {
	mc.mu.Lock()
	mc.onSections = append(mc.onSections, h)
	mc.mu.Unlock()
}

// ── Views ────────────────────────────────────────────────

// Sections returns a copy of the current section list.
func (mc *MessageCache) Sections() []Section {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]Section(nil), mc.sections...)
}

// Messages returns a copy of the current message list, oldest first.
func (mc *MessageCache) Messages() []Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]Message(nil), mc.messages...)
}

// UnreadMessages derives the unread subset from current state: authored by
// someone else, not yet consumed by the current user, and consumable (not a
// system notice). Recomputed on every call, never cached.
func (mc *MessageCache) UnreadMessages() []Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var unread []Message
	for _, m := range mc.messages {
		if m.Author == mc.self {
			continue
		}
		if m.ConsumedBy(mc.self) {
			continue
		}
		if !m.Body.Consumable() {
			continue
		}
		unread = append(unread, m)
	}
	return unread
}

// ── Active channel ───────────────────────────────────────

// SetActive rescopes the cache to a new conversation. The previous state is
// dropped wholesale and any fetch still in flight for the old channel will
// find its generation stale and discard its result.
func (mc *MessageCache) SetActive(ch *Channel) {
	mc.mu.Lock()
	mc.gen++
	mc.fetching = false
	mc.messages = nil
	mc.sections = nil
	mc.cursor = 0
	mc.cursorSet = false
	if ch == nil {
		mc.channel = nil
	} else {
		copied := *ch
		mc.channel = &copied
	}
	sections, handlers := mc.snapshotLocked()
	mc.mu.Unlock()

	for _, h := range handlers {
		h(sections)
	}
}

// ── Pagination ───────────────────────────────────────────

// LoadInitial fetches the most recent batchSize messages for the active
// channel, merges them with whatever live events arrived in the meantime,
// and rebuilds sections. Returns the full section list.
func (mc *MessageCache) LoadInitial(ctx context.Context, batchSize int) ([]Section, error) {
	mc.mu.Lock()
	if mc.channel == nil {
		mc.mu.Unlock()
		return nil, ErrNoActiveChannel
	}
	if mc.fetching {
		mc.mu.Unlock()
		return nil, ErrPaginationInProgress
	}
	mc.fetching = true
	gen := mc.gen
	channelID := mc.channel.ID
	mc.mu.Unlock()

	fetched, err := mc.backend.FetchMessages(ctx, channelID, nil, batchSize)

	mc.mu.Lock()
	if mc.gen != gen {
		// Active channel changed while the fetch was in flight; the result
		// belongs to a conversation we no longer show.
		mc.mu.Unlock()
		return nil, nil
	}
	mc.fetching = false
	if err != nil {
		mc.mu.Unlock()
		return nil, &FetchError{Op: "load initial messages", Cause: err}
	}

	mc.messages = mergeMessages(fetched, mc.messages)
	mc.updateCursorLocked()
	mc.rebuildLocked()
	sections, handlers := mc.snapshotLocked()
	mc.mu.Unlock()

	for _, h := range handlers {
		h(sections)
	}
	return sections, nil
}

// LoadBefore extends backward coverage by up to batchSize messages strictly
// older than the pagination cursor, prepending them to the in-memory list.
// When the cursor already sits at the minimum index the call short-circuits
// to an empty result without touching the network. A call issued while
// another backward fetch is in flight is rejected with
// ErrPaginationInProgress.
func (mc *MessageCache) LoadBefore(ctx context.Context, batchSize int) ([]Section, error) {
	mc.mu.Lock()
	if mc.channel == nil {
		mc.mu.Unlock()
		return nil, ErrNoActiveChannel
	}
	if mc.fetching {
		mc.mu.Unlock()
		return nil, ErrPaginationInProgress
	}
	if mc.cursorSet && mc.cursor == 0 {
		mc.mu.Unlock()
		return nil, nil
	}
	var before *int64
	if mc.cursorSet {
		b := mc.cursor
		before = &b
	}
	mc.fetching = true
	gen := mc.gen
	channelID := mc.channel.ID
	mc.mu.Unlock()

	fetched, err := mc.backend.FetchMessages(ctx, channelID, before, batchSize)

	mc.mu.Lock()
	if mc.gen != gen {
		mc.mu.Unlock()
		return nil, nil
	}
	mc.fetching = false
	if err != nil {
		mc.mu.Unlock()
		return nil, &FetchError{Op: "load messages before cursor", Cause: err}
	}

	// Merge into whatever the list has become by now, not the snapshot the
	// fetch started from: live events that landed mid-flight stay.
	mc.messages = mergeMessages(mc.messages, fetched)
	mc.updateCursorLocked()
	mc.rebuildLocked()
	sections, handlers := mc.snapshotLocked()
	mc.mu.Unlock()

	for _, h := range handlers {
		h(sections)
	}
	return sections, nil
}

// ── Ingestion ────────────────────────────────────────────

// ApplyEvent applies a message event to the active conversation. Events for
// other channels, and non-message events, are ignored here.
func (mc *MessageCache) ApplyEvent(ev Event) {
	me, ok := ev.(MessageEvent)
	if !ok {
		return
	}

	mc.mu.Lock()
	if mc.channel == nil || me.Message.ChannelID != mc.channel.ID {
		mc.mu.Unlock()
		return
	}

	switch me.Status {
	case MessageAdded:
		// An added event may be the confirmation of our own optimistic
		// echo; replace it in place instead of appending a duplicate.
		if i := indexOfIdentity(mc.messages, me.Message); i >= 0 {
			mc.messages[i] = me.Message
		} else {
			mc.messages = append(mc.messages, me.Message)
		}
	case MessageChanged:
		if i := indexOfIdentity(mc.messages, me.Message); i >= 0 {
			mc.messages[i] = me.Message
		} else {
			mc.mu.Unlock()
			return
		}
	case MessageDeleted:
		i := indexOfIdentity(mc.messages, me.Message)
		if i < 0 {
			mc.mu.Unlock()
			return
		}
		mc.messages = append(mc.messages[:i], mc.messages[i+1:]...)
	}

	mc.rebuildLocked()
	sections, handlers := mc.snapshotLocked()
	mc.mu.Unlock()

	for _, h := range handlers {
		h(sections)
	}
}

// ── User-initiated mutation ──────────────────────────────

// Send appends an optimistic local echo immediately and submits the message
// to the backend. On confirmation the echo is replaced by the server copy;
// on failure the echo's status flips to error and stays in the list so the
// user can retry. The returned message is the confirmed copy on success or
// the errored echo otherwise.
func (mc *MessageCache) Send(ctx context.Context, body MessageBody) (Message, error) {
	mc.mu.Lock()
	if mc.channel == nil {
		mc.mu.Unlock()
		return Message{}, ErrNoActiveChannel
	}
	echo := Message{
		ChannelID:     mc.channel.ID,
		Author:        mc.self,
		Body:          body,
		Status:        StatusSent,
		CorrelationID: uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
	}
	gen := mc.gen
	channelID := mc.channel.ID
	mc.messages = append(mc.messages, echo)
	mc.rebuildLocked()
	sections, handlers := mc.snapshotLocked()
	mc.mu.Unlock()

	for _, h := range handlers {
		h(sections)
	}

	confirmed, err := mc.backend.SendMessage(ctx, channelID, echo)

	mc.mu.Lock()
	if mc.gen != gen {
		mc.mu.Unlock()
		if err != nil {
			return echo, &FetchError{Op: "send message", Cause: err}
		}
		return confirmed, nil
	}
	i := indexOfIdentity(mc.messages, echo)
	if err != nil {
		if i >= 0 {
			mc.messages[i].Status = StatusError
			echo = mc.messages[i]
		}
	} else {
		if confirmed.CorrelationID == "" {
			confirmed.CorrelationID = echo.CorrelationID
		}
		if i >= 0 {
			mc.messages[i] = confirmed
		} else {
			mc.messages = append(mc.messages, confirmed)
		}
	}
	mc.rebuildLocked()
	sections, handlers = mc.snapshotLocked()
	mc.mu.Unlock()

	for _, h := range handlers {
		h(sections)
	}

	if err != nil {
		return echo, &FetchError{Op: "send message", Cause: err}
	}
	return confirmed, nil
}

// MarkConsumed adds consumer to the message's consumer set locally, then
// dispatches the read receipt to the backend. The two are not linked: a
// failed receipt does not roll the local state back.
func (mc *MessageCache) MarkConsumed(ctx context.Context, msg Message, consumer string) error {
	mc.mu.Lock()
	if mc.channel == nil {
		mc.mu.Unlock()
		return ErrNoActiveChannel
	}
	channelID := mc.channel.ID
	i := indexOfIdentity(mc.messages, msg)
	if i < 0 {
		mc.mu.Unlock()
		return nil
	}
	if !mc.messages[i].ConsumedBy(consumer) {
		mc.messages[i].Consumers = append(
			append([]string(nil), mc.messages[i].Consumers...), consumer)
	}
	messageID := mc.messages[i].ID
	mc.rebuildLocked()
	sections, handlers := mc.snapshotLocked()
	mc.mu.Unlock()

	for _, h := range handlers {
		h(sections)
	}

	_ = mc.backend.MarkRead(ctx, channelID, messageID, consumer)
	return nil
}

// ── Internals (mc.mu held) ───────────────────────────────

func (mc *MessageCache) rebuildLocked() {
	mc.sections = Sectionize(mc.messages)
}

// updateCursorLocked recomputes the smallest materialized server index.
// Called only after successful loads.
func (mc *MessageCache) updateCursorLocked() {
	mc.cursorSet = false
	for _, m := range mc.messages {
		if m.Index == nil {
			continue
		}
		if !mc.cursorSet || *m.Index < mc.cursor {
			mc.cursor = *m.Index
			mc.cursorSet = true
		}
	}
}

func (mc *MessageCache) snapshotLocked() ([]Section, []func([]Section)) {
	sections := append([]Section(nil), mc.sections...)
	handlers := append(([]func([]Section))(nil), mc.onSections...)
	return sections, handlers
}

// ============================================================================
// Merging and Sectionizing
// ============================================================================

func indexOfIdentity(msgs []Message, m Message) int {
	for i := range msgs {
		if msgs[i].sameIdentity(m) {
			return i
		}
	}
	return -1
}

// mergeMessages combines two chronologically meaningful slices into one
// sorted, de-duplicated list. Identity matches and duplicate server indices
// collapse to the entry already in base.
func mergeMessages(base, extra []Message) []Message {
	out := append([]Message(nil), base...)

	seen := make(map[int64]struct{}, len(out))
	for _, m := range out {
		if m.Index != nil {
			seen[*m.Index] = struct{}{}
		}
	}

	for _, m := range extra {
		if indexOfIdentity(out, m) >= 0 {
			continue
		}
		if m.Index != nil {
			if _, dup := seen[*m.Index]; dup {
				continue
			}
			seen[*m.Index] = struct{}{}
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Index != nil && b.Index != nil {
			return *a.Index < *b.Index
		}
		// Indexed (confirmed) entries sort before unconfirmed ones at the
		// same instant.
		return a.Index != nil && b.Index == nil
	})
	return out
}

// Sectionize groups a chronologically ascending message list into calendar
// day sections with a single left-to-right scan. Consecutive messages
// sharing a day merge into one section; each message lands in exactly one
// section, chosen solely by its creation timestamp's calendar day. Pure
// function, no side effects.
func Sectionize(msgs []Message) []Section {
	var out []Section
	for _, m := range msgs {
		day := startOfDay(m.CreatedAt)
		if n := len(out); n > 0 && out[n-1].Day.Equal(day) {
			out[n-1].Messages = append(out[n-1].Messages, m)
			continue
		}
		out = append(out, Section{
			Day:       day,
			ChannelID: m.ChannelID,
			Messages:  []Message{m},
		})
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
