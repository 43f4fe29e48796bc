package chatter

import (
	"context"
	"sort"
	"sync"
)

// ============================================================================
// Channel Cache
// ============================================================================

// ChannelCache is the single source of truth for which channels exist
// locally and in what membership state. It absorbs push events, applies
// pre-emptive removals for user-initiated leave/delete, and recomputes the
// sorted joined/invited views on every canonical mutation.
//
// All mutation entry points run under one mutex per cache instance, so the
// canonical list and the derived views are always observed together.
// Observers receive snapshots computed inside the critical section; the
// callbacks themselves run outside it.
type ChannelCache struct {
	mu      sync.Mutex
	backend Backend
	self    string

	channels []Channel // canonical, unsorted, unique by ID
	joined   []Channel // derived, recency order
	invited  []Channel // derived, recency order

	active      *Channel
	awaitedName string // pending-channel confirmation key

	onChanged []func(joined, invited []Channel)
	onActive  []func(*Channel)
	onEvent   []func(Event)
}

// NewChannelCache creates an empty cache. self is the current user's id,
// used to recognize "I left" member events.
func NewChannelCache(backend Backend, self string) *ChannelCache {
	return &ChannelCache{backend: backend, self: self}
}

// ── Observers ────────────────────────────────────────────

// OnChannelsChanged registers a handler invoked with the fully-updated
// joined and invited views after every canonical mutation.
func (cc *ChannelCache) OnChannelsChanged(h func(joined, invited []Channel)) {
	cc.mu.Lock()
	cc.onChanged = append(cc.onChanged, h)
	cc.mu.Unlock()
}

// OnActiveChanged registers a handler invoked whenever the active selection
// changes, including event-driven invalidation.
func (cc *ChannelCache) OnActiveChanged(h func(*Channel)) {
	cc.mu.Lock()
	cc.onActive = append(cc.onActive, h)
	cc.mu.Unlock()
}

// OnEvent registers a pass-through handler for events that do not mutate
// the cache (channel changed, member joined, typing...).
func (cc *ChannelCache) OnEvent(h func(Event)) {
	cc.mu.Lock()
	cc.onEvent = append(cc.onEvent, h)
	cc.mu.Unlock()
}

// ── Views ────────────────────────────────────────────────

// Joined returns a copy of the joined view, most recent activity first.
func (cc *ChannelCache) Joined() []Channel {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return append([]Channel(nil), cc.joined...)
}

// Invited returns a copy of the invited view, most recent activity first.
func (cc *ChannelCache) Invited() []Channel {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return append([]Channel(nil), cc.invited...)
}

// Active returns a copy of the active selection, or nil.
func (cc *ChannelCache) Active() *Channel {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.active == nil {
		return nil
	}
	ch := *cc.active
	return &ch
}

// ── Lookups ──────────────────────────────────────────────

// ChannelByID returns the canonical entry with the given id.
func (cc *ChannelCache) ChannelByID(id string) (Channel, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for _, ch := range cc.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return Channel{}, ErrChannelNotFound
}

// ChannelByUniqueName returns the canonical entry with the given unique name.
func (cc *ChannelCache) ChannelByUniqueName(name string) (Channel, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for _, ch := range cc.channels {
		if ch.UniqueName == name {
			return ch, nil
		}
	}
	return Channel{}, ErrChannelNotFound
}

// ChannelContaining returns the first canonical entry listing userID as a
// member.
func (cc *ChannelCache) ChannelContaining(userID string) (Channel, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for _, ch := range cc.channels {
		if ch.HasMember(userID) {
			return ch, nil
		}
	}
	return Channel{}, ErrChannelNotFound
}

// ── Active selection ─────────────────────────────────────

// SetActive replaces the active selection. Selecting a pending channel
// records its unique name as the awaited confirmation key; the matching
// channel-added event later promotes the selection to the confirmed handle.
func (cc *ChannelCache) SetActive(ch *Channel) {
	cc.mu.Lock()
	cc.awaitedName = ""
	if ch == nil {
		cc.active = nil
	} else {
		copied := *ch
		cc.active = &copied
		if copied.Kind == KindPending {
			cc.awaitedName = copied.UniqueName
		}
	}
	active := cc.snapshotActive()
	handlers := append(([]func(*Channel))(nil), cc.onActive...)
	cc.mu.Unlock()

	for _, h := range handlers {
		h(active)
	}
}

// ── Ingestion ────────────────────────────────────────────

// ApplyEvent is the single entry point for backend-driven mutation. Events
// that carry no cache semantics are forwarded to pass-through observers
// unchanged.
func (cc *ChannelCache) ApplyEvent(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ChannelEvent:
		switch e.Status {
		case ChannelAdded:
			cc.applyAdded(ctx, e.Channel)
		case ChannelDeleted:
			cc.removeLocally(e.Channel.ID)
		case ChannelChanged:
			cc.forward(ev)
		}
	case MemberEvent:
		switch e.Status {
		case MemberEventLeft:
			if e.UserID == cc.self {
				cc.removeLocally(e.ChannelID)
				return
			}
			cc.forward(ev)
		case MemberEventJoined, MemberEventChanged,
			MemberEventTypingStarted, MemberEventTypingEnded:
			cc.forward(ev)
		}
	case MessageEvent:
		// Message events belong to the message cache; forwarded so a
		// session can route them without a second subscription.
		cc.forward(ev)
	}
}

// applyAdded refreshes the canonical list from the source of truth. The
// event alone carries too little to merge safely, so a full re-list wins;
// if the re-list fails the event's channel is upserted so the addition is
// still visible.
func (cc *ChannelCache) applyAdded(ctx context.Context, added Channel) {
	fetched, err := cc.backend.FetchChannels(ctx)

	cc.mu.Lock()
	if err == nil {
		cc.channels = dedupeByID(fetched)
	} else {
		cc.upsertLocked(added)
	}

	promoted := false
	if cc.awaitedName != "" && added.UniqueName == cc.awaitedName {
		confirmed, ok := cc.findLocked(added.ID)
		if !ok {
			// Re-list raced ahead of the confirmation; trust the event.
			cc.upsertLocked(added)
			confirmed = added
		}
		cc.active = &confirmed
		cc.awaitedName = ""
		promoted = true
	}

	cc.recomputeLocked()
	joined, invited := cc.snapshotViews()
	active := cc.snapshotActive()
	changed := append(([]func(joined, invited []Channel))(nil), cc.onChanged...)
	activeHandlers := append(([]func(*Channel))(nil), cc.onActive...)
	cc.mu.Unlock()

	for _, h := range changed {
		h(joined, invited)
	}
	if promoted {
		for _, h := range activeHandlers {
			h(active)
		}
	}
}

// removeLocally drops a channel from the canonical list immediately and
// clears the active selection if it pointed at the removed entry. The
// selection must never dangle past the removal.
func (cc *ChannelCache) removeLocally(id string) {
	cc.mu.Lock()
	kept := cc.channels[:0]
	removed := false
	for _, ch := range cc.channels {
		if ch.ID == id {
			removed = true
			continue
		}
		kept = append(kept, ch)
	}
	cc.channels = kept
	if !removed {
		cc.mu.Unlock()
		return
	}

	activeCleared := false
	if cc.active != nil && cc.active.ID == id {
		cc.active = nil
		activeCleared = true
	}

	cc.recomputeLocked()
	joined, invited := cc.snapshotViews()
	changed := append(([]func(joined, invited []Channel))(nil), cc.onChanged...)
	activeHandlers := append(([]func(*Channel))(nil), cc.onActive...)
	cc.mu.Unlock()

	for _, h := range changed {
		h(joined, invited)
	}
	if activeCleared {
		for _, h := range activeHandlers {
			h(nil)
		}
	}
}

func (cc *ChannelCache) forward(ev Event) {
	cc.mu.Lock()
	handlers := append(([]func(Event))(nil), cc.onEvent...)
	cc.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// ── User-initiated mutation ──────────────────────────────

// Leave removes the channel locally the instant the request is issued, then
// tells the backend. The backend's answer is fire-and-forget: a failed
// leave does not restore the entry. The matching member-left event arriving
// later finds nothing left to remove.
func (cc *ChannelCache) Leave(ctx context.Context, ch Channel) {
	cc.removeLocally(ch.ID)
	_ = cc.backend.LeaveChannel(ctx, ch.ID)
}

// Delete removes the channel locally the instant the request is issued,
// then tells the backend. Same fire-and-forget contract as Leave.
func (cc *ChannelCache) Delete(ctx context.Context, ch Channel) {
	cc.removeLocally(ch.ID)
	_ = cc.backend.DeleteChannel(ctx, ch.ID)
}

// Refresh replaces the canonical list with a full re-list from the backend.
func (cc *ChannelCache) Refresh(ctx context.Context) error {
	fetched, err := cc.backend.FetchChannels(ctx)
	if err != nil {
		return &FetchError{Op: "refresh channels", Cause: err}
	}

	cc.mu.Lock()
	cc.channels = dedupeByID(fetched)
	cc.recomputeLocked()
	joined, invited := cc.snapshotViews()
	changed := append(([]func(joined, invited []Channel))(nil), cc.onChanged...)
	cc.mu.Unlock()

	for _, h := range changed {
		h(joined, invited)
	}
	return nil
}

// ── Internals (cc.mu held) ───────────────────────────────

func (cc *ChannelCache) findLocked(id string) (Channel, bool) {
	for _, ch := range cc.channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

func (cc *ChannelCache) upsertLocked(ch Channel) {
	for i := range cc.channels {
		if cc.channels[i].ID == ch.ID {
			cc.channels[i] = ch
			return
		}
	}
	cc.channels = append(cc.channels, ch)
}

// recomputeLocked rebuilds both derived views from the canonical list.
// Last activity descending, id ascending on ties.
func (cc *ChannelCache) recomputeLocked() {
	cc.joined = filterByStatus(cc.channels, MemberJoined)
	cc.invited = filterByStatus(cc.channels, MemberInvited)
}

func (cc *ChannelCache) snapshotViews() (joined, invited []Channel) {
	return append([]Channel(nil), cc.joined...), append([]Channel(nil), cc.invited...)
}

func (cc *ChannelCache) snapshotActive() *Channel {
	if cc.active == nil {
		return nil
	}
	ch := *cc.active
	return &ch
}

func filterByStatus(channels []Channel, status Membership) []Channel {
	var out []Channel
	for _, ch := range channels {
		if ch.Status == status {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func dedupeByID(channels []Channel) []Channel {
	seen := make(map[string]struct{}, len(channels))
	out := channels[:0]
	for _, ch := range channels {
		if _, dup := seen[ch.ID]; dup {
			continue
		}
		seen[ch.ID] = struct{}{}
		out = append(out, ch)
	}
	return out
}
