package chatter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

// fakeBackend is an in-memory Backend with hooks for failure injection and
// blocking fetches.
type fakeBackend struct {
	mu       sync.Mutex
	channels []Channel
	history  map[string][]Message // ascending by index

	failLeave    bool
	failDelete   bool
	failMarkRead bool
	failSend     bool
	fetchErr     error

	fetchChannelCalls int
	fetchMessageCalls int
	leaveCalls        int
	deleteCalls       int
	markReadCalls     int
	sendCalls         int

	// When non-nil, FetchMessages blocks until the channel is closed.
	blockFetch chan struct{}

	nextIndex int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[string][]Message)}
}

func (f *fakeBackend) FetchChannels(ctx context.Context) ([]Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchChannelCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]Channel(nil), f.channels...), nil
}

func (f *fakeBackend) FetchChannel(ctx context.Context, id string) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return Channel{}, fmt.Errorf("no such channel %s", id)
}

func (f *fakeBackend) FetchMessages(ctx context.Context, channelID string, before *int64, count int) ([]Message, error) {
	f.mu.Lock()
	block := f.blockFetch
	f.fetchMessageCalls++
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var eligible []Message
	for _, m := range f.history[channelID] {
		if before != nil && m.Index != nil && *m.Index >= *before {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) > count {
		eligible = eligible[len(eligible)-count:]
	}
	return append([]Message(nil), eligible...), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, channelID string, msg Message) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.failSend {
		return Message{}, fmt.Errorf("send rejected")
	}
	idx := f.nextIndex
	f.nextIndex++
	confirmed := msg
	confirmed.ID = fmt.Sprintf("srv-%d", idx)
	confirmed.Index = &idx
	confirmed.Status = StatusDelivered
	f.history[channelID] = append(f.history[channelID], confirmed)
	return confirmed, nil
}

func (f *fakeBackend) LeaveChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	if f.failLeave {
		return fmt.Errorf("leave rejected")
	}
	return nil
}

func (f *fakeBackend) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failDelete {
		return fmt.Errorf("delete rejected")
	}
	return nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, channelID, messageID, consumer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	if f.failMarkRead {
		return fmt.Errorf("mark read rejected")
	}
	return nil
}

// seedHistory fills a channel's history with n indexed text messages, one
// minute apart.
func (f *fakeBackend) seedHistory(channelID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		idx := int64(i)
		f.history[channelID] = append(f.history[channelID], Message{
			ID:        fmt.Sprintf("msg-%d", i),
			Index:     &idx,
			ChannelID: channelID,
			Author:    "bob",
			Body:      MessageBody{Type: BodyText, Text: fmt.Sprintf("message %d", i)},
			Status:    StatusDelivered,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	f.nextIndex = int64(n)
}

func testChannel(id string, status Membership, lastActivity time.Time) Channel {
	return Channel{
		ID:           id,
		Name:         "#" + id,
		UniqueName:   "uniq-" + id,
		Status:       status,
		Kind:         KindRemote,
		MemberCount:  2,
		Members:      []string{"me", "bob"},
		LastActivity: lastActivity,
	}
}

func messageIndices(msgs []Message) []int64 {
	var out []int64
	for _, m := range msgs {
		if m.Index != nil {
			out = append(out, *m.Index)
		} else {
			out = append(out, -1)
		}
	}
	return out
}

func flattenSections(sections []Section) []Message {
	var out []Message
	for _, s := range sections {
		out = append(out, s.Messages...)
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
