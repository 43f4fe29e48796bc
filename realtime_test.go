package chatter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestReconnector(t *testing.T) {
	cfg := &StreamConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  8 * time.Second,
	}

	t.Run("backoff grows and caps", func(t *testing.T) {
		r := newReconnector(cfg)
		var prev time.Duration
		for i := 0; i < 6; i++ {
			d := r.nextDelay()
			if d > cfg.ReconnectMaxDelay {
				t.Fatalf("attempt %d: delay %s exceeds cap", i, d)
			}
			if d < prev && d != cfg.ReconnectMaxDelay {
				t.Fatalf("attempt %d: delay shrank from %s to %s before the cap", i, prev, d)
			}
			prev = d
		}
		if prev != cfg.ReconnectMaxDelay {
			t.Fatalf("expected the cap after 6 attempts, got %s", prev)
		}
	})

	t.Run("stable connection resets the attempt count", func(t *testing.T) {
		r := newReconnector(cfg)
		for i := 0; i < 4; i++ {
			r.nextDelay()
		}
		r.connectedAt = time.Now().Add(-2 * time.Minute)
		d := r.nextDelay()
		// Attempt 0 again: base delay plus at most half of it as jitter.
		if d >= 2*cfg.ReconnectBaseDelay {
			t.Fatalf("expected a reset backoff, got %s", d)
		}
	})

	t.Run("attempt limit", func(t *testing.T) {
		r := newReconnector(&StreamConfig{
			ReconnectBaseDelay:   time.Millisecond,
			ReconnectMaxDelay:    time.Millisecond,
			MaxReconnectAttempts: 2,
		})
		if !r.shouldReconnect() {
			t.Fatal("fresh reconnector should allow attempts")
		}
		r.nextDelay()
		r.nextDelay()
		if r.shouldReconnect() {
			t.Fatal("attempts exhausted, should stop")
		}
	})
}

func TestStreamConfigDefaults(t *testing.T) {
	cfg := &StreamConfig{Token: "tok"}
	cfg.defaults()
	if cfg.ReconnectBaseDelay == 0 || cfg.ReconnectMaxDelay == 0 ||
		cfg.MaxReconnectAttempts == 0 || cfg.HeartbeatInterval == 0 {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
}

func TestEventStreamDelivery(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		write := func(typ string, payload interface{}) {
			raw, _ := json.Marshal(payload)
			data, _ := json.Marshal(wireEnvelope{Type: typ, Payload: raw})
			_ = conn.Write(r.Context(), websocket.MessageText, data)
		}
		write("message.added", wireMessage{
			ID: "m-1", ChannelID: "ch-1", Author: "bob",
			Body: MessageBody{Type: BodyText, Text: "first"},
		})
		write("presence.changed", struct{}{}) // unknown, must be skipped
		write("message.added", wireMessage{
			ID: "m-2", ChannelID: "ch-1", Author: "bob",
			Body: MessageBody{Type: BodyText, Text: "second"},
		})

		// Hold the connection open until the client walks away.
		<-r.Context().Done()
	}))
	defer server.Close()

	stream := NewEventStream(server.URL, &StreamConfig{Token: "tok-9"})

	var mu sync.Mutex
	var ids []string
	stream.OnEvent(func(ev Event) {
		me, ok := ev.(MessageEvent)
		if !ok {
			return
		}
		mu.Lock()
		ids = append(ids, me.Message.ID)
		mu.Unlock()
	})

	if err := stream.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Disconnect()

	if stream.State() != StateConnected {
		t.Fatalf("expected connected state, got %s", stream.State())
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if ids[0] != "m-1" || ids[1] != "m-2" {
		t.Fatalf("events out of order or lost: %v", ids)
	}
	if gotToken != "tok-9" {
		t.Fatalf("token not sent: %q", gotToken)
	}
}

func TestEventStreamDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		<-r.Context().Done()
	}))
	defer server.Close()

	stream := NewEventStream(server.URL, &StreamConfig{Token: "tok"})
	if err := stream.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := stream.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if stream.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", stream.State())
	}
	// A second disconnect is a no-op.
	if err := stream.Disconnect(); err != nil {
		t.Fatalf("double disconnect: %v", err)
	}
}
