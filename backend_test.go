package chatter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okEnvelope(t *testing.T, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := json.Marshal(apiResult{OK: true, Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

func TestRESTBackendFetchChannels(t *testing.T) {
	ctx := context.Background()
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write(okEnvelope(t, []wireChannel{
			{ID: "ch-1", Name: "#general", Status: "joined", MemberCount: 3,
				LastActivity: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
			{ID: "ch-2", Status: "bogus"},
		}))
	}))
	defer server.Close()

	backend := NewRESTBackend("tok-123", WithBaseURL(server.URL))
	channels, err := backend.FetchChannels(ctx)
	if err != nil {
		t.Fatalf("fetch channels: %v", err)
	}
	if gotPath != "/api/channels" {
		t.Fatalf("wrong path: %s", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("wrong auth header: %s", gotAuth)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if channels[0].ID != "ch-1" || channels[0].Status != MemberJoined {
		t.Fatalf("bad first channel: %+v", channels[0])
	}
	// Unrecognized membership degrades to none instead of failing the decode.
	if channels[1].Status != MemberNone {
		t.Fatalf("expected none status, got %s", channels[1].Status)
	}
}

func TestRESTBackendFetchMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("query params carry the window", func(t *testing.T) {
		var gotQuery map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = map[string]string{
				"limit":  r.URL.Query().Get("limit"),
				"before": r.URL.Query().Get("before"),
			}
			w.Write(okEnvelope(t, []wireMessage{}))
		}))
		defer server.Close()

		backend := NewRESTBackend("tok", WithBaseURL(server.URL))
		before := int64(42)
		if _, err := backend.FetchMessages(ctx, "ch-1", &before, 25); err != nil {
			t.Fatalf("fetch messages: %v", err)
		}
		if gotQuery["limit"] != "25" || gotQuery["before"] != "42" {
			t.Fatalf("wrong query: %+v", gotQuery)
		}
	})

	t.Run("nil before omits the bound", func(t *testing.T) {
		var hadBefore bool
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hadBefore = r.URL.Query().Has("before")
			w.Write(okEnvelope(t, []wireMessage{}))
		}))
		defer server.Close()

		backend := NewRESTBackend("tok", WithBaseURL(server.URL))
		if _, err := backend.FetchMessages(ctx, "ch-1", nil, 25); err != nil {
			t.Fatalf("fetch messages: %v", err)
		}
		if hadBefore {
			t.Fatal("before must not be sent for an initial load")
		}
	})

	t.Run("decodes into models", func(t *testing.T) {
		idx := int64(7)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(okEnvelope(t, []wireMessage{{
				ID: "m-1", Index: &idx, ChannelID: "ch-1", Author: "bob",
				Body:      MessageBody{Type: BodyText, Text: "hi"},
				Status:    "delivered",
				CreatedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
			}}))
		}))
		defer server.Close()

		backend := NewRESTBackend("tok", WithBaseURL(server.URL))
		msgs, err := backend.FetchMessages(ctx, "ch-1", nil, 10)
		if err != nil {
			t.Fatalf("fetch messages: %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
		m := msgs[0]
		if m.ID != "m-1" || m.Index == nil || *m.Index != 7 || m.Status != StatusDelivered {
			t.Fatalf("bad decode: %+v", m)
		}
	})
}

func TestRESTBackendSendMessage(t *testing.T) {
	ctx := context.Background()
	var gotMethod, gotPath string
	var gotBody wireMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		idx := int64(12)
		w.Write(okEnvelope(t, wireMessage{
			ID: "srv-12", Index: &idx, ChannelID: "ch-1", Author: gotBody.Author,
			Body: gotBody.Body, Status: "delivered",
			CorrelationID: gotBody.CorrelationID,
			CreatedAt:     time.Now().UTC(),
		}))
	}))
	defer server.Close()

	backend := NewRESTBackend("tok", WithBaseURL(server.URL))
	echo := Message{
		Author:        "me",
		Body:          MessageBody{Type: BodyText, Text: "hello"},
		CorrelationID: "corr-1",
		CreatedAt:     time.Now().UTC(),
	}
	confirmed, err := backend.SendMessage(ctx, "ch-1", echo)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotMethod != "POST" || gotPath != "/api/channels/ch-1/messages" {
		t.Fatalf("wrong request: %s %s", gotMethod, gotPath)
	}
	if gotBody.CorrelationID != "corr-1" {
		t.Fatalf("correlation id not forwarded: %+v", gotBody)
	}
	if confirmed.ID != "srv-12" || confirmed.Index == nil || confirmed.CorrelationID != "corr-1" {
		t.Fatalf("bad confirmation: %+v", confirmed)
	}
}

func TestRESTBackendMarkRead(t *testing.T) {
	ctx := context.Background()
	var gotMethod, gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(okEnvelope(t, struct{}{}))
	}))
	defer server.Close()

	backend := NewRESTBackend("tok", WithBaseURL(server.URL))
	if err := backend.MarkRead(ctx, "ch-1", "m-9", "me"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if gotMethod != "POST" || gotPath != "/api/channels/ch-1/messages/m-9/read" {
		t.Fatalf("wrong request: %s %s", gotMethod, gotPath)
	}
	if gotBody["consumer"] != "me" {
		t.Fatalf("consumer not forwarded: %+v", gotBody)
	}
}

func TestRESTBackendErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, _ := json.Marshal(apiResult{OK: false, Error: &apiError{
			Code: "not_found", Message: "no such channel",
		}})
		w.WriteHeader(http.StatusNotFound)
		w.Write(out)
	}))
	defer server.Close()

	backend := NewRESTBackend("tok", WithBaseURL(server.URL))
	_, err := backend.FetchChannel(ctx, "nope")
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected apiError, got %T: %v", err, err)
	}
	if apiErr.Code != "not_found" {
		t.Fatalf("wrong code: %s", apiErr.Code)
	}
}

func TestRESTBackendLeaveAndDelete(t *testing.T) {
	ctx := context.Background()
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		w.Write(okEnvelope(t, struct{}{}))
	}))
	defer server.Close()

	backend := NewRESTBackend("tok", WithBaseURL(server.URL))
	if err := backend.LeaveChannel(ctx, "ch-1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := backend.DeleteChannel(ctx, "ch-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := []string{"POST /api/channels/ch-1/leave", "DELETE /api/channels/ch-1"}
	if len(requests) != 2 || requests[0] != want[0] || requests[1] != want[1] {
		t.Fatalf("wrong requests: %v", requests)
	}
}
