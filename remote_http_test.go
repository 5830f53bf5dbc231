package pairsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestHTTPRemoteStore_ApplyOperation(t *testing.T) {
	var gotAuth, gotPath string
	var gotOp PendingOperation

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotOp)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&MissionProgress{
			ID: "rec-1", PairID: "pair-1", MissionID: gotOp.Payload.MissionID, UpdatedAt: 7,
		})
	}))
	defer server.Close()

	store := NewHTTPRemoteStore(RemoteConfig{BaseURL: server.URL, AuthToken: "tok"}, zerolog.Nop())

	op := &PendingOperation{
		OperationID: "op-1", PairID: "pair-1", Kind: OpStart, TargetID: "local-x",
		Payload: OperationPayload{MissionID: "m1", ParticipantID: "alice"},
	}
	res, err := store.ApplyOperation(context.Background(), op)
	if err != nil {
		t.Fatalf("ApplyOperation: %v", err)
	}
	if res.Duplicate || res.Record == nil || res.Record.ID != "rec-1" {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/v1/pairs/pair-1/operations" {
		t.Errorf("path = %q", gotPath)
	}
	if gotOp.OperationID != "op-1" || gotOp.Payload.MissionID != "m1" {
		t.Errorf("wire operation wrong: %+v", gotOp)
	}
}

func TestHTTPRemoteStore_ApplyOperation_Conflict(t *testing.T) {
	t.Run("WithRecord", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(&MissionProgress{ID: "rec-1", PairID: "pair-1", MissionID: "m1"})
		}))
		defer server.Close()

		store := NewHTTPRemoteStore(RemoteConfig{BaseURL: server.URL}, zerolog.Nop())
		res, err := store.ApplyOperation(context.Background(), &PendingOperation{OperationID: "op-1", PairID: "pair-1"})
		if err != nil {
			t.Fatalf("ApplyOperation: %v", err)
		}
		if !res.Duplicate {
			t.Error("409 should report a duplicate")
		}
		if res.Record == nil || res.Record.ID != "rec-1" {
			t.Errorf("record should ride along: %+v", res.Record)
		}
	})

	t.Run("EmptyBody", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		store := NewHTTPRemoteStore(RemoteConfig{BaseURL: server.URL}, zerolog.Nop())
		res, err := store.ApplyOperation(context.Background(), &PendingOperation{OperationID: "op-1", PairID: "pair-1"})
		if err != nil {
			t.Fatalf("ApplyOperation: %v", err)
		}
		if !res.Duplicate || res.Record != nil {
			t.Errorf("unexpected result: %+v", res)
		}
	})
}

func TestHTTPRemoteStore_ApplyOperation_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := NewHTTPRemoteStore(RemoteConfig{BaseURL: server.URL}, zerolog.Nop())
	_, err := store.ApplyOperation(context.Background(), &PendingOperation{OperationID: "op-1", PairID: "pair-1"})

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.StatusCode != http.StatusServiceUnavailable || !remote.Transient() {
		t.Errorf("unexpected remote error: %+v", remote)
	}
}

func TestHTTPRemoteStore_FetchPairState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pairs/pair-1/missions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]*MissionProgress{
			{ID: "rec-1", PairID: "pair-1", MissionID: "m1"},
			{ID: "rec-2", PairID: "pair-1", MissionID: "m2"},
		})
	}))
	defer server.Close()

	store := NewHTTPRemoteStore(RemoteConfig{BaseURL: server.URL}, zerolog.Nop())
	records, err := store.FetchPairState(context.Background(), "pair-1")
	if err != nil {
		t.Fatalf("FetchPairState: %v", err)
	}
	if len(records) != 2 || records[0].ID != "rec-1" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestHTTPRemoteStore_FeedURL(t *testing.T) {
	tests := []struct {
		name   string
		config RemoteConfig
		want   string
	}{
		{"derived ws", RemoteConfig{BaseURL: "http://api.example.com"}, "ws://api.example.com/v1/pairs/pair-1/feed"},
		{"derived wss", RemoteConfig{BaseURL: "https://api.example.com"}, "wss://api.example.com/v1/pairs/pair-1/feed"},
		{"explicit", RemoteConfig{BaseURL: "https://api.example.com", WebSocketURL: "wss://feed.example.com"}, "wss://feed.example.com/v1/pairs/pair-1/feed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewHTTPRemoteStore(tt.config, zerolog.Nop())
			got, err := store.feedURL("pair-1")
			if err != nil {
				t.Fatalf("feedURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("feedURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPRemoteStore_Subscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(ChangeEvent{Type: ChangeInsert, Record: &MissionProgress{
			ID: "rec-1", PairID: "pair-1", MissionID: "m1",
		}})
		// Events without a record are heartbeats and must be skipped.
		conn.WriteJSON(ChangeEvent{Type: ChangeUpdate})
		conn.WriteJSON(ChangeEvent{Type: ChangeUpdate, Record: &MissionProgress{
			ID: "rec-1", PairID: "pair-1", MissionID: "m1", PhotoURL: "u",
		}})
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	store := NewHTTPRemoteStore(RemoteConfig{BaseURL: server.URL, WebSocketURL: wsURL, AuthToken: "tok"}, zerolog.Nop())

	feed, err := store.Subscribe(context.Background(), "pair-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer feed.Close()

	first := <-feed.Events()
	if first.Type != ChangeInsert || first.Record.ID != "rec-1" {
		t.Errorf("first event wrong: %+v", first)
	}
	second := <-feed.Events()
	if second.Type != ChangeUpdate || second.Record.PhotoURL != "u" {
		t.Errorf("second event wrong: %+v", second)
	}

	// Server hangup closes the channel.
	if _, open := <-feed.Events(); open {
		t.Error("events channel should close when the connection drops")
	}
}
