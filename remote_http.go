package pairsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteConfig configures the HTTP adapter for the remote store.
type RemoteConfig struct {
	// BaseURL is the root of the remote store API, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url"`

	// WebSocketURL overrides the change-feed endpoint. If empty it is
	// derived from BaseURL by swapping the scheme to ws/wss.
	WebSocketURL string `yaml:"websocket_url"`

	// AuthToken is sent as a bearer token on every request.
	AuthToken string `yaml:"auth_token"`

	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// PingInterval is how often the websocket feed pings the server.
	// Default: 30s.
	PingInterval time.Duration `yaml:"ping_interval"`

	// EventBuffer is the capacity of the change feed's event channel.
	// Default: 256.
	EventBuffer int `yaml:"event_buffer"`

	// HTTPClient allows injecting a custom HTTP client for testing.
	// If nil, a default client is created with the configured timeout.
	HTTPClient HTTPDoer `yaml:"-"`
}

// HTTPRemoteStore implements RemoteStore against a REST API with a
// websocket change feed. Writes are keyed by operation id; the server
// answers a replayed id with 409, which this adapter reports as an
// idempotent duplicate rather than an error.
type HTTPRemoteStore struct {
	config RemoteConfig
	client HTTPDoer
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewHTTPRemoteStore creates a remote store adapter.
func NewHTTPRemoteStore(config RemoteConfig, logger zerolog.Logger) *HTTPRemoteStore {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPRemoteStore{
		config: config,
		client: client,
		dialer: &websocket.Dialer{HandshakeTimeout: config.Timeout},
		logger: logger,
	}
}

// ApplyOperation posts one mutation to the remote store.
func (r *HTTPRemoteStore) ApplyOperation(ctx context.Context, op *PendingOperation) (*RemoteResult, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/pairs/%s/operations", strings.TrimRight(r.config.BaseURL, "/"), url.PathEscape(op.PairID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	r.auth(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &RemoteError{Message: "apply operation", Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var record MissionProgress
		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return nil, fmt.Errorf("decode operation result: %w", err)
		}
		return &RemoteResult{Record: &record}, nil
	case resp.StatusCode == http.StatusConflict:
		// Operation id already applied; the row state may ride along.
		result := &RemoteResult{Duplicate: true}
		var record MissionProgress
		if err := json.NewDecoder(resp.Body).Decode(&record); err == nil && record.ID != "" {
			result.Record = &record
		}
		return result, nil
	default:
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: "apply operation rejected"}
	}
}

// FetchPairState performs the full-refresh read for a pair.
func (r *HTTPRemoteStore) FetchPairState(ctx context.Context, pairID string) ([]*MissionProgress, error) {
	endpoint := fmt.Sprintf("%s/v1/pairs/%s/missions", strings.TrimRight(r.config.BaseURL, "/"), url.PathEscape(pairID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	r.auth(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &RemoteError{Message: "fetch pair state", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: "fetch pair state rejected"}
	}

	var records []*MissionProgress
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode pair state: %w", err)
	}
	return records, nil
}

// Subscribe opens the websocket change feed for a pair.
func (r *HTTPRemoteStore) Subscribe(ctx context.Context, pairID string) (ChangeFeed, error) {
	endpoint, err := r.feedURL(pairID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if r.config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+r.config.AuthToken)
	}

	conn, resp, err := r.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, &RemoteError{StatusCode: resp.StatusCode, Message: "subscribe rejected", Cause: err}
		}
		return nil, &RemoteError{Message: "subscribe", Cause: err}
	}

	feed := &wsFeed{
		conn:   conn,
		events: make(chan ChangeEvent, r.config.EventBuffer),
		done:   make(chan struct{}),
		logger: r.logger.With().Str("pair_id", pairID).Logger(),
	}
	go feed.readLoop()
	go feed.pingLoop(r.config.PingInterval)
	return feed, nil
}

func (r *HTTPRemoteStore) feedURL(pairID string) (string, error) {
	base := r.config.WebSocketURL
	if base == "" {
		u, err := url.Parse(r.config.BaseURL)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		base = u.String()
	}
	return fmt.Sprintf("%s/v1/pairs/%s/feed", strings.TrimRight(base, "/"), url.PathEscape(pairID)), nil
}

func (r *HTTPRemoteStore) auth(req *http.Request) {
	if r.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.AuthToken)
	}
}

// wsFeed is a websocket-backed ChangeFeed.
type wsFeed struct {
	conn      *websocket.Conn
	events    chan ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// Events returns the inbound event channel. It closes when the connection
// drops or the feed is closed.
func (f *wsFeed) Events() <-chan ChangeEvent {
	return f.events
}

// Close terminates the subscription.
func (f *wsFeed) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.conn.Close()
	})
	return nil
}

func (f *wsFeed) readLoop() {
	defer close(f.events)
	for {
		var ev ChangeEvent
		if err := f.conn.ReadJSON(&ev); err != nil {
			select {
			case <-f.done:
			default:
				f.logger.Debug().Err(err).Msg("change feed closed")
			}
			return
		}
		if ev.Record == nil {
			continue
		}
		select {
		case f.events <- ev:
		case <-f.done:
			return
		}
	}
}

func (f *wsFeed) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := f.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
