package chatter

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// StreamConfig configures the realtime event stream.
type StreamConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *StreamConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// StreamState represents the connection state.
type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateConnected    StreamState = "connected"
	StateReconnecting StreamState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *StreamConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Event Stream
// ============================================================================

// EventStream is the websocket push-event source. It delivers the closed
// event union to registered handlers in arrival order; the transport never
// reorders events within a connection. Handlers run on the read-loop
// goroutine, so cache ApplyEvent calls observe backend delivery order.
type EventStream struct {
	baseURL          string
	config           *StreamConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            StreamState
	intentionalClose bool
	recon            *reconnector
	cancelFn         context.CancelFunc

	handlerMu      sync.RWMutex
	onEvent        []func(Event)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// NewEventStream creates a stream against the backend at baseURL. Call
// Connect to establish the connection.
func NewEventStream(baseURL string, config *StreamConfig) *EventStream {
	cfg := *config
	cfg.defaults()
	return &EventStream{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  &cfg,
		state:   StateDisconnected,
		recon:   newReconnector(&cfg),
	}
}

// OnEvent registers a handler for decoded push events.
func (s *EventStream) OnEvent(h func(Event)) {
	s.handlerMu.Lock()
	s.onEvent = append(s.onEvent, h)
	s.handlerMu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (s *EventStream) OnConnected(h func()) {
	s.handlerMu.Lock()
	s.onConnected = append(s.onConnected, h)
	s.handlerMu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (s *EventStream) OnDisconnected(h func(reason string)) {
	s.handlerMu.Lock()
	s.onDisconnected = append(s.onDisconnected, h)
	s.handlerMu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (s *EventStream) OnReconnecting(h func(attempt int, delay time.Duration)) {
	s.handlerMu.Lock()
	s.onReconnecting = append(s.onReconnecting, h)
	s.handlerMu.Unlock()
}

// State returns the current connection state.
func (s *EventStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the websocket connection and starts the read loop.
func (s *EventStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.intentionalClose = false
	s.mu.Unlock()

	wsURL := strings.Replace(s.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + s.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return &FetchError{Op: "websocket dial", Cause: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()
	s.recon.markConnected()
	s.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFn = cancel
	s.mu.Unlock()

	go s.readLoop(connCtx, conn)
	go s.heartbeatLoop(connCtx, conn)

	return nil
}

// Disconnect gracefully closes the connection.
func (s *EventStream) Disconnect() error {
	s.mu.Lock()
	s.intentionalClose = true
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	s.emitDisconnected("client disconnect")
	return nil
}

func (s *EventStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			intentional := s.intentionalClose
			s.mu.Unlock()
			if intentional {
				return
			}

			s.mu.Lock()
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()

			s.emitDisconnected(err.Error())

			if s.config.AutoReconnect && s.recon.shouldReconnect() {
				s.scheduleReconnect()
			}
			return
		}

		var env wireEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		ev, err := decodeEvent(env)
		if err != nil {
			// Unknown envelope types are tolerated; the event union only
			// grows with coordinated releases.
			continue
		}
		s.dispatch(ev)
	}
}

func (s *EventStream) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (s *EventStream) scheduleReconnect() {
	delay := s.recon.nextDelay()
	s.mu.Lock()
	s.state = StateReconnecting
	s.mu.Unlock()

	s.emitReconnecting(s.recon.attempt, delay)

	time.Sleep(delay)

	if err := s.Connect(context.Background()); err != nil {
		if s.config.AutoReconnect && s.recon.shouldReconnect() {
			s.scheduleReconnect()
		} else {
			s.mu.Lock()
			s.state = StateDisconnected
			s.mu.Unlock()
		}
	}
}

func (s *EventStream) dispatch(ev Event) {
	s.handlerMu.RLock()
	handlers := append(([]func(Event))(nil), s.onEvent...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (s *EventStream) emitConnected() {
	s.handlerMu.RLock()
	handlers := append(([]func())(nil), s.onConnected...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (s *EventStream) emitDisconnected(reason string) {
	s.handlerMu.RLock()
	handlers := append(([]func(string))(nil), s.onDisconnected...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}

func (s *EventStream) emitReconnecting(attempt int, delay time.Duration) {
	s.handlerMu.RLock()
	handlers := append(([]func(int, time.Duration))(nil), s.onReconnecting...)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}
