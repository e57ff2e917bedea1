package voicebot

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by send methods when no socket is open.
var ErrNotConnected = errors.New("voicebot session not connected")

// EventKind enumerates everything a session can report.
type EventKind int

const (
	// EventConnected fires each time the socket opens, including after
	// a reconnect. The orchestrator sends the start event on it.
	EventConnected EventKind = iota
	// EventMedia carries an inbound media event with a payload.
	EventMedia
	// EventControl carries any other inbound message, opaque JSON.
	EventControl
	// EventClosed reports an unexpected close with a reconnect pending.
	EventClosed
	// EventConnectionFailed is terminal: the reconnect budget is spent.
	EventConnectionFailed
)

// Event is one session notification.
type Event struct {
	Kind    EventKind
	Media   *MediaEvent
	Control json.RawMessage
	Err     error
}

// Conn is the subset of *websocket.Conn the session needs. Tests swap
// it for an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one WebSocket connection to the given URL.
type Dialer func(url string) (Conn, error)

func defaultDialer(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Timer is a cancelable delayed task handle.
type Timer interface {
	Stop() bool
}

// Scheduler schedules delayed tasks. The default uses the wall clock;
// tests inject a deterministic one.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config holds the reconnect policy for a session.
type Config struct {
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
}

// Option customizes a session.
type Option func(*Session)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

// WithScheduler replaces the reconnect scheduler.
func WithScheduler(sched Scheduler) Option {
	return func(s *Session) { s.sched = sched }
}

// Session manages one WebSocket connection to the voicebot backend for
// one call: connect, message classification, bounded reconnection, and
// deliberate shutdown.
type Session struct {
	cfg    Config
	dial   Dialer
	sched  Scheduler
	events chan Event

	mu                sync.Mutex
	conn              Conn
	connected         bool
	closing           bool
	dialing           bool
	reconnectAttempts int
	reconnectTimer    Timer
	callID            string
	sessionURL        string
	waiters           []chan bool
}

// NewSession creates a session. Zero config fields fall back to 10
// attempts at 3 second intervals.
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}

	s := &Session{
		cfg:    cfg,
		dial:   defaultDialer,
		sched:  wallClock{},
		events: make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the session's notification stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Connect opens the WebSocket and blocks until the connection is up or
// the reconnect budget is exhausted. Returns true on success. Calling
// Connect on a connected session returns true immediately.
func (s *Session) Connect(callID, sessionURL string) bool {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		slog.Info("[Session] Already connected", "call_id", callID)
		return true
	}
	s.callID = callID
	s.sessionURL = sessionURL
	done := make(chan bool, 1)
	s.waiters = append(s.waiters, done)
	alreadyDialing := s.dialing
	s.dialing = true
	s.mu.Unlock()

	if !alreadyDialing {
		go s.attemptConnect()
	}
	return <-done
}

func (s *Session) attemptConnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	url := s.sessionURL
	s.mu.Unlock()

	slog.Info("[Session] Connecting to voicebot", "url", url)
	conn, err := s.dial(url)
	if err != nil {
		slog.Warn("[Session] Connect failed", "url", url, "error", err)
		s.handleClose(err)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.connected = true
	s.dialing = false
	s.reconnectAttempts = 0
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	slog.Info("[Session] Connected to voicebot", "call_id", s.callID)
	s.emit(Event{Kind: EventConnected})
	for _, w := range waiters {
		w <- true
	}

	go s.readLoop(conn)
}

func (s *Session) readLoop(conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(err)
			return
		}

		if messageType != websocket.TextMessage {
			slog.Debug("[Session] Ignoring non-text message", "type", messageType, "bytes", len(data))
			continue
		}

		media, control, err := classify(data)
		if err != nil {
			slog.Error("[Session] Malformed message dropped", "error", err)
			continue
		}
		if media != nil {
			s.emit(Event{Kind: EventMedia, Media: media})
		} else {
			s.emit(Event{Kind: EventControl, Control: control})
		}
	}
}

// handleClose runs the reconnect state machine after an unexpected
// close or a failed dial. Deliberate Disconnect suppresses it.
func (s *Session) handleClose(cause error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil
	s.dialing = true

	if s.reconnectAttempts < s.cfg.MaxReconnectAttempts {
		s.reconnectAttempts++
		attempt := s.reconnectAttempts
		s.reconnectTimer = s.sched.AfterFunc(s.cfg.ReconnectInterval, s.attemptConnect)
		s.mu.Unlock()

		slog.Info("[Session] Connection closed, reconnect scheduled",
			"attempt", attempt,
			"max", s.cfg.MaxReconnectAttempts,
			"error", cause)
		s.emit(Event{Kind: EventClosed, Err: cause})
		return
	}

	s.dialing = false
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	slog.Error("[Session] Reconnect attempts exhausted", "max", s.cfg.MaxReconnectAttempts)
	for _, w := range waiters {
		w <- false
	}
	s.emit(Event{Kind: EventConnectionFailed, Err: cause})
}

// SendControl serializes any value to JSON and sends it as text.
func (s *Session) SendControl(v any) error {
	return s.sendJSON(v, "control")
}

// SendMediaEvent sends one framed media event.
func (s *Session) SendMediaEvent(evt *MediaEvent) error {
	return s.sendJSON(evt, "media")
}

// SendDisconnectEvent sends the final disconnect event.
func (s *Session) SendDisconnectEvent(evt *DisconnectEvent) error {
	if err := s.sendJSON(evt, "disconnect"); err != nil {
		return err
	}
	slog.Info("[Session] Sent disconnect event", "call_id", s.callID)
	return nil
}

func (s *Session) sendJSON(v any, kind string) error {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("[Session] Marshal failed", "kind", kind, "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		slog.Error("[Session] Cannot send, not connected", "kind", kind)
		return ErrNotConnected
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("[Session] Write failed", "kind", kind, "error", err)
		return err
	}
	return nil
}

// Disconnect closes the socket and cancels any pending reconnection.
// Idempotent. The close handler never reconnects after this.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.connected = false
	conn := s.conn
	s.conn = nil
	timer := s.reconnectTimer
	s.reconnectTimer = nil
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	for _, w := range waiters {
		w <- false
	}
	slog.Info("[Session] Disconnected from voicebot", "call_id", s.callID)
}

// emit delivers an event without blocking the transport loops. A full
// buffer drops the event with a warning.
func (s *Session) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
		slog.Warn("[Session] Event buffer full, dropping", "kind", evt.Kind)
	}
}
