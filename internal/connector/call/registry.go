package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/tanujs22/vg-conn/internal/connector/bridge"
)

// State is the lifecycle position of one call. Transitions are strictly
// forward; Ended is terminal.
type State int

const (
	StateNew State = iota
	StateAnswered
	StateRegistering
	StateStreamingActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAnswered:
		return "answered"
	case StateRegistering:
		return "registering"
	case StateStreamingActive:
		return "streaming_active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Call tracks one active telephony session and owns its three media
// components. Components are created when streaming setup begins and
// released when the call ends; nothing is shared across calls.
type Call struct {
	ID        string
	StartedAt time.Time

	mu              sync.Mutex
	state           State
	sessionURL      string
	hangupNotifyURL string
	channel         Channel
	transport       MediaTransport
	bridge          *bridge.Bridge
	session         VoicebotSession
	done            chan struct{}
	ended           bool
}

func newCall(id string, ch Channel) *Call {
	return &Call{
		ID:        id,
		StartedAt: time.Now(),
		state:     StateNew,
		channel:   ch,
		done:      make(chan struct{}),
	}
}

// advance moves the call forward to s. Returns false when the move
// would repeat a state, go backwards, or leave Ended.
func (c *Call) advance(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded || s <= c.state {
		return false
	}
	c.state = s
	return true
}

// State returns the current lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) setEndpoints(sessionURL, hangupURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionURL = sessionURL
	c.hangupNotifyURL = hangupURL
}

func (c *Call) endpoints() (sessionURL, hangupURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionURL, c.hangupNotifyURL
}

// Channel returns the telephony channel the call arrived on.
func (c *Call) Channel() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *Call) attach(t MediaTransport, b *bridge.Bridge, s VoicebotSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
	c.bridge = b
	c.session = s
}

func (c *Call) components() (MediaTransport, *bridge.Bridge, VoicebotSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport, c.bridge, c.session
}

// markEnded flips the call into teardown exactly once. The done
// channel releases the per-call event loop.
func (c *Call) markEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.ended = true
	c.state = StateEnded
	close(c.done)
	return true
}

// Summary is a point-in-time view of one call for operational output.
type Summary struct {
	CallID    string    `json:"call_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Duration  float64   `json:"duration_seconds"`
}

// Registry is the concurrency-safe table of active calls. Lookups run
// concurrently; insert and delete are mutually exclusive per key.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// Insert adds a call. A second insert for the same id fails.
func (r *Registry) Insert(c *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[c.ID]; exists {
		return fmt.Errorf("call already registered: %s", c.ID)
	}
	r.calls[c.ID] = c
	return nil
}

// Get looks up a call by id.
func (r *Registry) Get(id string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	return c, ok
}

// Delete removes a call by id. Unknown ids are a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

// Count returns the number of active calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Snapshot returns a point-in-time summary of every active call.
func (r *Registry) Snapshot() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, Summary{
			CallID:    c.ID,
			State:     c.State().String(),
			StartedAt: c.StartedAt,
			Duration:  time.Since(c.StartedAt).Seconds(),
		})
	}
	return out
}

// All returns the active calls themselves, for shutdown sweeps.
func (r *Registry) All() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}
