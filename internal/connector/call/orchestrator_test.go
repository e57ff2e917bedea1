package call

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tanujs22/vg-conn/internal/connector/voicebot"
)

type fakeChannel struct {
	id     string
	caller string
	called string

	mu        sync.Mutex
	answered  int
	played    []string
	hangups   int
	continued []string

	answerErr error
}

func (f *fakeChannel) ID() string              { return f.id }
func (f *fakeChannel) CallerNumber() string    { return f.caller }
func (f *fakeChannel) ConnectedNumber() string { return f.called }

func (f *fakeChannel) Answer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered++
	return f.answerErr
}

func (f *fakeChannel) Play(media string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, media)
	return nil
}

func (f *fakeChannel) Hangup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups++
	return nil
}

func (f *fakeChannel) ContinueInDialplan(dialplanContext, extension string, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continued = append(f.continued, dialplanContext)
	return nil
}

func (f *fakeChannel) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hangups
}

func (f *fakeChannel) playedMedia() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

func (f *fakeChannel) continueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.continued)
}

type hangupNotice struct {
	callID  string
	details voicebot.HangupDetails
	url     string
}

type fakeSignaling struct {
	mu       sync.Mutex
	resp     *voicebot.RegisterResponse
	err      error
	register []voicebot.CallDetails
	hangups  []hangupNotice
}

func (f *fakeSignaling) RegisterCall(ctx context.Context, details voicebot.CallDetails) (*voicebot.RegisterResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.register = append(f.register, details)
	return f.resp, f.err
}

func (f *fakeSignaling) NotifyHangup(ctx context.Context, callID string, details voicebot.HangupDetails, hangupURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, hangupNotice{callID: callID, details: details, url: hangupURL})
	return nil
}

func (f *fakeSignaling) hangupNotices() []hangupNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hangupNotice(nil), f.hangups...)
}

// fakeSession records every outbound send in order so tests can assert
// ordering across control, media and disconnect messages.
type fakeSession struct {
	connectOK bool

	events chan voicebot.Event

	mu           sync.Mutex
	connectedURL string
	controls     []any
	media        []*voicebot.MediaEvent
	disconnects  []*voicebot.DisconnectEvent
	log          []string
}

func newFakeSession(connectOK bool) *fakeSession {
	return &fakeSession{connectOK: connectOK, events: make(chan voicebot.Event, 64)}
}

func (f *fakeSession) Connect(callID, sessionURL string) bool {
	f.mu.Lock()
	f.connectedURL = sessionURL
	f.mu.Unlock()
	if f.connectOK {
		f.events <- voicebot.Event{Kind: voicebot.EventConnected}
		return true
	}
	f.events <- voicebot.Event{Kind: voicebot.EventConnectionFailed}
	return false
}

func (f *fakeSession) Events() <-chan voicebot.Event { return f.events }

func (f *fakeSession) SendControl(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, v)
	f.log = append(f.log, "control")
	return nil
}

func (f *fakeSession) SendMediaEvent(evt *voicebot.MediaEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, evt)
	f.log = append(f.log, "media")
	return nil
}

func (f *fakeSession) SendDisconnectEvent(evt *voicebot.DisconnectEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, evt)
	f.log = append(f.log, "disconnect-event")
	return nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "session-disconnect")
}

func (f *fakeSession) mediaEvents() []*voicebot.MediaEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*voicebot.MediaEvent(nil), f.media...)
}

func (f *fakeSession) sendLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

type fakeTransport struct {
	mu      sync.Mutex
	started bool
	stopped bool
	sent    [][]byte

	startErr error
}

func (f *fakeTransport) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeTransport) SendAudio(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTransport) sentPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func okResponse(socketURL, hangupURL string) *voicebot.RegisterResponse {
	resp := &voicebot.RegisterResponse{Status: "success"}
	resp.Data.Data.SocketURL = socketURL
	resp.Data.Data.HangupURL = hangupURL
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	orch      *Orchestrator
	registry  *Registry
	signaling *fakeSignaling
	session   *fakeSession
	transport *fakeTransport
	audioIn   func([]byte)
}

func newHarness(t *testing.T, signaling *fakeSignaling, session *fakeSession) *harness {
	t.Helper()
	h := &harness{
		registry:  NewRegistry(),
		signaling: signaling,
		session:   session,
		transport: &fakeTransport{},
	}
	cfg := Config{
		AccountID:           "acct-1",
		TransferContext:     "voicebot-media",
		TransferExtension:   "s",
		TransferPriority:    1,
		ApologyMedia:        "sound:all-circuits-busy-now",
		BridgeFrameInterval: 2 * time.Millisecond,
	}
	h.orch = NewOrchestrator(cfg, h.registry, signaling,
		func() VoicebotSession { return h.session },
		func(onAudio func([]byte)) (MediaTransport, error) {
			h.audioIn = onAudio
			return h.transport, nil
		})
	return h
}

func TestCallReachesStreamingAndFramesAudio(t *testing.T) {
	signaling := &fakeSignaling{resp: okResponse("ws://bot.example/stream", "http://bot.example/hangup")}
	h := newHarness(t, signaling, newFakeSession(true))
	ch := &fakeChannel{id: "chan-1", caller: "15550001111", called: "18005550199"}

	h.orch.HandleCallStart(ch)

	waitFor(t, "streaming state", func() bool {
		c, ok := h.registry.Get("chan-1")
		return ok && c.State() == StateStreamingActive
	})
	if got := ch.continueCount(); got != 1 {
		t.Fatalf("ContinueInDialplan calls = %d, want 1", got)
	}

	audio := make([]byte, 20*160)
	for i := range audio {
		audio[i] = byte(i % 251)
	}
	h.audioIn(audio)

	waitFor(t, "20 media events", func() bool { return len(h.session.mediaEvents()) >= 20 })

	events := h.session.mediaEvents()[:20]
	streamID := events[0].StreamID
	for i, evt := range events {
		want := uint64(i + 1)
		if evt.SequenceNumber != want {
			t.Fatalf("event %d sequenceNumber = %d, want %d", i, evt.SequenceNumber, want)
		}
		if evt.Media.Chunk != want {
			t.Fatalf("event %d chunk = %d, want %d", i, evt.Media.Chunk, want)
		}
		if evt.StreamID != streamID {
			t.Fatalf("event %d streamId = %q, want %q", i, evt.StreamID, streamID)
		}
		raw, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
		if err != nil {
			t.Fatalf("event %d payload not base64: %v", i, err)
		}
		if len(raw) != 160 {
			t.Fatalf("event %d payload length = %d, want 160", i, len(raw))
		}
	}

	log := h.session.sendLog()
	if len(log) == 0 || log[0] != "control" {
		t.Fatalf("first outbound message = %v, want start control event", log)
	}
}

func TestRegistrationFailurePlaysApologyAndHangsUp(t *testing.T) {
	signaling := &fakeSignaling{resp: &voicebot.RegisterResponse{Status: "error"}}
	h := newHarness(t, signaling, newFakeSession(true))
	ch := &fakeChannel{id: "chan-2", caller: "15550001111", called: "18005550199"}

	h.orch.HandleCallStart(ch)

	played := ch.playedMedia()
	if len(played) != 1 || played[0] != "sound:all-circuits-busy-now" {
		t.Fatalf("played = %v, want the apology announcement", played)
	}
	if got := ch.hangupCount(); got != 1 {
		t.Fatalf("hangups = %d, want 1", got)
	}
	if got := ch.continueCount(); got != 0 {
		t.Fatalf("ContinueInDialplan calls = %d, want 0", got)
	}
	if got := h.registry.Count(); got != 0 {
		t.Fatalf("registry count = %d, want 0", got)
	}
}

func TestRegistrationTransportErrorAbortsCall(t *testing.T) {
	signaling := &fakeSignaling{err: errors.New("connection refused")}
	h := newHarness(t, signaling, newFakeSession(true))
	ch := &fakeChannel{id: "chan-3", caller: "15550001111", called: "18005550199"}

	h.orch.HandleCallStart(ch)

	if got := ch.hangupCount(); got != 1 {
		t.Fatalf("hangups = %d, want 1", got)
	}
	if got := h.registry.Count(); got != 0 {
		t.Fatalf("registry count = %d, want 0", got)
	}
}

func TestCallEndSendsOneDisconnectThenClosesSession(t *testing.T) {
	signaling := &fakeSignaling{resp: okResponse("ws://bot.example/stream", "http://bot.example/hangup")}
	h := newHarness(t, signaling, newFakeSession(true))
	ch := &fakeChannel{id: "chan-4", caller: "15550001111", called: "18005550199"}

	h.orch.HandleCallStart(ch)
	waitFor(t, "streaming state", func() bool {
		c, ok := h.registry.Get("chan-4")
		return ok && c.State() == StateStreamingActive
	})

	h.orch.HandleCallEnd("chan-4")
	// Repeat platform callbacks must not duplicate teardown.
	h.orch.HandleCallEnd("chan-4")

	log := h.session.sendLog()
	disconnects := 0
	disconnectIdx, closeIdx := -1, -1
	for i, op := range log {
		switch op {
		case "disconnect-event":
			disconnects++
			disconnectIdx = i
		case "session-disconnect":
			closeIdx = i
		}
	}
	if disconnects != 1 {
		t.Fatalf("disconnect events = %d, want exactly 1", disconnects)
	}
	if closeIdx == -1 || disconnectIdx > closeIdx {
		t.Fatalf("send log %v: disconnect event must precede session close", log)
	}

	if !h.transport.isStopped() {
		t.Fatal("transport not stopped")
	}
	if got := h.registry.Count(); got != 0 {
		t.Fatalf("registry count = %d, want 0", got)
	}

	notices := signaling.hangupNotices()
	if len(notices) != 1 {
		t.Fatalf("hangup notices = %d, want 1", len(notices))
	}
	if notices[0].callID != "chan-4" || notices[0].url != "http://bot.example/hangup" {
		t.Fatalf("hangup notice = %+v", notices[0])
	}
	if notices[0].details.CallStatus != "completed" {
		t.Fatalf("hangup call status = %q, want completed", notices[0].details.CallStatus)
	}
}

func TestVoicebotConnectionFailureHangsUpChannel(t *testing.T) {
	signaling := &fakeSignaling{resp: okResponse("ws://bot.example/stream", "")}
	h := newHarness(t, signaling, newFakeSession(false))
	ch := &fakeChannel{id: "chan-5", caller: "15550001111", called: "18005550199"}

	h.orch.HandleCallStart(ch)

	waitFor(t, "channel hangup", func() bool { return ch.hangupCount() == 1 })
	waitFor(t, "registry cleanup", func() bool { return h.registry.Count() == 0 })
	if got := ch.continueCount(); got != 0 {
		t.Fatalf("ContinueInDialplan calls = %d, want 0", got)
	}
}

func TestBackendHangupEventEndsCall(t *testing.T) {
	signaling := &fakeSignaling{resp: okResponse("ws://bot.example/stream", "http://bot.example/hangup")}
	h := newHarness(t, signaling, newFakeSession(true))
	ch := &fakeChannel{id: "chan-6", caller: "15550001111", called: "18005550199"}

	h.orch.HandleCallStart(ch)
	waitFor(t, "streaming state", func() bool {
		c, ok := h.registry.Get("chan-6")
		return ok && c.State() == StateStreamingActive
	})

	h.session.events <- voicebot.Event{Kind: voicebot.EventControl, Control: []byte(`{"event":"hangup"}`)}

	waitFor(t, "channel hangup", func() bool { return ch.hangupCount() == 1 })
	waitFor(t, "registry cleanup", func() bool { return h.registry.Count() == 0 })
}

func TestDuplicateCallStartIgnored(t *testing.T) {
	signaling := &fakeSignaling{resp: okResponse("ws://bot.example/stream", "")}
	h := newHarness(t, signaling, newFakeSession(true))
	ch := &fakeChannel{id: "chan-7", caller: "15550001111", called: "18005550199"}

	h.orch.HandleCallStart(ch)
	waitFor(t, "streaming state", func() bool {
		c, ok := h.registry.Get("chan-7")
		return ok && c.State() == StateStreamingActive
	})

	h.orch.HandleCallStart(ch)

	if got := ch.continueCount(); got != 1 {
		t.Fatalf("ContinueInDialplan calls = %d, want 1", got)
	}
	if got := h.registry.Count(); got != 1 {
		t.Fatalf("registry count = %d, want 1", got)
	}
}
