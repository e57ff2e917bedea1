package call

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/tanujs22/vg-conn/internal/connector/bridge"
	"github.com/tanujs22/vg-conn/internal/connector/voicebot"
)

// SessionFactory creates the voicebot session for one call.
type SessionFactory func() VoicebotSession

// TransportFactory creates the RTP transport for one call, delivering
// inbound audio payloads to the given handler.
type TransportFactory func(onAudio func(payload []byte)) (MediaTransport, error)

// Config holds the orchestrator's call-handling parameters.
type Config struct {
	AccountID  string
	APIVersion string

	// Dialplan location that routes channel audio into the external
	// media relay.
	TransferContext   string
	TransferExtension string
	TransferPriority  int

	// GreetingMedia, when set, is played right after answering.
	GreetingMedia string
	// ApologyMedia is played before hanging up on setup failures.
	ApologyMedia string

	// BridgeFrameInterval overrides the 20ms framing cadence. Leave
	// zero outside tests.
	BridgeFrameInterval time.Duration
}

// Orchestrator owns the per-call state machine. It answers incoming
// channels, registers them with the voicebot backend, wires the RTP
// transport, audio bridge and WebSocket session together, and tears
// everything down again when either side hangs up.
type Orchestrator struct {
	cfg          Config
	registry     *Registry
	signaling    SignalingAPI
	newSession   SessionFactory
	newTransport TransportFactory
}

// NewOrchestrator wires an orchestrator with its collaborators.
func NewOrchestrator(cfg Config, registry *Registry, signaling SignalingAPI, newSession SessionFactory, newTransport TransportFactory) *Orchestrator {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "1.0"
	}
	return &Orchestrator{
		cfg:          cfg,
		registry:     registry,
		signaling:    signaling,
		newSession:   newSession,
		newTransport: newTransport,
	}
}

// Registry exposes the call table for operational surfaces.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// HandleCallStart drives a new call from the platform's call-start
// callback through answer, registration and streaming setup.
func (o *Orchestrator) HandleCallStart(ch Channel) {
	callID := ch.ID()
	slog.Info("[CallHandler] New call", "call_id", callID, "caller", ch.CallerNumber())

	c := newCall(callID, ch)
	if err := o.registry.Insert(c); err != nil {
		slog.Warn("[CallHandler] Duplicate call start ignored", "call_id", callID)
		return
	}

	if err := ch.Answer(); err != nil {
		slog.Error("[CallHandler] Answer failed", "call_id", callID, "error", err)
		o.abort(c, ch, false, "answer failed")
		return
	}
	c.advance(StateAnswered)
	slog.Info("[CallHandler] Call answered", "call_id", callID)

	if o.cfg.GreetingMedia != "" {
		if err := ch.Play(o.cfg.GreetingMedia); err != nil {
			slog.Warn("[CallHandler] Greeting playback failed", "call_id", callID, "error", err)
		}
	}

	c.advance(StateRegistering)
	details := voicebot.CallDetails{
		AccountSid: o.cfg.AccountID,
		ApiVersion: o.cfg.APIVersion,
		CallSid:    callID,
		CallStatus: "ringing",
		Called:     ch.ConnectedNumber(),
		Caller:     ch.CallerNumber(),
		Direction:  "inbound",
		From:       ch.CallerNumber(),
		To:         ch.ConnectedNumber(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	resp, err := o.signaling.RegisterCall(ctx, details)
	cancel()
	if err != nil {
		slog.Error("[CallHandler] Registration failed", "call_id", callID, "error", err)
		o.abort(c, ch, true, "registration failed")
		return
	}
	if resp.Status != "success" || resp.Data.Data.SocketURL == "" {
		slog.Error("[CallHandler] Registration unusable",
			"call_id", callID,
			"status", resp.Status,
			"has_socket_url", resp.Data.Data.SocketURL != "")
		o.abort(c, ch, true, "registration rejected")
		return
	}

	sessionURL := resp.Data.Data.SocketURL
	c.setEndpoints(sessionURL, resp.Data.Data.HangupURL)

	// The bridge's handlers close over the transport and session
	// variables; both are assigned before anything can fire.
	var tr MediaTransport
	var sess VoicebotSession

	var opts []bridge.Option
	if o.cfg.BridgeFrameInterval > 0 {
		opts = append(opts, bridge.WithFrameInterval(o.cfg.BridgeFrameInterval))
	}
	br := bridge.New(callID,
		func(evt *voicebot.MediaEvent) {
			if sess != nil {
				_ = sess.SendMediaEvent(evt)
			}
		},
		func(audio []byte) {
			if tr != nil {
				_ = tr.SendAudio(audio)
			}
		},
		opts...)

	tr, err = o.newTransport(br.IngestFromChannel)
	if err != nil {
		slog.Error("[CallHandler] Transport setup failed", "call_id", callID, "error", err)
		o.abort(c, ch, true, "transport setup failed")
		return
	}
	if err := tr.Start(); err != nil {
		slog.Error("[CallHandler] Transport start failed", "call_id", callID, "error", err)
		o.abort(c, ch, true, "transport start failed")
		return
	}

	sess = o.newSession()
	c.attach(tr, br, sess)

	go o.sessionLoop(c, ch, br, sess)

	if ok := sess.Connect(callID, sessionURL); !ok {
		// The session loop receives ConnectionFailed and ends the call.
		slog.Error("[CallHandler] Voicebot connection failed", "call_id", callID)
	}
}

// HandleCallEnd drives teardown from the platform's call-end callback.
func (o *Orchestrator) HandleCallEnd(channelID string) {
	c, ok := o.registry.Get(channelID)
	if !ok {
		slog.Debug("[CallHandler] Call end for unknown channel", "call_id", channelID)
		return
	}
	slog.Info("[CallHandler] Call end received", "call_id", channelID)
	o.teardown(c)
}

// Shutdown ends every active call.
func (o *Orchestrator) Shutdown() {
	for _, c := range o.registry.All() {
		if err := c.Channel().Hangup(); err != nil {
			slog.Debug("[CallHandler] Hangup during shutdown failed", "call_id", c.ID, "error", err)
		}
		o.teardown(c)
	}
}

// sessionLoop consumes one call's session events until the call ends.
func (o *Orchestrator) sessionLoop(c *Call, ch Channel, br *bridge.Bridge, sess VoicebotSession) {
	for {
		select {
		case <-c.done:
			return
		case evt := <-sess.Events():
			switch evt.Kind {
			case voicebot.EventConnected:
				o.beginStreaming(c, ch, br, sess)
			case voicebot.EventMedia:
				br.IngestFromVoicebot(evt.Media)
			case voicebot.EventControl:
				o.handleControl(c, ch, evt.Control)
			case voicebot.EventClosed:
				slog.Warn("[CallHandler] Voicebot session closed, reconnect pending", "call_id", c.ID)
			case voicebot.EventConnectionFailed:
				o.failCall(c, ch, "voicebot connection failed")
				return
			}
		}
	}
}

// beginStreaming runs on every Connected signal: start event first,
// then the frame cadence, then the channel transfer. The transfer only
// happens on the first connect; reconnects just resume the stream.
func (o *Orchestrator) beginStreaming(c *Call, ch Channel, br *bridge.Bridge, sess VoicebotSession) {
	start := &voicebot.StartEvent{
		SequenceNumber: 0,
		Event:          "start",
		Start: voicebot.StartPayload{
			CallID:    c.ID,
			StreamID:  br.StreamID(),
			AccountID: o.cfg.AccountID,
			Tracks:    []string{"inbound", "outbound"},
			MediaFormat: voicebot.MediaFormat{
				Encoding:   "audio/x-mulaw",
				SampleRate: 8000,
			},
		},
	}
	if err := sess.SendControl(start); err != nil {
		slog.Error("[CallHandler] Start event failed", "call_id", c.ID, "error", err)
		return
	}

	br.StartStreaming()

	if c.advance(StateStreamingActive) {
		if err := ch.ContinueInDialplan(o.cfg.TransferContext, o.cfg.TransferExtension, o.cfg.TransferPriority); err != nil {
			slog.Error("[CallHandler] Transfer to media relay failed", "call_id", c.ID, "error", err)
		} else {
			slog.Info("[CallHandler] Streaming active", "call_id", c.ID, "stream_id", br.StreamID())
		}
	}
}

// handleControl reacts to backend control messages. A hangup-style
// event ends the call; everything else is logged and ignored.
func (o *Orchestrator) handleControl(c *Call, ch Channel, raw json.RawMessage) {
	var msg struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("[CallHandler] Unreadable control message", "call_id", c.ID)
		return
	}

	switch msg.Event {
	case "hangup", "stop", "disconnect":
		slog.Info("[CallHandler] Backend requested hangup", "call_id", c.ID, "event", msg.Event)
		if err := ch.Hangup(); err != nil {
			slog.Warn("[CallHandler] Hangup failed", "call_id", c.ID, "error", err)
		}
		o.teardown(c)
	default:
		slog.Debug("[CallHandler] Control message", "call_id", c.ID, "event", msg.Event)
	}
}

// failCall ends a call after a terminal voicebot failure: hang up the
// telephony side rather than leaving the caller in silence.
func (o *Orchestrator) failCall(c *Call, ch Channel, reason string) {
	slog.Error("[CallHandler] Ending call", "call_id", c.ID, "reason", reason)
	if err := ch.Hangup(); err != nil {
		slog.Warn("[CallHandler] Hangup failed", "call_id", c.ID, "error", err)
	}
	o.teardown(c)
}

// abort handles error exits during setup, optionally playing the
// apology announcement before hanging up.
func (o *Orchestrator) abort(c *Call, ch Channel, playApology bool, reason string) {
	slog.Warn("[CallHandler] Ending call during setup", "call_id", c.ID, "reason", reason)

	if playApology && o.cfg.ApologyMedia != "" {
		if err := ch.Play(o.cfg.ApologyMedia); err != nil {
			slog.Warn("[CallHandler] Apology playback failed", "call_id", c.ID, "error", err)
		}
	}
	if err := ch.Hangup(); err != nil {
		slog.Warn("[CallHandler] Hangup failed", "call_id", c.ID, "error", err)
	}
	o.teardown(c)
}

// teardown releases a call's components in order and removes it from
// the registry. Runs at most once per call; later invocations no-op.
func (o *Orchestrator) teardown(c *Call) {
	if !c.markEnded() {
		return
	}

	tr, br, sess := c.components()

	if br != nil {
		br.StopStreaming()
	}
	if sess != nil && br != nil {
		evt := br.BuildDisconnectEvent("Call ended")
		if err := sess.SendDisconnectEvent(evt); err != nil {
			slog.Debug("[CallHandler] Disconnect event not sent", "call_id", c.ID, "error", err)
		}
	}
	if tr != nil {
		tr.Stop()
	}
	if sess != nil {
		sess.Disconnect()
	}

	o.notifyHangup(c)
	o.registry.Delete(c.ID)

	duration := time.Since(c.StartedAt)
	slog.Info("[CallHandler] Call ended",
		"call_id", c.ID,
		"duration_seconds", strconv.Itoa(int(duration.Seconds())))
}

// notifyHangup posts the hangup notice when a notification URL was
// captured at registration. Best-effort: failures are logged and never
// block cleanup.
func (o *Orchestrator) notifyHangup(c *Call) {
	_, hangupURL := c.endpoints()
	if hangupURL == "" {
		return
	}

	details := voicebot.HangupDetails{
		CallStatus:   "completed",
		CallDuration: strconv.Itoa(int(time.Since(c.StartedAt).Seconds())),
		Direction:    "inbound",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.signaling.NotifyHangup(ctx, c.ID, details, hangupURL); err != nil {
		slog.Error("[CallHandler] Hangup notification failed", "call_id", c.ID, "error", err)
	}
}
