package bridge

import (
	"encoding/base64"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tanujs22/vg-conn/internal/connector/voicebot"
)

const (
	// chunkSize is 20ms of 8kHz 8-bit µ-law audio.
	chunkSize = 160

	defaultFrameInterval = 20 * time.Millisecond
)

// FrameHandler receives each outgoing media event on the frame cadence.
type FrameHandler func(evt *voicebot.MediaEvent)

// AudioHandler receives raw audio decoded from voicebot media events.
type AudioHandler func(audio []byte)

// Option customizes a bridge.
type Option func(*Bridge)

// WithFrameInterval overrides the emission cadence. Tests use this to
// run faster than real time.
func WithFrameInterval(d time.Duration) Option {
	return func(b *Bridge) { b.interval = d }
}

// Bridge paces raw audio from the RTP side into fixed 160-byte media
// events for the voicebot session, and decodes media events from the
// voicebot back into raw audio. One bridge serves exactly one call.
//
// Ingestion from UDP is irregular; emission runs on a fixed cadence.
// The accumulator between them absorbs the jitter so the backend sees
// a constant-rate stream.
type Bridge struct {
	callID   string
	streamID string
	interval time.Duration
	onFrame  FrameHandler
	onAudio  AudioHandler

	mu        sync.Mutex
	seq       uint64
	buf       []byte
	streaming bool
	ticker    *time.Ticker
	done      chan struct{}
}

// New creates a bridge for one call. The stream id is generated once
// and stays constant for the bridge's lifetime. Media event sequence
// numbering starts at 1; 0 belongs to the start event.
func New(callID string, onFrame FrameHandler, onAudio AudioHandler, opts ...Option) *Bridge {
	b := &Bridge{
		callID:   callID,
		streamID: uuid.New().String(),
		interval: defaultFrameInterval,
		onFrame:  onFrame,
		onAudio:  onAudio,
		seq:      1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// StreamID returns the bridge's stream identifier.
func (b *Bridge) StreamID() string {
	return b.streamID
}

// StartStreaming begins the periodic frame cadence. No-op when already
// streaming.
func (b *Bridge) StartStreaming() {
	b.mu.Lock()
	if b.streaming {
		b.mu.Unlock()
		slog.Warn("[Bridge] Streaming already started", "call_id", b.callID)
		return
	}
	b.streaming = true
	b.ticker = time.NewTicker(b.interval)
	b.done = make(chan struct{})
	ticker := b.ticker
	done := b.done
	b.mu.Unlock()

	slog.Info("[Bridge] Streaming started", "call_id", b.callID, "stream_id", b.streamID)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				b.emitFrame()
			}
		}
	}()
}

// StopStreaming cancels the cadence. Whatever remains in the
// accumulator is not flushed. No-op when not streaming.
func (b *Bridge) StopStreaming() {
	b.mu.Lock()
	if !b.streaming {
		b.mu.Unlock()
		return
	}
	b.streaming = false
	b.ticker.Stop()
	close(b.done)
	b.ticker = nil
	b.done = nil
	b.mu.Unlock()

	slog.Info("[Bridge] Streaming stopped", "call_id", b.callID)
}

// IngestFromChannel appends raw audio from the telephony side to the
// accumulator. Ignored while not streaming.
func (b *Bridge) IngestFromChannel(audio []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.streaming {
		slog.Debug("[Bridge] Ignoring audio, streaming not started", "call_id", b.callID)
		return
	}
	b.buf = append(b.buf, audio...)
}

// emitFrame consumes at most one chunk per tick. Short buffers skip
// the tick; data keeps accumulating until a full chunk is available.
func (b *Bridge) emitFrame() {
	b.mu.Lock()
	if len(b.buf) < chunkSize {
		b.mu.Unlock()
		return
	}

	chunk := make([]byte, chunkSize)
	copy(chunk, b.buf)
	b.buf = b.buf[chunkSize:]

	evt := &voicebot.MediaEvent{
		SequenceNumber: b.seq,
		StreamID:       b.streamID,
		Event:          "media",
		Media: voicebot.MediaPayload{
			Track:     "inbound",
			Timestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
			Chunk:     b.seq,
			Payload:   base64.StdEncoding.EncodeToString(chunk),
		},
	}
	b.seq++
	onFrame := b.onFrame
	b.mu.Unlock()

	if onFrame != nil {
		onFrame(evt)
	}
}

// IngestFromVoicebot decodes a media event coming back from the
// backend and hands the raw audio to the RTP side. Malformed events
// are logged and dropped, never surfaced.
func (b *Bridge) IngestFromVoicebot(evt *voicebot.MediaEvent) {
	if evt == nil || evt.Media.Payload == "" {
		slog.Error("[Bridge] Invalid media event from voicebot", "call_id", b.callID)
		return
	}

	audio, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
	if err != nil {
		slog.Error("[Bridge] Bad media payload from voicebot", "call_id", b.callID, "error", err)
		return
	}

	if b.onAudio != nil {
		b.onAudio(audio)
	}
}

// BuildDisconnectEvent constructs the disconnect event carrying the
// bridge's current sequence number. Pure construction: nothing is sent
// and the counter does not advance.
func (b *Bridge) BuildDisconnectEvent(reason string) *voicebot.DisconnectEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	return &voicebot.DisconnectEvent{
		SequenceNumber: b.seq,
		StreamID:       b.streamID,
		Event:          "disconnect",
		Disconnect:     voicebot.DisconnectPayload{Reason: reason},
	}
}
