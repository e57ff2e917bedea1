package media

import (
	"context"
	"log/slog"
	"time"
)

// FrameSize is the PCMU payload per packet: 20ms of 8000 Hz audio.
const FrameSize = 160

// FrameInterval is the wall-clock spacing between frames.
const FrameInterval = 20 * time.Millisecond

// SendFunc delivers one encoded frame to the transport.
type SendFunc func(payload []byte) error

// Streamer paces µ-law audio onto a transport at the codec's real-time
// rate. Sequence numbers and timestamps are the transport's concern;
// the streamer only owns the clock.
type Streamer struct {
	send     SendFunc
	loop     bool
	interval time.Duration
}

// NewStreamer creates a clock-paced streamer. With loop set, playback
// restarts from the top when the clip runs out.
func NewStreamer(send SendFunc, loop bool) *Streamer {
	return &Streamer{send: send, loop: loop, interval: FrameInterval}
}

// Stream cuts ulaw into frames and sends one per tick until the clip
// ends or ctx is cancelled.
func (s *Streamer) Stream(ctx context.Context, ulaw []byte) error {
	if len(ulaw) < FrameSize {
		slog.Warn("[Audio] Clip shorter than one frame, nothing to stream", "bytes", len(ulaw))
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if pos+FrameSize > len(ulaw) {
			if !s.loop {
				return nil
			}
			pos = 0
		}
		if err := s.send(ulaw[pos : pos+FrameSize]); err != nil {
			return err
		}
		pos += FrameSize
	}
}
