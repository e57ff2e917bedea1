package call

import (
	"context"

	"github.com/tanujs22/vg-conn/internal/connector/voicebot"
)

// Channel is the telephony platform's representation of one call leg.
// The platform adapter implements it; the orchestrator only drives it.
type Channel interface {
	// ID returns the platform's stable identifier for this call leg.
	ID() string

	// CallerNumber returns the calling party number.
	CallerNumber() string

	// ConnectedNumber returns the called party number.
	ConnectedNumber() string

	// Answer picks up the call.
	Answer() error

	// Play plays a platform media resource on the channel.
	Play(media string) error

	// Hangup terminates the call leg.
	Hangup() error

	// ContinueInDialplan hands the channel to the dialplan location
	// that routes its audio into the external media relay.
	ContinueInDialplan(dialplanContext, extension string, priority int) error
}

// SignalingAPI registers calls with the voicebot backend and posts
// hangup notices.
type SignalingAPI interface {
	RegisterCall(ctx context.Context, details voicebot.CallDetails) (*voicebot.RegisterResponse, error)
	NotifyHangup(ctx context.Context, callID string, details voicebot.HangupDetails, hangupURL string) error
}

// MediaTransport is the RTP leg of one call.
type MediaTransport interface {
	Start() error
	SendAudio(payload []byte) error
	Stop()
}

// VoicebotSession is the WebSocket leg of one call.
type VoicebotSession interface {
	Connect(callID, sessionURL string) bool
	Events() <-chan voicebot.Event
	SendControl(v any) error
	SendMediaEvent(evt *voicebot.MediaEvent) error
	SendDisconnectEvent(evt *voicebot.DisconnectEvent) error
	Disconnect()
}
