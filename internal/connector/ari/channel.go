package ari

import (
	"context"
	"time"

	"github.com/tanujs22/vg-conn/internal/connector/call"
)

const channelOpTimeout = 5 * time.Second

// Channel adapts one Asterisk channel to the orchestrator's channel
// interface. Control operations run against the REST API.
type Channel struct {
	client    *Client
	id        string
	caller    string
	connected string
}

var _ call.Channel = (*Channel)(nil)

func newChannel(client *Client, info *channelInfo) *Channel {
	return &Channel{
		client:    client,
		id:        info.ID,
		caller:    info.Caller.Number,
		connected: info.Connected.Number,
	}
}

func (ch *Channel) ID() string              { return ch.id }
func (ch *Channel) CallerNumber() string    { return ch.caller }
func (ch *Channel) ConnectedNumber() string { return ch.connected }

func (ch *Channel) Answer() error {
	ctx, cancel := opContext()
	defer cancel()
	return ch.client.AnswerChannel(ctx, ch.id)
}

func (ch *Channel) Play(media string) error {
	ctx, cancel := opContext()
	defer cancel()
	return ch.client.PlayMedia(ctx, ch.id, media)
}

func (ch *Channel) Hangup() error {
	ctx, cancel := opContext()
	defer cancel()
	return ch.client.HangupChannel(ctx, ch.id)
}

func (ch *Channel) ContinueInDialplan(dialplanContext, extension string, priority int) error {
	ctx, cancel := opContext()
	defer cancel()
	return ch.client.ContinueChannel(ctx, ch.id, dialplanContext, extension, priority)
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), channelOpTimeout)
}
