package ari

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tanujs22/vg-conn/internal/connector/call"
)

// CallHandler receives channel lifecycle callbacks from the event
// stream. The call orchestrator implements it.
type CallHandler interface {
	HandleCallStart(ch call.Channel)
	HandleCallEnd(channelID string)
}

type party struct {
	Number string `json:"number"`
}

type channelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Caller    party  `json:"caller"`
	Connected party  `json:"connected"`
}

type stasisEvent struct {
	Type    string       `json:"type"`
	Channel *channelInfo `json:"channel"`
}

// Run consumes the Stasis event stream and dispatches channel starts
// and ends to the handler. Lost connections are retried until ctx is
// cancelled.
func (c *Client) Run(ctx context.Context, handler CallHandler) error {
	wsURL, err := c.eventsURL()
	if err != nil {
		return err
	}

	for {
		if err := c.consumeEvents(ctx, wsURL, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("[ARI] Event stream lost, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Client) consumeEvents(ctx context.Context, wsURL string, handler CallHandler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	slog.Info("[ARI] Event stream connected", "app", c.cfg.AppName)

	// Unblock ReadMessage when ctx is cancelled.
	closer := make(chan struct{})
	defer close(closer)
	go func() {
		select {
		case <-ctx.Done():
		case <-closer:
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data, handler)
	}
}

func (c *Client) dispatch(data []byte, handler CallHandler) {
	var evt stasisEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		slog.Debug("[ARI] Unreadable event dropped", "error", err)
		return
	}
	if evt.Channel == nil {
		return
	}

	switch evt.Type {
	case "StasisStart":
		slog.Debug("[ARI] StasisStart", "channel", evt.Channel.ID, "name", evt.Channel.Name)
		ch := newChannel(c, evt.Channel)
		go handler.HandleCallStart(ch)
	case "StasisEnd":
		slog.Debug("[ARI] StasisEnd", "channel", evt.Channel.ID)
		go handler.HandleCallEnd(evt.Channel.ID)
	}
}
