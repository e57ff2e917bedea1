package ari

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config points the client at an Asterisk REST Interface.
type Config struct {
	// URL is the HTTP base, e.g. "http://127.0.0.1:8088".
	URL      string
	Username string
	Password string
	// AppName is the Stasis application channels are routed to.
	AppName string
}

// Client talks to Asterisk over ARI: REST for channel control and a
// WebSocket for Stasis events.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds an ARI client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// eventsURL derives the ws:// event stream endpoint from the HTTP base.
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse ari url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported ari scheme %q", u.Scheme)
	}
	u.Path = "/ari/events"
	q := u.Query()
	q.Set("app", c.cfg.AppName)
	q.Set("api_key", c.cfg.Username+":"+c.cfg.Password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// request performs one authenticated REST call against /ari.
func (c *Client) request(ctx context.Context, method, path string, query url.Values) error {
	endpoint := c.cfg.URL + "/ari" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	return nil
}

// AnswerChannel picks up a ringing channel.
func (c *Client) AnswerChannel(ctx context.Context, channelID string) error {
	return c.request(ctx, http.MethodPost, "/channels/"+channelID+"/answer", nil)
}

// PlayMedia starts playback of a media resource on a channel.
func (c *Client) PlayMedia(ctx context.Context, channelID, media string) error {
	q := url.Values{"media": []string{media}}
	return c.request(ctx, http.MethodPost, "/channels/"+channelID+"/play", q)
}

// ContinueChannel hands the channel back to the dialplan at the given
// location.
func (c *Client) ContinueChannel(ctx context.Context, channelID, dialplanContext, extension string, priority int) error {
	q := url.Values{
		"context":   []string{dialplanContext},
		"extension": []string{extension},
		"priority":  []string{strconv.Itoa(priority)},
	}
	return c.request(ctx, http.MethodPost, "/channels/"+channelID+"/continue", q)
}

// HangupChannel terminates a channel.
func (c *Client) HangupChannel(ctx context.Context, channelID string) error {
	return c.request(ctx, http.MethodDelete, "/channels/"+channelID, nil)
}
