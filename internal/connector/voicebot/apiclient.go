package voicebot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// CallDetails is the registration request body for a new call.
type CallDetails struct {
	AccountSid string `json:"AccountSid"`
	ApiVersion string `json:"ApiVersion"`
	CallSid    string `json:"CallSid"`
	CallStatus string `json:"CallStatus"`
	Called     string `json:"Called"`
	Caller     string `json:"Caller"`
	Direction  string `json:"Direction"`
	From       string `json:"From"`
	To         string `json:"To"`
}

// HangupDetails is the hangup notification body.
type HangupDetails struct {
	CallSid      string `json:"CallSid"`
	CallStatus   string `json:"CallStatus"`
	CallDuration string `json:"CallDuration"`
	Direction    string `json:"Direction,omitempty"`
}

// RegisterResponse is the envelope returned by the registration API.
// The session URL lives two levels deep.
type RegisterResponse struct {
	Status string `json:"status"`
	Data   struct {
		Data struct {
			SocketURL          string `json:"socketURL"`
			HangupURL          string `json:"HangupUrl"`
			StatusCallbackURL  string `json:"statusCallbackUrl"`
			RecordingStatusURL string `json:"recordingStatusUrl"`
		} `json:"data"`
	} `json:"data"`
}

// APIClient posts call lifecycle notifications to the voicebot backend.
type APIClient struct {
	incomingCallURL string
	userAgent       string
	httpClient      *http.Client
}

// NewAPIClient creates a signaling client for the given registration URL.
func NewAPIClient(incomingCallURL, userAgent string) *APIClient {
	return &APIClient{
		incomingCallURL: incomingCallURL,
		userAgent:       userAgent,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RegisterCall announces a new call and returns the backend's response.
func (c *APIClient) RegisterCall(ctx context.Context, details CallDetails) (*RegisterResponse, error) {
	slog.Info("[SignalingAPI] Registering call", "call_id", details.CallSid, "url", c.incomingCallURL)

	var out RegisterResponse
	if err := c.post(ctx, c.incomingCallURL, details, &out); err != nil {
		return nil, fmt.Errorf("register call %s: %w", details.CallSid, err)
	}

	slog.Info("[SignalingAPI] Call registered", "call_id", details.CallSid, "status", out.Status)
	return &out, nil
}

// NotifyHangup posts the hangup notice to the URL captured at
// registration. Best-effort: callers log the error and move on.
func (c *APIClient) NotifyHangup(ctx context.Context, callID string, details HangupDetails, hangupURL string) error {
	slog.Info("[SignalingAPI] Notifying hangup", "call_id", callID, "url", hangupURL)

	details.CallSid = callID
	if err := c.post(ctx, hangupURL, details, nil); err != nil {
		return fmt.Errorf("notify hangup %s: %w", callID, err)
	}
	return nil
}

func (c *APIClient) post(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
