package voicebot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterCall(t *testing.T) {
	var gotBody CallDetails
	var gotUA string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {"data": {
				"socketURL": "wss://bot.example/stream",
				"HangupUrl": "https://bot.example/hangup",
				"statusCallbackUrl": "https://bot.example/status",
				"recordingStatusUrl": ""
			}}
		}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, "vicidial")
	resp, err := c.RegisterCall(context.Background(), CallDetails{
		AccountSid: "acct-1",
		ApiVersion: "1.0",
		CallSid:    "C1",
		CallStatus: "ringing",
		Caller:     "1001",
		Called:     "2002",
		From:       "1001",
		To:         "2002",
		Direction:  "inbound",
	})
	if err != nil {
		t.Fatalf("RegisterCall: %v", err)
	}

	if resp.Status != "success" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Data.Data.SocketURL != "wss://bot.example/stream" {
		t.Errorf("socketURL = %q", resp.Data.Data.SocketURL)
	}
	if resp.Data.Data.HangupURL != "https://bot.example/hangup" {
		t.Errorf("hangupURL = %q", resp.Data.Data.HangupURL)
	}
	if gotBody.CallSid != "C1" || gotBody.Caller != "1001" {
		t.Errorf("request body = %+v", gotBody)
	}
	if gotUA != "vicidial" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestRegisterCallServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, "")
	if _, err := c.RegisterCall(context.Background(), CallDetails{CallSid: "C1"}); err == nil {
		t.Fatal("RegisterCall should fail on HTTP 500")
	}
}

func TestNotifyHangup(t *testing.T) {
	var gotBody HangupDetails
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewAPIClient("http://unused.invalid", "")
	err := c.NotifyHangup(context.Background(), "C1", HangupDetails{
		CallStatus:   "completed",
		CallDuration: "42",
	}, srv.URL)
	if err != nil {
		t.Fatalf("NotifyHangup: %v", err)
	}

	if gotBody.CallSid != "C1" {
		t.Errorf("CallSid = %q, want C1", gotBody.CallSid)
	}
	if gotBody.CallDuration != "42" {
		t.Errorf("CallDuration = %q, want 42", gotBody.CallDuration)
	}
}

func TestNotifyHangupFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAPIClient("http://unused.invalid", "")
	if err := c.NotifyHangup(context.Background(), "C1", HangupDetails{}, srv.URL); err == nil {
		t.Fatal("NotifyHangup should surface the HTTP error for the caller to log")
	}
}
