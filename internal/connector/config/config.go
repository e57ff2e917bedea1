package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the voicebot gateway connector configuration
type Config struct {
	// Telephony platform (ARI)
	ARIURL      string
	ARIUsername string
	ARIPassword string
	ARIAppName  string

	// RTP endpoints for the external media relay
	RTPLocalAddr  string
	RTPLocalPort  int
	RTPRemoteAddr string
	RTPRemotePort int

	// Voicebot backend signaling
	IncomingCallURL string
	AccountID       string
	APIVersion      string
	UserAgent       string

	// Voicebot WebSocket session
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration

	// Dialplan target for the external media relay
	TransferContext   string
	TransferExtension string
	TransferPriority  int

	// Channel announcements
	GreetingMedia string
	ApologyMedia  string

	StatusAddr string
	LogLevel   string
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ARIURL, "ari-url", "http://localhost:8088", "Asterisk ARI base URL")
	flag.StringVar(&cfg.ARIUsername, "ari-user", "asterisk", "Asterisk ARI username")
	flag.StringVar(&cfg.ARIPassword, "ari-pass", "asterisk", "Asterisk ARI password")
	flag.StringVar(&cfg.ARIAppName, "ari-app", "voicebot-connector", "Stasis application name")
	flag.StringVar(&cfg.RTPLocalAddr, "rtp-local-addr", "127.0.0.1", "Local RTP bind address")
	flag.IntVar(&cfg.RTPLocalPort, "rtp-local-port", 3000, "Local RTP port")
	flag.StringVar(&cfg.RTPRemoteAddr, "rtp-remote-addr", "127.0.0.1", "Remote RTP address (external media relay)")
	flag.IntVar(&cfg.RTPRemotePort, "rtp-remote-port", 3001, "Remote RTP port")
	flag.StringVar(&cfg.IncomingCallURL, "incoming-call-url", "", "Voicebot incoming-call registration URL")
	flag.StringVar(&cfg.AccountID, "account-id", "", "Account identifier reported to the voicebot")
	flag.StringVar(&cfg.APIVersion, "api-version", "1.0", "API version reported in call registration")
	flag.StringVar(&cfg.UserAgent, "user-agent", "vicidial", "User-Agent header for signaling requests")
	flag.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", 10, "Maximum WebSocket reconnect attempts per call")
	flag.DurationVar(&cfg.ReconnectInterval, "reconnect-interval", 3*time.Second, "Delay between WebSocket reconnect attempts")
	flag.StringVar(&cfg.TransferContext, "transfer-context", "voicebot-media", "Dialplan context for the external media relay")
	flag.StringVar(&cfg.TransferExtension, "transfer-extension", "s", "Dialplan extension for the external media relay")
	flag.IntVar(&cfg.TransferPriority, "transfer-priority", 1, "Dialplan priority for the external media relay")
	flag.StringVar(&cfg.GreetingMedia, "greeting-media", "", "Channel media to play after answering (optional)")
	flag.StringVar(&cfg.ApologyMedia, "apology-media", "sound:all-circuits-busy-now", "Channel media to play when registration fails")
	flag.StringVar(&cfg.StatusAddr, "status-addr", ":8089", "Status HTTP listen address")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level")

	flag.Parse()

	// Environment overrides
	if v := os.Getenv("ASTERISK_URL"); v != "" {
		cfg.ARIURL = v
	}
	if v := os.Getenv("ASTERISK_USERNAME"); v != "" {
		cfg.ARIUsername = v
	}
	if v := os.Getenv("ASTERISK_PASSWORD"); v != "" {
		cfg.ARIPassword = v
	}
	if v := os.Getenv("ASTERISK_APP_NAME"); v != "" {
		cfg.ARIAppName = v
	}
	if v := os.Getenv("RTP_LOCAL_ADDR"); v != "" {
		cfg.RTPLocalAddr = v
	}
	if v := os.Getenv("RTP_LOCAL_PORT"); v != "" {
		cfg.RTPLocalPort, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("RTP_REMOTE_ADDR"); v != "" {
		cfg.RTPRemoteAddr = v
	}
	if v := os.Getenv("RTP_REMOTE_PORT"); v != "" {
		cfg.RTPRemotePort, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("INCOMING_CALL_URL"); v != "" {
		cfg.IncomingCallURL = v
	}
	if v := os.Getenv("ACCOUNT_ID"); v != "" {
		cfg.AccountID = v
	}
	if v := os.Getenv("MAX_RECONNECT_ATTEMPTS"); v != "" {
		cfg.MaxReconnectAttempts, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("RECONNECT_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}
