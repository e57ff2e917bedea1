package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tanujs22/vg-conn/internal/banner"
	"github.com/tanujs22/vg-conn/internal/connector/ari"
	"github.com/tanujs22/vg-conn/internal/connector/call"
	"github.com/tanujs22/vg-conn/internal/connector/config"
	"github.com/tanujs22/vg-conn/internal/connector/rtp"
	"github.com/tanujs22/vg-conn/internal/connector/status"
	"github.com/tanujs22/vg-conn/internal/connector/voicebot"
	"github.com/tanujs22/vg-conn/internal/logger"
)

func main() {
	cfg := config.Load()

	logger.SetLevel(cfg.LogLevel)
	logger.InitLogger(os.Stdout)

	if cfg.IncomingCallURL == "" {
		slog.Error("[Config] incoming-call-url is required")
		os.Exit(1)
	}

	banner.Print("Voicebot Connector", []banner.ConfigLine{
		{Label: "ARI", Value: cfg.ARIURL + " (app " + cfg.ARIAppName + ")"},
		{Label: "RTP listen", Value: fmt.Sprintf("%s:%d", cfg.RTPLocalAddr, cfg.RTPLocalPort)},
		{Label: "RTP peer", Value: fmt.Sprintf("%s:%d", cfg.RTPRemoteAddr, cfg.RTPRemotePort)},
		{Label: "Signaling", Value: cfg.IncomingCallURL},
		{Label: "Status", Value: cfg.StatusAddr},
		{Label: "Log level", Value: logger.GetLevel()},
	})

	run(cfg)
}

func run(cfg *config.Config) {
	registry := call.NewRegistry()
	apiClient := voicebot.NewAPIClient(cfg.IncomingCallURL, cfg.UserAgent)

	newSession := func() call.VoicebotSession {
		return voicebot.NewSession(voicebot.Config{
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			ReconnectInterval:    cfg.ReconnectInterval,
		})
	}
	newTransport := func(onAudio func([]byte)) (call.MediaTransport, error) {
		return rtp.New(rtp.Config{
			LocalAddr:  cfg.RTPLocalAddr,
			LocalPort:  cfg.RTPLocalPort,
			RemoteAddr: cfg.RTPRemoteAddr,
			RemotePort: cfg.RTPRemotePort,
		}, onAudio), nil
	}

	orch := call.NewOrchestrator(call.Config{
		AccountID:         cfg.AccountID,
		APIVersion:        cfg.APIVersion,
		TransferContext:   cfg.TransferContext,
		TransferExtension: cfg.TransferExtension,
		TransferPriority:  cfg.TransferPriority,
		GreetingMedia:     cfg.GreetingMedia,
		ApologyMedia:      cfg.ApologyMedia,
	}, registry, apiClient, newSession, newTransport)

	statusServer := status.NewServer(cfg.StatusAddr, registry)
	statusServer.Start()

	ariClient := ari.NewClient(ari.Config{
		URL:      cfg.ARIURL,
		Username: cfg.ARIUsername,
		Password: cfg.ARIPassword,
		AppName:  cfg.ARIAppName,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := ariClient.Run(ctx, orch); err != nil && err != context.Canceled {
			slog.Error("[ARI] Event loop stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)
	cancel()

	orch.Shutdown()

	shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[Status] Shutdown", "error", err)
	}
}
