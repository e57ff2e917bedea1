package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/tanujs22/vg-conn/internal/connector/media"
	"github.com/tanujs22/vg-conn/internal/connector/rtp"
	"github.com/tanujs22/vg-conn/internal/logger"
)

// mediasim plays a WAV file as a paced PCMU stream toward the
// connector's RTP port, standing in for the telephony media relay
// during development. Audio coming back is counted, not played.
func main() {
	var (
		file       = flag.String("file", "", "WAV file to stream")
		localAddr  = flag.String("local-addr", "127.0.0.1", "Local RTP bind address")
		localPort  = flag.Int("local-port", 3001, "Local RTP port")
		remoteAddr = flag.String("remote-addr", "127.0.0.1", "Connector RTP address")
		remotePort = flag.Int("remote-port", 3000, "Connector RTP port")
		loop       = flag.Bool("loop", false, "Restart the clip when it ends")
		logLevel   = flag.String("loglevel", "info", "Log level")
	)
	flag.Parse()

	logger.SetLevel(*logLevel)
	logger.InitLogger(os.Stdout)

	if *file == "" {
		slog.Error("[MediaSim] -file is required")
		os.Exit(1)
	}

	ulaw, err := media.LoadUlawPrompt(*file)
	if err != nil {
		slog.Error("[MediaSim] Load failed", "file", *file, "error", err)
		os.Exit(1)
	}
	slog.Info("[MediaSim] Clip loaded",
		"file", *file,
		"bytes", len(ulaw),
		"frames", len(ulaw)/media.FrameSize)

	var echoed atomic.Uint64
	transport := rtp.New(rtp.Config{
		LocalAddr:  *localAddr,
		LocalPort:  *localPort,
		RemoteAddr: *remoteAddr,
		RemotePort: *remotePort,
	}, func(payload []byte) {
		echoed.Add(1)
	})
	if err := transport.Start(); err != nil {
		slog.Error("[MediaSim] Transport start failed", "error", err)
		os.Exit(1)
	}
	defer transport.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	streamer := media.NewStreamer(transport.SendAudio, *loop)
	if err := streamer.Stream(ctx, ulaw); err != nil && err != context.Canceled {
		slog.Error("[MediaSim] Stream failed", "error", err)
		os.Exit(1)
	}

	slog.Info("[MediaSim] Done", "packets_received", echoed.Load())
}
