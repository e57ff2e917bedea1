package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// headerSize is the fixed RTP header length without CSRC or extensions.
const headerSize = 12

// ErrNotRunning is returned by SendAudio when the transport is stopped.
var ErrNotRunning = errors.New("rtp transport not running")

// AudioHandler receives the raw payload of each inbound RTP packet.
type AudioHandler func(payload []byte)

// Config describes the UDP endpoints for one transport instance.
type Config struct {
	LocalAddr   string
	LocalPort   int
	RemoteAddr  string
	RemotePort  int
	PayloadType uint8
}

// Transport sends and receives RTP packets over UDP for exactly one call.
// The SSRC and the initial sequence number and timestamp are chosen at
// random when the transport is created and never change afterwards.
type Transport struct {
	cfg     Config
	onAudio AudioHandler

	mu       sync.Mutex
	running  bool
	recvConn *net.UDPConn
	sendConn *net.UDPConn
	seq      uint16
	ts       uint32
	ssrc     uint32

	trackMu sync.Mutex
	tracker *Tracker
}

// New creates a transport. The handler is invoked from the receive loop
// for every parseable inbound packet.
func New(cfg Config, onAudio AudioHandler) *Transport {
	return &Transport{
		cfg:     cfg,
		onAudio: onAudio,
		seq:     randomUint16(),
		ts:      randomUint32(),
		ssrc:    randomUint32(),
		tracker: NewTracker(),
	}
}

// Start binds the local receive endpoint and opens the send endpoint.
// Calling Start on a running transport is a no-op.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	localAddr := &net.UDPAddr{IP: net.ParseIP(t.cfg.LocalAddr), Port: t.cfg.LocalPort}
	recvConn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("bind rtp port %d: %w", t.cfg.LocalPort, err)
	}

	remoteAddr := &net.UDPAddr{IP: net.ParseIP(t.cfg.RemoteAddr), Port: t.cfg.RemotePort}
	sendConn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		_ = recvConn.Close()
		return fmt.Errorf("open rtp send endpoint %s:%d: %w", t.cfg.RemoteAddr, t.cfg.RemotePort, err)
	}

	t.recvConn = recvConn
	t.sendConn = sendConn
	t.running = true

	slog.Info("[RTP] Transport started",
		"local", recvConn.LocalAddr().String(),
		"remote", remoteAddr.String(),
		"ssrc", t.ssrc)

	go t.readLoop(recvConn)
	return nil
}

// LocalAddr returns the bound receive address, or "" when not running.
func (t *Transport) LocalAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recvConn == nil {
		return ""
	}
	return t.recvConn.LocalAddr().String()
}

// SSRC returns the synchronization source id for this transport.
func (t *Transport) SSRC() uint32 {
	return t.ssrc
}

func (t *Transport) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 1500)

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			running := t.running
			t.mu.Unlock()
			if running {
				slog.Warn("[RTP] Read error", "error", err)
			}
			return
		}

		if n < headerSize {
			slog.Warn("[RTP] Datagram shorter than header, dropped", "length", n)
			continue
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			slog.Warn("[RTP] Malformed packet, dropped", "length", n, "error", err)
			continue
		}

		t.trackMu.Lock()
		lost := t.tracker.Observe(pkt.SequenceNumber)
		t.trackMu.Unlock()
		if lost > 0 {
			slog.Debug("[RTP] Inbound gap", "lost", lost, "seq", pkt.SequenceNumber)
		}

		if t.onAudio != nil && len(pkt.Payload) > 0 {
			payload := make([]byte, len(pkt.Payload))
			copy(payload, pkt.Payload)
			t.onAudio(payload)
		}
	}
}

// SendAudio wraps a payload in an RTP header and sends it as one
// datagram. The sequence number increments by one per packet and the
// timestamp advances by the payload length. Per-send I/O errors are
// logged and swallowed; only a stopped transport yields an error.
func (t *Transport) SendAudio(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return ErrNotRunning
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    t.cfg.PayloadType,
			SequenceNumber: t.seq,
			Timestamp:      t.ts,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}

	data, err := pkt.Marshal()
	if err != nil {
		slog.Error("[RTP] Marshal failed", "error", err)
		return nil
	}

	if _, err := t.sendConn.Write(data); err != nil {
		slog.Error("[RTP] Send failed", "seq", t.seq, "error", err)
	}

	t.seq++
	t.ts += uint32(len(payload))
	return nil
}

// Stop closes both UDP endpoints. Safe to call when not running, and
// safe to call more than once.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	recvConn := t.recvConn
	sendConn := t.sendConn
	t.recvConn = nil
	t.sendConn = nil
	t.mu.Unlock()

	if recvConn != nil {
		_ = recvConn.Close()
	}
	if sendConn != nil {
		_ = sendConn.Close()
	}

	t.trackMu.Lock()
	received, lost := t.tracker.Stats()
	rate := t.tracker.LossRate()
	t.trackMu.Unlock()

	slog.Info("[RTP] Transport stopped",
		"received", received,
		"lost", lost,
		"loss_rate", fmt.Sprintf("%.4f", rate))
}

// randomUint32 draws a random value for SSRC and timestamp origins.
// RFC 3550 wants these unpredictable to limit collisions.
func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x1e0f00d
	}
	return binary.BigEndian.Uint32(b[:])
}

func randomUint16() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}
