package rtp

// Tracker follows inbound RTP sequence numbers across the 16-bit
// wraparound and accumulates loss statistics for one stream.
type Tracker struct {
	initialized bool
	lastSeq     uint16
	received    uint64
	lost        uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records a received sequence number and returns the number of
// packets detected as lost since the previous one. A forward jump of n
// counts n-1 losses; out-of-order or duplicate packets count none.
func (t *Tracker) Observe(seq uint16) int {
	t.received++

	if !t.initialized {
		t.initialized = true
		t.lastSeq = seq
		return 0
	}

	// uint16 subtraction gives the forward distance modulo 2^16;
	// reinterpreting as int16 distinguishes late packets from jumps.
	diff := int16(seq - t.lastSeq)

	lost := 0
	if diff > 1 {
		lost = int(diff) - 1
		t.lost += uint64(lost)
	}

	t.lastSeq = seq
	return lost
}

// Stats returns cumulative received and lost packet counts.
func (t *Tracker) Stats() (received, lost uint64) {
	return t.received, t.lost
}

// LossRate returns the packet loss rate as a fraction (0.0 to 1.0).
func (t *Tracker) LossRate() float64 {
	if t.received == 0 && t.lost == 0 {
		return 0.0
	}
	return float64(t.lost) / float64(t.received+t.lost)
}
