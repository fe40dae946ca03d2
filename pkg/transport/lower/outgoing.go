package lower

// Outgoing is the sender side state of one segmented message. It is not safe
// for concurrent use; the owner serializes access.
type Outgoing struct {
	// Segments are the lower transport PDUs indexed by SegO.
	Segments [][]byte

	SeqZero uint16

	// Rounds counts retransmission rounds sent so far.
	Rounds int

	acked     BlockAck
	cancelled bool
}

// NewOutgoing tracks segments produced by Segment.
func NewOutgoing(segments [][]byte, seqZero uint16) *Outgoing {
	return &Outgoing{Segments: segments, SeqZero: seqZero}
}

// SegN returns the index of the last segment.
func (o *Outgoing) SegN() uint8 {
	return uint8(len(o.Segments) - 1)
}

// Ack applies a Segment Acknowledgment. It reports whether the message is
// now fully delivered. An empty block cancels the message.
func (o *Outgoing) Ack(a SegmentAck) bool {
	if a.SeqZero != o.SeqZero {
		return o.Done()
	}
	if a.Cancels() {
		o.cancelled = true
		return false
	}
	o.acked |= a.BlockAck & FullBlockAck(o.SegN())
	return o.Done()
}

// Missing returns the segments still unacknowledged, indexed by SegO.
func (o *Outgoing) Missing() []uint8 {
	if o.cancelled {
		return nil
	}
	return o.acked.Missing(o.SegN())
}

// Done reports whether every segment was acknowledged.
func (o *Outgoing) Done() bool {
	return o.acked.Complete(o.SegN())
}

// Cancelled reports whether the receiver rejected the message.
func (o *Outgoing) Cancelled() bool {
	return o.cancelled
}

// Acked returns the accumulated block ack.
func (o *Outgoing) Acked() BlockAck {
	return o.acked
}
