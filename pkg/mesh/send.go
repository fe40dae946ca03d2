package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/seq"
	"github.com/backkem/btmesh/pkg/transport/lower"
	"github.com/backkem/btmesh/pkg/transport/upper"
)

// Send encrypts, segments and transmits msg. The header's Seq, IVIndex and
// (for application key messages) NetKeyIndex are filled in; a zero Src
// becomes the primary element address.
//
// An unsegmented message returns once it is written to the bearer. A
// segmented unicast message returns once the destination acknowledged every
// segment, and fails with lower.ErrSegmentationTimeout when retransmissions
// run out. Segmented messages to one destination are sent one at a time.
func (s *Stack) Send(ctx context.Context, msg access.Message) error {
	if s.isClosed() {
		return ErrClosed
	}
	switch m := msg.(type) {
	case *access.AccessMessage:
		return s.sendAccess(ctx, m)
	case *access.ControlMessage:
		return s.sendControl(ctx, m)
	default:
		return fmt.Errorf("mesh: unsupported message %T", msg)
	}
}

func (s *Stack) prepareHeader(h *access.Header) error {
	if h.Src == access.UnassignedAddress {
		h.Src = s.config.Address
	}
	if !s.ownsAddress(h.Src) {
		return fmt.Errorf("%w: source %s", ErrInvalidAddress, h.Src)
	}
	if h.Dst == access.UnassignedAddress {
		return fmt.Errorf("%w: unassigned destination", ErrInvalidAddress)
	}
	if h.TTL == UseDefaultTTL {
		h.TTL = s.config.DefaultTTL
	}
	if err := h.ValidateTTL(); err != nil {
		return err
	}
	h.IVIndex = s.iv.Current().TransmitIndex()
	return nil
}

func (s *Stack) sendAccess(ctx context.Context, m *access.AccessMessage) error {
	if err := s.prepareHeader(&m.Header); err != nil {
		return err
	}

	var key [keys.KeySize]byte
	if m.AKF {
		ak, ok := s.appKey(m.AppKeyIndex)
		if !ok {
			return fmt.Errorf("%w: %#x", ErrUnknownAppKey, m.AppKeyIndex)
		}
		if err := upper.BindAppKey(m, ak, s.cache); err != nil {
			return err
		}
		m.NetKeyIndex = ak.BoundNetKeyIndex
		key = ak.Key
	} else {
		dk, err := s.deviceKeyFor(m.Dst)
		if err != nil {
			return err
		}
		key = dk
	}

	pdu, err := m.AccessPDU()
	if err != nil {
		return err
	}
	segmented := m.ASZMIC || len(pdu)+m.TransMICSize() > lower.MaxUnsegmentedAccess

	return s.withSeq(ctx, m.Dst, segmented, func(seq0 uint32) error {
		m.Seq = seq0
		upperPDU, err := upper.Encrypt(m, key)
		if err != nil {
			return err
		}
		hdr := lower.SegmentHeader{AKF: m.AKF, AID: m.AID, SZMIC: m.ASZMIC}
		return s.transmit(ctx, &m.Header, hdr, upperPDU)
	})
}

func (s *Stack) sendControl(ctx context.Context, m *access.ControlMessage) error {
	if err := s.prepareHeader(&m.Header); err != nil {
		return err
	}
	pdu, err := upper.EncodeControl(m)
	if err != nil {
		return err
	}
	segmented := len(pdu) > lower.MaxUnsegmentedControl

	return s.withSeq(ctx, m.Dst, segmented, func(seq0 uint32) error {
		m.Seq = seq0
		return s.transmit(ctx, &m.Header, lower.SegmentHeader{CTL: true, Opcode: m.Opcode}, pdu)
	})
}

// withSeq allocates the first sequence number and runs send. Segmented
// sends hold the destination lock from allocation to completion so their
// SeqAuth values reach the destination in order.
func (s *Stack) withSeq(ctx context.Context, dst access.Address, segmented bool, send func(seq0 uint32) error) error {
	if segmented {
		release, err := s.lockDst(ctx, dst)
		if err != nil {
			return err
		}
		defer release()
	}
	seq0, err := s.nextSeq()
	if err != nil {
		return err
	}
	return send(seq0)
}

// nextSeq allocates a sequence number. Exhaustion is also reported through
// Config.OnError since the node cannot send again until the IV Index moves.
func (s *Stack) nextSeq() (uint32, error) {
	n, err := s.seq.Next()
	if errors.Is(err, seq.ErrSequenceExhausted) {
		s.reportError(err)
	}
	return n, err
}

func (s *Stack) lockDst(ctx context.Context, dst access.Address) (func(), error) {
	s.outMu.Lock()
	ch, ok := s.dstLocks[dst]
	if !ok {
		ch = make(chan struct{}, 1)
		s.dstLocks[dst] = ch
	}
	s.outMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrClosed
	}
}

func (s *Stack) transmit(ctx context.Context, h *access.Header, segHdr lower.SegmentHeader, upperPDU []byte) error {
	material, err := s.transmitMaterial(h.NetKeyIndex)
	if err != nil {
		return err
	}
	segs, err := lower.Segment(segHdr, h.Seq, upperPDU)
	if err != nil {
		return err
	}

	out := lower.NewOutgoing(segs, lower.SeqZero(h.Seq))
	if len(segs) == 1 && segs[0][0]&0x80 == 0 {
		return s.sendNetwork(ctx, h, segHdr.CTL, h.Seq, segs[0], material)
	}
	if s.log != nil {
		s.log.Tracef("sending %d segments to %s, SeqZero %#x", len(segs), h.Dst, out.SeqZero)
	}
	if h.Dst.IsUnicast() {
		return s.sendSegmentedUnicast(ctx, h, segHdr.CTL, material, out)
	}
	return s.sendSegmentedGroup(ctx, h, segHdr.CTL, material, out)
}

func (s *Stack) transmitMaterial(netKeyIndex uint16) (*keys.NetworkMaterial, error) {
	nk, ok := s.NetKey(netKeyIndex)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownNetKey, netKeyIndex)
	}
	return s.cache.Network(nk.TransmitKey())
}

func (s *Stack) sendNetwork(ctx context.Context, h *access.Header, ctl bool, sn uint32, lowerPDU []byte, m *keys.NetworkMaterial) error {
	pdu, err := network.Encode(network.Header{
		CTL:     ctl,
		TTL:     h.TTL,
		Seq:     sn,
		Src:     h.Src,
		Dst:     h.Dst,
		IVIndex: h.IVIndex,
	}, lowerPDU, m)
	if err != nil {
		return err
	}
	s.mu.RLock()
	b := s.bearer
	s.mu.RUnlock()
	if b == nil {
		return ErrNoBearer
	}
	return b.Send(ctx, pdu)
}

// sendSegments transmits the listed segments. The first segment of the
// first round reuses the SeqAuth sequence number; every other PDU takes a
// fresh one.
func (s *Stack) sendSegments(ctx context.Context, h *access.Header, ctl bool, m *keys.NetworkMaterial, out *lower.Outgoing, segOs []uint8, first bool) error {
	for i, segO := range segOs {
		sn := h.Seq
		if !first || i != 0 {
			var err error
			if sn, err = s.nextSeq(); err != nil {
				return err
			}
			if sn-h.Seq > lower.SeqZeroMask {
				return ErrSeqAuthExhausted
			}
		}
		if err := s.sendNetwork(ctx, h, ctl, sn, out.Segments[segO], m); err != nil {
			return err
		}
	}
	return nil
}

func allSegments(out *lower.Outgoing) []uint8 {
	idx := make([]uint8, len(out.Segments))
	for i := range idx {
		idx[i] = uint8(i)
	}
	return idx
}

func (s *Stack) sendSegmentedUnicast(ctx context.Context, h *access.Header, ctl bool, m *keys.NetworkMaterial, out *lower.Outgoing) error {
	key := outKey{dst: h.Dst, seqZero: out.SeqZero}
	pending := &pendingSend{acks: make(chan lower.SegmentAck, 8)}
	s.outMu.Lock()
	s.outgoing[key] = pending
	s.outMu.Unlock()
	defer func() {
		s.outMu.Lock()
		delete(s.outgoing, key)
		s.outMu.Unlock()
	}()

	if err := s.sendSegments(ctx, h, ctl, m, out, allSegments(out), true); err != nil {
		return err
	}

	interval := s.sar.RetransmitInterval(h.TTL)
	fire := make(chan struct{}, 1)
	timer := time.AfterFunc(interval, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrClosed
		case a := <-pending.acks:
			if out.Ack(a) {
				if s.log != nil {
					s.log.Tracef("segmented message to %s acknowledged", h.Dst)
				}
				return nil
			}
			if out.Cancelled() {
				return fmt.Errorf("%w: by %s", lower.ErrSegmentCancelled, h.Dst)
			}
		case <-fire:
			missing := out.Missing()
			if out.Rounds >= s.sar.MaxRetransmissions {
				return fmt.Errorf("%w: %d of %d segments unacknowledged by %s",
					lower.ErrSegmentationTimeout, len(missing), len(out.Segments), h.Dst)
			}
			out.Rounds++
			if s.log != nil {
				s.log.Debugf("retransmitting %d segments to %s (round %d)", len(missing), h.Dst, out.Rounds)
			}
			if err := s.sendSegments(ctx, h, ctl, m, out, missing, false); err != nil {
				return err
			}
			timer.Reset(interval)
		}
	}
}

// sendSegmentedGroup repeats the whole message since group destinations
// do not acknowledge.
func (s *Stack) sendSegmentedGroup(ctx context.Context, h *access.Header, ctl bool, m *keys.NetworkMaterial, out *lower.Outgoing) error {
	interval := s.sar.RetransmitInterval(h.TTL)
	for round := 0; round <= s.sar.GroupRetransmissions; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closed:
				return ErrClosed
			case <-time.After(interval):
			}
		}
		if err := s.sendSegments(ctx, h, ctl, m, out, allSegments(out), round == 0); err != nil {
			return err
		}
	}
	return nil
}

// handleAck routes a Segment Acknowledgment to the send waiting for it.
func (s *Stack) handleAck(src access.Address, a lower.SegmentAck) {
	s.outMu.Lock()
	pending, ok := s.outgoing[outKey{dst: src, seqZero: a.SeqZero}]
	if !ok && a.OBO {
		// A friend acknowledges on behalf of its low power node.
		for k, p := range s.outgoing {
			if k.seqZero == a.SeqZero {
				pending, ok = p, true
				break
			}
		}
	}
	s.outMu.Unlock()
	if !ok {
		if s.log != nil {
			s.log.Debugf("ack from %s for unknown SeqZero %#x", src, a.SeqZero)
		}
		return
	}
	select {
	case pending.acks <- a:
	default:
	}
}

func (s *Stack) appKey(index uint16) (keys.ApplicationKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.appKeys {
		if k.Index == index {
			return k, true
		}
	}
	return keys.ApplicationKey{}, false
}

// deviceKeyFor picks the key of a device key message to dst: the
// destination's key when known, the node's own key otherwise.
func (s *Stack) deviceKeyFor(dst access.Address) ([keys.KeySize]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k, ok := s.peerDeviceKeys[dst]; ok && !s.ownsAddress(dst) {
		return k, nil
	}
	if s.config.DeviceKey == (keys.DeviceKey{}) {
		return [keys.KeySize]byte{}, fmt.Errorf("%w: %s", ErrNoDeviceKey, dst)
	}
	return s.config.DeviceKey, nil
}

func (s *Stack) ownsAddress(a access.Address) bool {
	return a.IsUnicast() && a >= s.config.Address && int(a) < int(s.config.Address)+s.config.Elements
}
