package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/transport/lower"
	"github.com/backkem/btmesh/pkg/transport/upper"
)

// OnPduReceived processes one network PDU read from a bearer. PDUs that fail
// authentication, carry unknown keys, are replayed or are addressed
// elsewhere are dropped.
func (s *Stack) OnPduReceived(data []byte) {
	if s.isClosed() {
		return
	}
	if err := s.receive(data, time.Now()); err != nil && s.log != nil {
		s.log.Debugf("dropped network PDU: %v", err)
	}
}

func (s *Stack) receive(data []byte, now time.Time) error {
	nid, err := network.NID(data)
	if err != nil {
		return err
	}
	s.mu.RLock()
	netKeys := append([]keys.NetworkKey(nil), s.netKeys...)
	s.mu.RUnlock()

	cands, err := s.cache.Candidates(nid, netKeys)
	if err != nil {
		return err
	}
	hdr, lowerPDU, err := network.Decode(data, s.iv.Current().Index, cands)
	if err != nil {
		return err
	}
	if s.ownsAddress(hdr.Src) {
		return fmt.Errorf("own PDU from %s", hdr.Src)
	}
	if s.config.Relay && !s.ownsAddress(hdr.Dst) {
		s.relayPDU(*hdr, lowerPDU)
	}
	if !s.accepts(hdr.Dst) {
		return fmt.Errorf("not subscribed to %s", hdr.Dst)
	}

	segHdr, payload, err := lower.ParseHeader(lowerPDU, hdr.CTL)
	if err != nil {
		return err
	}
	ah := access.Header{
		Src:         hdr.Src,
		Dst:         hdr.Dst,
		TTL:         hdr.TTL,
		Seq:         hdr.Seq,
		IVIndex:     hdr.IVIndex,
		NetKeyIndex: hdr.NetKeyIndex,
	}

	if !segHdr.Segmented {
		if err := s.replay.CheckAndAccept(hdr.Src, hdr.IVIndex, hdr.Seq); err != nil {
			return err
		}
		return s.deliverUpper(ah, segHdr, payload)
	}
	return s.receiveSegment(hdr, ah, segHdr, payload, now)
}

// receiveSegment feeds one segment to the reassembly table. The replay list
// records a segmented message by SeqAuth when its first well-formed segment
// arrives; later segments of the same message are let through in any order.
func (s *Stack) receiveSegment(hdr *network.Header, ah access.Header, segHdr lower.SegmentHeader, payload []byte, now time.Time) error {
	if err := lower.CheckSegment(segHdr, payload); err != nil {
		return err
	}
	seqAuth := lower.SeqAuth(hdr.Seq, segHdr.SeqZero)
	if !s.table.Known(hdr.Src, segHdr.SeqZero, seqAuth) {
		if err := s.replay.CheckAndAccept(hdr.Src, hdr.IVIndex, seqAuth); err != nil {
			return err
		}
	}

	s.expire(now)
	res, err := s.table.Add(hdr.Src, hdr.Seq, segHdr, payload, now)
	if err != nil {
		return err
	}
	key := lower.Key{Src: hdr.Src, SeqZero: segHdr.SeqZero}
	unicast := hdr.Dst.IsUnicast()

	switch {
	case res.Duplicate:
		if unicast {
			s.sendAck(*hdr, segHdr.SeqZero, res.BlockAck)
		}
		return nil
	case res.Complete:
		s.stopRx(key)
		if unicast {
			s.sendAck(*hdr, segHdr.SeqZero, res.BlockAck)
		}
		ah.Seq = res.SeqAuth
		return s.deliverUpper(ah, res.Header, res.PDU)
	default:
		s.armRx(key, *hdr, unicast)
		return nil
	}
}

// relayPDU re-encrypts a received PDU with TTL decremented and writes it to
// the bearer. Each PDU is relayed once.
func (s *Stack) relayPDU(hdr network.Header, lowerPDU []byte) {
	out, ok := hdr.Relayed()
	if !ok || !s.relay.Add(hdr.Src, hdr.IVIndex, hdr.Seq) {
		return
	}
	m, err := s.transmitMaterial(hdr.NetKeyIndex)
	if err != nil {
		return
	}
	pdu, err := network.Encode(out, lowerPDU, m)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("relaying PDU from %s: %v", hdr.Src, err)
		}
		return
	}
	s.mu.RLock()
	b := s.bearer
	s.mu.RUnlock()
	if b == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.sar.AckTimeout(out.TTL))
	defer cancel()
	if err := b.Send(ctx, pdu); err != nil && s.log != nil {
		s.log.Debugf("relaying PDU from %s: %v", hdr.Src, err)
	} else if s.log != nil {
		s.log.Tracef("relayed SEQ %#x from %s to %s, TTL %d", hdr.Seq, hdr.Src, hdr.Dst, out.TTL)
	}
}

func (s *Stack) deliverUpper(ah access.Header, segHdr lower.SegmentHeader, pdu []byte) error {
	if segHdr.CTL {
		if segHdr.Opcode == access.ControlSegmentAck {
			a, err := lower.DecodeSegmentAck(pdu)
			if err != nil {
				return err
			}
			s.handleAck(ah.Src, a)
			return nil
		}
		msg, err := upper.DecodeControl(ah, segHdr.Opcode, pdu)
		if err != nil {
			return err
		}
		s.deliver(msg)
		return nil
	}

	msg, err := upper.Decrypt(ah, segHdr.AKF, segHdr.AID, segHdr.SZMIC, pdu, s.keySet(ah.Src))
	if err != nil {
		return err
	}
	s.deliver(msg)
	return nil
}

func (s *Stack) deliver(msg access.Message) {
	if s.config.OnMessage != nil {
		s.config.OnMessage(msg)
	}
}

func (s *Stack) keySet(src access.Address) upper.KeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks := upper.KeySet{
		AppKeys: append([]keys.ApplicationKey(nil), s.appKeys...),
		Labels:  s.config.Labels,
		Cache:   s.cache,
	}
	if k, ok := s.peerDeviceKeys[src]; ok {
		ks.DeviceKeys = append(ks.DeviceKeys, k)
	}
	if s.config.DeviceKey != (keys.DeviceKey{}) {
		ks.DeviceKeys = append(ks.DeviceKeys, s.config.DeviceKey)
	}
	return ks
}

func (s *Stack) accepts(dst access.Address) bool {
	switch {
	case dst.IsUnicast():
		return s.ownsAddress(dst)
	case dst == access.AllNodes:
		return true
	case dst.IsVirtual() && len(s.config.Labels) > 0:
		return true
	}
	for _, a := range s.config.Subscriptions {
		if a == dst {
			return true
		}
	}
	return false
}

// armRx restarts the incomplete timer of a reassembly and starts its ack
// timer if none is pending.
func (s *Stack) armRx(key lower.Key, hdr network.Header, unicast bool) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if s.isClosed() {
		return
	}
	t, ok := s.incoming[key]
	if !ok {
		t = &rxTimers{}
		s.incoming[key] = t
	}
	if t.incomplete == nil {
		t.incomplete = time.AfterFunc(s.sar.IncompleteTimeout, func() { s.onIncomplete(key) })
	} else {
		t.incomplete.Reset(s.sar.IncompleteTimeout)
	}
	if unicast && t.ack == nil {
		t.ack = time.AfterFunc(s.sar.AckTimeout(hdr.TTL), func() { s.onAckTimer(key, hdr) })
	}
}

func (s *Stack) stopRx(key lower.Key) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if t, ok := s.incoming[key]; ok {
		t.stop()
		delete(s.incoming, key)
	}
}

func (s *Stack) onAckTimer(key lower.Key, hdr network.Header) {
	s.inMu.Lock()
	if t, ok := s.incoming[key]; ok {
		t.ack = nil
	}
	s.inMu.Unlock()

	r, ok := s.table.Get(key.Src, key.SeqZero)
	if !ok || s.isClosed() {
		return
	}
	s.sendAck(hdr, key.SeqZero, r.BlockAck)
}

func (s *Stack) onIncomplete(key lower.Key) {
	s.stopRx(key)
	if s.isClosed() {
		return
	}
	if s.table.Cancel(key.Src, key.SeqZero) {
		s.reportError(fmt.Errorf("%w: from %s, SeqZero %#x", lower.ErrSegmentationTimeout, key.Src, key.SeqZero))
	}
	s.expire(time.Now())
}

// expire abandons stale reassemblies the timers have not caught and prunes
// completed entries.
func (s *Stack) expire(now time.Time) {
	for _, key := range s.table.Expire(now, s.sar.IncompleteTimeout) {
		s.stopRx(key)
		s.reportError(fmt.Errorf("%w: from %s, SeqZero %#x", lower.ErrSegmentationTimeout, key.Src, key.SeqZero))
	}
}

// sendAck acknowledges segments received with hdr. The ack leaves from the
// addressed element; a message received with TTL 0 is acknowledged with
// TTL 0.
func (s *Stack) sendAck(hdr network.Header, seqZero uint16, block lower.BlockAck) {
	ttl := s.config.DefaultTTL
	if hdr.TTL == 0 {
		ttl = 0
	}
	msg := &access.ControlMessage{
		Header: access.Header{
			Src:         hdr.Dst,
			Dst:         hdr.Src,
			TTL:         ttl,
			NetKeyIndex: hdr.NetKeyIndex,
		},
		Opcode:     access.ControlSegmentAck,
		Parameters: lower.SegmentAck{SeqZero: seqZero, BlockAck: block}.Encode(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.sar.AckTimeout(ttl))
	defer cancel()
	if err := s.sendControl(ctx, msg); err != nil && s.log != nil {
		s.log.Debugf("sending ack to %s: %v", hdr.Src, err)
	}
}
