package lower

// Segment splits an upper transport PDU into lower transport PDUs indexed by
// SegO. hdr supplies CTL, AKF/AID or Opcode and SZMIC; seq is the sequence
// number of the first segment. The PDU is sent unsegmented when it fits,
// unless hdr.Segmented or hdr.SZMIC force segmentation. An empty PDU, such
// as a control message without parameters, is always one header-only PDU.
func Segment(hdr SegmentHeader, seq uint32, upper []byte) ([][]byte, error) {
	if len(upper) == 0 {
		hdr.Segmented, hdr.SZMIC = false, false
		pdu, err := hdr.Encode(nil)
		if err != nil {
			return nil, err
		}
		return [][]byte{pdu}, nil
	}

	limit := MaxUnsegmentedAccess
	if hdr.CTL {
		limit = MaxUnsegmentedControl
		hdr.SZMIC = false
	}
	if !hdr.Segmented && !hdr.SZMIC && len(upper) <= limit {
		pdu, err := hdr.Encode(upper)
		if err != nil {
			return nil, err
		}
		return [][]byte{pdu}, nil
	}

	size := hdr.SegmentSize()
	count := (len(upper) + size - 1) / size
	if count > MaxSegments {
		return nil, ErrPayloadTooLong
	}

	hdr.Segmented = true
	hdr.SeqZero = SeqZero(seq)
	hdr.SegN = uint8(count - 1)

	out := make([][]byte, count)
	for i := range out {
		end := min((i+1)*size, len(upper))
		hdr.SegO = uint8(i)
		pdu, err := hdr.Encode(upper[i*size : end])
		if err != nil {
			return nil, err
		}
		out[i] = pdu
	}
	return out, nil
}
