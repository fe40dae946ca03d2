package codec

// BitWriter packs fields into bytes least significant bit first, the order
// mesh uses for packed message parameters such as Scheduler entries. The
// first field occupies the low bits of byte 0.
type BitWriter struct {
	buf  []byte
	nbit int
}

// NewBitWriter returns an empty writer.
func NewBitWriter() *BitWriter {
	return &BitWriter{}
}

// Write appends the low n bits of v. It returns ErrBitOverflow if v has bits
// set above n, so out of range fields are never silently truncated.
func (w *BitWriter) Write(v uint64, n int) error {
	if n < 1 || n > 64 {
		return ErrInvalidBitSize
	}
	if n < 64 && v>>uint(n) != 0 {
		return ErrBitOverflow
	}
	for i := 0; i < n; i++ {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<uint(i)) != 0 {
			w.buf[w.nbit/8] |= 1 << uint(w.nbit%8)
		}
		w.nbit++
	}
	return nil
}

// Len returns the number of bits written.
func (w *BitWriter) Len() int {
	return w.nbit
}

// Bytes returns the packed bytes; the final byte is zero padded.
func (w *BitWriter) Bytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// BitReader unpacks fields written by BitWriter.
type BitReader struct {
	buf  []byte
	nbit int
}

// NewBitReader reads from b. b is not copied.
func NewBitReader(b []byte) *BitReader {
	return &BitReader{buf: b}
}

// Read returns the next n bits.
func (r *BitReader) Read(n int) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, ErrInvalidBitSize
	}
	if r.Remaining() < n {
		return 0, ErrShortBuffer
	}
	var v uint64
	for i := 0; i < n; i++ {
		if r.buf[r.nbit/8]&(1<<uint(r.nbit%8)) != 0 {
			v |= 1 << uint(i)
		}
		r.nbit++
	}
	return v, nil
}

// Remaining returns the number of unread bits.
func (r *BitReader) Remaining() int {
	return len(r.buf)*8 - r.nbit
}
