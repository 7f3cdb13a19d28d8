package wire

import "encoding/binary"

// builder accumulates a payload body using the wire's primitives:
// length-prefixed strings (1-byte length), big-endian 16-bit integers,
// and single-byte booleans.
type builder struct {
	buf []byte
	err error
}

func newBuilder() *builder {
	return &builder{buf: make([]byte, 0, 64)}
}

func (b *builder) writeString(s string) {
	if b.err != nil {
		return
	}
	if len(s) > MaxStringLen {
		b.err = ErrPayloadTooLarge
		return
	}
	b.buf = append(b.buf, byte(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *builder) writeUint16(v uint16) {
	if b.err != nil {
		return
	}
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *builder) writeBool(v bool) {
	if b.err != nil {
		return
	}
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
}

func (b *builder) bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.buf) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return b.buf, nil
}

// reader walks a decoded payload using the same primitives, failing
// with ErrMalformedPacket on any overrun.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) readString() (string, error) {
	if r.pos >= len(r.data) {
		return "", ErrMalformedPacket
	}
	n := int(r.data[r.pos])
	r.pos++
	if r.pos+n > len(r.data) {
		return "", ErrMalformedPacket
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrMalformedPacket
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) readBool() (bool, error) {
	if r.pos >= len(r.data) {
		return false, ErrMalformedPacket
	}
	v := r.data[r.pos] != 0
	r.pos++
	return v, nil
}

// done reports whether the whole payload was consumed. Trailing bytes
// are tolerated (forward-compatible payload growth) so this is
// informational rather than enforced by readers.
func (r *reader) done() bool {
	return r.pos >= len(r.data)
}

// Encode frames kind+payload as type(1) ‖ length(2, BE) ‖ payload.
func Encode(kind Kind, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, HeaderSize+len(payload))
	out[0] = byte(kind)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[3:], payload)
	return out, nil
}

// Packet is a single decoded frame. Transient — never stored.
type Packet struct {
	Kind    Kind
	Payload []byte
}
