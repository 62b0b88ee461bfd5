package bupm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// decoder reads bup's variable length integers from a byte slice.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) readByte() (byte, error) {
	if d.off >= len(d.buf) {
		return 0, fmt.Errorf("%w: unexpected end of data at offset %d", ErrMalformed, d.off)
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

// vuint reads an unsigned LEB128 integer.
func (d *decoder) vuint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	switch {
	case n == 0:
		return 0, fmt.Errorf("%w: unexpected end of data at offset %d", ErrMalformed, d.off)
	case n < 0:
		return 0, fmt.Errorf("%w: vuint overflow at offset %d", ErrMalformed, d.off)
	}
	d.off += n
	return v, nil
}

// vint reads a signed bup vint. The first byte carries the continuation bit
// (0x80), the sign (0x40) and six magnitude bits; later bytes carry seven.
func (d *decoder) vint() (int64, error) {
	start := d.off
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	negative := b&0x40 != 0
	v := uint64(b & 0x3f)
	shift := uint(6)
	for b&0x80 != 0 {
		if shift > 62 {
			return 0, fmt.Errorf("%w: vint overflow at offset %d", ErrMalformed, start)
		}
		if b, err = d.readByte(); err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		shift += 7
	}
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: vint overflow at offset %d", ErrMalformed, start)
	}
	if negative {
		return -int64(v), nil
	}
	return int64(v), nil
}

// bvec reads a vuint length followed by that many bytes.
func (d *decoder) bvec() ([]byte, error) {
	n, err := d.vuint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.remaining()) {
		return nil, fmt.Errorf("%w: bvec of %d bytes exceeds %d remaining", ErrMalformed, n, d.remaining())
	}
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bvec()
	return string(b), err
}

func appendVuint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func appendVint(buf []byte, v int64) []byte {
	var sign byte
	u := uint64(v)
	if v < 0 {
		sign = 0x40
		u = uint64(-v)
	}
	if u < 0x40 {
		return append(buf, byte(u)|sign)
	}
	buf = append(buf, byte(u&0x3f)|sign|0x80)
	return binary.AppendUvarint(buf, u>>6)
}

func appendBvec(buf, b []byte) []byte {
	buf = appendVuint(buf, uint64(len(b)))
	return append(buf, b...)
}
