// Package codec implements the field-level wire encoding shared by the policy proxy
// and the dispatcher.
//
// A Parcel is a flat byte buffer holding a sequence of fields with no framing of its
// own. Writers append; readers consume in exactly the order the fields were written.
// There is no schema on the wire, so both sides must agree on the field order.
//
// Field layout:
//
//	int32   │ 4 bytes, little-endian
//	cstring │ bytes... 0x00 [0x00 padding up to a 4-byte boundary]
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// MaxCStringLen bounds a string field, terminator included.
const MaxCStringLen = 4096

const wordSize = 4

// ErrMalformedMessage is returned when a buffer ends before every declared field was read.
var ErrMalformedMessage = errors.New("codec: malformed message")

// Parcel is not safe for concurrent use; every call builds its own.
type Parcel struct {
	buf []byte
	pos int // read cursor
}

func NewParcel() *Parcel {
	return &Parcel{buf: make([]byte, 0, 64)}
}

// ParcelFrom wraps b for reading. b is not copied.
func ParcelFrom(b []byte) *Parcel {
	return &Parcel{buf: b}
}

func (p *Parcel) Bytes() []byte { return p.buf }

func (p *Parcel) Len() int { return len(p.buf) }

// Remaining reports how many bytes are left after the read cursor.
func (p *Parcel) Remaining() int { return len(p.buf) - p.pos }

func (p *Parcel) Reset() {
	p.buf = p.buf[:0]
	p.pos = 0
}

func (p *Parcel) WriteInt32(v int32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

func (p *Parcel) WriteUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

// WriteCString appends s, its terminator and the alignment padding.
// s is cut at an embedded NUL, as the reading side would; callers that must not lose
// data check for it first.
func (p *Parcel) WriteCString(s string) {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	p.buf = append(p.buf, s...)
	p.buf = append(p.buf, 0)
	for len(p.buf)%wordSize != 0 {
		p.buf = append(p.buf, 0)
	}
}

// WriteInterfaceToken writes the identity string that leads every request.
func (p *Parcel) WriteInterfaceToken(descriptor string) {
	p.WriteCString(descriptor)
}

func (p *Parcel) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

func (p *Parcel) ReadUint32() (uint32, error) {
	if p.Remaining() < wordSize {
		return 0, p.malformed("int32", p.Remaining())
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += wordSize
	return v, nil
}

// ReadCString scans for the terminator, then skips the padding that follows it.
// The padding may be short at the very end of a buffer written by a sloppy peer.
func (p *Parcel) ReadCString() (string, error) {
	rest := p.buf[p.pos:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", p.malformed("cstring", len(rest))
	}
	if end+1 > MaxCStringLen {
		return "", fmt.Errorf("%w: cstring at offset %d is %d bytes, limit %d", ErrMalformedMessage, p.pos, end+1, MaxCStringLen)
	}
	s := string(rest[:end])
	n := align(end + 1)
	if n > len(rest) {
		n = len(rest)
	}
	p.pos += n
	return s, nil
}

func (p *Parcel) ReadInterfaceToken() (string, error) {
	return p.ReadCString()
}

func (p *Parcel) malformed(field string, have int) error {
	return fmt.Errorf("%w: %s at offset %d, %d bytes left", ErrMalformedMessage, field, p.pos, have)
}

func align(n int) int {
	return (n + wordSize - 1) &^ (wordSize - 1)
}

