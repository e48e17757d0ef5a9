// Package protocol implements the frame format that moves request and reply buffers
// between the policy client and the policy server.
//
// A stream transport has no message boundaries, so every buffer travels behind a fixed
// 14-byte header carrying its length. The header also pairs replies with requests by
// sequence number and says whether the body is a reply or a transport-level error.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │fl│mt│   seq   │ bodyLen │    body ...    │
//	│ aps  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MagicNumber byte = 0x61 // 'a'
	MagicByte2  byte = 0x70 // 'p'
	MagicByte3  byte = 0x73 // 's'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (flags) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen caps a single buffer. Policy transactions are a few dozen bytes;
	// anything near this is a corrupt length field.
	MaxBodyLen uint32 = 1 << 20
)

// MsgType distinguishes request, reply, error and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server transaction
	MsgTypeReply     MsgType = 1 // Server → Client reply buffer
	MsgTypeError     MsgType = 2 // Server → Client, body is one little-endian int32 status
	MsgTypeHeartbeat MsgType = 3 // KeepAlive probe (no body)
)

func (m MsgType) String() string {
	switch m {
	case MsgTypeRequest:
		return "request"
	case MsgTypeReply:
		return "reply"
	case MsgTypeError:
		return "error"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("msgtype(%d)", byte(m))
}

// Header is the fixed 14-byte frame header.
type Header struct {
	Flags   byte    // Reserved, always 0 in version 1
	MsgType MsgType // Request, Reply, Error or Heartbeat
	Seq     uint32  // Pairs a reply with its request on a shared connection
	BodyLen uint32
}

// Encode writes a complete frame (header + body) to w as a single Write.
// Callers sharing w between goroutines still need to serialize calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return fmt.Errorf("body too large: %d bytes", len(body))
	}
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.Flags
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, message type and body length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Flags:   headerBuf[4],
		MsgType: msgType,
		Seq:     seq,
		BodyLen: bodyLen,
	}, body, nil
}

// EncodeStatus is the body of an error frame.
func EncodeStatus(status int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(status))
}

// DecodeStatus reads the body of an error frame.
func DecodeStatus(body []byte) (int32, error) {
	if len(body) != 4 {
		return 0, fmt.Errorf("error frame body is %d bytes, want 4", len(body))
	}
	return int32(binary.LittleEndian.Uint32(body)), nil
}
