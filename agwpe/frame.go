// Package agwpe implements the AGWPE TCP frame codec: the fixed 36-byte
// header used by every frame exchanged with an AGWPE-compatible TNC, plus
// the dictionary of dataKind bytes that identify each frame's purpose.
package agwpe

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// HeaderLen is the size in bytes of every AGWPE frame header, regardless of
// dataKind or payload length.
const HeaderLen = 36

const callFieldLen = 10

// Frame is the decoded form of one AGWPE TCP message: a fixed header plus
// an arbitrarily sized payload.
type Frame struct {
	Port     byte
	Kind     DataKind
	PID      byte
	CallFrom string
	CallTo   string
	User     uint32
	Payload  []byte
}

// Encode renders f as the 36-byte header plus payload, ready to write to
// the TNC socket. CallFrom and CallTo must fit in 9 characters (the 10th
// byte of each field is always the terminating NUL); a longer value is
// rejected with an error. Both are upper-cased on the wire.
func (f Frame) Encode() ([]byte, error) {
	if len(f.CallFrom) > callFieldLen-1 {
		return nil, fmt.Errorf("agwpe: callFrom %q too long for a %d-byte field", f.CallFrom, callFieldLen)
	}
	if len(f.CallTo) > callFieldLen-1 {
		return nil, fmt.Errorf("agwpe: callTo %q too long for a %d-byte field", f.CallTo, callFieldLen)
	}

	out := make([]byte, HeaderLen+len(f.Payload))

	out[0] = f.Port
	// bytes 1..3 reserved, left zero
	out[4] = byte(f.Kind)
	// byte 5 reserved, left zero
	out[6] = f.PID
	// byte 7 reserved, left zero
	copy(out[8:18], []byte(strings.ToUpper(f.CallFrom)))
	copy(out[18:28], []byte(strings.ToUpper(f.CallTo)))
	binary.LittleEndian.PutUint32(out[28:32], uint32(len(f.Payload)))
	binary.LittleEndian.PutUint32(out[32:36], f.User)
	copy(out[HeaderLen:], f.Payload)

	return out, nil
}

// Decode parses a complete AGWPE frame (header plus payload) from raw. raw
// must be exactly HeaderLen+payloadLength bytes; use Receiver to reassemble
// a byte stream into frame-sized chunks before calling Decode.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < HeaderLen {
		return Frame{}, fmt.Errorf("agwpe: frame shorter than header (%d bytes)", len(raw))
	}

	payloadLen := binary.LittleEndian.Uint32(raw[28:32])
	if uint64(HeaderLen)+uint64(payloadLen) != uint64(len(raw)) {
		return Frame{}, fmt.Errorf("agwpe: payload length %d does not match frame size %d", payloadLen, len(raw))
	}

	f := Frame{
		Port:     raw[0],
		Kind:     DataKind(raw[4]),
		PID:      raw[6],
		CallFrom: nulTerminatedASCII(raw[8:18]),
		CallTo:   nulTerminatedASCII(raw[18:28]),
		User:     binary.LittleEndian.Uint32(raw[32:36]),
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), raw[HeaderLen:]...)
	}

	return f, nil
}

// PayloadLength reads just the payload-length field out of a complete
// 36-byte header, used by Receiver once it has buffered a full header but
// not yet the payload.
func PayloadLength(header []byte) (uint32, error) {
	if len(header) < HeaderLen {
		return 0, fmt.Errorf("agwpe: header shorter than %d bytes", HeaderLen)
	}
	return binary.LittleEndian.Uint32(header[28:32]), nil
}

func nulTerminatedASCII(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
