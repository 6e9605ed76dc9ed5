package ax25

import (
	"fmt"
)

// Packet is a decoded AX.25 v2.2 link-layer frame: the address field (To,
// From, and an optional digipeater Path), the control field, and — for I
// and UI frames only — a PID byte and an Info payload.
type Packet struct {
	Type FrameType

	To   Call
	From Call
	Path Path

	Command  bool // C-bit: true on a command frame, false on a response
	Response bool
	P        bool // poll, set only on command frames
	F        bool // final, set only on response frames
	NR       int  // receive sequence number, modulo 8
	NS       int  // send sequence number, modulo 8 (I frames only)

	PID  byte // only meaningful when Type.hasInfo()
	Info []byte
}

// PIDNoLayer3 is the AX.25 PID value meaning "no layer 3 protocol", used by
// virtually all AGWPE-originated I and UI frames.
const PIDNoLayer3 = 0xF0

const (
	addrFieldLen  = 7
	eaBit         = 0x01 // end-of-address-field marker, last address only
	repeatedBit   = 0x80 // has-been-repeated, digipeater addresses only
	cBitTo        = 0x80 // command/response bit position in the To address
	cBitFrom      = 0x80 // command/response bit position in the From address
	pidEscape1    = 0xFF
	pidEscape2    = 0x08
)

// encodeAddress packs a call sign into the 7-byte AX.25 address field: six
// shifted-left ASCII characters (space-padded), an SSID byte carrying the
// SSID in bits 1-4, the reserved bits set per AX.25 v2.2, and the
// has-been-repeated or command/response bit and end-of-address bit supplied
// by the caller.
func encodeAddress(c Call, extraBit byte, last bool) [addrFieldLen]byte {
	var out [addrFieldLen]byte

	base := c.Base
	for i := 0; i < 6; i++ {
		ch := byte(' ')
		if i < len(base) {
			ch = base[i]
		}
		out[i] = ch << 1
	}

	ssidByte := byte(0x60) | (byte(c.SSID) << 1)
	if extraBit != 0 {
		ssidByte |= extraBit
	}
	if last {
		ssidByte |= eaBit
	}
	out[6] = ssidByte

	return out
}

// decodeAddress unpacks a 7-byte AX.25 address field back into a call sign,
// reporting the high bit (command/response or has-been-repeated, depending
// on position) and whether the end-of-address bit was set.
func decodeAddress(b []byte) (c Call, highBit bool, last bool, err error) {
	if len(b) < addrFieldLen {
		return Call{}, false, false, fmt.Errorf("ax25: short address field (%d bytes)", len(b))
	}

	buf := make([]byte, 6)
	for i := 0; i < 6; i++ {
		buf[i] = b[i] >> 1
	}
	base := trimCallBytes(buf)

	ssidByte := b[6]
	ssid := int((ssidByte >> 1) & 0x0F)
	highBit = ssidByte&repeatedBit != 0
	last = ssidByte&eaBit != 0

	c, err = NewCall(fmt.Sprintf("%s-%d", base, ssid))
	return
}

func trimCallBytes(buf []byte) string {
	n := len(buf)
	for n > 0 && buf[n-1] == ' ' {
		n--
	}
	return string(buf[:n])
}

// Encode renders p as an on-the-wire AX.25 frame, ready to be carried as the
// Info field of an AGWPE 'D' or 'K' frame.
func (p Packet) Encode() ([]byte, error) {
	if len(p.Path) > MaxDigipeaters {
		return nil, fmt.Errorf("ax25: digipeater path too long: %d > %d", len(p.Path), MaxDigipeaters)
	}
	if p.Command && p.Response {
		return nil, fmt.Errorf("ax25: command and response both set")
	}
	if p.P && p.F {
		return nil, fmt.Errorf("ax25: P and F both set")
	}
	if p.P && !p.Command {
		return nil, fmt.Errorf("ax25: P set on a non-command frame")
	}
	if p.F && !p.Response {
		return nil, fmt.Errorf("ax25: F set on a non-response frame")
	}
	if len(p.Info) > 0 && !p.Type.hasInfo() {
		return nil, fmt.Errorf("ax25: info field supplied for non-I/UI frame type %v", p.Type)
	}

	isS := p.Type.isSFrame()

	control, ok := controlByte(p.Type, p.NR, p.NS, !isS && (p.P || p.F))
	if !ok {
		return nil, fmt.Errorf("ax25: unknown frame type %v", p.Type)
	}

	out := make([]byte, 0, addrFieldLen*(2+len(p.Path))+2+len(p.Info)+1)

	toExtra := byte(0)
	if p.Command || (isS && p.P) {
		toExtra = cBitTo
	}
	toAddr := encodeAddress(p.To, toExtra, false)
	out = append(out, toAddr[:]...)

	fromExtra := byte(0)
	if p.Response || (isS && p.F) {
		fromExtra = cBitFrom
	}
	fromAddr := encodeAddress(p.From, fromExtra, len(p.Path) == 0)
	out = append(out, fromAddr[:]...)

	for i, hop := range p.Path {
		var extra byte
		if hop.Repeated {
			extra = repeatedBit
		}
		last := i == len(p.Path)-1
		hopAddr := encodeAddress(hop.Call, extra, last)
		out = append(out, hopAddr[:]...)
	}

	out = append(out, control)

	if p.Type.hasInfo() {
		out = appendEscapedPID(out, p.PID)
		out = append(out, p.Info...)
	}

	return out, nil
}

// appendEscapedPID appends pid to out. A pid of 0xFF collides with the
// extended-PID escape byte, so it is written as 0xFF followed by 0x08, the
// pair Decode reads back as 0xFF.
func appendEscapedPID(out []byte, pid byte) []byte {
	if pid == pidEscape1 {
		out = append(out, pidEscape1, pidEscape2)
		return out
	}
	return append(out, pid)
}

// Decode parses an on-the-wire AX.25 frame. It returns an error if the
// address field, control byte, or PID escape is malformed.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < addrFieldLen*2+1 {
		return Packet{}, fmt.Errorf("ax25: frame too short (%d bytes)", len(raw))
	}

	to, toHigh, toLast, err := decodeAddress(raw[0:addrFieldLen])
	if err != nil {
		return Packet{}, fmt.Errorf("ax25: decoding To address: %w", err)
	}
	if toLast {
		return Packet{}, fmt.Errorf("ax25: To address field set end-of-address bit")
	}

	from, fromHigh, fromLast, err := decodeAddress(raw[addrFieldLen : 2*addrFieldLen])
	if err != nil {
		return Packet{}, fmt.Errorf("ax25: decoding From address: %w", err)
	}

	pos := 2 * addrFieldLen
	var path Path

	for !fromLast {
		if len(path) >= MaxDigipeaters {
			return Packet{}, fmt.Errorf("ax25: digipeater path exceeds %d hops", MaxDigipeaters)
		}
		if pos+addrFieldLen > len(raw) {
			return Packet{}, fmt.Errorf("ax25: truncated digipeater address field")
		}
		call, high, last, derr := decodeAddress(raw[pos : pos+addrFieldLen])
		if derr != nil {
			return Packet{}, fmt.Errorf("ax25: decoding digipeater address: %w", derr)
		}
		path = append(path, Hop{Call: call, Repeated: high})
		pos += addrFieldLen
		fromLast = last
	}

	if pos >= len(raw) {
		return Packet{}, fmt.Errorf("ax25: frame missing control byte")
	}
	control := raw[pos]
	pos++

	typ, nr, ns, pf, ok := classify(control)
	if !ok {
		return Packet{}, fmt.Errorf("ax25: unrecognized control byte 0x%02X", control)
	}

	command := toHigh && !fromHigh
	response := fromHigh && !toHigh

	p := Packet{
		Type:     typ,
		To:       to,
		From:     from,
		Path:     path,
		Command:  command,
		Response: response,
		NR:       nr,
		NS:       ns,
	}

	if typ.isSFrame() {
		// S frames carry P/F in the address field's 0x80 bit, not the
		// control byte's bit 4 — see Encode.
		p.P = toHigh
		p.F = fromHigh
	} else {
		p.P = pf && command
		p.F = pf && response
	}

	if typ.hasInfo() {
		if pos >= len(raw) {
			return Packet{}, fmt.Errorf("ax25: %v frame missing PID byte", typ)
		}
		pid := raw[pos]
		pos++
		if pid == pidEscape1 {
			if pos >= len(raw) || raw[pos] != pidEscape2 {
				return Packet{}, fmt.Errorf("ax25: malformed extended PID escape")
			}
			pid = pidEscape1
			pos++
		}
		p.PID = pid
		p.Info = append([]byte(nil), raw[pos:]...)
	}

	return p, nil
}
