package throttle

import (
	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/transport"
)

// PortThrottle paces all data-bearing traffic for a single TNC port. It
// forwards every inbound frame it does not itself consume ('y' updates, 'g'
// capability replies) to the handler supplied at construction — in
// practice, the port's Connection router.
type PortThrottle struct {
	*Throttle

	Port byte

	forward func(agwpe.Frame)
}

// NewPortThrottle builds a PortThrottle for port and starts issuing 'y'
// in-flight queries through sender. forward receives every frame this
// throttle does not itself interpret.
func NewPortThrottle(port byte, sender *transport.Sender, forward func(agwpe.Frame)) *PortThrottle {
	pt := &PortThrottle{Port: port, forward: forward}
	pt.Throttle = New(sender, pt.query)
	return pt
}

func (pt *PortThrottle) query() agwpe.Frame {
	return agwpe.Frame{Port: pt.Port, Kind: agwpe.KindInFlight}
}

// Handle processes one inbound frame already known to belong to this port.
func (pt *PortThrottle) Handle(f agwpe.Frame) {
	switch f.Kind {
	case agwpe.KindInFlight:
		if len(f.Payload) < 4 {
			return
		}
		pt.HandleInFlightReply(decodeUint32LE(f.Payload))
	case agwpe.KindPortCaps:
		// Capability reply: acknowledged but otherwise ignored, per spec §4.8.
	default:
		if pt.forward != nil {
			pt.forward(f)
		}
	}
}

func decodeUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
