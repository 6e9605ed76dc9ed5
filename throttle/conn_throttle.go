package throttle

import (
	"sync/atomic"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/transport"
)

// ConnThrottle paces one AX.25 conversation's data-bearing traffic and owns
// the disconnect + tail-ID sequence for that conversation, per spec §4.8.
type ConnThrottle struct {
	*Throttle

	PortNum byte
	Local   string
	Remote  string
	ID      string

	forward      func(agwpe.Frame)
	onDestroy    func()
	disconnected int32
}

// NewConnThrottle builds a ConnThrottle for the (port, local, remote) key.
// forward receives every inbound frame this throttle does not itself
// interpret (connected data, connect indications, and so on); onDestroy
// runs once, spliced into the outbound sequence after the disconnect
// frame, when the connection record should be torn down.
func NewConnThrottle(port byte, local, remote, id string, sender *transport.Sender, forward func(agwpe.Frame), onDestroy func()) *ConnThrottle {
	ct := &ConnThrottle{
		PortNum: port,
		Local:   local,
		Remote:  remote,
		ID:      id,
		forward: forward,
		onDestroy: onDestroy,
	}
	ct.Throttle = New(sender, ct.query)
	return ct
}

// SetForward and SetOnDestroy bind the callbacks a ConnThrottle was
// constructed without, for callers (the inbound-connect path) that must
// hand back a live ConnThrottle before the application's forward/onDestroy
// closures can be built. Safe to call only before any frame reaches Handle.
func (ct *ConnThrottle) SetForward(fn func(agwpe.Frame)) { ct.forward = fn }
func (ct *ConnThrottle) SetOnDestroy(fn func())           { ct.onDestroy = fn }

func (ct *ConnThrottle) query() agwpe.Frame {
	return agwpe.Frame{Port: ct.PortNum, Kind: agwpe.KindInFlightY, CallFrom: ct.Local, CallTo: ct.Remote}
}

// IsDisconnected reports whether an inbound 'd' frame has been observed from
// the TNC or Destroy has run. A local End() does not set it by itself.
func (ct *ConnThrottle) IsDisconnected() bool {
	return atomic.LoadInt32(&ct.disconnected) != 0
}

// Handle processes one inbound frame already known to belong to this
// connection.
func (ct *ConnThrottle) Handle(f agwpe.Frame) {
	switch f.Kind {
	case agwpe.KindInFlightY:
		if len(f.Payload) >= 4 {
			ct.HandleInFlightReply(decodeUint32LE(f.Payload))
		}
	case agwpe.KindDisconnect:
		ct.handleDisconnect(f)
	default:
		if ct.forward != nil {
			ct.forward(f)
		}
	}
}

func (ct *ConnThrottle) handleDisconnect(f agwpe.Frame) {
	if !atomic.CompareAndSwapInt32(&ct.disconnected, 0, 1) {
		return
	}
	if ct.forward != nil {
		ct.forward(f)
	}
	ct.WriteDeferred(func() { ct.removeKind(agwpe.KindData) })
	if ct.onDestroy != nil {
		ct.WriteDeferred(ct.onDestroy)
	}
}

// Destroy notifies the bound connection that the underlying TNC socket is
// gone and stops the throttle's actor goroutine, without attempting to
// flush any queued frames through the now-dead Sender. Used by the
// Port/Connection router cascade on socket loss, per spec.md §5: "Closing
// the TCP socket cascades: ... Port router destroys every client, every
// Connection emits close."
func (ct *ConnThrottle) Destroy() {
	if atomic.CompareAndSwapInt32(&ct.disconnected, 0, 1) && ct.forward != nil {
		ct.forward(agwpe.Frame{Port: ct.PortNum, Kind: agwpe.KindDisconnect, CallFrom: ct.Local, CallTo: ct.Remote})
	}
	ct.Stop()
	if ct.onDestroy != nil {
		ct.onDestroy()
	}
}

// End gracefully closes the connection: per spec §4.8's final-frames
// protocol, it tightens the watermark to minInFlight+1 so the 'd' frame
// waits for already-accepted data to drain, enqueues 'd', restores the
// watermark, then optionally tails a UNPROTO ID frame.
func (ct *ConnThrottle) End() {
	ct.WriteDeferred(func() { ct.maxInFlight = ct.minInFlight + 1 })
	ct.Write(agwpe.Frame{Port: ct.PortNum, Kind: agwpe.KindDisconnect, CallFrom: ct.Local, CallTo: ct.Remote})
	ct.WriteDeferred(func() { ct.maxInFlight = defaultMaxInFlight })

	if ct.ID != "" {
		ct.Write(agwpe.Frame{
			Port:     ct.PortNum,
			Kind:     agwpe.KindUnprotoUI,
			CallFrom: ct.Local,
			CallTo:   "ID",
			Payload:  []byte(ct.ID),
		})
	}
}
