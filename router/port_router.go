// Package router implements the two-tier demultiplexing fabric that routes
// inbound AGWPE frames: the Port router keyed by TNC port, and the
// Connection router (conn_router.go) keyed by (port, localCall, remoteCall)
// within one port.
package router

import (
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/throttle"
	"github.com/n0call/agwgo/transport"
)

// portEntry bundles one port's throttle and the Connection router stacked
// on top of it, created together on first use per spec.md §4.5.
type portEntry struct {
	Throttle *throttle.PortThrottle
	Conns    *ConnRouter
}

func (e *portEntry) Handle(f agwpe.Frame) {
	e.Throttle.Handle(f)
}

// PortRouter is the single entry point for every inbound AGWPE frame. It
// demultiplexes by TNC port, lazily creating a Port throttle and
// Connection router for each port it observes.
type PortRouter struct {
	sender *transport.Sender
	log    *log.Entry

	mu    sync.Mutex
	ports map[byte]*portEntry

	knownPorts  []byte
	portsKnown  bool
	portWaiters []chan []byte

	rawMu        sync.Mutex
	rawNextID    int
	rawListeners map[int]func(agwpe.Frame)

	// OnRegistration fires when an 'X' register-call reply arrives, naming
	// the call sign that was attempted and whether it was accepted.
	OnRegistration func(port byte, call string, ok bool)

	// OnInboundConnect is forwarded to every port's ConnRouter; see
	// ConnRouter.OnInboundConnect.
	OnInboundConnect func(key ConnKey, banner []byte, ct *throttle.ConnThrottle) (forward func(agwpe.Frame), onDestroy func())

	// PortCountDoubling reproduces a specific TNC's bug of reporting twice
	// the real port count; off by default per spec.md §9.
	PortCountDoubling bool
}

// NewPortRouter builds an empty PortRouter writing outbound frames through
// sender.
func NewPortRouter(sender *transport.Sender, logger *log.Entry) *PortRouter {
	return &PortRouter{
		sender:       sender,
		log:          logger,
		ports:        make(map[byte]*portEntry),
		rawListeners: make(map[int]func(agwpe.Frame)),
	}
}

// Handle dispatches one inbound frame from the TNC.
func (pr *PortRouter) Handle(f agwpe.Frame) {
	switch f.Kind {
	case agwpe.KindPortInfo:
		pr.handlePortList(f)
	case agwpe.KindRegisterCall:
		pr.handleRegisterReply(f)
	case agwpe.KindFrameKISS:
		pr.broadcastRaw(f)
	default:
		pr.entry(f.Port).Handle(f)
	}
}

func (pr *PortRouter) entry(port byte) *portEntry {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if e, ok := pr.ports[port]; ok {
		return e
	}

	conns := NewConnRouter(port, pr.sender, pr.log.WithField("port", port))
	conns.OnInboundConnect = func(key ConnKey, banner []byte, ct *throttle.ConnThrottle) (func(agwpe.Frame), func()) {
		if pr.OnInboundConnect != nil {
			return pr.OnInboundConnect(key, banner, ct)
		}
		return nil, nil
	}

	pt := throttle.NewPortThrottle(port, pr.sender, conns.Handle)

	e := &portEntry{Throttle: pt, Conns: conns}
	pr.ports[port] = e

	pr.sender.Send(agwpe.Frame{Port: port, Kind: agwpe.KindInFlight})

	return e
}

// DestroyAll tears down every connection on every port and stops each
// port's throttle, per spec.md §5's socket-loss cascade: "Closing the TCP
// socket cascades: ... Port router destroys every client, every Connection
// emits close." Called by agw.Server after the Receiver reports the TNC
// socket is gone, and again by agw.Server.Close.
func (pr *PortRouter) DestroyAll() {
	pr.mu.Lock()
	entries := make([]*portEntry, 0, len(pr.ports))
	for _, e := range pr.ports {
		entries = append(entries, e)
	}
	pr.mu.Unlock()

	for _, e := range entries {
		e.Conns.DestroyAll()
		e.Throttle.Stop()
	}
}

// ConnRouterFor returns the Connection router for port, creating it (and
// its Port throttle) if necessary. Used by outbound createConnection.
func (pr *PortRouter) ConnRouterFor(port byte) *ConnRouter {
	return pr.entry(port).Conns
}

func (pr *PortRouter) handlePortList(f agwpe.Frame) {
	desc := string(f.Payload)
	parts := strings.SplitN(desc, ";", 2)
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n < 0 {
		pr.log.WithField("payload", desc).Warn("malformed 'G' port-list reply")
		return
	}

	if pr.PortCountDoubling {
		n *= 2
	}

	ports := make([]byte, n)
	for i := 0; i < n; i++ {
		ports[i] = byte(i)
	}

	pr.mu.Lock()
	pr.knownPorts = ports
	pr.portsKnown = true
	waiters := pr.portWaiters
	pr.portWaiters = nil
	pr.mu.Unlock()

	for _, p := range ports {
		pr.sender.Send(agwpe.Frame{Port: p, Kind: agwpe.KindPortCaps})
	}

	for _, w := range waiters {
		w <- ports
		close(w)
	}
}

// WaitForPorts returns the known port list if 'G' has already been
// answered, or blocks on a channel that fires once it is.
func (pr *PortRouter) WaitForPorts() <-chan []byte {
	ch := make(chan []byte, 1)

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.portsKnown {
		ch <- pr.knownPorts
		close(ch)
		return ch
	}

	pr.portWaiters = append(pr.portWaiters, ch)
	return ch
}

func (pr *PortRouter) handleRegisterReply(f agwpe.Frame) {
	ok := len(f.Payload) > 0 && f.Payload[0] == 1
	if pr.OnRegistration != nil {
		pr.OnRegistration(f.Port, f.CallFrom, ok)
	}
}

func (pr *PortRouter) broadcastRaw(f agwpe.Frame) {
	pr.rawMu.Lock()
	listeners := make([]func(agwpe.Frame), 0, len(pr.rawListeners))
	for _, l := range pr.rawListeners {
		listeners = append(listeners, l)
	}
	pr.rawMu.Unlock()

	for _, l := range listeners {
		l(f)
	}
}

// SubscribeRaw adds a listener for inbound 'K' raw AX.25 frames. The first
// subscriber toggles raw mode on with a 'k' frame; the returned function
// unsubscribes, toggling raw mode back off if it was the last listener.
func (pr *PortRouter) SubscribeRaw(port byte, listener func(agwpe.Frame)) (unsubscribe func()) {
	pr.rawMu.Lock()
	id := pr.rawNextID
	pr.rawNextID++
	pr.rawListeners[id] = listener
	first := len(pr.rawListeners) == 1
	pr.rawMu.Unlock()

	if first {
		pr.sender.Send(agwpe.Frame{Port: port, Kind: agwpe.KindRawMode})
	}

	return func() {
		pr.rawMu.Lock()
		delete(pr.rawListeners, id)
		last := len(pr.rawListeners) == 0
		pr.rawMu.Unlock()

		if last {
			pr.sender.Send(agwpe.Frame{Port: port, Kind: agwpe.KindRawMode})
		}
	}
}
