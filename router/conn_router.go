package router

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/throttle"
	"github.com/n0call/agwgo/transport"
)

// ErrAddrInUse is returned by CreateOutbound when a connection already
// exists for the requested (port, local, remote) key.
type ErrAddrInUse struct {
	Port   byte
	Local  string
	Remote string
}

func (e *ErrAddrInUse) Error() string {
	return fmt.Sprintf("router: connection (port=%d local=%s remote=%s) already exists", e.Port, e.Local, e.Remote)
}

// ConnKey identifies one AX.25 conversation.
type ConnKey struct {
	Port   byte
	Local  string
	Remote string
}

// ConnRouter demultiplexes inbound frames already scoped to a single TNC
// port by the (port, callFrom, callTo) triple, per spec.md §4.6.
type ConnRouter struct {
	port   byte
	sender *transport.Sender
	log    *log.Entry

	mu    sync.Mutex
	conns map[ConnKey]*throttle.ConnThrottle

	// OnInboundConnect is invoked when a 'C' frame names a key with no
	// existing entry. ct is the ConnThrottle already registered under key;
	// the callback returns the forward and onDestroy callbacks to bind into
	// it (typically after constructing the application-visible Connection
	// and calling its BindThrottle with ct).
	OnInboundConnect func(key ConnKey, banner []byte, ct *throttle.ConnThrottle) (forward func(agwpe.Frame), onDestroy func())
}

// NewConnRouter builds an empty ConnRouter for port.
func NewConnRouter(port byte, sender *transport.Sender, logger *log.Entry) *ConnRouter {
	return &ConnRouter{
		port:   port,
		sender: sender,
		log:    logger,
		conns:  make(map[ConnKey]*throttle.ConnThrottle),
	}
}

func (cr *ConnRouter) key(f agwpe.Frame) ConnKey {
	// Frames from the TNC carry the far station in callFrom and the local
	// station in callTo. 'Y' replies echo the query's addressing instead
	// (callFrom local, callTo remote), so they are swapped relative to every
	// other frame for the same conversation.
	if f.Kind == agwpe.KindInFlightY {
		return ConnKey{Port: cr.port, Local: f.CallFrom, Remote: f.CallTo}
	}
	return ConnKey{Port: cr.port, Local: f.CallTo, Remote: f.CallFrom}
}

// Handle dispatches one inbound frame already scoped to this port.
func (cr *ConnRouter) Handle(f agwpe.Frame) {
	key := cr.key(f)

	cr.mu.Lock()
	ct, exists := cr.conns[key]
	if !exists {
		if f.Kind != agwpe.KindConnect {
			cr.mu.Unlock()
			cr.log.WithFields(log.Fields{"key": key, "kind": string(f.Kind)}).
				Debug("dropping frame for unknown connection")
			return
		}

		ct = cr.newEntryLocked(key, f.Payload)
	} else if f.Kind == agwpe.KindConnect {
		cr.log.WithFields(log.Fields{"key": key}).Info("received 'C' for an existing connection")
	}
	cr.mu.Unlock()

	ct.Handle(f)
}

// newEntryLocked requires cr.mu to be held. The ConnThrottle is registered
// before OnInboundConnect runs, so the callback can bind an
// application-visible Connection to a live throttle before returning the
// forward/onDestroy closures that get spliced into it.
func (cr *ConnRouter) newEntryLocked(key ConnKey, banner []byte) *throttle.ConnThrottle {
	ct := throttle.NewConnThrottle(key.Port, key.Local, key.Remote, "", cr.sender, nil, nil)
	cr.conns[key] = ct

	var forward func(agwpe.Frame)
	var onDestroy func()
	if cr.OnInboundConnect != nil {
		forward, onDestroy = cr.OnInboundConnect(key, banner, ct)
	}

	wrappedDestroy := func() {
		cr.mu.Lock()
		delete(cr.conns, key)
		cr.mu.Unlock()
		if onDestroy != nil {
			onDestroy()
		}
	}

	ct.SetForward(forward)
	ct.SetOnDestroy(wrappedDestroy)
	return ct
}

// CreateOutbound registers a new ConnThrottle for an application-initiated
// connection. id, if non-empty, is sent as a tail UNPROTO frame on End().
func (cr *ConnRouter) CreateOutbound(key ConnKey, id string, forward func(agwpe.Frame), onDestroy func()) (*throttle.ConnThrottle, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if _, exists := cr.conns[key]; exists {
		return nil, &ErrAddrInUse{Port: key.Port, Local: key.Local, Remote: key.Remote}
	}

	wrappedDestroy := func() {
		cr.mu.Lock()
		delete(cr.conns, key)
		cr.mu.Unlock()
		if onDestroy != nil {
			onDestroy()
		}
	}

	ct := throttle.NewConnThrottle(key.Port, key.Local, key.Remote, id, cr.sender, forward, wrappedDestroy)
	cr.conns[key] = ct
	return ct, nil
}

// DestroyAll tears down every connection on this port, notifying each
// bound Connection that the TNC socket is gone. Part of the Port router's
// socket-loss cascade; see PortRouter.DestroyAll.
func (cr *ConnRouter) DestroyAll() {
	cr.mu.Lock()
	conns := make([]*throttle.ConnThrottle, 0, len(cr.conns))
	for _, ct := range cr.conns {
		conns = append(conns, ct)
	}
	cr.mu.Unlock()

	for _, ct := range conns {
		ct.Destroy()
	}
}

// Len reports the number of live connections, for diagnostics.
func (cr *ConnRouter) Len() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.conns)
}
