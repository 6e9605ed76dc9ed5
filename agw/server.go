// Package agw is the top-level client library surface: Server owns the TCP
// socket to an AGWPE-compatible TNC and wires together transport, router,
// throttle, and ax25conn into listen/createConnection/createSocket, per
// spec.md §4.11.
package agw

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/assemble"
	"github.com/n0call/agwgo/ax25"
	"github.com/n0call/agwgo/ax25conn"
	"github.com/n0call/agwgo/router"
	"github.com/n0call/agwgo/throttle"
	"github.com/n0call/agwgo/transport"

	log "github.com/sirupsen/logrus"
)

// portListTimeout bounds how long Listen waits for the TNC to answer a 'G'
// port-list query before failing with ETIMEDOUT.
const portListTimeout = 10 * time.Second

// Option configures a Server at construction, per spec.md §4.11's
// "Construction takes: host+port of the TNC, optional frameLength,
// optional ID, optional logger."
type Option func(*Server)

// WithFrameLength overrides the default 'D'-frame payload ceiling.
func WithFrameLength(n int) Option {
	return func(s *Server) { s.frameLength = n }
}

// WithID sets the station-identification string sent as a tail UNPROTO
// frame when a connection this Server created closes.
func WithID(id string) Option {
	return func(s *Server) { s.id = id }
}

// WithLogger overrides the default logrus-backed Logger.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithPortCountDoubling reproduces a known TNC's port-count-doubling bug;
// see spec.md §9.
func WithPortCountDoubling() Option {
	return func(s *Server) { s.portCountDoubling = true }
}

// ListenOptions names the local call signs to register and, optionally, a
// subset of TNC port indices to listen on; an empty Ports means every
// advertised port.
type ListenOptions struct {
	Calls []string
	Ports []byte
}

// ConnectOptions names an outbound connection's (localPort, localAddress,
// remoteAddress, via-path).
type ConnectOptions struct {
	LocalPort     byte
	LocalAddress  string
	RemoteAddress string
	Via           ax25.Path
}

// Server is the top-level handle to one AGWPE TNC: a single TCP socket,
// one Receiver/Sender pair, and the Port/Connection router fabric stacked
// on top, per spec.md §3's Server record.
type Server struct {
	host              string
	port              int
	frameLength       int
	id                string
	log               Logger
	portCountDoubling bool

	conn     net.Conn
	sender   *transport.Sender
	receiver *transport.Receiver
	ports    *router.PortRouter

	errc    chan error
	closeCh chan struct{}

	mu        sync.Mutex
	listening bool
	calls     map[string]bool

	heard *HeardLog

	// OnInboundConnect fires once per inbound 'C' indication, after the
	// Connection has been constructed and bound to its ConnThrottle but
	// before any frame has been delivered to it.
	OnInboundConnect func(c *ax25conn.Conn)
}

// NewServer builds a Server targeting host:port. It does not dial until
// Listen or CreateConnection is called.
func NewServer(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:        host,
		port:        port,
		frameLength: assemble.DefaultFrameLength,
		log:         defaultLogger(),
		errc:        make(chan error, 16),
		closeCh:     make(chan struct{}),
		calls:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Errors returns the channel on which Server-scoped errors are surfaced:
// registration failures the Server itself initiated, TNC-topology errors,
// and transport errors fanned out from the shared socket, per spec.md §7.
func (s *Server) Errors() <-chan error { return s.errc }

func (s *Server) fail(err error) {
	s.log.Errorf("%v", err)
	select {
	case s.errc <- err:
	default:
	}
}

func (s *Server) logEntry() *log.Entry {
	return log.WithField("component", "agw.Server")
}

// dial opens the TCP connection and wires the transport/router fabric on
// top of it. Safe to call only once.
func (s *Server) dial() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("agw: connecting to TNC at %s: %w", addr, mapDialError(err))
	}

	s.conn = conn
	s.sender = transport.NewSender(conn)
	s.receiver = transport.NewReceiver(conn)
	s.ports = router.NewPortRouter(s.sender, s.logEntry())
	s.ports.PortCountDoubling = s.portCountDoubling
	s.ports.OnRegistration = s.handleRegistration
	s.ports.OnInboundConnect = s.handleInboundConnect

	go s.pump()
	return nil
}

func (s *Server) pump() {
	for {
		select {
		case f, ok := <-s.receiver.Frames():
			if !ok {
				s.teardown()
				return
			}
			s.ports.Handle(f)

		case err := <-s.receiver.Err():
			if err != nil {
				s.fail(fmt.Errorf("agw: receiver: %w", err))
			}

		case err := <-s.sender.Err():
			if err != nil {
				s.fail(fmt.Errorf("agw: sender: %w", err))
			}

		case <-s.closeCh:
			return
		}
	}
}

// teardown runs once the Receiver reports the TNC socket is gone: it
// surfaces the loss on Errors() and cascades destruction through the
// Port/Connection router fabric so every live Connection observes a close
// instead of blocking forever on a dead socket, per spec.md §5.
func (s *Server) teardown() {
	s.fail(fmt.Errorf("agw: TNC connection closed"))
	s.ports.DestroyAll()
}

// Listen validates calls, opens the TCP connection if not already open,
// discovers the TNC's port list, registers calls on every requested port
// (or every advertised port if opts.Ports is empty), and returns the
// resulting port set, per spec.md §4.11.
func (s *Server) Listen(opts ListenOptions) ([]byte, error) {
	if err := ValidateCallSigns(opts.Calls); err != nil {
		return nil, err
	}

	s.mu.Lock()
	alreadyOpen := s.conn != nil
	s.mu.Unlock()

	if !alreadyOpen {
		if err := s.dial(); err != nil {
			return nil, err
		}
	}

	known, err := s.awaitPorts()
	if err != nil {
		return nil, err
	}

	ports := opts.Ports
	if len(ports) == 0 {
		ports = known
	}

	for _, call := range opts.Calls {
		for _, p := range ports {
			s.sender.Send(agwpe.Frame{Port: p, Kind: agwpe.KindRegisterCall, CallFrom: call})
		}
	}

	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()

	return ports, nil
}

func (s *Server) awaitPorts() ([]byte, error) {
	s.sender.Send(agwpe.Frame{Kind: agwpe.KindPortInfo})

	select {
	case ports := <-s.ports.WaitForPorts():
		if len(ports) == 0 {
			return nil, errNoPorts()
		}
		return ports, nil
	case <-time.After(portListTimeout):
		return nil, errPortListTimeout()
	}
}

func (s *Server) handleRegistration(port byte, call string, ok bool) {
	s.mu.Lock()
	s.calls[call] = ok
	s.mu.Unlock()

	if !ok {
		s.fail(errRegistrationRejected(call, port))
	}
}

func (s *Server) handleInboundConnect(key router.ConnKey, banner []byte, ct *throttle.ConnThrottle) (func(agwpe.Frame), func()) {
	c := ax25conn.New(key.Port, key.Local, key.Remote, s.frameLength)
	c.BindThrottle(ct)

	onDestroy := func() {
		s.log.Debugf("connection %s<-%s on port %d destroyed", key.Local, key.Remote, key.Port)
	}

	if s.OnInboundConnect != nil {
		s.OnInboundConnect(c)
	}

	if s.heard != nil {
		s.heard.Observe(key.Port, key.Remote)
	}

	return c.Forward, onDestroy
}

// CreateConnection builds a Connection for an application-initiated
// outbound session: it registers the call sign if not already registered,
// then sends either a 'C' (direct) or 'v' (via digipeaters) connect frame,
// per spec.md §4.11.
func (s *Server) CreateConnection(opts ConnectOptions) (*ax25conn.Conn, error) {
	if err := ValidateCallSign(opts.LocalAddress); err != nil {
		return nil, err
	}
	if err := ValidateCallSign(opts.RemoteAddress); err != nil {
		return nil, err
	}
	if err := ValidatePath(opts.Via); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		if err := s.dial(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	registered := s.calls[opts.LocalAddress]
	s.mu.Unlock()
	if !registered {
		s.sender.Send(agwpe.Frame{Port: opts.LocalPort, Kind: agwpe.KindRegisterCall, CallFrom: opts.LocalAddress})
	}

	cr := s.ports.ConnRouterFor(opts.LocalPort)
	key := router.ConnKey{Port: opts.LocalPort, Local: opts.LocalAddress, Remote: opts.RemoteAddress}

	c := ax25conn.New(opts.LocalPort, opts.LocalAddress, opts.RemoteAddress, s.frameLength)

	onDestroy := func() {
		s.log.Debugf("connection %s->%s on port %d destroyed", opts.LocalAddress, opts.RemoteAddress, opts.LocalPort)
	}

	ct, err := cr.CreateOutbound(key, s.id, c.Forward, onDestroy)
	if err != nil {
		return nil, err
	}
	c.BindThrottle(ct)

	if len(opts.Via) == 0 {
		s.sender.Send(agwpe.Frame{
			Port: opts.LocalPort, Kind: agwpe.KindConnect,
			CallFrom: opts.LocalAddress, CallTo: opts.RemoteAddress,
		})
	} else {
		s.sender.Send(agwpe.Frame{
			Port: opts.LocalPort, Kind: agwpe.KindConnectVia,
			CallFrom: opts.LocalAddress, CallTo: opts.RemoteAddress,
			Payload: encodeViaPath(opts.Via),
		})
	}

	return c, nil
}

// encodeViaPath builds the 'v' payload: a one-byte digipeater count
// followed by 10 bytes per digipeater (9 bytes of upper-case ASCII call
// sign, NUL-padded, and a trailing NUL), per spec.md §4.11.
func encodeViaPath(path ax25.Path) []byte {
	buf := make([]byte, 1+10*len(path))
	buf[0] = byte(len(path))
	for i, hop := range path {
		off := 1 + 10*i
		copy(buf[off:off+9], []byte(hop.Call.String()))
	}
	return buf
}

// RawSocket is the return value of CreateSocket: a fan-out of decoded
// AX.25 packets carried on the port's 'K' stream, plus the ability to
// inject raw frames. Per spec.md scenario F, the raw socket emits decoded
// packets, not the raw AGWPE frame wrapper.
type RawSocket struct {
	Port        byte
	Packets     <-chan ax25.Packet
	unsubscribe func()
	inject      func(agwpe.Frame)
}

// Close stops the subscription; it does not close the Server's socket.
func (rs *RawSocket) Close() { rs.unsubscribe() }

// Inject sends a frame directly on the shared socket, bypassing any
// connection-scoped throttle. Used for raw AX.25 packet injection.
func (rs *RawSocket) Inject(f agwpe.Frame) { rs.inject(f) }

// CreateSocket returns a raw AX.25 socket attached to the Port router's
// 'K' stream for port, per spec.md §4.11. Every inbound 'K' frame is
// decoded into an ax25.Packet before reaching Packets; a frame that fails
// to decode is surfaced as a Protocol error on Errors() and dropped,
// rather than handed to the caller half-parsed.
func (s *Server) CreateSocket(port byte) (*RawSocket, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		if err := s.dial(); err != nil {
			return nil, err
		}
	}

	ch := make(chan ax25.Packet, 32)
	unsubscribe := s.ports.SubscribeRaw(port, func(f agwpe.Frame) {
		if f.Kind != agwpe.KindFrameKISS || len(f.Payload) < 1 {
			return
		}

		pkt, err := ax25.Decode(f.Payload[1:])
		if err != nil {
			s.fail(&ProtocolError{Stream: "raw socket", Err: fmt.Errorf("port %d: decoding raw AX.25 frame: %w", port, err)})
			return
		}

		select {
		case ch <- pkt:
		default:
			s.fail(&ProtocolError{Stream: "raw socket", Err: fmt.Errorf("port %d: raw frame dropped, consumer too slow", port)})
		}
	})

	return &RawSocket{
		Port:        port,
		Packets:     ch,
		unsubscribe: unsubscribe,
		inject:      func(f agwpe.Frame) { s.sender.Send(f) },
	}, nil
}

// WithHeardLog attaches a heard-station log to the Server; see heard.go.
func (s *Server) WithHeardLog(h *HeardLog) *Server {
	s.heard = h
	return s
}

// Close tears down the TCP connection and every Connection behind it, per
// spec.md §4.11 and §5's cancellation rules.
func (s *Server) Close() error {
	close(s.closeCh)

	s.mu.Lock()
	conn := s.conn
	ports := s.ports
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	if ports != nil {
		ports.DestroyAll()
	}
	if s.sender != nil {
		s.sender.Close()
	}
	return conn.Close()
}
