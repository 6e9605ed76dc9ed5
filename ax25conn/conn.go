// Package ax25conn exposes one AX.25 conversation as a bidirectional byte
// stream: writes flow through a Frame assembler and a Connection throttle,
// inbound 'D' frames are delivered to the readable side, per spec.md §4.10.
package ax25conn

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/assemble"
	"github.com/n0call/agwgo/throttle"
)

// readBufferDepth bounds how many inbound 'D' frames may be queued before
// Conn reports a receive-buffer overflow, per spec.md §4.10.
const readBufferDepth = 8

// Conn is a single AX.25 conversation's bidirectional byte stream. It
// satisfies io.ReadWriteCloser; LocalAddress, RemoteAddress, and TNCPort
// expose the identifying triple.
type Conn struct {
	tncPort byte
	local   string
	remote  string

	assembler *assemble.Assembler
	throttle  *throttle.ConnThrottle

	readCh chan []byte
	errCh  chan error
	mu     sync.Mutex
	buf    []byte

	closedLocal  int32
	disconnected int32
	closeOnce    sync.Once
}

// New builds a Conn for the given (port, local, remote) key. The returned
// Conn is not yet usable for writes until BindThrottle supplies the
// ConnThrottle it should push assembled 'D' frames through; the caller is
// expected to construct that ConnThrottle with Forward as its inbound
// callback before binding it.
func New(port byte, local, remote string, frameLength int) *Conn {
	c := &Conn{
		tncPort: port,
		local:   local,
		remote:  remote,
		readCh:  make(chan []byte, readBufferDepth),
		errCh:   make(chan error, 1),
	}
	c.assembler = assemble.New(frameLength, func(payload []byte) {
		c.throttle.Write(agwpe.Frame{
			Port:     port,
			Kind:     agwpe.KindData,
			CallFrom: local,
			CallTo:   remote,
			Payload:  payload,
		})
	})
	return c
}

// BindThrottle attaches the ConnThrottle this Conn writes through. Must be
// called exactly once, before any Write.
func (c *Conn) BindThrottle(ct *throttle.ConnThrottle) {
	c.throttle = ct
}

// LocalAddress, RemoteAddress, and TNCPort report the conversation's key.
func (c *Conn) LocalAddress() string  { return c.local }
func (c *Conn) RemoteAddress() string { return c.remote }
func (c *Conn) TNCPort() byte         { return c.tncPort }

// Forward is the ConnThrottle inbound callback for this Conn: it accepts
// 'D' frames onto the readable side and observes the 'd' disconnect event.
func (c *Conn) Forward(f agwpe.Frame) {
	switch f.Kind {
	case agwpe.KindData:
		c.forwardData(f)
	case agwpe.KindDisconnect:
		c.forwardDisconnect()
	default:
		// 'C' banner and any other indications carry nothing the
		// application-visible stream needs to act on.
	}
}

func (c *Conn) forwardData(f agwpe.Frame) {
	if atomic.LoadInt32(&c.disconnected) != 0 {
		return
	}
	if atomic.LoadInt32(&c.closedLocal) != 0 {
		c.fail(fmt.Errorf("ax25conn: received data after local close"))
		return
	}

	select {
	case c.readCh <- append([]byte(nil), f.Payload...):
	default:
		c.fail(fmt.Errorf("ax25conn: receive buffer overflow"))
	}
}

func (c *Conn) forwardDisconnect() {
	if atomic.CompareAndSwapInt32(&c.disconnected, 0, 1) {
		close(c.readCh)
	}
}

func (c *Conn) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// Read implements io.Reader. It returns io.EOF once the connection has
// been disconnected and all buffered data consumed.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		select {
		case b, ok := <-c.readCh:
			if !ok {
				return 0, io.EOF
			}
			c.buf = b
		case err := <-c.errCh:
			return 0, err
		}
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write implements io.Writer. Writing after Close or after the connection
// has disconnected is a protocol error.
func (c *Conn) Write(p []byte) (int, error) {
	if atomic.LoadInt32(&c.closedLocal) != 0 {
		return 0, fmt.Errorf("ax25conn: write after Close")
	}
	if atomic.LoadInt32(&c.disconnected) != 0 {
		return 0, fmt.Errorf("ax25conn: write after disconnect")
	}

	c.assembler.Write(p)
	return len(p), nil
}

// Close gracefully ends the conversation: flushes any coalesced bytes and
// runs the Connection throttle's final-frames protocol. It does not block
// for the TNC's disconnect acknowledgement.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closedLocal, 1)
		c.assembler.Flush()
		c.throttle.End()
	})
	return nil
}
