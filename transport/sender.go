package transport

import (
	"io"

	"github.com/n0call/agwgo/agwpe"
)

// senderQueueDepth bounds how many frames may be queued for writing before
// Send starts reporting backpressure to its caller.
const senderQueueDepth = 64

// Sender encodes frame objects and writes them to the TNC socket in a
// single background goroutine, so concurrent callers never interleave
// partial frames on the wire.
type Sender struct {
	queue   chan agwpe.Frame
	notFull chan struct{}
	errc    chan error
}

// NewSender starts writing to w in a background goroutine. Frames handed to
// Send are written in the order accepted.
func NewSender(w io.Writer) *Sender {
	s := &Sender{
		queue:   make(chan agwpe.Frame, senderQueueDepth),
		notFull: make(chan struct{}, 1),
		errc:    make(chan error, 1),
	}
	go s.run(w)
	return s
}

// Send enqueues f for writing and reports whether it was accepted without
// backpressure. A false return means the queue was full; the caller should
// wait on NotFull() before retrying.
func (s *Sender) Send(f agwpe.Frame) bool {
	select {
	case s.queue <- f:
		return true
	default:
		return false
	}
}

// NotFull is signaled once after the queue drains by at least one slot.
// Throttles that saw Send return false wait on this before retrying.
func (s *Sender) NotFull() <-chan struct{} {
	return s.notFull
}

// Err delivers a fatal write error, if any, exactly once.
func (s *Sender) Err() <-chan error {
	return s.errc
}

// Close stops the writer goroutine once the queue drains. It does not close
// the underlying writer — the socket is shared with the Receiver.
func (s *Sender) Close() {
	close(s.queue)
}

func (s *Sender) run(w io.Writer) {
	for f := range s.queue {
		raw, err := f.Encode()
		if err != nil {
			s.fail(err)
			continue
		}
		if _, err := w.Write(raw); err != nil {
			s.fail(err)
			return
		}

		select {
		case s.notFull <- struct{}{}:
		default:
		}
	}
}

func (s *Sender) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}
