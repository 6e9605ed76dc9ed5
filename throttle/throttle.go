// Package throttle paces outbound data-bearing AGWPE frames so the TNC's
// internal transmit queue never exceeds a negotiated watermark. Port
// throttle and Connection throttle wrap a shared state machine with their
// own addressing and 'y'/'Y' in-flight queries.
package throttle

import (
	"time"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/transport"
)

// pollInterval is how often a blocked Throttle re-queries the TNC's
// in-flight count while waiting for headroom.
const pollInterval = 2 * time.Second

// defaultMaxInFlight is the initial ceiling on unacknowledged data-bearing
// frames, matched against the AGWPE convention observed across TNCs.
const defaultMaxInFlight = 8

// directwolfInitialInFlight works around a known TNC bug that reports
// inFlight=1 on a brand-new connection before any frame has been sent; the
// watermark logic is seeded to match so the drain-before-disconnect policy
// does not stall on that phantom count.
const directwolfInitialInFlight = 1

type item struct {
	frame    agwpe.Frame
	deferred func()
}

// Throttle is the shared flow-control state machine described in spec §4.7.
// It owns a buffer of pending frames and deferred functions, a count of
// frames the TNC has accepted but not yet transmitted (inFlight), and a
// ceiling (maxInFlight); once inFlight reaches it, every queued frame is
// held back until a fresh 'y'/'Y' reply arrives.
type Throttle struct {
	sender *transport.Sender

	buildQuery func() agwpe.Frame

	buffer      []item
	inFlight    uint32
	minInFlight uint32
	maxInFlight uint32

	writeCh chan item
	replyCh chan uint32
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New starts a Throttle's actor goroutine. buildQuery constructs the
// 'y' or 'Y' in-flight query frame appropriate to the concrete throttle
// (port-scoped or connection-scoped).
func New(sender *transport.Sender, buildQuery func() agwpe.Frame) *Throttle {
	t := &Throttle{
		sender:      sender,
		buildQuery:  buildQuery,
		inFlight:    directwolfInitialInFlight,
		minInFlight: directwolfInitialInFlight,
		maxInFlight: defaultMaxInFlight,
		writeCh:     make(chan item, 256),
		replyCh:     make(chan uint32, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go t.run()
	return t
}

// Write enqueues a frame for eventual transmission, subject to throttling.
func (t *Throttle) Write(f agwpe.Frame) {
	t.writeCh <- item{frame: f}
}

// WriteDeferred enqueues fn to run once it reaches the head of the buffer,
// ahead of any frames queued after it. Used to splice watermark adjustments
// and self-destroy actions into the outbound sequence without racing ahead
// of already-queued data.
func (t *Throttle) WriteDeferred(fn func()) {
	t.writeCh <- item{deferred: fn}
}

// HandleInFlightReply feeds a decoded 'y'/'Y' reply's payload value back
// into the state machine.
func (t *Throttle) HandleInFlightReply(v uint32) {
	select {
	case t.replyCh <- v:
	case <-t.doneCh:
	}
}

// SetMaxInFlight adjusts the ceiling. The change is queued like a frame, so
// it takes effect only after every item written before it.
func (t *Throttle) SetMaxInFlight(max uint32) {
	t.WriteDeferred(func() { t.maxInFlight = max })
}

// MinInFlight returns the smallest inFlight value reported by any 'y'/'Y'
// reply since construction (starting from the initial inFlight), used as
// the drain-before-disconnect watermark.
func (t *Throttle) MinInFlight() uint32 {
	return t.minInFlight
}

// Stop terminates the actor goroutine without draining the buffer.
func (t *Throttle) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *Throttle) run() {
	defer close(t.doneCh)

	var pollTimer *time.Timer
	defer func() {
		if pollTimer != nil {
			pollTimer.Stop()
		}
	}()

	for {
		var pollC <-chan time.Time
		if pollTimer != nil {
			pollC = pollTimer.C
		}

		select {
		case <-t.stopCh:
			return

		case it := <-t.writeCh:
			t.buffer = append(t.buffer, it)
			t.tryDrain(&pollTimer)

		case <-t.sender.NotFull():
			t.tryDrain(&pollTimer)

		case v := <-t.replyCh:
			t.inFlight = v
			if v < t.minInFlight {
				t.minInFlight = v
			}
			t.tryDrain(&pollTimer)

		case <-pollC:
			t.sender.Send(t.buildQuery())
			pollTimer.Reset(pollInterval)
		}
	}
}

// tryDrain implements the try-drain loop of spec §4.7: pop deferred
// functions immediately; stop and wait for Sender drain if the Sender is
// full; stop and start polling if inFlight has reached the ceiling — this
// gate applies to every head item, not just data-bearing ones, so a 'd'
// frame queued behind unacknowledged 'D' frames waits for the watermark
// the same way they do; otherwise send the head item, account for it if
// data-bearing, and issue a look-ahead query at the halfway watermark.
func (t *Throttle) tryDrain(pollTimer **time.Timer) {
	for len(t.buffer) > 0 {
		head := t.buffer[0]

		if head.deferred != nil {
			head.deferred()
			t.buffer = t.buffer[1:]
			continue
		}

		dataBearing := head.frame.Kind.IsDataBearing()
		if t.inFlight >= t.maxInFlight {
			t.startPolling(pollTimer)
			return
		}

		if !t.sender.Send(head.frame) {
			return
		}
		t.buffer = t.buffer[1:]

		if dataBearing {
			t.inFlight++
			if t.inFlight == t.maxInFlight/2 {
				t.sender.Send(t.buildQuery())
			}
		}

		t.stopPolling(pollTimer)
	}
}

// removeKind drops every already-buffered frame of kind k. Safe to call
// only from within the actor goroutine, i.e. from a function passed to
// WriteDeferred.
func (t *Throttle) removeKind(k agwpe.DataKind) {
	kept := t.buffer[:0]
	for _, it := range t.buffer {
		if it.deferred == nil && it.frame.Kind == k {
			continue
		}
		kept = append(kept, it)
	}
	t.buffer = kept
}

func (t *Throttle) startPolling(pollTimer **time.Timer) {
	if *pollTimer == nil {
		*pollTimer = time.NewTimer(pollInterval)
	}
}

func (t *Throttle) stopPolling(pollTimer **time.Timer) {
	if *pollTimer != nil {
		(*pollTimer).Stop()
		*pollTimer = nil
	}
}
