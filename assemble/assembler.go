// Package assemble turns an application's outbound byte stream into
// size-bounded AGWPE 'D' frame payloads, coalescing small writes and
// splitting large ones, per spec.md §4.9.
package assemble

import (
	"sync"
	"time"
)

// DefaultFrameLength is the payload ceiling used when the caller does not
// configure one; some TNCs tear down the connection on oversized frames.
const DefaultFrameLength = 128

// MaxWriteDelay bounds how long a partially-filled buffer waits for more
// bytes before being flushed on its own.
const MaxWriteDelay = 250 * time.Millisecond

// Assembler coalesces writes smaller than FrameLength behind a timer and
// splits writes at or above FrameLength immediately, emitting each
// resulting payload via the Emit callback supplied at construction. A
// single cooperating TNC splits one 'D' frame across multiple radio
// packets but never concatenates frames, so aligning outbound AGWPE frames
// to FrameLength maximizes on-air packing.
type Assembler struct {
	frameLength int
	emit        func([]byte)

	mu    sync.Mutex
	buf   []byte
	timer *time.Timer
}

// New builds an Assembler. If frameLength is <= 0, DefaultFrameLength is
// used. emit is called with a freshly-allocated payload slice each time a
// frame is ready; emit may keep it without copying, since Assembler never
// reuses a slice it has handed over.
func New(frameLength int, emit func([]byte)) *Assembler {
	if frameLength <= 0 {
		frameLength = DefaultFrameLength
	}
	return &Assembler{frameLength: frameLength, emit: emit}
}

// Write appends chunk to the coalescing buffer, immediately emitting one or
// more frames if the buffer would overflow FrameLength.
func (a *Assembler) Write(chunk []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf)+len(chunk) < a.frameLength {
		a.buf = append(a.buf, chunk...)
		a.armTimer()
		return
	}

	room := a.frameLength - len(a.buf)
	a.buf = append(a.buf, chunk[:room]...)
	chunk = chunk[room:]
	a.flushLocked()

	for len(chunk) >= a.frameLength {
		a.emit(append([]byte(nil), chunk[:a.frameLength]...))
		chunk = chunk[a.frameLength:]
	}

	if len(chunk) > 0 {
		a.buf = append(a.buf, chunk...)
		a.armTimer()
	}
}

// Flush emits any buffered bytes immediately, canceling the coalescing
// timer. A no-op if nothing is buffered.
func (a *Assembler) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
}

func (a *Assembler) flushLocked() {
	a.cancelTimerLocked()
	if len(a.buf) == 0 {
		return
	}
	a.emit(a.buf)
	a.buf = nil
}

func (a *Assembler) armTimer() {
	if a.timer != nil {
		return
	}
	a.timer = time.AfterFunc(MaxWriteDelay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.timer = nil
		if len(a.buf) == 0 {
			return
		}
		a.emit(a.buf)
		a.buf = nil
	})
}

func (a *Assembler) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
