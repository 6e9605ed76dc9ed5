package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/transport"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames []agwpe.Frame
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	f, err := agwpe.Decode(p)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	w.frames = append(w.frames, f)
	w.mu.Unlock()
	return len(p), nil
}

func (w *recordingWriter) snapshot() []agwpe.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]agwpe.Frame(nil), w.frames...)
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestThrottleRespectsMaxInFlight(t *testing.T) {
	w := &recordingWriter{}
	sender := transport.NewSender(w)
	defer sender.Close()

	th := New(sender, func() agwpe.Frame { return agwpe.Frame{Kind: agwpe.KindInFlight} })
	defer th.Stop()

	for i := 0; i < 20; i++ {
		th.Write(agwpe.Frame{Kind: agwpe.KindData, Payload: []byte{byte(i)}})
	}

	// inFlight starts at 1 (Direwolf quirk) and maxInFlight is 8, so at most
	// 7 more data frames should go out before the throttle blocks on a poll.
	waitFor(t, func() bool {
		n := 0
		for _, f := range w.snapshot() {
			if f.Kind == agwpe.KindData {
				n++
			}
		}
		return n >= 7
	})

	time.Sleep(50 * time.Millisecond)

	n := 0
	for _, f := range w.snapshot() {
		if f.Kind == agwpe.KindData {
			n++
		}
	}
	if n > 7 {
		t.Errorf("sent %d data frames before any in-flight reply, want <= 7", n)
	}

	th.HandleInFlightReply(0)

	// A single reply resetting inFlight to 0 only clears room for up to
	// maxInFlight (8) more data frames: 7 already sent + 8 more = 15 of the
	// 20 queued, with the remaining 5 still waiting on the next reply.
	waitFor(t, func() bool {
		n := 0
		for _, f := range w.snapshot() {
			if f.Kind == agwpe.KindData {
				n++
			}
		}
		return n == 15
	})
}

func TestConnThrottleFinalFramesOrdering(t *testing.T) {
	w := &recordingWriter{}
	sender := transport.NewSender(w)
	defer sender.Close()

	destroyed := make(chan struct{})
	ct := NewConnThrottle(0, "N0CALL", "W1AW", "K1AA", sender, nil, func() { close(destroyed) })
	defer ct.Stop()

	ct.Write(agwpe.Frame{Kind: agwpe.KindData, Payload: []byte("hi")})
	ct.End()

	waitFor(t, func() bool { return len(w.snapshot()) >= 3 })

	frames := w.snapshot()
	var dIdx, disconnectIdx, idIdx = -1, -1, -1
	for i, f := range frames {
		switch {
		case f.Kind == agwpe.KindData && dIdx == -1:
			dIdx = i
		case f.Kind == agwpe.KindDisconnect && disconnectIdx == -1:
			disconnectIdx = i
		case f.Kind == agwpe.KindUnprotoUI && idIdx == -1:
			idIdx = i
		}
	}

	if dIdx == -1 || disconnectIdx == -1 || idIdx == -1 {
		t.Fatalf("missing expected frames: %+v", frames)
	}
	if !(dIdx < disconnectIdx && disconnectIdx < idIdx) {
		t.Errorf("wrong ordering: D=%d d=%d M=%d", dIdx, disconnectIdx, idIdx)
	}
}

// TestConnThrottleFinalFramesWaitForUnackedData covers spec.md §4.7/§4.8's
// requirement (scenario D, testable property #5) that the 'd' frame must
// not appear while a prior 'D' frame is still unacknowledged: it drives
// inFlight to the default ceiling with sent-but-unacked data, calls End(),
// and asserts the 'd' frame is held back until a 'Y' reply frees headroom
// under the tightened watermark.
func TestConnThrottleFinalFramesWaitForUnackedData(t *testing.T) {
	w := &recordingWriter{}
	sender := transport.NewSender(w)
	defer sender.Close()

	ct := NewConnThrottle(0, "N0CALL", "W1AW", "", sender, nil, nil)
	defer ct.Stop()

	// inFlight starts at 1 (Direwolf quirk); 7 more data frames saturate the
	// default ceiling of 8, leaving every one of them unacknowledged.
	for i := 0; i < 7; i++ {
		ct.Write(agwpe.Frame{Kind: agwpe.KindData, Payload: []byte{byte(i)}})
	}
	waitFor(t, func() bool {
		n := 0
		for _, f := range w.snapshot() {
			if f.Kind == agwpe.KindData {
				n++
			}
		}
		return n == 7
	})

	ct.End()

	time.Sleep(50 * time.Millisecond)
	for _, f := range w.snapshot() {
		if f.Kind == agwpe.KindDisconnect {
			t.Fatal("'d' frame appeared while unacknowledged 'D' frames were still in flight")
		}
	}

	// A 'Y' reply reporting inFlight=1 drops below the tightened ceiling
	// (minInFlight+1 == 2), so the 'd' frame can finally go out.
	ct.HandleInFlightReply(1)

	waitFor(t, func() bool {
		for _, f := range w.snapshot() {
			if f.Kind == agwpe.KindDisconnect {
				return true
			}
		}
		return false
	})
}

func TestConnThrottleHandleDisconnectPurgesQueuedData(t *testing.T) {
	w := &recordingWriter{}
	sender := transport.NewSender(w)
	defer sender.Close()

	var forwarded []agwpe.Frame
	var mu sync.Mutex
	destroyed := make(chan struct{})

	ct := NewConnThrottle(0, "N0CALL", "W1AW", "", sender, func(f agwpe.Frame) {
		mu.Lock()
		forwarded = append(forwarded, f)
		mu.Unlock()
	}, func() { close(destroyed) })
	defer ct.Stop()

	ct.Handle(agwpe.Frame{Kind: agwpe.KindDisconnect})

	select {
	case <-destroyed:
	case <-time.After(2 * time.Second):
		t.Fatal("onDestroy was not invoked after inbound disconnect")
	}

	if !ct.IsDisconnected() {
		t.Error("IsDisconnected() = false after inbound 'd' frame")
	}

	mu.Lock()
	n := len(forwarded)
	mu.Unlock()
	if n != 1 {
		t.Errorf("forwarded %d frames, want 1 (the disconnect itself)", n)
	}
}
