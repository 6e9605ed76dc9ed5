package transport

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/n0call/agwgo/agwpe"
)

func TestSenderWritesEncodedFrames(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex

	s := NewSender(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	}))

	f := agwpe.Frame{Port: 0, Kind: agwpe.KindData, Payload: []byte("payload")}
	if !s.Send(f) {
		t.Fatal("Send reported backpressure on an empty queue")
	}
	s.Close()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), raw) {
		t.Errorf("written bytes mismatch")
	}
}

func TestSenderReportsBackpressure(t *testing.T) {
	block := make(chan struct{})
	s := NewSender(writerFunc(func(p []byte) (int, error) {
		<-block
		return len(p), nil
	}))
	defer close(block)

	accepted := 0
	for i := 0; i < senderQueueDepth+2; i++ {
		if s.Send(agwpe.Frame{Port: 0, Kind: agwpe.KindData}) {
			accepted++
		}
	}

	// One frame may already have been dequeued into the blocked Write call,
	// freeing a queue slot; allow for that race without allowing unbounded growth.
	if accepted > senderQueueDepth+1 {
		t.Errorf("accepted %d frames, queue depth is %d", accepted, senderQueueDepth)
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
