package transport

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/n0call/agwgo/agwpe"
)

func TestReceiverEmitsWholeFrames(t *testing.T) {
	f1 := agwpe.Frame{Port: 0, Kind: agwpe.KindData, Payload: []byte("one")}
	f2 := agwpe.Frame{Port: 1, Kind: agwpe.KindData, Payload: []byte("two")}

	raw1, err := f1.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw2, err := f2.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r := NewReceiver(bytes.NewReader(append(raw1, raw2...)))

	got := []agwpe.Frame{}
	for f := range r.Frames() {
		got = append(got, f)
	}

	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !bytes.Equal(got[0].Payload, f1.Payload) || !bytes.Equal(got[1].Payload, f2.Payload) {
		t.Errorf("payload mismatch: %+v", got)
	}
}

func TestReceiverSplitAcrossReads(t *testing.T) {
	f := agwpe.Frame{Port: 0, Kind: agwpe.KindData, Payload: []byte("chunked")}
	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	pr, pw := io.Pipe()
	r := NewReceiver(pr)

	go func() {
		for i := 0; i < len(raw); i++ {
			pw.Write(raw[i : i+1])
		}
		pw.Close()
	}()

	select {
	case got := <-r.Frames():
		if !bytes.Equal(got.Payload, f.Payload) {
			t.Errorf("Payload = %q, want %q", got.Payload, f.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestReceiverReportsMalformedHeader(t *testing.T) {
	bad := make([]byte, agwpe.HeaderLen)
	// set an absurd payload length.
	bad[28], bad[29], bad[30], bad[31] = 0xFF, 0xFF, 0xFF, 0x7F

	r := NewReceiver(bytes.NewReader(bad))

	for range r.Frames() {
	}

	select {
	case err := <-r.Err():
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
	}
}
