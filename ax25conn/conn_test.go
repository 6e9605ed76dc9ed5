package ax25conn

import (
	"io"
	"testing"
	"time"

	"github.com/n0call/agwgo/agwpe"
	"github.com/n0call/agwgo/throttle"
	"github.com/n0call/agwgo/transport"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestConn(t *testing.T) (*Conn, *transport.Sender) {
	t.Helper()
	sender := transport.NewSender(discardWriter{})
	c := New(0, "N0CALL", "W1AW", 128)
	ct := throttle.NewConnThrottle(0, "N0CALL", "W1AW", "", sender, c.Forward, nil)
	c.BindThrottle(ct)
	return c, sender
}

func TestConnReadDeliversInboundData(t *testing.T) {
	c, _ := newTestConn(t)

	c.Forward(agwpe.Frame{Kind: agwpe.KindData, Payload: []byte("hello")})

	buf := make([]byte, 16)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestConnReadReturnsEOFAfterDisconnect(t *testing.T) {
	c, _ := newTestConn(t)

	c.Forward(agwpe.Frame{Kind: agwpe.KindData, Payload: []byte("hi")})
	c.Forward(agwpe.Frame{Kind: agwpe.KindDisconnect})

	buf := make([]byte, 16)
	n, err := c.Read(buf)
	if err != nil || string(buf[:n]) != "hi" {
		t.Fatalf("first Read = %q, %v", buf[:n], err)
	}

	_, err = c.Read(buf)
	if err != io.EOF {
		t.Fatalf("second Read err = %v, want io.EOF", err)
	}
}

func TestConnReadReportsOverflow(t *testing.T) {
	c, _ := newTestConn(t)

	for i := 0; i < readBufferDepth+1; i++ {
		c.Forward(agwpe.Frame{Kind: agwpe.KindData, Payload: []byte{byte(i)}})
	}

	buf := make([]byte, 4)
	drained := 0
	var gotErr error
	for {
		n, err := c.Read(buf)
		drained += n
		if err != nil {
			gotErr = err
			break
		}
	}
	if gotErr == nil {
		t.Fatal("expected a receive buffer overflow error")
	}
}

func TestConnWriteAfterCloseErrors(t *testing.T) {
	c, _ := newTestConn(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := c.Write([]byte("x")); err == nil {
		t.Error("expected write-after-close to error")
	}
}

func TestConnWriteAfterDisconnectErrors(t *testing.T) {
	c, _ := newTestConn(t)

	c.Forward(agwpe.Frame{Kind: agwpe.KindDisconnect})
	time.Sleep(10 * time.Millisecond)

	if _, err := c.Write([]byte("x")); err == nil {
		t.Error("expected write-after-disconnect to error")
	}
}

func TestConnLocalAddressRemoteAddressTNCPort(t *testing.T) {
	c, _ := newTestConn(t)

	if c.LocalAddress() != "N0CALL" || c.RemoteAddress() != "W1AW" || c.TNCPort() != 0 {
		t.Errorf("got local=%s remote=%s port=%d", c.LocalAddress(), c.RemoteAddress(), c.TNCPort())
	}
}
