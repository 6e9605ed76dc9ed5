// Package transport turns a byte-oriented connection to an AGWPE TNC into a
// channel of whole frames (Receiver) and accepts frame objects for writing
// (Sender), isolating every other component from the raw socket.
package transport

import (
	"fmt"
	"io"

	"github.com/n0call/agwgo/agwpe"
)

// maxPayloadLen guards against a corrupted or hostile length field in the
// AGWPE header causing an unbounded allocation; no real TNC frame needs a
// payload anywhere near this large.
const maxPayloadLen = 16 << 20

// Receiver reassembles a byte stream from the TNC into whole agwpe.Frame
// values, preserving arrival order. It does not interpret dataKind.
type Receiver struct {
	frames chan agwpe.Frame
	errc   chan error
}

// NewReceiver starts reading r in a background goroutine, emitting decoded
// frames on Frames() until r returns an error (including io.EOF) or a
// malformed header is seen, at which point the stream is torn down and the
// failure, if any, is delivered on Err().
func NewReceiver(r io.Reader) *Receiver {
	rc := &Receiver{
		frames: make(chan agwpe.Frame, 32),
		errc:   make(chan error, 1),
	}
	go rc.run(r)
	return rc
}

// Frames returns the channel of successfully decoded frames. It is closed
// when the underlying reader is exhausted or fails.
func (rc *Receiver) Frames() <-chan agwpe.Frame {
	return rc.frames
}

// Err returns the channel on which a fatal read or decode error, if any, is
// delivered exactly once just before Frames() closes.
func (rc *Receiver) Err() <-chan error {
	return rc.errc
}

func (rc *Receiver) run(r io.Reader) {
	defer close(rc.frames)

	var pending []byte
	buf := make([]byte, 8192)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			for {
				if len(pending) < agwpe.HeaderLen {
					break
				}
				payloadLen, plErr := agwpe.PayloadLength(pending[:agwpe.HeaderLen])
				if plErr != nil {
					rc.fail(plErr)
					return
				}
				if payloadLen > maxPayloadLen {
					rc.fail(fmt.Errorf("transport: frame payload length %d exceeds sanity limit", payloadLen))
					return
				}

				total := agwpe.HeaderLen + int(payloadLen)
				if len(pending) < total {
					break
				}

				frame, dErr := agwpe.Decode(pending[:total])
				if dErr != nil {
					rc.fail(fmt.Errorf("transport: decoding frame: %w", dErr))
					return
				}

				rc.frames <- frame
				pending = pending[total:]
			}
		}

		if err != nil {
			if err != io.EOF {
				rc.fail(err)
			}
			return
		}
	}
}

func (rc *Receiver) fail(err error) {
	select {
	case rc.errc <- err:
	default:
	}
}
