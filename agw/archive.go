package agw

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/n0call/agwgo/agwpe"
)

// FrameTrace is an optional debug log of every AGWPE frame in/out, for
// offline protocol debugging; distinct from the Server's leveled Logger,
// per SPEC_FULL.md §4.18. Off by default.
type FrameTrace struct {
	dir         string
	rotateAfter int

	mu      sync.Mutex
	file    *os.File
	written int
	segment int
}

// NewFrameTrace opens (creating if necessary) a frame-trace log under dir,
// rotating and xz-compressing a segment every rotateAfter records.
func NewFrameTrace(dir string, rotateAfter int) (*FrameTrace, error) {
	if rotateAfter <= 0 {
		rotateAfter = 10000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("agw: creating frame-trace dir %s: %w", dir, err)
	}

	ft := &FrameTrace{dir: dir, rotateAfter: rotateAfter}
	if err := ft.openSegmentLocked(); err != nil {
		return nil, err
	}
	return ft, nil
}

func (ft *FrameTrace) segmentPath(n int) string {
	return filepath.Join(ft.dir, fmt.Sprintf("frames-%05d.log", n))
}

// openSegmentLocked requires ft.mu to be held, or to be called before any
// concurrent access (construction).
func (ft *FrameTrace) openSegmentLocked() error {
	f, err := os.Create(ft.segmentPath(ft.segment))
	if err != nil {
		return fmt.Errorf("agw: opening frame-trace segment: %w", err)
	}
	ft.file = f
	ft.written = 0
	return nil
}

// Record appends one direction-tagged, base64'd frame to the active
// segment, rotating (and xz-compressing the closed segment in the
// background) once rotateAfter records have accumulated.
func (ft *FrameTrace) Record(direction string, f agwpe.Frame) {
	raw, err := f.Encode()
	if err != nil {
		return
	}

	line := fmt.Sprintf("%s %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), direction, base64.StdEncoding.EncodeToString(raw))

	ft.mu.Lock()
	defer ft.mu.Unlock()

	if _, err := ft.file.WriteString(line); err != nil {
		return
	}
	ft.written++

	if ft.written >= ft.rotateAfter {
		ft.rotateLocked()
	}
}

// rotateLocked requires ft.mu to be held.
func (ft *FrameTrace) rotateLocked() {
	closed := ft.file
	closedPath := ft.segmentPath(ft.segment)

	ft.segment++
	if err := ft.openSegmentLocked(); err != nil {
		// Keep writing to the old segment rather than losing the trace.
		ft.file = closed
		ft.segment--
		return
	}

	go compressSegment(closed, closedPath)
}

func compressSegment(f *os.File, path string) {
	defer f.Close()

	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".xz")
	if err != nil {
		return
	}
	defer out.Close()

	w, err := xz.NewWriter(out)
	if err != nil {
		return
	}
	defer w.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
		}
		if readErr != nil {
			break
		}
	}

	_ = os.Remove(path)
}

// Close flushes and closes the active segment without compressing it.
func (ft *FrameTrace) Close() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.file.Close()
}
