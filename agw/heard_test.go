package agw

import (
	"fmt"
	"testing"
	"time"
)

func TestHeardLogKeepsMostRecentDistinctEntries(t *testing.T) {
	h := NewHeardLog()
	h.capacity = 3

	base := time.Now()
	for i := 0; i < 5; i++ {
		h.observeAt(0, fmt.Sprintf("N0CALL-%d", i), base.Add(time.Duration(i)*time.Second))
	}

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snap) = %d, want 3", len(snap))
	}
	if snap[len(snap)-1].Call != "N0CALL-4" {
		t.Errorf("most recent entry = %q, want N0CALL-4", snap[len(snap)-1].Call)
	}
}

func TestHeardLogRepeatedSightingMovesToMostRecent(t *testing.T) {
	h := NewHeardLog()

	base := time.Now()
	h.observeAt(0, "W1AW", base)
	h.observeAt(0, "K1AA", base.Add(time.Second))
	h.observeAt(0, "W1AW", base.Add(2*time.Second))

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2 distinct stations", len(snap))
	}
	if snap[len(snap)-1].Call != "W1AW" {
		t.Errorf("most recent entry = %q, want W1AW", snap[len(snap)-1].Call)
	}
}

func TestHeardLogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	h1, err := NewPersistedHeardLog(dir)
	if err != nil {
		t.Fatalf("NewPersistedHeardLog: %v", err)
	}
	h1.Observe(0, "N0CALL")
	h1.Observe(1, "W1AW")
	if err := h1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h2, err := NewPersistedHeardLog(dir)
	if err != nil {
		t.Fatalf("reopening NewPersistedHeardLog: %v", err)
	}
	defer h2.Close()

	snap := h2.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2 entries carried over from the first instance", len(snap))
	}
}
