package agw

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timshannon/badgerhold"
)

// heardLogCapacity bounds the in-memory ring, with or without a persisted
// store, per SPEC_FULL.md §4.17.
const heardLogCapacity = 64

// HeardEntry is one (port, call sign) observation, most-recently-seen
// last in a HeardLog's Snapshot.
type HeardEntry struct {
	Port     byte      `json:"port"`
	Call     string    `json:"call"`
	LastSeen time.Time `json:"lastSeen"`
}

func (e HeardEntry) key() string { return fmt.Sprintf("%d/%s", e.Port, e.Call) }

// HeardLog is a best-effort, locally persisted record of recently observed
// (port, call sign) pairs, supplementing the TNC-side 'H' dataKind this
// client-only library never needs to implement itself. It is additive
// observability: nothing in the frame path blocks on it.
type HeardLog struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]HeardEntry
	capacity int

	store *badgerhold.Store
}

// NewHeardLog builds an in-memory HeardLog.
func NewHeardLog() *HeardLog {
	return &HeardLog{
		entries:  make(map[string]HeardEntry),
		capacity: heardLogCapacity,
	}
}

// NewPersistedHeardLog builds a HeardLog that also survives process
// restarts, grounded on storage/store.go's badgerhold.Open usage.
func NewPersistedHeardLog(dir string) (*HeardLog, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("agw: opening heard-log store at %s: %w", dir, err)
	}

	h := NewHeardLog()
	h.store = store

	var loaded []HeardEntry
	if err := store.Find(&loaded, nil); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("agw: loading heard-log store: %w", err)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].LastSeen.Before(loaded[j].LastSeen) })
	for _, e := range loaded {
		h.insertLocked(e)
	}

	return h, nil
}

// Close releases the persisted store, if any.
func (h *HeardLog) Close() error {
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}

// Observe records a sighting of call on port as having just happened.
func (h *HeardLog) Observe(port byte, call string) {
	h.observeAt(port, call, time.Now())
}

func (h *HeardLog) observeAt(port byte, call string, when time.Time) {
	e := HeardEntry{Port: port, Call: call, LastSeen: when}

	h.mu.Lock()
	h.insertLocked(e)
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.Upsert(e.key(), e); err != nil {
			// Best-effort: the in-memory ring above already has the entry.
			return
		}
	}
}

// insertLocked requires h.mu to be held.
func (h *HeardLog) insertLocked(e HeardEntry) {
	k := e.key()
	if _, exists := h.entries[k]; exists {
		h.removeOrderLocked(k)
	} else if len(h.order) >= h.capacity {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.entries, oldest)
	}
	h.entries[k] = e
	h.order = append(h.order, k)
}

func (h *HeardLog) removeOrderLocked(k string) {
	for i, existing := range h.order {
		if existing == k {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

// Snapshot returns every distinct entry, most recently seen last.
func (h *HeardLog) Snapshot() []HeardEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HeardEntry, 0, len(h.order))
	for _, k := range h.order {
		out = append(out, h.entries[k])
	}
	return out
}
