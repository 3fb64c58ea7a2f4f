package transport

import (
	"sync"

	"github.com/google/uuid"
)

// TransmissionIDHeader carries the ID a running transmission can be
// cancelled by.
const TransmissionIDHeader = "X-Transmission-ID"

// InFlightRegistry tracks transmissions that are still running so they can
// be cancelled explicitly, one by one or all at once during shutdown.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

type inflightEntry struct {
	cancel func()
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]*inflightEntry),
	}
}

// Register adds a running transmission with its cancel function. The
// requested ID is used unless it is empty or already taken, in which case
// a fresh one is generated. It returns the ID the transmission is
// registered under and a func that removes exactly this entry without
// cancelling it.
func (r *InFlightRegistry) Register(id string, cancel func()) (string, func()) {
	e := &inflightEntry{cancel: cancel}

	r.mu.Lock()
	if _, taken := r.entries[id]; id == "" || taken {
		id = uuid.NewString()
	}
	r.entries[id] = e
	r.mu.Unlock()

	return id, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.entries[id] == e {
			delete(r.entries, id)
		}
	}
}

// Cancel cancels a transmission by ID. Returns true if it was found, false
// if the ID was not registered (already completed or never existed).
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// CancelAll cancels every registered transmission and returns how many
// there were.
func (r *InFlightRegistry) CancelAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*inflightEntry)
	r.mu.Unlock()
	for _, e := range entries {
		e.cancel()
	}
	return len(entries)
}

// Len returns the number of registered transmissions.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
