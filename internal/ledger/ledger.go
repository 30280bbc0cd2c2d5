// Package ledger tracks which messages and attachments have already been
// processed, across restarts. Entries are append-only: nothing removes a
// fingerprint during normal operation.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store persists ledger state. Injected so tests can supply an in-memory
// implementation.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// State is the durable shape of the ledger: fingerprints mapped to the time
// they were first marked, plus the last-processed watermark used as a second,
// coarser layer of duplicate suppression.
type State struct {
	Fingerprints  map[string]time.Time `json:"fingerprints"`
	LastProcessed time.Time            `json:"last_processed"`
}

type Ledger struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	known map[string]time.Time
	last  time.Time
}

// New loads ledger state from the store. A missing or corrupt store is never
// fatal: the ledger starts empty and logs what happened.
func New(store Store, log *slog.Logger) *Ledger {
	l := &Ledger{
		store: store,
		log:   log,
		known: make(map[string]time.Time),
	}
	state, err := store.Load()
	if err != nil {
		log.Warn("ledger load failed, starting empty", "error", err)
		return l
	}
	for fp, at := range state.Fingerprints {
		l.known[fp] = at
	}
	l.last = state.LastProcessed
	return l
}

func (l *Ledger) IsKnown(fingerprint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.known[fingerprint]
	return ok
}

// MarkKnown records a fingerprint and persists synchronously, so a crash
// between two markings loses at most the single most recent entry. Idempotent:
// marking a known fingerprint again changes nothing and writes nothing.
func (l *Ledger) MarkKnown(fingerprint string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.known[fingerprint]; ok {
		return nil
	}
	l.known[fingerprint] = at
	if err := l.store.Save(l.snapshot()); err != nil {
		// In-memory state stays authoritative; restart safety is degraded
		// until the store is writable again.
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func (l *Ledger) LastProcessed() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Ledger) SetLastProcessed(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !t.After(l.last) {
		return nil
	}
	l.last = t
	if err := l.store.Save(l.snapshot()); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Flush writes the current state out. Called on shutdown.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Save(l.snapshot()); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return nil
}

// Size reports the number of persisted fingerprints.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.known)
}

// snapshot copies state for persistence. Caller must hold l.mu.
func (l *Ledger) snapshot() State {
	fps := make(map[string]time.Time, len(l.known))
	for fp, at := range l.known {
		fps[fp] = at
	}
	return State{Fingerprints: fps, LastProcessed: l.last}
}
