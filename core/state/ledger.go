package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"zusd/storage"
)

// Ledger is the durable account store behind the vault engine and the token
// bank. Writes land in an in-memory overlay backed by a journal, so callers
// can take a snapshot, apply a batch of mutations and revert the whole batch
// if any step fails. Nothing reaches the underlying database until Commit.
type Ledger struct {
	mu      sync.RWMutex
	db      storage.Database
	overlay map[string][]byte
	journal []journalEntry
}

// journalEntry records the overlay state of one key before a write so a
// revert can restore it exactly.
type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

func NewLedger(db storage.Database) *Ledger {
	return &Ledger{
		db:      db,
		overlay: make(map[string][]byte),
	}
}

// Snapshot returns a revision identifier for the current journal position.
// Passing it to RevertToSnapshot undoes every write made after this call.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot unwinds the overlay to the given revision. The revision
// must come from a prior Snapshot on this ledger; anything else is a
// programming error and panics.
func (l *Ledger) RevertToSnapshot(revision int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if revision < 0 || revision > len(l.journal) {
		panic(fmt.Sprintf("state: invalid snapshot revision %d (journal length %d)", revision, len(l.journal)))
	}
	for i := len(l.journal) - 1; i >= revision; i-- {
		entry := l.journal[i]
		if entry.existed {
			l.overlay[entry.key] = entry.prev
		} else {
			delete(l.overlay, entry.key)
		}
	}
	l.journal = l.journal[:revision]
}

// Commit flushes the overlay to the database in one atomic batch and resets
// the journal. Keys are written in sorted order so repeated commits of the
// same state touch the backend deterministically. On failure the overlay and
// journal are left intact: nothing reached disk and the caller may still
// revert to an earlier snapshot.
func (l *Ledger) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.overlay) == 0 {
		l.journal = l.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(l.overlay))
	for k := range l.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]storage.KV, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, storage.KV{Key: []byte(k), Value: l.overlay[k]})
	}
	if err := l.db.PutBatch(pairs); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	l.overlay = make(map[string][]byte)
	l.journal = l.journal[:0]
	return nil
}

// Pending reports the number of uncommitted writes. Used by the daemon to
// decide whether a shutdown commit is required and by tests to assert that
// reverted operations leave no residue.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.overlay)
}

// get reads through the overlay to the database. A missing key is reported
// with ok=false and a nil error; only backend faults surface as errors.
func (l *Ledger) get(key []byte) ([]byte, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if value, ok := l.overlay[string(key)]; ok {
		return value, true, nil
	}
	value, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// put records the previous overlay state in the journal and applies the write.
func (l *Ledger) put(key, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := string(key)
	prev, existed := l.overlay[k]
	l.journal = append(l.journal, journalEntry{key: k, prev: prev, existed: existed})
	l.overlay[k] = value
}
