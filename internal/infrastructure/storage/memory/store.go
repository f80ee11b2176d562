// Package memory provides an in-process ledger store.
//
// Transactions are serialized by a store-wide lock and applied copy-on-commit: a unit of
// work mutates a private copy of the state that replaces the committed state only when it
// returns nil. Used by tests and by the server when no database is configured.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/tx"
	"pharmaledger/internal/domain/ledger"
)

var _ tx.Manager = (*Store)(nil)

type snapKey struct {
	drug  id.ID
	month period.Month
}

// AuditEntry is a journaled snapshot change.
type AuditEntry struct {
	EntityType string
	EntityID   string
	Action     string
	Changes    map[string]any
}

type state struct {
	drugs       map[id.ID]ledger.Drug
	batches     map[id.ID]ledger.Batch
	snapshots   map[snapKey]ledger.Snapshot
	allocations []ledger.AllocationRecord
	defects     []ledger.DefectRecovery
	events      []ledger.Event
	audit       []AuditEntry
	arrival     int64
}

func newState() *state {
	return &state{
		drugs:     make(map[id.ID]ledger.Drug),
		batches:   make(map[id.ID]ledger.Batch),
		snapshots: make(map[snapKey]ledger.Snapshot),
	}
}

func (s *state) clone() *state {
	return &state{
		drugs:       maps.Clone(s.drugs),
		batches:     maps.Clone(s.batches),
		snapshots:   maps.Clone(s.snapshots),
		allocations: slices.Clone(s.allocations),
		defects:     slices.Clone(s.defects),
		events:      slices.Clone(s.events),
		audit:       slices.Clone(s.audit),
		arrival:     s.arrival,
	}
}

// Store holds the whole ledger in memory.
type Store struct {
	mu        sync.Mutex
	committed *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{committed: newState()}
}

type txKey struct{}

// RunInTransaction runs fn against a private copy of the state and commits it on success.
// Nested calls reuse the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.committed.clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	s.committed = work
	return nil
}

// read runs fn on the transaction state in ctx, or on the committed state under the lock.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.committed)
}

// write runs fn on the transaction state in ctx, or in a transaction of its own.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*state))
	})
}

// Repositories returns every ledger storage handle backed by this store.
func (s *Store) Repositories() ledger.Repositories {
	return ledger.Repositories{
		Drugs:       &DrugRepo{store: s},
		Batches:     &BatchRepo{store: s},
		Snapshots:   &SnapshotRepo{store: s},
		Allocations: &AllocationRepo{store: s},
		Defects:     &DefectRepo{store: s},
		Events:      &EventLog{store: s},
		Audit:       &AuditLog{store: s},
	}
}

// PutDrug seeds a catalog drug.
func (s *Store) PutDrug(d ledger.Drug) {
	_ = s.write(context.Background(), func(st *state) error {
		st.drugs[d.ID] = d
		return nil
	})
}

// PutBatch seeds a batch with its arrival order as given.
func (s *Store) PutBatch(b ledger.Batch) {
	_ = s.write(context.Background(), func(st *state) error {
		st.batches[b.ID] = b
		if b.ArrivalOrder > st.arrival {
			st.arrival = b.ArrivalOrder
		}
		return nil
	})
}

// PutSnapshot seeds a snapshot as stored, bypassing version checks.
func (s *Store) PutSnapshot(snap ledger.Snapshot) {
	_ = s.write(context.Background(), func(st *state) error {
		if snap.Version == 0 {
			snap.Version = 1
		}
		st.snapshots[snapKey{snap.DrugID, snap.Month}] = snap
		return nil
	})
}

// Events returns committed outbox events.
func (s *Store) Events() []ledger.Event {
	var out []ledger.Event
	_ = s.read(context.Background(), func(st *state) error {
		out = slices.Clone(st.events)
		return nil
	})
	return out
}

// AuditEntries returns committed audit entries.
func (s *Store) AuditEntries() []AuditEntry {
	var out []AuditEntry
	_ = s.read(context.Background(), func(st *state) error {
		out = slices.Clone(st.audit)
		return nil
	})
	return out
}

// Defects returns committed defect recoveries.
func (s *Store) Defects() []ledger.DefectRecovery {
	var out []ledger.DefectRecovery
	_ = s.read(context.Background(), func(st *state) error {
		out = slices.Clone(st.defects)
		return nil
	})
	return out
}

// AllocationCount returns the number of committed allocation records.
func (s *Store) AllocationCount() int {
	n := 0
	_ = s.read(context.Background(), func(st *state) error {
		n = len(st.allocations)
		return nil
	})
	return n
}
