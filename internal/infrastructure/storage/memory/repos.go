package memory

import (
	"context"
	"sort"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/domain/ledger"
)

// DrugRepo implements ledger.DrugCatalog.
type DrugRepo struct{ store *Store }

// GetDrug returns the drug or NotFound.
func (r *DrugRepo) GetDrug(ctx context.Context, drugID id.ID) (ledger.Drug, error) {
	var d ledger.Drug
	err := r.store.read(ctx, func(st *state) error {
		found, ok := st.drugs[drugID]
		if !ok {
			return apperror.NewNotFound("drug", drugID)
		}
		d = found
		return nil
	})
	return d, err
}

// BatchRepo implements ledger.BatchRegistry.
type BatchRepo struct{ store *Store }

// GetBatch returns the batch or NotFound.
func (r *BatchRepo) GetBatch(ctx context.Context, batchID id.ID) (ledger.Batch, error) {
	var b ledger.Batch
	err := r.store.read(ctx, func(st *state) error {
		found, ok := st.batches[batchID]
		if !ok {
			return apperror.NewNotFound("batch", batchID)
		}
		b = found
		return nil
	})
	return b, err
}

// NextBatch returns the drug's batch with the smallest arrival order above afterArrival.
func (r *BatchRepo) NextBatch(ctx context.Context, drugID id.ID, afterArrival int64) (ledger.Batch, bool, error) {
	var (
		best  ledger.Batch
		found bool
	)
	err := r.store.read(ctx, func(st *state) error {
		for _, b := range st.batches {
			if b.DrugID != drugID || b.ArrivalOrder <= afterArrival {
				continue
			}
			if !found || b.ArrivalOrder < best.ArrivalOrder {
				best, found = b, true
			}
		}
		return nil
	})
	return best, found, err
}

// RegisterBatch stores b and assigns the next arrival order. A known ID is a duplicate.
func (r *BatchRepo) RegisterBatch(ctx context.Context, b *ledger.Batch) error {
	return r.store.write(ctx, func(st *state) error {
		if _, exists := st.batches[b.ID]; exists {
			return apperror.NewDuplicate("batch", "id", b.ID.String())
		}
		st.arrival++
		b.ArrivalOrder = st.arrival
		st.batches[b.ID] = *b
		return nil
	})
}

// SnapshotRepo implements ledger.SnapshotStore.
type SnapshotRepo struct{ store *Store }

// Get returns the snapshot of drug and month or NotFound.
func (r *SnapshotRepo) Get(ctx context.Context, drugID id.ID, month period.Month) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	err := r.store.read(ctx, func(st *state) error {
		found, ok := st.snapshots[snapKey{drugID, month}]
		if !ok {
			return apperror.NewNotFound("snapshot", drugID.String()+"/"+month.Key())
		}
		snap = found
		return nil
	})
	return snap, err
}

// GetForUpdate equals Get: transactions already run one at a time.
func (r *SnapshotRepo) GetForUpdate(ctx context.Context, drugID id.ID, month period.Month) (ledger.Snapshot, error) {
	return r.Get(ctx, drugID, month)
}

// Latest returns the drug's most recent snapshot strictly before month.
func (r *SnapshotRepo) Latest(ctx context.Context, drugID id.ID, before period.Month) (ledger.Snapshot, error) {
	var (
		best  ledger.Snapshot
		found bool
	)
	err := r.store.read(ctx, func(st *state) error {
		for k, s := range st.snapshots {
			if k.drug != drugID || !k.month.Before(before) {
				continue
			}
			if !found || best.Month.Before(k.month) {
				best, found = s, true
			}
		}
		return nil
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if !found {
		return ledger.Snapshot{}, apperror.NewNotFound("snapshot", drugID.String()+"/<"+before.Key())
	}
	return best, nil
}

// CreateIfAbsent inserts s unless the drug already has a snapshot for its month.
// It reports whether s was inserted.
func (r *SnapshotRepo) CreateIfAbsent(ctx context.Context, s ledger.Snapshot) (bool, error) {
	created := false
	err := r.store.write(ctx, func(st *state) error {
		k := snapKey{s.DrugID, s.Month}
		if _, exists := st.snapshots[k]; exists {
			return nil
		}
		if s.Version == 0 {
			s.Version = 1
		}
		st.snapshots[k] = s
		created = true
		return nil
	})
	return created, err
}

// Save replaces the stored snapshot when its version equals expectedVersion and bumps
// the version; otherwise it fails with CONCURRENT_MODIFICATION.
func (r *SnapshotRepo) Save(ctx context.Context, s ledger.Snapshot, expectedVersion int) (ledger.Snapshot, error) {
	var saved ledger.Snapshot
	err := r.store.write(ctx, func(st *state) error {
		k := snapKey{s.DrugID, s.Month}
		current, ok := st.snapshots[k]
		if !ok {
			return apperror.NewNotFound("snapshot", s.DrugID.String()+"/"+s.Month.Key())
		}
		if current.Version != expectedVersion {
			return apperror.NewConcurrentModification("snapshot", s.DrugID.String()+"/"+s.Month.Key())
		}
		s.Version = expectedVersion + 1
		st.snapshots[k] = s
		saved = s
		return nil
	})
	return saved, err
}

// ListDrugs returns the drugs having a snapshot for month.
func (r *SnapshotRepo) ListDrugs(ctx context.Context, month period.Month) ([]id.ID, error) {
	var out []id.ID
	err := r.store.read(ctx, func(st *state) error {
		for k := range st.snapshots {
			if k.month == month {
				out = append(out, k.drug)
			}
		}
		return nil
	})
	return id.SortUnique(out), err
}

// AllocationRepo implements ledger.AllocationRepository.
type AllocationRepo struct{ store *Store }

// CreateRecords appends records.
func (r *AllocationRepo) CreateRecords(ctx context.Context, records []ledger.AllocationRecord) error {
	return r.store.write(ctx, func(st *state) error {
		st.allocations = append(st.allocations, records...)
		return nil
	})
}

// ListBySale returns a sale's records by line and arrival order.
func (r *AllocationRepo) ListBySale(ctx context.Context, saleID id.ID) ([]ledger.AllocationRecord, error) {
	var out []ledger.AllocationRecord
	err := r.store.read(ctx, func(st *state) error {
		for _, rec := range st.allocations {
			if rec.SaleID == saleID {
				out = append(out, rec)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LineNo != out[j].LineNo {
			return out[i].LineNo < out[j].LineNo
		}
		return out[i].ArrivalOrder < out[j].ArrivalOrder
	})
	return out, err
}

// DefectRepo implements ledger.DefectJournal.
type DefectRepo struct{ store *Store }

// RecordDefect journals d.
func (r *DefectRepo) RecordDefect(ctx context.Context, d ledger.DefectRecovery) error {
	return r.store.write(ctx, func(st *state) error {
		st.defects = append(st.defects, d)
		return nil
	})
}

// EventLog implements ledger.EventPublisher.
type EventLog struct{ store *Store }

// Publish appends event to the transaction; it is visible once that commits.
func (l *EventLog) Publish(ctx context.Context, event ledger.Event) error {
	return l.store.write(ctx, func(st *state) error {
		st.events = append(st.events, event)
		return nil
	})
}

// AuditLog implements ledger.AuditLog.
type AuditLog struct{ store *Store }

// LogChange keeps one audit entry per change set.
func (l *AuditLog) LogChange(ctx context.Context, entityType, entityID, action string, changes map[string]any) error {
	return l.store.write(ctx, func(st *state) error {
		st.audit = append(st.audit, AuditEntry{
			EntityType: entityType,
			EntityID:   entityID,
			Action:     action,
			Changes:    changes,
		})
		return nil
	})
}

var (
	_ ledger.DrugCatalog          = (*DrugRepo)(nil)
	_ ledger.BatchRegistry        = (*BatchRepo)(nil)
	_ ledger.SnapshotStore        = (*SnapshotRepo)(nil)
	_ ledger.AllocationRepository = (*AllocationRepo)(nil)
	_ ledger.DefectJournal        = (*DefectRepo)(nil)
	_ ledger.EventPublisher       = (*EventLog)(nil)
	_ ledger.AuditLog             = (*AuditLog)(nil)
)
