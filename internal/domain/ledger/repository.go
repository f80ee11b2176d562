package ledger

import (
	"context"

	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
)

// DrugCatalog reads catalog items.
type DrugCatalog interface {
	// GetDrug returns NOT_FOUND when the drug does not exist.
	GetDrug(ctx context.Context, drugID id.ID) (Drug, error)
}

// BatchRegistry is the view over received shipment lines.
type BatchRegistry interface {
	// GetBatch returns NOT_FOUND when the batch does not exist.
	GetBatch(ctx context.Context, batchID id.ID) (Batch, error)

	// NextBatch returns the drug's first batch with arrival order strictly greater than
	// afterArrival. ok is false when there is none.
	NextBatch(ctx context.Context, drugID id.ID, afterArrival int64) (b Batch, ok bool, err error)

	// RegisterBatch stores a new batch and assigns its ArrivalOrder.
	RegisterBatch(ctx context.Context, b *Batch) error
}

// SnapshotStore persists monthly snapshots.
type SnapshotStore interface {
	// Get returns NOT_FOUND when no snapshot exists for the pair.
	Get(ctx context.Context, drugID id.ID, month period.Month) (Snapshot, error)

	// GetForUpdate is Get plus a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, drugID id.ID, month period.Month) (Snapshot, error)

	// Latest returns the most recent snapshot strictly before month, NOT_FOUND if none.
	Latest(ctx context.Context, drugID id.ID, before period.Month) (Snapshot, error)

	// CreateIfAbsent inserts s unless a row for (drug, month) exists; created reports which.
	CreateIfAbsent(ctx context.Context, s Snapshot) (created bool, err error)

	// Save writes s iff the stored version equals expectedVersion and returns the row with
	// its new version. A mismatch yields CONCURRENT_MODIFICATION.
	Save(ctx context.Context, s Snapshot, expectedVersion int) (Snapshot, error)

	// ListDrugs returns the drugs that have a snapshot for month.
	ListDrugs(ctx context.Context, month period.Month) ([]id.ID, error)
}

// AllocationRepository persists allocation records.
type AllocationRepository interface {
	CreateRecords(ctx context.Context, records []AllocationRecord) error
	ListBySale(ctx context.Context, saleID id.ID) ([]AllocationRecord, error)
}

// DefectJournal persists defect recoveries.
type DefectJournal interface {
	RecordDefect(ctx context.Context, d DefectRecovery) error
}

// EventPublisher writes ledger events within the current transaction.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// AuditLog records snapshot changes.
type AuditLog interface {
	LogChange(ctx context.Context, entityType, entityID, action string, changes map[string]any) error
}

// Repositories bundles the storage handles the service needs.
// Every handle must come from the same store as the tx.Manager given to NewService.
type Repositories struct {
	Drugs       DrugCatalog
	Batches     BatchRegistry
	Snapshots   SnapshotStore
	Allocations AllocationRepository
	Defects     DefectJournal
	Events      EventPublisher
	Audit       AuditLog
}
