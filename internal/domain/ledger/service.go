package ledger

import (
	"context"
	"fmt"
	"time"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/tx"
	"pharmaledger/internal/core/types"
	"pharmaledger/pkg/logger"
)

// Config tunes the ledger service.
type Config struct {
	// MonthMode selects the previous-month rule used by carry-forward and roll-forward.
	MonthMode period.Mode

	// AllocationRetries is how many times a unit of work is re-run after losing an
	// optimistic version check.
	AllocationRetries int

	// Clock determines the current ledger month.
	Clock period.Clock
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MonthMode:         period.ModeCalendar,
		AllocationRetries: 3,
		Clock:             period.SystemClock,
	}
}

// Service is the inventory ledger. All mutations of a snapshot go through it.
type Service struct {
	repos     Repositories
	txManager tx.Manager
	cfg       Config
}

// NewService creates a new ledger service.
func NewService(repos Repositories, txManager tx.Manager, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = period.SystemClock
	}
	if cfg.MonthMode == "" {
		cfg.MonthMode = period.ModeCalendar
	}
	if cfg.AllocationRetries < 0 {
		cfg.AllocationRetries = 0
	}
	return &Service{
		repos:     repos,
		txManager: txManager,
		cfg:       cfg,
	}
}

func (s *Service) now() time.Time {
	return s.cfg.Clock()
}

// CurrentMonth returns the ledger month sales are booked into right now.
func (s *Service) CurrentMonth() period.Month {
	return period.Of(s.now())
}

// runWithRetry runs fn in a transaction, re-running it when a snapshot save loses an
// optimistic version check.
func (s *Service) runWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.AllocationRetries; attempt++ {
		err = s.txManager.RunInTransaction(ctx, fn)
		if err == nil || !apperror.IsConcurrentModification(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn(ctx, "snapshot modified concurrently, retrying",
			"operation", op,
			"attempt", attempt+1,
		)
	}
	return err
}

// saveSnapshot persists after over before with a version check and journals the change.
func (s *Service) saveSnapshot(ctx context.Context, before, after Snapshot) (Snapshot, error) {
	if err := after.CheckBalance(); err != nil {
		return Snapshot{}, err
	}

	saved, err := s.repos.Snapshots.Save(ctx, after, before.Version)
	if err != nil {
		return Snapshot{}, err
	}

	if err := s.repos.Audit.LogChange(ctx, auditEntitySnapshot, after.key(), auditActionUpdate, snapshotDiff(before, saved)); err != nil {
		return Snapshot{}, fmt.Errorf("audit snapshot: %w", err)
	}
	return saved, nil
}

func snapshotDiff(before, after Snapshot) map[string]any {
	changes := make(map[string]any)
	counters := []struct {
		name     string
		old, new types.Quantity
	}{
		{"received", before.Received, after.Received},
		{"sold", before.Sold, after.Sold},
		{"damaged", before.Damaged, after.Damaged},
		{"remaining", before.Remaining, after.Remaining},
		{"activeBatchRemaining", before.ActiveBatchRemaining, after.ActiveBatchRemaining},
	}
	for _, c := range counters {
		if c.old != c.new {
			changes[c.name] = map[string]any{"old": c.old.Int64(), "new": c.new.Int64()}
		}
	}
	if !sameBatch(before.ActiveBatchID, after.ActiveBatchID) {
		changes["activeBatchId"] = map[string]any{"old": before.ActiveBatchID, "new": after.ActiveBatchID}
	}
	changes["version"] = after.Version
	return changes
}

func sameBatch(a, b *id.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Allocate checks availability and allocates every line of the sale in one transaction.
// Either all records and snapshot updates commit, or none do.
func (s *Service) Allocate(ctx context.Context, sale Sale) (*Allocation, error) {
	if err := sale.Validate(); err != nil {
		return nil, err
	}

	var result *Allocation
	err := s.runWithRetry(ctx, "allocate", func(ctx context.Context) error {
		now := s.now()
		month := period.Of(now)

		for _, drugID := range id.SortUnique(drugIDsOf(sale.Lines)) {
			if _, err := s.repos.Drugs.GetDrug(ctx, drugID); err != nil {
				return err
			}
		}

		locked, err := s.ensureMonth(ctx, drugIDsOf(sale.Lines), month, true)
		if err != nil {
			return err
		}

		// Checked under the snapshot locks: a concurrent allocation of the same sale holds
		// them until it commits, so its records are visible here.
		existing, err := s.repos.Allocations.ListBySale(ctx, sale.ID)
		if err != nil {
			return fmt.Errorf("list allocations of sale: %w", err)
		}
		if len(existing) > 0 {
			return apperror.NewConflict("sale is already allocated").WithDetail("saleId", sale.ID.String())
		}

		if err := evaluate(sale.Lines, locked, month).Err(); err != nil {
			return err
		}

		working := make(map[id.ID]Snapshot, len(locked))
		for k, v := range locked {
			working[k] = v
		}

		var records []AllocationRecord
		for i, line := range sale.Lines {
			updated, recs, err := allocateLine(ctx, s.repos.Batches, working[line.DrugID], lineRequest{
				SaleID:   sale.ID,
				LineNo:   i + 1,
				Quantity: line.Quantity,
				At:       now,
			})
			if err != nil {
				return err
			}
			working[line.DrugID] = updated
			records = append(records, recs...)
		}

		if err := s.repos.Allocations.CreateRecords(ctx, records); err != nil {
			return fmt.Errorf("create allocation records: %w", err)
		}

		snapshots := make([]Snapshot, 0, len(working))
		for _, drugID := range id.SortUnique(drugIDsOf(sale.Lines)) {
			saved, err := s.saveSnapshot(ctx, locked[drugID], working[drugID])
			if err != nil {
				return err
			}
			snapshots = append(snapshots, saved)
		}

		if err := s.repos.Events.Publish(ctx, Event{
			AggregateType: aggregateSale,
			AggregateID:   sale.ID,
			EventType:     EventSaleAllocated,
			Payload:       SaleAllocatedPayload{SaleID: sale.ID, Records: records},
		}); err != nil {
			return fmt.Errorf("publish allocation: %w", err)
		}

		result = &Allocation{SaleID: sale.ID, Records: records, Snapshots: snapshots}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "sale allocated",
		"sale_id", sale.ID,
		"lines", len(sale.Lines),
		"records", len(result.Records),
	)
	return result, nil
}

// GetCurrentBalance returns the drug's remaining stock this month.
// A catalog drug that was never stocked has a balance of zero.
func (s *Service) GetCurrentBalance(ctx context.Context, drugID id.ID) (types.Quantity, error) {
	if _, err := s.repos.Drugs.GetDrug(ctx, drugID); err != nil {
		return 0, err
	}

	month := period.Of(s.now())
	var balance types.Quantity
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		snaps, err := s.ensureMonth(ctx, []id.ID{drugID}, month, false)
		if err != nil {
			return err
		}
		balance = snaps[drugID].Remaining
		return nil
	})
	if apperror.HasCode(err, apperror.CodeMissingPriorInventory) {
		return 0, nil
	}
	return balance, err
}

// GetSnapshot returns the stored snapshot without carrying forward.
func (s *Service) GetSnapshot(ctx context.Context, drugID id.ID, month period.Month) (Snapshot, error) {
	return s.repos.Snapshots.Get(ctx, drugID, month)
}

// ListAllocations returns the records of a sale in creation order.
func (s *Service) ListAllocations(ctx context.Context, saleID id.ID) ([]AllocationRecord, error) {
	return s.repos.Allocations.ListBySale(ctx, saleID)
}

// ReceiveBatch registers a shipment line and adds it to the current month's snapshot.
// The batch becomes active when the drug has none or the active one is drained with no
// batches queued in between.
func (s *Service) ReceiveBatch(ctx context.Context, b Batch) (Batch, Snapshot, error) {
	if err := b.Validate(); err != nil {
		return Batch{}, Snapshot{}, err
	}
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = s.now()
	}
	if id.IsNil(b.ID) {
		b.ID = id.New()
	}

	var (
		stored Batch
		saved  Snapshot
	)
	err := s.runWithRetry(ctx, "receive", func(ctx context.Context) error {
		if _, err := s.repos.Drugs.GetDrug(ctx, b.DrugID); err != nil {
			return err
		}

		month := period.Of(s.now())
		before, err := s.snapshotForReceipt(ctx, b.DrugID, month)
		if err != nil {
			return err
		}

		batch := b
		if err := s.repos.Batches.RegisterBatch(ctx, &batch); err != nil {
			return fmt.Errorf("register batch: %w", err)
		}

		advance, err := s.cursorAdvancesTo(ctx, before, batch)
		if err != nil {
			return err
		}

		after := before
		after.Received += batch.ReceivedQuantity
		after.Remaining += batch.ReceivedQuantity
		if advance {
			batchID := batch.ID
			after.ActiveBatchID = &batchID
			after.ActiveBatchRemaining = batch.ReceivedQuantity
		}
		after.UpdatedAt = s.now()

		if saved, err = s.saveSnapshot(ctx, before, after); err != nil {
			return err
		}

		batchID := batch.ID
		if err := s.repos.Events.Publish(ctx, Event{
			AggregateType: aggregateBatch,
			AggregateID:   batch.ID,
			EventType:     EventBatchReceived,
			Payload: StockChangedPayload{
				DrugID:    batch.DrugID,
				BatchID:   &batchID,
				Month:     month.Key(),
				Quantity:  batch.ReceivedQuantity,
				Remaining: saved.Remaining,
			},
		}); err != nil {
			return fmt.Errorf("publish receipt: %w", err)
		}

		stored = batch
		return nil
	})
	if err != nil {
		return Batch{}, Snapshot{}, err
	}

	logger.Info(ctx, "batch received",
		"batch_id", stored.ID,
		"drug_id", stored.DrugID,
		"arrival_order", stored.ArrivalOrder,
		"quantity", stored.ReceivedQuantity,
	)
	return stored, saved, nil
}

// cursorAdvancesTo reports whether a just-registered batch becomes the active one: the drug
// has no active batch yet, or the active batch is drained and b is the next in arrival order.
func (s *Service) cursorAdvancesTo(ctx context.Context, snap Snapshot, b Batch) (bool, error) {
	if snap.ActiveBatchID == nil {
		return true, nil
	}
	if snap.ActiveBatchRemaining.IsPositive() {
		return false, nil
	}
	active, err := s.repos.Batches.GetBatch(ctx, *snap.ActiveBatchID)
	if err != nil {
		return false, fmt.Errorf("load active batch %s: %w", *snap.ActiveBatchID, err)
	}
	next, ok, err := s.repos.Batches.NextBatch(ctx, b.DrugID, active.ArrivalOrder)
	if err != nil {
		return false, err
	}
	return ok && next.ID == b.ID, nil
}

// snapshotForReceipt locks the month snapshot, opening an empty one for a drug that has
// never been stocked.
func (s *Service) snapshotForReceipt(ctx context.Context, drugID id.ID, month period.Month) (Snapshot, error) {
	snaps, err := s.ensureMonth(ctx, []id.ID{drugID}, month, true)
	if err == nil {
		return snaps[drugID], nil
	}
	if !apperror.HasCode(err, apperror.CodeMissingPriorInventory) {
		return Snapshot{}, err
	}

	opening := Snapshot{DrugID: drugID, Month: month, Version: 1, UpdatedAt: s.now()}
	if _, err := s.repos.Snapshots.CreateIfAbsent(ctx, opening); err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot %s: %w", opening.key(), err)
	}
	return s.repos.Snapshots.GetForUpdate(ctx, drugID, month)
}

// currentMonthOf returns the month of t when it is the current ledger month. Stock moves
// only through the open month: a later month would freeze a carried copy of the cursor and
// an earlier one has already been carried into the current month.
func (s *Service) currentMonthOf(t time.Time, field string) (period.Month, error) {
	now := s.now()
	month, current := period.Of(t.In(now.Location())), period.Of(now)
	if month != current {
		return period.Month{}, apperror.NewValidation("adjustments are only accepted for the current month").
			WithDetail("field", field).
			WithDetail("month", month.Key()).
			WithDetail("currentMonth", current.Key())
	}
	return month, nil
}

// AdjustForDefect pulls units of a batch that were sold back into stock after a defect was
// found: sold decreases and remaining increases for the current month. When the
// batch is the active one its in-batch remaining is restored too, capped at the batch's
// received quantity. Earlier batches are not reopened.
func (s *Service) AdjustForDefect(ctx context.Context, batchID, drugID id.ID, quantity types.Quantity, recoveryTime time.Time) (Snapshot, error) {
	if !quantity.IsPositive() {
		return Snapshot{}, apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	if recoveryTime.IsZero() {
		recoveryTime = s.now()
	}
	month, err := s.currentMonthOf(recoveryTime, "recoveredAt")
	if err != nil {
		return Snapshot{}, err
	}

	var saved Snapshot
	err = s.runWithRetry(ctx, "adjust_defect", func(ctx context.Context) error {
		batch, err := s.repos.Batches.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.DrugID != drugID {
			return apperror.NewValidation("batch does not belong to drug").
				WithDetail("batchId", batchID.String()).
				WithDetail("drugId", drugID.String())
		}

		snaps, err := s.ensureMonth(ctx, []id.ID{drugID}, month, true)
		if err != nil {
			return err
		}
		before := snaps[drugID]

		if quantity > before.Sold {
			return apperror.NewValidation("cannot recover more units than were sold this month").
				WithDetail("quantity", quantity.Int64()).
				WithDetail("sold", before.Sold.Int64()).
				WithDetail("month", month.Key())
		}

		after := before
		after.Sold -= quantity
		after.Remaining += quantity
		if after.ActiveBatchID != nil && *after.ActiveBatchID == batchID {
			after.ActiveBatchRemaining = types.Min(after.ActiveBatchRemaining+quantity, batch.ReceivedQuantity)
		}
		after.UpdatedAt = s.now()

		if err := s.repos.Defects.RecordDefect(ctx, DefectRecovery{
			ID:          id.New(),
			BatchID:     batchID,
			DrugID:      drugID,
			Quantity:    quantity,
			RecoveredAt: recoveryTime,
			CreatedAt:   s.now(),
		}); err != nil {
			return fmt.Errorf("record defect: %w", err)
		}

		if saved, err = s.saveSnapshot(ctx, before, after); err != nil {
			return err
		}

		return s.repos.Events.Publish(ctx, Event{
			AggregateType: aggregateBatch,
			AggregateID:   batchID,
			EventType:     EventDefectRecovered,
			Payload: StockChangedPayload{
				DrugID:    drugID,
				BatchID:   &batchID,
				Month:     month.Key(),
				Quantity:  quantity,
				Remaining: saved.Remaining,
			},
		})
	})
	if err != nil {
		return Snapshot{}, err
	}

	logger.Info(ctx, "defect recovered",
		"batch_id", batchID,
		"drug_id", drugID,
		"quantity", quantity,
		"month", month.Key(),
	)
	return saved, nil
}

// WriteOffDamaged removes damaged units from the month's stock.
// Only whole-month counters change; the batch cursor is left as is.
func (s *Service) WriteOffDamaged(ctx context.Context, drugID id.ID, quantity types.Quantity, at time.Time) (Snapshot, error) {
	if !quantity.IsPositive() {
		return Snapshot{}, apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	if at.IsZero() {
		at = s.now()
	}
	month, err := s.currentMonthOf(at, "at")
	if err != nil {
		return Snapshot{}, err
	}

	var saved Snapshot
	err = s.runWithRetry(ctx, "write_off", func(ctx context.Context) error {
		snaps, err := s.ensureMonth(ctx, []id.ID{drugID}, month, true)
		if err != nil {
			return err
		}
		before := snaps[drugID]

		if err := evaluate([]SaleLine{{DrugID: drugID, Quantity: quantity}}, snaps, month).Err(); err != nil {
			return err
		}

		after := before
		after.Damaged += quantity
		after.Remaining -= quantity
		after.UpdatedAt = s.now()

		if saved, err = s.saveSnapshot(ctx, before, after); err != nil {
			return err
		}

		return s.repos.Events.Publish(ctx, Event{
			AggregateType: aggregateDrug,
			AggregateID:   drugID,
			EventType:     EventDamageWrittenOff,
			Payload: StockChangedPayload{
				DrugID:    drugID,
				Month:     month.Key(),
				Quantity:  quantity,
				Remaining: saved.Remaining,
			},
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return saved, nil
}

// RollForward opens month for every drug that had a snapshot in the previous month.
// Each drug runs in its own transaction; it returns how many snapshots were created.
func (s *Service) RollForward(ctx context.Context, month period.Month) (int, error) {
	prev := month.Previous(s.cfg.MonthMode)
	drugIDs, err := s.repos.Snapshots.ListDrugs(ctx, prev)
	if err != nil {
		return 0, fmt.Errorf("list drugs of %s: %w", prev.Key(), err)
	}

	created := 0
	for _, drugID := range drugIDs {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		var made bool
		err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			_, err := s.repos.Snapshots.Get(ctx, drugID, month)
			if err == nil {
				return nil
			}
			if !apperror.IsNotFound(err) {
				return err
			}
			_, made, err = s.carryForward(ctx, drugID, month)
			return err
		})
		if err != nil {
			return created, fmt.Errorf("roll forward %s: %w", drugID, err)
		}
		if made {
			created++
		}
	}

	logger.Info(ctx, "month rolled forward",
		"month", month.Key(),
		"from", prev.Key(),
		"drugs", len(drugIDs),
		"created", created,
	)
	return created, nil
}
