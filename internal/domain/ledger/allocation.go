package ledger

import (
	"context"
	"fmt"
	"time"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/types"
)

// lineRequest is one sale line ready for allocation.
type lineRequest struct {
	SaleID   id.ID
	LineNo   int
	Quantity types.Quantity
	At       time.Time
}

// allocateLine draws req.Quantity from the snapshot's active batch and, when that is not
// enough, from later batches in arrival order. It returns the updated snapshot value and one
// record per batch touched. Nothing is persisted; on error the caller must discard both.
//
// Batches with an arrival order at or before the active one are never read: they are
// exhausted by construction.
func allocateLine(ctx context.Context, batches BatchRegistry, snap Snapshot, req lineRequest) (Snapshot, []AllocationRecord, error) {
	var (
		active    *Batch
		inBatch   types.Quantity
		cursorArr int64
	)

	if snap.ActiveBatchID != nil {
		b, err := batches.GetBatch(ctx, *snap.ActiveBatchID)
		if err != nil {
			return snap, nil, fmt.Errorf("load active batch %s: %w", *snap.ActiveBatchID, err)
		}
		if b.DrugID != snap.DrugID {
			return snap, nil, apperror.NewIntegrityViolation("active batch belongs to another drug").
				WithDetail("drugId", snap.DrugID.String()).
				WithDetail("batchId", b.ID.String())
		}
		if snap.ActiveBatchRemaining > b.ReceivedQuantity {
			return snap, nil, apperror.NewIntegrityViolation("active batch remaining exceeds received quantity").
				WithDetail("batchId", b.ID.String()).
				WithDetail("activeBatchRemaining", snap.ActiveBatchRemaining.Int64()).
				WithDetail("receivedQuantity", b.ReceivedQuantity.Int64())
		}
		active = &b
		inBatch = snap.ActiveBatchRemaining
		cursorArr = b.ArrivalOrder
	}

	need := req.Quantity
	records := make([]AllocationRecord, 0, 1)

	draw := func(b Batch, qty types.Quantity) error {
		rec := AllocationRecord{
			ID:           id.New(),
			SaleID:       req.SaleID,
			LineNo:       req.LineNo,
			DrugID:       snap.DrugID,
			BatchID:      b.ID,
			ArrivalOrder: b.ArrivalOrder,
			Quantity:     qty,
			UnitPrice:    b.UnitCost,
			VATRate:      b.VATRate,
			ExpiryDate:   b.ExpiryDate,
			CreatedAt:    req.At,
		}
		if err := validateRecord(rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	}

	if active != nil && inBatch.IsPositive() {
		take := types.Min(inBatch, need)
		if err := draw(*active, take); err != nil {
			return snap, nil, err
		}
		inBatch -= take
		need -= take
	}

	for need.IsPositive() {
		next, ok, err := batches.NextBatch(ctx, snap.DrugID, cursorArr)
		if err != nil {
			return snap, nil, fmt.Errorf("load batch after arrival %d: %w", cursorArr, err)
		}
		if !ok {
			return snap, nil, apperror.NewIntegrityViolation("batches exhausted before sale line was covered").
				WithDetail("drugId", snap.DrugID.String()).
				WithDetail("month", snap.Month.Key()).
				WithDetail("lineNo", req.LineNo).
				WithDetail("requested", req.Quantity.Int64()).
				WithDetail("uncovered", need.Int64())
		}
		cursorArr = next.ArrivalOrder
		if !next.ReceivedQuantity.IsPositive() {
			continue
		}

		take := types.Min(next.ReceivedQuantity, need)
		if err := draw(next, take); err != nil {
			return snap, nil, err
		}
		b := next
		active = &b
		inBatch = next.ReceivedQuantity - take
		need -= take
	}

	updated := snap
	if active != nil {
		activeID := active.ID
		updated.ActiveBatchID = &activeID
	}
	updated.ActiveBatchRemaining = inBatch
	updated.Sold += req.Quantity
	updated.Remaining -= req.Quantity
	updated.UpdatedAt = req.At

	return updated, records, nil
}
