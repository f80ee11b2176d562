package ledger

import (
	"context"
	"fmt"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/pkg/logger"
)

// ensureMonth returns the snapshot of month for every drug, carrying missing ones forward
// from the drug's latest earlier snapshot. With lock set, rows are read FOR UPDATE in
// ascending drug-ID order so concurrent sales over overlapping drugs cannot deadlock.
//
// Drugs with no earlier snapshot at all are collected and reported together as
// MISSING_PRIOR_INVENTORY.
func (s *Service) ensureMonth(ctx context.Context, drugIDs []id.ID, month period.Month, lock bool) (map[id.ID]Snapshot, error) {
	ordered := id.SortUnique(drugIDs)
	out := make(map[id.ID]Snapshot, len(ordered))
	var missing []id.ID

	for _, drugID := range ordered {
		snap, err := s.loadSnapshot(ctx, drugID, month, lock)
		if err == nil {
			out[drugID] = snap
			continue
		}
		if !apperror.IsNotFound(err) {
			return nil, err
		}

		created, found, err := s.carryForward(ctx, drugID, month)
		if err != nil {
			return nil, err
		}
		if !found {
			missing = append(missing, drugID)
			continue
		}
		if lock {
			if created, err = s.loadSnapshot(ctx, drugID, month, true); err != nil {
				return nil, err
			}
		}
		out[drugID] = created
	}

	if len(missing) > 0 {
		return nil, apperror.NewMissingPriorInventory(id.Strings(missing))
	}
	return out, nil
}

func (s *Service) loadSnapshot(ctx context.Context, drugID id.ID, month period.Month, lock bool) (Snapshot, error) {
	if lock {
		return s.repos.Snapshots.GetForUpdate(ctx, drugID, month)
	}
	return s.repos.Snapshots.Get(ctx, drugID, month)
}

// carryForward creates the snapshot of month from the latest earlier one.
// found is false when the drug has no ledger history before month.
func (s *Service) carryForward(ctx context.Context, drugID id.ID, month period.Month) (snap Snapshot, found bool, err error) {
	prior, err := s.priorSnapshot(ctx, drugID, month)
	if err != nil {
		if apperror.IsNotFound(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}

	next := prior.carriedInto(month, s.now())
	created, err := s.repos.Snapshots.CreateIfAbsent(ctx, next)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("create snapshot %s: %w", next.key(), err)
	}
	if !created {
		// Another transaction carried it forward first.
		existing, err := s.repos.Snapshots.Get(ctx, drugID, month)
		return existing, true, err
	}

	if err := s.repos.Audit.LogChange(ctx, auditEntitySnapshot, next.key(), auditActionCarryForward, map[string]any{
		"from":         prior.Month.Key(),
		"priorBalance": next.PriorBalance.Int64(),
	}); err != nil {
		return Snapshot{}, false, fmt.Errorf("audit carry-forward: %w", err)
	}
	if err := s.repos.Events.Publish(ctx, Event{
		AggregateType: aggregateDrug,
		AggregateID:   drugID,
		EventType:     EventSnapshotCarried,
		Payload: StockChangedPayload{
			DrugID:    drugID,
			BatchID:   next.ActiveBatchID,
			Month:     month.Key(),
			Remaining: next.Remaining,
		},
	}); err != nil {
		return Snapshot{}, false, fmt.Errorf("publish carry-forward: %w", err)
	}

	logger.Debug(ctx, "snapshot carried forward",
		"drug_id", drugID,
		"from", prior.Month.Key(),
		"to", month.Key(),
		"balance", next.Remaining,
	)
	return next, true, nil
}

// priorSnapshot finds the snapshot to carry into month. In legacy month mode the exact
// previous month key is tried first.
func (s *Service) priorSnapshot(ctx context.Context, drugID id.ID, month period.Month) (Snapshot, error) {
	if s.cfg.MonthMode == period.ModeLegacy {
		snap, err := s.repos.Snapshots.Get(ctx, drugID, month.Previous(period.ModeLegacy))
		if err == nil {
			return snap, nil
		}
		if !apperror.IsNotFound(err) {
			return Snapshot{}, err
		}
	}
	return s.repos.Snapshots.Latest(ctx, drugID, month)
}
