package ledger

import (
	"context"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/types"
)

// LineAvailability is the stock verdict for one drug of a sale.
type LineAvailability struct {
	DrugID    id.ID          `json:"drugId"`
	Requested types.Quantity `json:"requested"`
	Available types.Quantity `json:"available"`
	Shortfall types.Quantity `json:"shortfall"`
}

// Availability is the result of checking a whole sale.
type Availability struct {
	Month period.Month       `json:"-"`
	Lines []LineAvailability `json:"lines"`
}

// OK reports whether every line is covered.
func (a Availability) OK() bool {
	for _, l := range a.Lines {
		if l.Shortfall.IsPositive() {
			return false
		}
	}
	return true
}

// Err returns INSUFFICIENT_STOCK listing every short line, or nil.
func (a Availability) Err() error {
	var short []apperror.Shortage
	for _, l := range a.Lines {
		if l.Shortfall.IsPositive() {
			short = append(short, apperror.Shortage{
				DrugID:    l.DrugID.String(),
				Requested: l.Requested.Int64(),
				Available: l.Available.Int64(),
				Shortfall: l.Shortfall.Int64(),
			})
		}
	}
	if len(short) == 0 {
		return nil
	}
	return apperror.NewInsufficientStock(short).WithDetail("month", a.Month.Key())
}

// evaluate compares requested quantities with whole-month remaining stock.
// Lines of the same drug are summed; output keeps first-seen drug order.
func evaluate(lines []SaleLine, snaps map[id.ID]Snapshot, month period.Month) Availability {
	requested := make(map[id.ID]types.Quantity, len(lines))
	order := make([]id.ID, 0, len(lines))
	for _, l := range lines {
		if _, seen := requested[l.DrugID]; !seen {
			order = append(order, l.DrugID)
		}
		requested[l.DrugID] += l.Quantity
	}

	out := Availability{Month: month, Lines: make([]LineAvailability, 0, len(order))}
	for _, drugID := range order {
		req := requested[drugID]
		avail := snaps[drugID].Remaining
		var short types.Quantity
		if req > avail {
			short = req - avail
		}
		out.Lines = append(out.Lines, LineAvailability{
			DrugID:    drugID,
			Requested: req,
			Available: avail,
			Shortfall: short,
		})
	}
	return out
}

// CheckAvailability reports, per drug, whether this month's remaining stock covers the
// requested lines. It does not lock or mutate anything except creating missing month
// snapshots by carry-forward.
//
// The check is against whole-month remaining, not the active batch, because allocation may
// span several batches.
func (s *Service) CheckAvailability(ctx context.Context, lines []SaleLine) (Availability, error) {
	if err := validateLines(lines); err != nil {
		return Availability{}, err
	}

	month := period.Of(s.now())
	var result Availability
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		snaps, err := s.ensureMonth(ctx, drugIDsOf(lines), month, false)
		if err != nil {
			return err
		}
		result = evaluate(lines, snaps, month)
		return nil
	})
	if err != nil {
		return Availability{}, err
	}
	return result, nil
}

func drugIDsOf(lines []SaleLine) []id.ID {
	ids := make([]id.ID, len(lines))
	for i, l := range lines {
		ids[i] = l.DrugID
	}
	return ids
}
