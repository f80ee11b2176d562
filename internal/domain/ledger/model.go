// Package ledger implements the monthly inventory ledger and the FIFO lot-allocation engine.
//
// Every drug has one snapshot per calendar month holding running totals and a cursor into
// the batch currently being drawn down. Sales consume the active batch first and then walk
// forward through later batches in arrival order.
package ledger

import (
	"fmt"
	"time"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/types"
)

// Drug is the catalog item as seen by the ledger. Owned by the catalog, read only here.
type Drug struct {
	ID       id.ID  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	SaleUnit string `db:"sale_unit" json:"saleUnit"`

	// ConversionFactor is how many sale units one received unit yields.
	ConversionFactor int64 `db:"conversion_factor" json:"conversionFactor"`

	UnitPrice types.Money `db:"unit_price" json:"unitPrice"`
	VATRate   types.Rate  `db:"vat_rate" json:"vatRate"`
}

// Batch is one received shipment line.
type Batch struct {
	ID     id.ID `db:"id" json:"id"`
	DrugID id.ID `db:"drug_id" json:"drugId"`

	// ReceivedQuantity is in sale units, after the drug's conversion factor.
	ReceivedQuantity types.Quantity `db:"received_quantity" json:"receivedQuantity"`
	UnitCost         types.Money    `db:"unit_cost" json:"unitCost"`
	VATRate          types.Rate     `db:"vat_rate" json:"vatRate"`
	ExpiryDate       time.Time      `db:"expiry_date" json:"expiryDate"`

	// ArrivalOrder is globally monotonic by receipt and is the sole FIFO key.
	ArrivalOrder int64     `db:"arrival_order" json:"arrivalOrder"`
	ReceivedAt   time.Time `db:"received_at" json:"receivedAt"`
}

// Validate checks the fields a receipt must carry.
func (b Batch) Validate() error {
	if id.IsNil(b.DrugID) {
		return apperror.NewValidation("drug is required").WithDetail("field", "drugId")
	}
	if !b.ReceivedQuantity.IsPositive() {
		return apperror.NewValidation("received quantity must be positive").WithDetail("field", "receivedQuantity")
	}
	if b.UnitCost.IsNegative() {
		return apperror.NewValidation("unit cost must not be negative").WithDetail("field", "unitCost")
	}
	if b.VATRate.IsNegative() {
		return apperror.NewValidation("vat rate must not be negative").WithDetail("field", "vatRate")
	}
	if b.ExpiryDate.IsZero() {
		return apperror.NewValidation("expiry date is required").WithDetail("field", "expiryDate")
	}
	return nil
}

// Snapshot is the ledger row of one drug in one month.
type Snapshot struct {
	DrugID id.ID        `json:"drugId"`
	Month  period.Month `json:"-"`

	PriorBalance types.Quantity `json:"priorBalance"`
	Received     types.Quantity `json:"received"`
	Sold         types.Quantity `json:"sold"`
	Damaged      types.Quantity `json:"damaged"`
	Remaining    types.Quantity `json:"remaining"`

	// ActiveBatchID is nil until the drug receives its first batch.
	ActiveBatchID        *id.ID         `json:"activeBatchId,omitempty"`
	ActiveBatchRemaining types.Quantity `json:"activeBatchRemaining"`

	// Version for optimistic locking (incremented on each save)
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CheckBalance verifies remaining == prior + received - sold - damaged and that no counter is negative.
func (s Snapshot) CheckBalance() error {
	want := s.PriorBalance + s.Received - s.Sold - s.Damaged
	if s.Remaining != want {
		return apperror.NewIntegrityViolation("snapshot balance does not add up").
			WithDetail("drugId", s.DrugID.String()).
			WithDetail("month", s.Month.Key()).
			WithDetail("remaining", s.Remaining.Int64()).
			WithDetail("expected", want.Int64())
	}
	if s.Remaining.IsNegative() || s.Sold.IsNegative() || s.Damaged.IsNegative() || s.ActiveBatchRemaining.IsNegative() {
		return apperror.NewIntegrityViolation("snapshot counter went negative").
			WithDetail("drugId", s.DrugID.String()).
			WithDetail("month", s.Month.Key())
	}
	return nil
}

func (s Snapshot) key() string {
	return fmt.Sprintf("%s/%s", s.DrugID, s.Month.Key())
}

// carriedInto builds the first snapshot of month from s, the latest earlier snapshot.
func (s Snapshot) carriedInto(month period.Month, now time.Time) Snapshot {
	var active *id.ID
	if s.ActiveBatchID != nil {
		v := *s.ActiveBatchID
		active = &v
	}
	return Snapshot{
		DrugID:               s.DrugID,
		Month:                month,
		PriorBalance:         s.Remaining,
		Remaining:            s.Remaining,
		ActiveBatchID:        active,
		ActiveBatchRemaining: s.ActiveBatchRemaining,
		Version:              1,
		UpdatedAt:            now,
	}
}

// AllocationRecord attributes part of a sale line to one batch.
type AllocationRecord struct {
	ID           id.ID          `db:"id" json:"id" validate:"required"`
	SaleID       id.ID          `db:"sale_id" json:"saleId" validate:"required"`
	LineNo       int            `db:"line_no" json:"lineNo" validate:"gte=1"`
	DrugID       id.ID          `db:"drug_id" json:"drugId" validate:"required"`
	BatchID      id.ID          `db:"batch_id" json:"batchId" validate:"required"`
	ArrivalOrder int64          `db:"arrival_order" json:"arrivalOrder" validate:"gte=1"`
	Quantity     types.Quantity `db:"quantity" json:"quantity" validate:"gt=0"`
	UnitPrice    types.Money    `db:"unit_price" json:"unitPrice" validate:"gte=0"`
	VATRate      types.Rate     `db:"vat_rate" json:"vatRate" validate:"gte=0"`
	ExpiryDate   time.Time      `db:"expiry_date" json:"expiryDate" validate:"required"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}

// SaleLine is one requested drug quantity.
type SaleLine struct {
	DrugID   id.ID          `json:"drugId"`
	Quantity types.Quantity `json:"quantity"`
}

// Sale is the outgoing export document. Only the lines matter to the ledger.
type Sale struct {
	ID         id.ID      `json:"id"`
	Date       time.Time  `json:"date"`
	StaffID    string     `json:"staffId,omitempty"`
	CustomerID string     `json:"customerId,omitempty"`
	Lines      []SaleLine `json:"lines"`
}

// Validate checks the sale can be allocated.
func (s Sale) Validate() error {
	if id.IsNil(s.ID) {
		return apperror.NewValidation("sale id is required").WithDetail("field", "id")
	}
	return validateLines(s.Lines)
}

func validateLines(lines []SaleLine) error {
	if len(lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}
	for i, line := range lines {
		if id.IsNil(line.DrugID) {
			return apperror.NewValidation("drug is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if !line.Quantity.IsPositive() {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
	}
	return nil
}

// Allocation is the outcome of a committed sale.
type Allocation struct {
	SaleID    id.ID              `json:"saleId"`
	Records   []AllocationRecord `json:"records"`
	Snapshots []Snapshot         `json:"snapshots"`
}

// DefectRecovery journals units pulled back into stock after a post-sale defect report.
type DefectRecovery struct {
	ID          id.ID          `db:"id" json:"id"`
	BatchID     id.ID          `db:"batch_id" json:"batchId"`
	DrugID      id.ID          `db:"drug_id" json:"drugId"`
	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	RecoveredAt time.Time      `db:"recovered_at" json:"recoveredAt"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}
