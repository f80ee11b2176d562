// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"time"

	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
)

// DateLayout is the wire format of calendar dates such as expiry dates.
const DateLayout = "2006-01-02"

// --- Requests ---

// SaleLineRequest is one requested drug quantity.
type SaleLineRequest struct {
	DrugID   string `json:"drugId" binding:"required,uuid"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
}

// AvailabilityRequest asks whether stock covers the lines.
type AvailabilityRequest struct {
	Lines []SaleLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// AllocateRequest allocates a sale; the sale ID is taken from the path.
type AllocateRequest struct {
	Date       *time.Time        `json:"date"`
	StaffID    string            `json:"staffId"`
	CustomerID string            `json:"customerId"`
	Lines      []SaleLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// ReceiveBatchRequest registers a received shipment line.
type ReceiveBatchRequest struct {
	ID               string      `json:"id" binding:"omitempty,uuid"`
	DrugID           string      `json:"drugId" binding:"required,uuid"`
	ReceivedQuantity int64       `json:"receivedQuantity" binding:"required,gt=0"`
	UnitCost         types.Money `json:"unitCost"`
	VATRate          types.Rate  `json:"vatRate"`
	ExpiryDate       string      `json:"expiryDate" binding:"required,datetime=2006-01-02"`
}

// DefectRequest pulls defective units back into stock.
type DefectRequest struct {
	DrugID      string     `json:"drugId" binding:"required,uuid"`
	Quantity    int64      `json:"quantity" binding:"required,gt=0"`
	RecoveredAt *time.Time `json:"recoveredAt"`
}

// DamageRequest writes off damaged units.
type DamageRequest struct {
	Quantity int64      `json:"quantity" binding:"required,gt=0"`
	At       *time.Time `json:"at"`
}

// ToSaleLines converts validated request lines.
func ToSaleLines(lines []SaleLineRequest) ([]ledger.SaleLine, error) {
	out := make([]ledger.SaleLine, len(lines))
	for i, l := range lines {
		drugID, err := id.Parse(l.DrugID)
		if err != nil {
			return nil, err
		}
		out[i] = ledger.SaleLine{DrugID: drugID, Quantity: types.Quantity(l.Quantity)}
	}
	return out, nil
}

// ToBatch converts a receipt request.
func (r ReceiveBatchRequest) ToBatch() (ledger.Batch, error) {
	drugID, err := id.Parse(r.DrugID)
	if err != nil {
		return ledger.Batch{}, err
	}
	expiry, err := time.Parse(DateLayout, r.ExpiryDate)
	if err != nil {
		return ledger.Batch{}, err
	}
	b := ledger.Batch{
		DrugID:           drugID,
		ReceivedQuantity: types.Quantity(r.ReceivedQuantity),
		UnitCost:         r.UnitCost,
		VATRate:          r.VATRate,
		ExpiryDate:       expiry,
	}
	if r.ID != "" {
		if b.ID, err = id.Parse(r.ID); err != nil {
			return ledger.Batch{}, err
		}
	}
	return b, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// RecoveredTime returns the requested recovery time, zero meaning now.
func (r DefectRequest) RecoveredTime() time.Time { return timeOrZero(r.RecoveredAt) }

// Time returns the requested write-off time, zero meaning now.
func (r DamageRequest) Time() time.Time { return timeOrZero(r.At) }

// --- Responses ---

// SnapshotResponse is a monthly snapshot.
type SnapshotResponse struct {
	DrugID               string  `json:"drugId"`
	Month                string  `json:"month"`
	PriorBalance         int64   `json:"priorBalance"`
	Received             int64   `json:"received"`
	Sold                 int64   `json:"sold"`
	Damaged              int64   `json:"damaged"`
	Remaining            int64   `json:"remaining"`
	ActiveBatchID        *string `json:"activeBatchId,omitempty"`
	ActiveBatchRemaining int64   `json:"activeBatchRemaining"`
	Version              int     `json:"version"`
}

// FromSnapshot converts a snapshot to its response.
func FromSnapshot(s ledger.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		DrugID:               s.DrugID.String(),
		Month:                s.Month.Key(),
		PriorBalance:         s.PriorBalance.Int64(),
		Received:             s.Received.Int64(),
		Sold:                 s.Sold.Int64(),
		Damaged:              s.Damaged.Int64(),
		Remaining:            s.Remaining.Int64(),
		ActiveBatchRemaining: s.ActiveBatchRemaining.Int64(),
		Version:              s.Version,
	}
	if s.ActiveBatchID != nil {
		v := s.ActiveBatchID.String()
		resp.ActiveBatchID = &v
	}
	return resp
}

// AllocationRecordResponse attributes part of a line to a batch.
type AllocationRecordResponse struct {
	ID           string      `json:"id"`
	LineNo       int         `json:"lineNo"`
	DrugID       string      `json:"drugId"`
	BatchID      string      `json:"batchId"`
	ArrivalOrder int64       `json:"arrivalOrder"`
	Quantity     int64       `json:"quantity"`
	UnitPrice    types.Money `json:"unitPrice"`
	VATRate      types.Rate  `json:"vatRate"`
	ExpiryDate   string      `json:"expiryDate"`
}

// FromRecords converts allocation records.
func FromRecords(records []ledger.AllocationRecord) []AllocationRecordResponse {
	out := make([]AllocationRecordResponse, len(records))
	for i, r := range records {
		out[i] = AllocationRecordResponse{
			ID:           r.ID.String(),
			LineNo:       r.LineNo,
			DrugID:       r.DrugID.String(),
			BatchID:      r.BatchID.String(),
			ArrivalOrder: r.ArrivalOrder,
			Quantity:     r.Quantity.Int64(),
			UnitPrice:    r.UnitPrice,
			VATRate:      r.VATRate,
			ExpiryDate:   r.ExpiryDate.Format(DateLayout),
		}
	}
	return out
}

// AllocationResponse is the outcome of a committed sale.
type AllocationResponse struct {
	SaleID    string                     `json:"saleId"`
	Records   []AllocationRecordResponse `json:"records"`
	Snapshots []SnapshotResponse         `json:"snapshots,omitempty"`
}

// FromAllocation converts an allocation.
func FromAllocation(a *ledger.Allocation) AllocationResponse {
	resp := AllocationResponse{
		SaleID:  a.SaleID.String(),
		Records: FromRecords(a.Records),
	}
	for _, s := range a.Snapshots {
		resp.Snapshots = append(resp.Snapshots, FromSnapshot(s))
	}
	return resp
}

// LineAvailabilityResponse is the verdict for one drug.
type LineAvailabilityResponse struct {
	DrugID    string `json:"drugId"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
	Shortfall int64  `json:"shortfall"`
}

// AvailabilityResponse is the verdict for a sale.
type AvailabilityResponse struct {
	Month string                     `json:"month"`
	OK    bool                       `json:"ok"`
	Lines []LineAvailabilityResponse `json:"lines"`
}

// FromAvailability converts an availability check.
func FromAvailability(a ledger.Availability) AvailabilityResponse {
	resp := AvailabilityResponse{
		Month: a.Month.Key(),
		OK:    a.OK(),
		Lines: make([]LineAvailabilityResponse, len(a.Lines)),
	}
	for i, l := range a.Lines {
		resp.Lines[i] = LineAvailabilityResponse{
			DrugID:    l.DrugID.String(),
			Requested: l.Requested.Int64(),
			Available: l.Available.Int64(),
			Shortfall: l.Shortfall.Int64(),
		}
	}
	return resp
}

// BalanceResponse is a drug's current remaining stock.
type BalanceResponse struct {
	DrugID    string `json:"drugId"`
	Month     string `json:"month"`
	Remaining int64  `json:"remaining"`
}

// BatchResponse is a registered batch.
type BatchResponse struct {
	ID               string      `json:"id"`
	DrugID           string      `json:"drugId"`
	ReceivedQuantity int64       `json:"receivedQuantity"`
	UnitCost         types.Money `json:"unitCost"`
	VATRate          types.Rate  `json:"vatRate"`
	ExpiryDate       string      `json:"expiryDate"`
	ArrivalOrder     int64       `json:"arrivalOrder"`
	ReceivedAt       time.Time   `json:"receivedAt"`
}

// ReceiptResponse is a registered batch with the snapshot it changed.
type ReceiptResponse struct {
	Batch    BatchResponse    `json:"batch"`
	Snapshot SnapshotResponse `json:"snapshot"`
}

// FromReceipt converts the outcome of a receipt.
func FromReceipt(b ledger.Batch, s ledger.Snapshot) ReceiptResponse {
	return ReceiptResponse{
		Batch: BatchResponse{
			ID:               b.ID.String(),
			DrugID:           b.DrugID.String(),
			ReceivedQuantity: b.ReceivedQuantity.Int64(),
			UnitCost:         b.UnitCost,
			VATRate:          b.VATRate,
			ExpiryDate:       b.ExpiryDate.Format(DateLayout),
			ArrivalOrder:     b.ArrivalOrder,
			ReceivedAt:       b.ReceivedAt,
		},
		Snapshot: FromSnapshot(s),
	}
}
