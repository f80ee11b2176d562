package ledger

import (
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/types"
)

// Event types written to the outbox.
const (
	EventSaleAllocated    = "ledger.sale_allocated"
	EventDefectRecovered  = "ledger.defect_recovered"
	EventBatchReceived    = "ledger.batch_received"
	EventDamageWrittenOff = "ledger.damage_written_off"
	EventSnapshotCarried  = "ledger.snapshot_carried_forward"
)

const (
	aggregateSale  = "Sale"
	aggregateBatch = "Batch"
	aggregateDrug  = "Drug"

	auditEntitySnapshot     = "MonthlySnapshot"
	auditActionUpdate       = "update"
	auditActionCarryForward = "carry_forward"
)

// Event is a ledger fact consumed by collaborators (notifications, recall, statistics).
type Event struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// SaleAllocatedPayload is the payload of EventSaleAllocated.
type SaleAllocatedPayload struct {
	SaleID  id.ID              `json:"saleId"`
	Records []AllocationRecord `json:"records"`
}

// StockChangedPayload is the payload of the single-drug stock events.
type StockChangedPayload struct {
	DrugID    id.ID          `json:"drugId"`
	BatchID   *id.ID         `json:"batchId,omitempty"`
	Month     string         `json:"month"`
	Quantity  types.Quantity `json:"quantity"`
	Remaining types.Quantity `json:"remaining"`
}
