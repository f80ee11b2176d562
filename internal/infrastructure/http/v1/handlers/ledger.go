package handlers

import (
	"github.com/gin-gonic/gin"

	"pharmaledger/internal/core/apperror"
	appctx "pharmaledger/internal/core/context"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/http/v1/dto"
)

// LedgerHandler exposes the inventory ledger over HTTP.
type LedgerHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(service *ledger.Service) *LedgerHandler {
	return &LedgerHandler{
		BaseHandler: NewBaseHandler(),
		service:     service,
	}
}

// CheckAvailability handles POST /ledger/availability.
func (h *LedgerHandler) CheckAvailability(c *gin.Context) {
	var req dto.AvailabilityRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := dto.ToSaleLines(req.Lines)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid drug id").WithDetail("field", "lines"))
		return
	}

	result, err := h.service.CheckAvailability(c.Request.Context(), lines)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromAvailability(result))
}

// Allocate handles POST /ledger/sales/:id/allocations.
func (h *LedgerHandler) Allocate(c *gin.Context) {
	saleID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.AllocateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := dto.ToSaleLines(req.Lines)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid drug id").WithDetail("field", "lines"))
		return
	}

	sale := ledger.Sale{
		ID:         saleID,
		StaffID:    req.StaffID,
		CustomerID: req.CustomerID,
		Lines:      lines,
	}
	if req.Date != nil {
		sale.Date = *req.Date
	}
	sale.StaffID = appctx.StaffFrom(c.Request.Context(), sale.StaffID)

	alloc, err := h.service.Allocate(c.Request.Context(), sale)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromAllocation(alloc))
}

// ListAllocations handles GET /ledger/sales/:id/allocations.
func (h *LedgerHandler) ListAllocations(c *gin.Context) {
	saleID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	records, err := h.service.ListAllocations(c.Request.Context(), saleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.AllocationResponse{SaleID: saleID.String(), Records: dto.FromRecords(records)})
}

// GetBalance handles GET /ledger/drugs/:id/balance.
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	drugID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	balance, err := h.service.GetCurrentBalance(c.Request.Context(), drugID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.BalanceResponse{
		DrugID:    drugID.String(),
		Month:     h.service.CurrentMonth().Key(),
		Remaining: balance.Int64(),
	})
}

// GetSnapshot handles GET /ledger/drugs/:id/snapshots/:month, month as MMYYYY.
func (h *LedgerHandler) GetSnapshot(c *gin.Context) {
	drugID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	month, err := period.ParseKey(c.Param("month"))
	if err != nil {
		h.Error(c, apperror.NewValidation("month must be MMYYYY").WithDetail("field", "month"))
		return
	}

	snap, err := h.service.GetSnapshot(c.Request.Context(), drugID, month)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSnapshot(snap))
}

// ReceiveBatch handles POST /ledger/batches.
func (h *LedgerHandler) ReceiveBatch(c *gin.Context) {
	var req dto.ReceiveBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}
	batch, err := req.ToBatch()
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid batch").WithDetail("error", err.Error()))
		return
	}

	stored, snap, err := h.service.ReceiveBatch(c.Request.Context(), batch)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromReceipt(stored, snap))
}

// RecoverDefect handles POST /ledger/batches/:id/defects.
func (h *LedgerHandler) RecoverDefect(c *gin.Context) {
	batchID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.DefectRequest
	if !h.BindJSON(c, &req) {
		return
	}
	drugID, ok := h.BodyID(c, req.DrugID, "drugId")
	if !ok {
		return
	}

	snap, err := h.service.AdjustForDefect(c.Request.Context(), batchID, drugID, types.Quantity(req.Quantity), req.RecoveredTime())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSnapshot(snap))
}

// WriteOffDamaged handles POST /ledger/drugs/:id/damage.
func (h *LedgerHandler) WriteOffDamaged(c *gin.Context) {
	drugID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.DamageRequest
	if !h.BindJSON(c, &req) {
		return
	}

	snap, err := h.service.WriteOffDamaged(c.Request.Context(), drugID, types.Quantity(req.Quantity), req.Time())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSnapshot(snap))
}

// RollForward handles POST /ledger/months/:month/roll-forward.
func (h *LedgerHandler) RollForward(c *gin.Context) {
	month, err := period.ParseKey(c.Param("month"))
	if err != nil {
		h.Error(c, apperror.NewValidation("month must be MMYYYY").WithDetail("field", "month"))
		return
	}

	created, err := h.service.RollForward(c.Request.Context(), month)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{"month": month.Key(), "created": created})
}
