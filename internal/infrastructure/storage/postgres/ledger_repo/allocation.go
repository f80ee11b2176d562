package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgtype"

	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
)

type allocationRow struct {
	ID           id.ID          `db:"id"`
	SaleID       id.ID          `db:"sale_id"`
	LineNo       int            `db:"line_no"`
	DrugID       id.ID          `db:"drug_id"`
	BatchID      id.ID          `db:"batch_id"`
	ArrivalOrder int64          `db:"arrival_order"`
	Quantity     int64          `db:"quantity"`
	UnitPrice    pgtype.Numeric `db:"unit_price"`
	VATRate      pgtype.Numeric `db:"vat_rate"`
	ExpiryDate   time.Time      `db:"expiry_date"`
	CreatedAt    time.Time      `db:"created_at"`
}

var allocationColumns = postgres.ExtractDBColumns[allocationRow]()

func allocationRowOf(rec ledger.AllocationRecord) allocationRow {
	return allocationRow{
		ID:           rec.ID,
		SaleID:       rec.SaleID,
		LineNo:       rec.LineNo,
		DrugID:       rec.DrugID,
		BatchID:      rec.BatchID,
		ArrivalOrder: rec.ArrivalOrder,
		Quantity:     rec.Quantity.Int64(),
		UnitPrice:    toNumeric(rec.UnitPrice),
		VATRate:      toNumeric(rec.VATRate),
		ExpiryDate:   rec.ExpiryDate,
		CreatedAt:    rec.CreatedAt,
	}
}

func (r allocationRow) toDomain() ledger.AllocationRecord {
	return ledger.AllocationRecord{
		ID:           r.ID,
		SaleID:       r.SaleID,
		LineNo:       r.LineNo,
		DrugID:       r.DrugID,
		BatchID:      r.BatchID,
		ArrivalOrder: r.ArrivalOrder,
		Quantity:     types.Quantity(r.Quantity),
		UnitPrice:    fromNumeric(r.UnitPrice),
		VATRate:      fromNumeric(r.VATRate),
		ExpiryDate:   r.ExpiryDate,
		CreatedAt:    r.CreatedAt,
	}
}

// AllocationRepo persists allocation records.
type AllocationRepo struct {
	txManager *postgres.TxManager
	inserter  *postgres.BatchInserter
}

var _ ledger.AllocationRepository = (*AllocationRepo)(nil)

// NewAllocationRepo creates a new allocation repository.
func NewAllocationRepo(txManager *postgres.TxManager) *AllocationRepo {
	return &AllocationRepo{
		txManager: txManager,
		inserter:  postgres.NewBatchInserter(txManager),
	}
}

func allocationCopyRows(records []ledger.AllocationRecord) [][]any {
	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = postgres.StructValues(allocationRowOf(rec))
	}
	return rows
}

// CreateRecords writes the records of one sale with a single COPY.
func (r *AllocationRepo) CreateRecords(ctx context.Context, records []ledger.AllocationRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := r.inserter.CopyFromSlice(ctx, tableAllocations, allocationColumns, allocationCopyRows(records))
	return err
}

func listBySaleQuery(saleID id.ID) (string, []any, error) {
	return builder().
		Select(allocationColumns...).
		From(tableAllocations).
		Where(squirrel.Eq{"sale_id": saleID}).
		OrderBy("line_no", "arrival_order").
		ToSql()
}

// ListBySale returns a sale's records by line and arrival order.
func (r *AllocationRepo) ListBySale(ctx context.Context, saleID id.ID) ([]ledger.AllocationRecord, error) {
	query, args, err := listBySaleQuery(saleID)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []allocationRow
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}

	out := make([]ledger.AllocationRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
