package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgtype"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
)

type batchRow struct {
	ID               id.ID          `db:"id"`
	DrugID           id.ID          `db:"drug_id"`
	ReceivedQuantity int64          `db:"received_quantity"`
	UnitCost         pgtype.Numeric `db:"unit_cost"`
	VATRate          pgtype.Numeric `db:"vat_rate"`
	ExpiryDate       time.Time      `db:"expiry_date"`
	ArrivalOrder     int64          `db:"arrival_order"`
	ReceivedAt       time.Time      `db:"received_at"`
}

var batchColumns = postgres.ExtractDBColumns[batchRow]()

func (r batchRow) toDomain() ledger.Batch {
	return ledger.Batch{
		ID:               r.ID,
		DrugID:           r.DrugID,
		ReceivedQuantity: types.Quantity(r.ReceivedQuantity),
		UnitCost:         fromNumeric(r.UnitCost),
		VATRate:          fromNumeric(r.VATRate),
		ExpiryDate:       r.ExpiryDate,
		ArrivalOrder:     r.ArrivalOrder,
		ReceivedAt:       r.ReceivedAt,
	}
}

// BatchRepo is the registry of received batches.
type BatchRepo struct {
	txManager *postgres.TxManager
}

var _ ledger.BatchRegistry = (*BatchRepo)(nil)

// NewBatchRepo creates a new batch repository.
func NewBatchRepo(txManager *postgres.TxManager) *BatchRepo {
	return &BatchRepo{txManager: txManager}
}

func (r *BatchRepo) get(ctx context.Context, q squirrel.SelectBuilder) (ledger.Batch, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return ledger.Batch{}, fmt.Errorf("build query: %w", err)
	}
	var row batchRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, query, args...); err != nil {
		return ledger.Batch{}, err
	}
	return row.toDomain(), nil
}

func selectBatches() squirrel.SelectBuilder {
	return builder().Select(batchColumns...).From(tableBatches)
}

// GetBatch returns a batch by ID.
func (r *BatchRepo) GetBatch(ctx context.Context, batchID id.ID) (ledger.Batch, error) {
	b, err := r.get(ctx, selectBatches().Where(squirrel.Eq{"id": batchID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return ledger.Batch{}, apperror.NewNotFound("batch", batchID.String())
		}
		return ledger.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func nextBatchQuery(drugID id.ID, afterArrival int64) squirrel.SelectBuilder {
	return selectBatches().
		Where(squirrel.Eq{"drug_id": drugID}).
		Where(squirrel.Gt{"arrival_order": afterArrival}).
		OrderBy("arrival_order").
		Limit(1)
}

// NextBatch returns the drug's first batch that arrived after afterArrival.
func (r *BatchRepo) NextBatch(ctx context.Context, drugID id.ID, afterArrival int64) (ledger.Batch, bool, error) {
	b, err := r.get(ctx, nextBatchQuery(drugID, afterArrival))
	if err != nil {
		if pgxscan.NotFound(err) {
			return ledger.Batch{}, false, nil
		}
		return ledger.Batch{}, false, fmt.Errorf("next batch: %w", err)
	}
	return b, true, nil
}

func registerBatchQuery(b ledger.Batch) (string, []any, error) {
	return builder().
		Insert(tableBatches).
		Columns("id", "drug_id", "received_quantity", "unit_cost", "vat_rate", "expiry_date", "received_at").
		Values(b.ID, b.DrugID, b.ReceivedQuantity.Int64(), toNumeric(b.UnitCost), toNumeric(b.VATRate), b.ExpiryDate, b.ReceivedAt).
		Suffix("RETURNING arrival_order").
		ToSql()
}

// RegisterBatch inserts the batch; the arrival order comes from a database sequence so it is
// monotonic across concurrent receipts.
func (r *BatchRepo) RegisterBatch(ctx context.Context, b *ledger.Batch) error {
	query, args, err := registerBatchQuery(*b)
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, query, args...).Scan(&b.ArrivalOrder); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewDuplicate("batch", "id", b.ID.String())
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}
