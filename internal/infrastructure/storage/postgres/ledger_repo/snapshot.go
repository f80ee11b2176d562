package ledger_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
)

// snapshotRow stores the month twice: as the first day (for ordering) and as the MMYYYY key
// collaborators query by.
type snapshotRow struct {
	DrugID               id.ID     `db:"drug_id"`
	Month                time.Time `db:"month"`
	MonthKey             string    `db:"month_key"`
	PriorBalance         int64     `db:"prior_balance"`
	Received             int64     `db:"received"`
	Sold                 int64     `db:"sold"`
	Damaged              int64     `db:"damaged"`
	Remaining            int64     `db:"remaining"`
	ActiveBatchID        *id.ID    `db:"active_batch_id"`
	ActiveBatchRemaining int64     `db:"active_batch_remaining"`
	Version              int       `db:"version"`
	UpdatedAt            time.Time `db:"updated_at"`
}

var snapshotColumns = postgres.ExtractDBColumns[snapshotRow]()

func (r snapshotRow) toDomain() ledger.Snapshot {
	return ledger.Snapshot{
		DrugID:               r.DrugID,
		Month:                period.Of(r.Month),
		PriorBalance:         types.Quantity(r.PriorBalance),
		Received:             types.Quantity(r.Received),
		Sold:                 types.Quantity(r.Sold),
		Damaged:              types.Quantity(r.Damaged),
		Remaining:            types.Quantity(r.Remaining),
		ActiveBatchID:        r.ActiveBatchID,
		ActiveBatchRemaining: types.Quantity(r.ActiveBatchRemaining),
		Version:              r.Version,
		UpdatedAt:            r.UpdatedAt,
	}
}

func snapshotRowOf(s ledger.Snapshot) snapshotRow {
	return snapshotRow{
		DrugID:               s.DrugID,
		Month:                s.Month.Start(),
		MonthKey:             s.Month.Key(),
		PriorBalance:         s.PriorBalance.Int64(),
		Received:             s.Received.Int64(),
		Sold:                 s.Sold.Int64(),
		Damaged:              s.Damaged.Int64(),
		Remaining:            s.Remaining.Int64(),
		ActiveBatchID:        s.ActiveBatchID,
		ActiveBatchRemaining: s.ActiveBatchRemaining.Int64(),
		Version:              s.Version,
		UpdatedAt:            s.UpdatedAt,
	}
}

// SnapshotRepo persists monthly snapshots.
type SnapshotRepo struct {
	txManager *postgres.TxManager
}

var _ ledger.SnapshotStore = (*SnapshotRepo)(nil)

// NewSnapshotRepo creates a new snapshot repository.
func NewSnapshotRepo(txManager *postgres.TxManager) *SnapshotRepo {
	return &SnapshotRepo{txManager: txManager}
}

func snapshotKey(drugID id.ID, month period.Month) string {
	return drugID.String() + "/" + month.Key()
}

func getSnapshotQuery(drugID id.ID, month period.Month, forUpdate bool) squirrel.SelectBuilder {
	q := builder().
		Select(snapshotColumns...).
		From(tableSnapshots).
		Where(squirrel.Eq{"drug_id": drugID, "month": month.Start()})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	return q
}

func latestSnapshotQuery(drugID id.ID, before period.Month) squirrel.SelectBuilder {
	return builder().
		Select(snapshotColumns...).
		From(tableSnapshots).
		Where(squirrel.Eq{"drug_id": drugID}).
		Where(squirrel.Lt{"month": before.Start()}).
		OrderBy("month DESC").
		Limit(1)
}

func (r *SnapshotRepo) getOne(ctx context.Context, q squirrel.SelectBuilder, key string) (ledger.Snapshot, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("build query: %w", err)
	}
	var row snapshotRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return ledger.Snapshot{}, apperror.NewNotFound("snapshot", key)
		}
		return ledger.Snapshot{}, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return row.toDomain(), nil
}

// Get returns the snapshot of (drug, month).
func (r *SnapshotRepo) Get(ctx context.Context, drugID id.ID, month period.Month) (ledger.Snapshot, error) {
	return r.getOne(ctx, getSnapshotQuery(drugID, month, false), snapshotKey(drugID, month))
}

// GetForUpdate returns the snapshot and holds its row lock until the transaction ends.
func (r *SnapshotRepo) GetForUpdate(ctx context.Context, drugID id.ID, month period.Month) (ledger.Snapshot, error) {
	if r.txManager.GetTx(ctx) == nil {
		return ledger.Snapshot{}, fmt.Errorf("lock snapshot %s requires transaction context", snapshotKey(drugID, month))
	}
	return r.getOne(ctx, getSnapshotQuery(drugID, month, true), snapshotKey(drugID, month))
}

// Latest returns the most recent snapshot before month.
func (r *SnapshotRepo) Latest(ctx context.Context, drugID id.ID, before period.Month) (ledger.Snapshot, error) {
	return r.getOne(ctx, latestSnapshotQuery(drugID, before), drugID.String()+"/<"+before.Key())
}

func createSnapshotQuery(s ledger.Snapshot) (string, []any, error) {
	row := snapshotRowOf(s)
	if row.Version == 0 {
		row.Version = 1
	}
	return builder().
		Insert(tableSnapshots).
		SetMap(postgres.StructToMap(row)).
		Suffix("ON CONFLICT (drug_id, month) DO NOTHING").
		ToSql()
}

// CreateIfAbsent inserts the snapshot unless another transaction already did.
// ON CONFLICT keeps the surrounding transaction usable when it loses the race.
func (r *SnapshotRepo) CreateIfAbsent(ctx context.Context, s ledger.Snapshot) (bool, error) {
	query, args, err := createSnapshotQuery(s)
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert snapshot %s: %w", snapshotKey(s.DrugID, s.Month), err)
	}
	return tag.RowsAffected() == 1, nil
}

func saveSnapshotQuery(s ledger.Snapshot, expectedVersion int) (string, []any, error) {
	row := snapshotRowOf(s)
	return builder().
		Update(tableSnapshots).
		Set("prior_balance", row.PriorBalance).
		Set("received", row.Received).
		Set("sold", row.Sold).
		Set("damaged", row.Damaged).
		Set("remaining", row.Remaining).
		Set("active_batch_id", row.ActiveBatchID).
		Set("active_batch_remaining", row.ActiveBatchRemaining).
		Set("updated_at", row.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"drug_id": row.DrugID, "month": row.Month}).
		Where(squirrel.Eq{"version": expectedVersion}).
		Suffix("RETURNING version").
		ToSql()
}

// Save writes the snapshot if its stored version is still expectedVersion.
func (r *SnapshotRepo) Save(ctx context.Context, s ledger.Snapshot, expectedVersion int) (ledger.Snapshot, error) {
	query, args, err := saveSnapshotQuery(s, expectedVersion)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("build update: %w", err)
	}

	var version int
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, query, args...).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Snapshot{}, apperror.NewConcurrentModification("snapshot", snapshotKey(s.DrugID, s.Month))
		}
		return ledger.Snapshot{}, fmt.Errorf("update snapshot %s: %w", snapshotKey(s.DrugID, s.Month), err)
	}

	s.Version = version
	return s, nil
}

func listDrugsQuery(month period.Month) (string, []any, error) {
	return builder().
		Select("drug_id").
		From(tableSnapshots).
		Where(squirrel.Eq{"month": month.Start()}).
		OrderBy("drug_id").
		ToSql()
}

// ListDrugs returns the drugs that have a snapshot for month, in ID order.
func (r *SnapshotRepo) ListDrugs(ctx context.Context, month period.Month) ([]id.ID, error) {
	query, args, err := listDrugsQuery(month)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var ids []id.ID
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list drugs of %s: %w", month.Key(), err)
	}
	return ids, nil
}
