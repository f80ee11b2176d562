package ledger_repo

import (
	"context"
	"fmt"

	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
)

// DefectRepo journals defect recoveries.
type DefectRepo struct {
	txManager *postgres.TxManager
}

var _ ledger.DefectJournal = (*DefectRepo)(nil)

// NewDefectRepo creates a new defect repository.
func NewDefectRepo(txManager *postgres.TxManager) *DefectRepo {
	return &DefectRepo{txManager: txManager}
}

func recordDefectQuery(d ledger.DefectRecovery) (string, []any, error) {
	return builder().
		Insert(tableDefects).
		Columns("id", "batch_id", "drug_id", "quantity", "recovered_at", "created_at").
		Values(d.ID, d.BatchID, d.DrugID, d.Quantity.Int64(), d.RecoveredAt, d.CreatedAt).
		ToSql()
}

// RecordDefect inserts a defect recovery row.
func (r *DefectRepo) RecordDefect(ctx context.Context, d ledger.DefectRecovery) error {
	query, args, err := recordDefectQuery(d)
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert defect recovery: %w", err)
	}
	return nil
}
