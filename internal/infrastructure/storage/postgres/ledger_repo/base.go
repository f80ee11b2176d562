// Package ledger_repo provides PostgreSQL implementations of the ledger repositories.
// Every repository receives the TxManager explicitly and runs on the transaction carried
// by the context when there is one.
package ledger_repo

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
)

const (
	tableDrugs       = "cat_drugs"
	tableBatches     = "ledger_batches"
	tableSnapshots   = "ledger_snapshots"
	tableAllocations = "ledger_allocations"
	tableDefects     = "ledger_defect_recoveries"
)

// builder returns a squirrel builder with PostgreSQL placeholder format.
func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// NewRepositories wires every ledger repository on one TxManager.
func NewRepositories(txManager *postgres.TxManager) (ledger.Repositories, error) {
	audit, err := postgres.NewAuditService(txManager)
	if err != nil {
		return ledger.Repositories{}, fmt.Errorf("audit service: %w", err)
	}
	return ledger.Repositories{
		Drugs:       NewDrugRepo(txManager),
		Batches:     NewBatchRepo(txManager),
		Snapshots:   NewSnapshotRepo(txManager),
		Allocations: NewAllocationRepo(txManager),
		Defects:     NewDefectRepo(txManager),
		Events:      postgres.NewOutboxPublisher(txManager),
		Audit:       audit,
	}, nil
}
