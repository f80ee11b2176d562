package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgtype"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
)

type drugRow struct {
	ID               id.ID          `db:"id"`
	Name             string         `db:"name"`
	SaleUnit         string         `db:"sale_unit"`
	ConversionFactor int64          `db:"conversion_factor"`
	UnitPrice        pgtype.Numeric `db:"unit_price"`
	VATRate          pgtype.Numeric `db:"vat_rate"`
}

var drugColumns = postgres.ExtractDBColumns[drugRow]()

func (r drugRow) toDomain() ledger.Drug {
	return ledger.Drug{
		ID:               r.ID,
		Name:             r.Name,
		SaleUnit:         r.SaleUnit,
		ConversionFactor: r.ConversionFactor,
		UnitPrice:        fromNumeric(r.UnitPrice),
		VATRate:          fromNumeric(r.VATRate),
	}
}

func drugRowOf(d ledger.Drug) drugRow {
	return drugRow{
		ID:               d.ID,
		Name:             d.Name,
		SaleUnit:         d.SaleUnit,
		ConversionFactor: d.ConversionFactor,
		UnitPrice:        toNumeric(d.UnitPrice),
		VATRate:          toNumeric(d.VATRate),
	}
}

// DrugRepo reads the drug catalog.
type DrugRepo struct {
	txManager *postgres.TxManager
}

var _ ledger.DrugCatalog = (*DrugRepo)(nil)

// NewDrugRepo creates a new drug repository.
func NewDrugRepo(txManager *postgres.TxManager) *DrugRepo {
	return &DrugRepo{txManager: txManager}
}

func getDrugQuery(drugID id.ID) (string, []any, error) {
	return builder().
		Select(drugColumns...).
		From(tableDrugs).
		Where(squirrel.Eq{"id": drugID}).
		ToSql()
}

// GetDrug returns the catalog drug.
func (r *DrugRepo) GetDrug(ctx context.Context, drugID id.ID) (ledger.Drug, error) {
	query, args, err := getDrugQuery(drugID)
	if err != nil {
		return ledger.Drug{}, fmt.Errorf("build query: %w", err)
	}

	var row drugRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return ledger.Drug{}, apperror.NewNotFound("drug", drugID.String())
		}
		return ledger.Drug{}, fmt.Errorf("get drug: %w", err)
	}
	return row.toDomain(), nil
}

func upsertDrugQuery(d ledger.Drug) (string, []any, error) {
	return builder().
		Insert(tableDrugs).
		SetMap(postgres.StructToMap(drugRowOf(d))).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			sale_unit = EXCLUDED.sale_unit,
			conversion_factor = EXCLUDED.conversion_factor,
			unit_price = EXCLUDED.unit_price,
			vat_rate = EXCLUDED.vat_rate`).
		ToSql()
}

// UpsertDrug mirrors a catalog drug into the ledger database. Used by the seed command.
func (r *DrugRepo) UpsertDrug(ctx context.Context, d ledger.Drug) error {
	query, args, err := upsertDrugQuery(d)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert drug: %w", err)
	}
	return nil
}
