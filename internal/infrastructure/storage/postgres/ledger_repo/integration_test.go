package ledger_repo_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaledger/db"
	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
	"pharmaledger/internal/infrastructure/storage/postgres/ledger_repo"
)

// These tests need a scratch database:
//
//	PHARMALEDGER_TEST_DATABASE_URL=postgres://... go test ./internal/infrastructure/storage/postgres/...
//
// Every test works on its own drug, so the database does not need resetting between runs.

type pgEnv struct {
	txManager *postgres.TxManager
	repos     ledger.Repositories
	svc       *ledger.Service
}

func newPgEnv(t *testing.T) *pgEnv {
	t.Helper()
	dsn := os.Getenv("PHARMALEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PHARMALEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool.Pool, db.Migrations))

	txManager := postgres.NewTxManager(pool)
	repos, err := ledger_repo.NewRepositories(txManager)
	require.NoError(t, err)

	return &pgEnv{
		txManager: txManager,
		repos:     repos,
		svc:       ledger.NewService(repos, txManager, ledger.DefaultConfig()),
	}
}

// stockedDrug creates a drug and receives one batch of qty into the current month.
func (e *pgEnv) stockedDrug(t *testing.T, qty types.Quantity) (ledger.Drug, ledger.Batch) {
	t.Helper()
	ctx := context.Background()
	drug := ledger.Drug{
		ID:               id.New(),
		Name:             "Ibuprofen 400mg " + t.Name(),
		SaleUnit:         "tablet",
		ConversionFactor: 1,
		UnitPrice:        types.MustMoney("0.30"),
		VATRate:          types.MustMoney("10"),
	}
	require.NoError(t, ledger_repo.NewDrugRepo(e.txManager).UpsertDrug(ctx, drug))

	batch, _, err := e.svc.ReceiveBatch(ctx, ledger.Batch{
		DrugID:           drug.ID,
		ReceivedQuantity: qty,
		UnitCost:         types.MustMoney("0.12"),
		VATRate:          types.MustMoney("10"),
		ExpiryDate:       time.Now().AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	return drug, batch
}

func TestPostgres_ConcurrentSalesCannotOversell(t *testing.T) {
	env := newPgEnv(t)
	drug, _ := env.stockedDrug(t, 30)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.Allocate(context.Background(), ledger.Sale{
				ID:    id.New(),
				Lines: []ledger.SaleLine{{DrugID: drug.ID, Quantity: 20}},
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)

	balance, err := env.svc.GetCurrentBalance(context.Background(), drug.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(10), balance)
}

func TestPostgres_SameSaleConcurrentlyAllocatesOnce(t *testing.T) {
	env := newPgEnv(t)
	drug, _ := env.stockedDrug(t, 30)
	sale := ledger.Sale{
		ID:    id.New(),
		Lines: []ledger.SaleLine{{DrugID: drug.ID, Quantity: 10}},
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.Allocate(context.Background(), sale)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperror.HasCode(err, apperror.CodeConflict), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)

	records, err := env.svc.ListAllocations(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.Quantity(10), records[0].Quantity)
}

func TestPostgres_SaveRejectsStaleVersion(t *testing.T) {
	env := newPgEnv(t)
	drug, _ := env.stockedDrug(t, 5)
	ctx := context.Background()
	month := env.svc.CurrentMonth()

	err := env.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		snap, err := env.repos.Snapshots.GetForUpdate(ctx, drug.ID, month)
		require.NoError(t, err)

		saved, err := env.repos.Snapshots.Save(ctx, snap, snap.Version)
		require.NoError(t, err)
		assert.Equal(t, snap.Version+1, saved.Version)

		_, err = env.repos.Snapshots.Save(ctx, snap, snap.Version)
		return err
	})

	assert.True(t, apperror.IsConcurrentModification(err), "got %v", err)
}
