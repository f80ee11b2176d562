package ledger_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
)

var october = period.Month{Year: 2026, Month: time.October}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1.25", "-3.5", "10", "0.0001", "123456789.9876"} {
		t.Run(s, func(t *testing.T) {
			d := types.MustMoney(s)
			assert.True(t, d.Equal(fromNumeric(toNumeric(d))))
		})
	}
	assert.True(t, fromNumeric(toNumeric(types.Zero())).IsZero())
}

func TestSnapshotQueries(t *testing.T) {
	drugID := id.New()

	t.Run("get locks only when asked", func(t *testing.T) {
		query, args, err := getSnapshotQuery(drugID, october, false).ToSql()
		require.NoError(t, err)
		assert.Contains(t, query, "FROM ledger_snapshots WHERE drug_id = $1 AND month = $2")
		assert.NotContains(t, query, "FOR UPDATE")
		assert.Equal(t, []any{drugID, october.Start()}, args)

		query, _, err = getSnapshotQuery(drugID, october, true).ToSql()
		require.NoError(t, err)
		assert.Contains(t, query, "FOR UPDATE")
	})

	t.Run("latest is strictly earlier", func(t *testing.T) {
		query, args, err := latestSnapshotQuery(drugID, october).ToSql()
		require.NoError(t, err)
		assert.Contains(t, query, "month < $2")
		assert.Contains(t, query, "ORDER BY month DESC LIMIT 1")
		assert.Equal(t, []any{drugID, october.Start()}, args)
	})

	t.Run("create ignores conflicts", func(t *testing.T) {
		query, args, err := createSnapshotQuery(ledger.Snapshot{DrugID: drugID, Month: october, Remaining: 4, PriorBalance: 4})
		require.NoError(t, err)
		assert.Contains(t, query, "INSERT INTO ledger_snapshots")
		assert.Contains(t, query, "ON CONFLICT (drug_id, month) DO NOTHING")
		assert.Contains(t, args, "102026")
		assert.Len(t, args, len(snapshotColumns))
	})

	t.Run("save checks version", func(t *testing.T) {
		active := id.New()
		query, args, err := saveSnapshotQuery(ledger.Snapshot{
			DrugID: drugID, Month: october, Sold: 3, Remaining: 7, PriorBalance: 10,
			ActiveBatchID: &active, ActiveBatchRemaining: 2,
		}, 4)
		require.NoError(t, err)
		assert.Contains(t, query, "version = version + 1")
		assert.Contains(t, query, "WHERE drug_id = $9 AND month = $10 AND version = $11")
		assert.Contains(t, query, "RETURNING version")
		require.Len(t, args, 11)
		assert.Equal(t, 4, args[10])
		assert.Equal(t, &active, args[5])
	})

	t.Run("list drugs in id order", func(t *testing.T) {
		query, args, err := listDrugsQuery(october)
		require.NoError(t, err)
		assert.Equal(t, "SELECT drug_id FROM ledger_snapshots WHERE month = $1 ORDER BY drug_id", query)
		assert.Equal(t, []any{october.Start()}, args)
	})
}

func TestSnapshotRowMapping(t *testing.T) {
	active := id.New()
	s := ledger.Snapshot{
		DrugID: id.New(), Month: october,
		PriorBalance: 10, Received: 5, Sold: 6, Damaged: 1, Remaining: 8,
		ActiveBatchID: &active, ActiveBatchRemaining: 3, Version: 2,
		UpdatedAt: time.Date(2026, time.October, 3, 0, 0, 0, 0, time.UTC),
	}

	row := snapshotRowOf(s)
	assert.Equal(t, "102026", row.MonthKey)
	assert.Equal(t, time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC), row.Month)
	assert.Equal(t, s, row.toDomain())
}

func TestBatchQueries(t *testing.T) {
	drugID := id.New()

	query, args, err := nextBatchQuery(drugID, 7).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE drug_id = $1 AND arrival_order > $2 ORDER BY arrival_order LIMIT 1")
	assert.Equal(t, []any{drugID, int64(7)}, args)

	b := ledger.Batch{
		ID: id.New(), DrugID: drugID, ReceivedQuantity: 40,
		UnitCost: types.MustMoney("0.75"), VATRate: types.MustMoney("10"),
		ExpiryDate: time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	query, args, err = registerBatchQuery(b)
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO ledger_batches")
	assert.NotContains(t, query, "arrival_order,")
	assert.Contains(t, query, "RETURNING arrival_order")
	assert.Equal(t, int64(40), args[2])
}

func TestAllocationCopyRows(t *testing.T) {
	rec := ledger.AllocationRecord{
		ID: id.New(), SaleID: id.New(), LineNo: 2, DrugID: id.New(), BatchID: id.New(),
		ArrivalOrder: 9, Quantity: 30,
		UnitPrice: types.MustMoney("2.50"), VATRate: types.MustMoney("10"),
		ExpiryDate: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
	}

	rows := allocationCopyRows([]ledger.AllocationRecord{rec})

	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(allocationColumns))
	assert.Equal(t, "id", allocationColumns[0])
	assert.Equal(t, rec.ID, rows[0][0])
	assert.Equal(t, int64(30), rows[0][6])
	assert.Equal(t, rec, allocationRowOf(rec).toDomain())

	query, _, err := listBySaleQuery(rec.SaleID)
	require.NoError(t, err)
	assert.Contains(t, query, "ORDER BY line_no, arrival_order")
}

func TestDrugQueries(t *testing.T) {
	d := ledger.Drug{ID: id.New(), Name: "Paracetamol", SaleUnit: "tablet", ConversionFactor: 10,
		UnitPrice: types.MustMoney("1.20"), VATRate: types.MustMoney("10")}

	query, args, err := getDrugQuery(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name, sale_unit, conversion_factor, unit_price, vat_rate FROM cat_drugs WHERE id = $1", query)
	assert.Equal(t, []any{d.ID}, args)

	query, _, err = upsertDrugQuery(d)
	require.NoError(t, err)
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE SET")
}
