package ledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/types"
)

type fakeBatches struct {
	byID  map[id.ID]Batch
	reads []int64
}

func newFakeBatches(batches ...Batch) *fakeBatches {
	f := &fakeBatches{byID: make(map[id.ID]Batch)}
	for _, b := range batches {
		f.byID[b.ID] = b
	}
	return f
}

func (f *fakeBatches) GetBatch(_ context.Context, batchID id.ID) (Batch, error) {
	b, ok := f.byID[batchID]
	if !ok {
		return Batch{}, apperror.NewNotFound("batch", batchID)
	}
	return b, nil
}

func (f *fakeBatches) NextBatch(_ context.Context, drugID id.ID, after int64) (Batch, bool, error) {
	f.reads = append(f.reads, after)
	var candidates []Batch
	for _, b := range f.byID {
		if b.DrugID == drugID && b.ArrivalOrder > after {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return Batch{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ArrivalOrder < candidates[j].ArrivalOrder })
	return candidates[0], true, nil
}

func (f *fakeBatches) RegisterBatch(context.Context, *Batch) error { return nil }

var (
	testMonth = period.Month{Year: 2026, Month: time.October}
	testNow   = time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)
)

func testDrug() Drug {
	return Drug{
		ID:               id.New(),
		Name:             "Paracetamol 500mg",
		SaleUnit:         "tablet",
		ConversionFactor: 10,
		UnitPrice:        types.MustMoney("1.25"),
		VATRate:          types.MustMoney("10"),
	}
}

func testBatch(drugID id.ID, arrival int64, qty types.Quantity) Batch {
	return Batch{
		ID:               id.New(),
		DrugID:           drugID,
		ReceivedQuantity: qty,
		UnitCost:         types.MustMoney("0.80"),
		VATRate:          types.MustMoney("10"),
		ExpiryDate:       time.Date(2027, time.Month(arrival), 1, 0, 0, 0, 0, time.UTC),
		ArrivalOrder:     arrival,
	}
}

func activeSnapshot(drugID id.ID, active Batch, inBatch, remaining types.Quantity) Snapshot {
	batchID := active.ID
	return Snapshot{
		DrugID:               drugID,
		Month:                testMonth,
		PriorBalance:         remaining,
		Remaining:            remaining,
		ActiveBatchID:        &batchID,
		ActiveBatchRemaining: inBatch,
		Version:              1,
	}
}

func request(qty types.Quantity) lineRequest {
	return lineRequest{SaleID: id.New(), LineNo: 1, Quantity: qty, At: testNow}
}

func TestAllocateLine_WithinActiveBatch(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 100)
	snap := activeSnapshot(drug.ID, a, 30, 30)

	updated, records, err := allocateLine(context.Background(), newFakeBatches(a), snap, request(25))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, a.ID, records[0].BatchID)
	assert.Equal(t, types.Quantity(25), records[0].Quantity)
	assert.True(t, a.UnitCost.Equal(records[0].UnitPrice))
	assert.True(t, a.VATRate.Equal(records[0].VATRate))
	assert.Equal(t, a.ExpiryDate, records[0].ExpiryDate)

	assert.Equal(t, a.ID, *updated.ActiveBatchID)
	assert.Equal(t, types.Quantity(5), updated.ActiveBatchRemaining)
	assert.Equal(t, types.Quantity(25), updated.Sold)
	assert.Equal(t, types.Quantity(5), updated.Remaining)
	require.NoError(t, updated.CheckBalance())
}

func TestAllocateLine_SpansIntoNextBatch(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 100)
	b := testBatch(drug.ID, 2, 50)
	snap := activeSnapshot(drug.ID, a, 30, 80)

	updated, records, err := allocateLine(context.Background(), newFakeBatches(a, b), snap, request(60))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, a.ID, records[0].BatchID)
	assert.Equal(t, types.Quantity(30), records[0].Quantity)
	assert.Equal(t, b.ID, records[1].BatchID)
	assert.Equal(t, types.Quantity(30), records[1].Quantity)

	assert.Equal(t, b.ID, *updated.ActiveBatchID)
	assert.Equal(t, types.Quantity(20), updated.ActiveBatchRemaining)
	assert.Equal(t, types.Quantity(60), updated.Sold)
	assert.Equal(t, types.Quantity(20), updated.Remaining)
}

func TestAllocateLine_WalksSeveralBatchesInArrivalOrder(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 3, 10)
	b := testBatch(drug.ID, 7, 5)
	c := testBatch(drug.ID, 9, 5)
	d := testBatch(drug.ID, 12, 40)
	older := testBatch(drug.ID, 1, 500) // precedes the cursor, must never be touched
	snap := activeSnapshot(drug.ID, a, 4, 54)

	updated, records, err := allocateLine(context.Background(), newFakeBatches(older, a, b, c, d), snap, request(20))
	require.NoError(t, err)

	var arrivals []int64
	var total types.Quantity
	for _, r := range records {
		arrivals = append(arrivals, r.ArrivalOrder)
		total += r.Quantity
		assert.NotEqual(t, older.ID, r.BatchID)
	}
	assert.Equal(t, []int64{3, 7, 9, 12}, arrivals)
	assert.Equal(t, types.Quantity(20), total)
	assert.Equal(t, d.ID, *updated.ActiveBatchID)
	assert.Equal(t, types.Quantity(34), updated.ActiveBatchRemaining)
}

func TestAllocateLine_ExhaustsBatchExactly(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 100)
	b := testBatch(drug.ID, 2, 50)
	snap := activeSnapshot(drug.ID, a, 30, 80)

	updated, records, err := allocateLine(context.Background(), newFakeBatches(a, b), snap, request(30))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, a.ID, *updated.ActiveBatchID)
	assert.True(t, updated.ActiveBatchRemaining.IsZero())

	// The next sale resumes at batch B.
	next, records, err := allocateLine(context.Background(), newFakeBatches(a, b), updated, request(10))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, b.ID, records[0].BatchID)
	assert.Equal(t, types.Quantity(40), next.ActiveBatchRemaining)
}

func TestAllocateLine_NoActiveBatchStartsAtFirstArrival(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 4, 10)
	b := testBatch(drug.ID, 5, 10)
	snap := Snapshot{DrugID: drug.ID, Month: testMonth, PriorBalance: 20, Remaining: 20, Version: 1}

	updated, records, err := allocateLine(context.Background(), newFakeBatches(b, a), snap, request(12))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, a.ID, records[0].BatchID)
	assert.Equal(t, b.ID, records[1].BatchID)
	assert.Equal(t, types.Quantity(8), updated.ActiveBatchRemaining)
}

func TestAllocateLine_SkipsEmptyBatches(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 10)
	empty := testBatch(drug.ID, 2, 0)
	c := testBatch(drug.ID, 3, 10)
	snap := activeSnapshot(drug.ID, a, 0, 10)

	_, records, err := allocateLine(context.Background(), newFakeBatches(a, empty, c), snap, request(5))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, c.ID, records[0].BatchID)
}

func TestAllocateLine_BatchesRunOutIsIntegrityViolation(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 100)
	b := testBatch(drug.ID, 2, 50)
	snap := activeSnapshot(drug.ID, a, 30, 80)

	_, records, err := allocateLine(context.Background(), newFakeBatches(a, b), snap, request(90))

	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeIntegrityViolation))
	assert.Nil(t, records)
}

func TestAllocateLine_CursorBeyondBatchIsIntegrityViolation(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 10)
	snap := activeSnapshot(drug.ID, a, 11, 11)

	_, _, err := allocateLine(context.Background(), newFakeBatches(a), snap, request(1))

	assert.True(t, apperror.HasCode(err, apperror.CodeIntegrityViolation))
}

func TestAllocateLine_InvalidRecordAborts(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 10)
	a.UnitCost = types.MustMoney("-1")
	snap := activeSnapshot(drug.ID, a, 10, 10)

	_, records, err := allocateLine(context.Background(), newFakeBatches(a), snap, request(5))

	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	assert.Nil(t, records)
}

func TestValidateRecord_MissingExpiry(t *testing.T) {
	rec := AllocationRecord{
		ID:           id.New(),
		SaleID:       id.New(),
		LineNo:       1,
		DrugID:       id.New(),
		BatchID:      id.New(),
		ArrivalOrder: 1,
		Quantity:     1,
		UnitPrice:    types.MustMoney("2"),
		VATRate:      types.MustMoney("0"),
	}

	err := validateRecord(rec)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "ExpiryDate", appErr.Details["field"])
}

func TestEvaluate_SumsLinesPerDrug(t *testing.T) {
	d1, d2 := id.New(), id.New()
	snaps := map[id.ID]Snapshot{
		d1: {DrugID: d1, Remaining: 30},
		d2: {DrugID: d2, Remaining: 5},
	}

	got := evaluate([]SaleLine{
		{DrugID: d1, Quantity: 20},
		{DrugID: d2, Quantity: 5},
		{DrugID: d1, Quantity: 15},
	}, snaps, testMonth)

	require.Len(t, got.Lines, 2)
	assert.Equal(t, d1, got.Lines[0].DrugID)
	assert.Equal(t, types.Quantity(35), got.Lines[0].Requested)
	assert.Equal(t, types.Quantity(5), got.Lines[0].Shortfall)
	assert.True(t, got.Lines[1].Shortfall.IsZero())
	assert.False(t, got.OK())

	appErr, ok := apperror.AsAppError(got.Err())
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientStock, appErr.Code)
	assert.Len(t, appErr.Details["lines"], 1)
}

func TestSnapshot_CheckBalance(t *testing.T) {
	s := Snapshot{PriorBalance: 10, Received: 5, Sold: 3, Damaged: 2, Remaining: 10}
	assert.NoError(t, s.CheckBalance())

	s.Remaining = 11
	assert.True(t, apperror.HasCode(s.CheckBalance(), apperror.CodeIntegrityViolation))
}

func TestSnapshot_CarriedInto(t *testing.T) {
	a := id.New()
	prior := Snapshot{
		DrugID: id.New(), Month: testMonth,
		PriorBalance: 40, Received: 10, Sold: 20, Damaged: 5, Remaining: 25,
		ActiveBatchID: &a, ActiveBatchRemaining: 7, Version: 9,
	}

	next := prior.carriedInto(testMonth.Next(), testNow)

	assert.Equal(t, types.Quantity(25), next.PriorBalance)
	assert.Equal(t, types.Quantity(25), next.Remaining)
	assert.Zero(t, next.Received)
	assert.Zero(t, next.Sold)
	assert.Zero(t, next.Damaged)
	assert.Equal(t, a, *next.ActiveBatchID)
	assert.Equal(t, types.Quantity(7), next.ActiveBatchRemaining)
	assert.Equal(t, 1, next.Version)
	assert.NoError(t, next.CheckBalance())
}

func TestAllocateLine_RecordsCarryEachBatchPrice(t *testing.T) {
	drug := testDrug()
	a := testBatch(drug.ID, 1, 10)
	b := testBatch(drug.ID, 2, 10)
	b.UnitCost = types.MustMoney("0.95")
	b.VATRate = types.MustMoney("5")
	snap := activeSnapshot(drug.ID, a, 4, 14)

	_, records, err := allocateLine(context.Background(), newFakeBatches(a, b), snap, request(6))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.True(t, types.MustMoney("0.80").Equal(records[0].UnitPrice))
	assert.True(t, types.MustMoney("10").Equal(records[0].VATRate))
	assert.True(t, types.MustMoney("0.95").Equal(records[1].UnitPrice))
	assert.True(t, types.MustMoney("5").Equal(records[1].VATRate))
	assert.False(t, drug.UnitPrice.Equal(records[1].UnitPrice))
}
