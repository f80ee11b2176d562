package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/domain/ledger"
)

var october = period.Month{Year: 2026, Month: time.October}

func TestRunInTransaction_RollsBackOnError(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	drugID := id.New()
	boom := errors.New("boom")

	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		created, err := repos.Snapshots.CreateIfAbsent(ctx, ledger.Snapshot{DrugID: drugID, Month: october})
		require.NoError(t, err)
		require.True(t, created)

		_, err = repos.Snapshots.Get(ctx, drugID, october)
		require.NoError(t, err, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repos.Snapshots.Get(context.Background(), drugID, october)
	assert.True(t, apperror.IsNotFound(err))
}

func TestRunInTransaction_NestedSharesState(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	drugID := id.New()

	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			_, err := repos.Snapshots.CreateIfAbsent(ctx, ledger.Snapshot{DrugID: drugID, Month: october})
			return err
		})
	})
	require.NoError(t, err)

	snap, err := repos.Snapshots.Get(context.Background(), drugID, october)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version)
}

func TestSnapshotRepo_SaveChecksVersion(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	drugID := id.New()
	s.PutSnapshot(ledger.Snapshot{DrugID: drugID, Month: october, PriorBalance: 5, Remaining: 5})

	snap, err := repos.Snapshots.Get(ctx, drugID, october)
	require.NoError(t, err)

	snap.Sold, snap.Remaining = 1, 4
	saved, err := repos.Snapshots.Save(ctx, snap, snap.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)

	_, err = repos.Snapshots.Save(ctx, snap, snap.Version)
	assert.True(t, apperror.IsConcurrentModification(err))
}

func TestSnapshotRepo_CreateIfAbsentKeepsExisting(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	drugID := id.New()
	s.PutSnapshot(ledger.Snapshot{DrugID: drugID, Month: october, Remaining: 9, PriorBalance: 9})

	created, err := repos.Snapshots.CreateIfAbsent(ctx, ledger.Snapshot{DrugID: drugID, Month: october, Remaining: 1})
	require.NoError(t, err)
	assert.False(t, created)

	snap, err := repos.Snapshots.Get(ctx, drugID, october)
	require.NoError(t, err)
	assert.EqualValues(t, 9, snap.Remaining)
}

func TestSnapshotRepo_Latest(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	drugID := id.New()
	for _, m := range []time.Month{time.March, time.July, time.November} {
		s.PutSnapshot(ledger.Snapshot{DrugID: drugID, Month: period.Month{Year: 2026, Month: m}})
	}

	snap, err := repos.Snapshots.Latest(ctx, drugID, october)
	require.NoError(t, err)
	assert.Equal(t, time.July, snap.Month.Month)

	_, err = repos.Snapshots.Latest(ctx, drugID, period.Month{Year: 2026, Month: time.March})
	assert.True(t, apperror.IsNotFound(err))
}

func TestBatchRepo_ArrivalOrder(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	drugID := id.New()
	s.PutBatch(ledger.Batch{ID: id.New(), DrugID: drugID, ReceivedQuantity: 1, ArrivalOrder: 40})

	b := ledger.Batch{ID: id.New(), DrugID: drugID, ReceivedQuantity: 2}
	require.NoError(t, repos.Batches.RegisterBatch(ctx, &b))
	assert.Equal(t, int64(41), b.ArrivalOrder)

	err := repos.Batches.RegisterBatch(ctx, &b)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	next, ok, err := repos.Batches.NextBatch(ctx, drugID, 40)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.ID, next.ID)

	_, ok, err = repos.Batches.NextBatch(ctx, drugID, 41)
	require.NoError(t, err)
	assert.False(t, ok)
}
