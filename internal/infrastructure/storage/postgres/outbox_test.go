package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaledger/internal/core/id"
)

func TestOutboxRelay_PendingQuery(t *testing.T) {
	relay := NewOutboxRelay(nil, 25, nil)

	query, args, err := relay.pendingQuery()
	require.NoError(t, err)

	assert.Contains(t, query, "FROM sys_outbox")
	assert.Contains(t, query, "WHERE status = $1")
	assert.Contains(t, query, "next_retry_at IS NULL OR next_retry_at <= NOW()")
	assert.Contains(t, query, "ORDER BY created_at LIMIT 25 FOR UPDATE SKIP LOCKED")
	assert.Equal(t, []any{OutboxStatusPending}, args)
}

func TestOutboxRelay_DefaultBatchSize(t *testing.T) {
	assert.Equal(t, 100, NewOutboxRelay(nil, 0, nil).BatchSize())
}

type execRecorder struct {
	Querier
	queries []string
	err     error
}

func (q *execRecorder) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.queries = append(q.queries, sql)
	return pgconn.CommandTag{}, q.err
}

func TestOutboxRelay_Deliver(t *testing.T) {
	ok := OutboxHandlerFunc(func(context.Context, *OutboxMessage) error { return nil })
	failing := OutboxHandlerFunc(func(context.Context, *OutboxMessage) error { return errors.New("consumer down") })

	t.Run("published", func(t *testing.T) {
		q := &execRecorder{}
		delivered, err := NewOutboxRelay(nil, 10, ok).deliver(context.Background(), q, &OutboxMessage{ID: id.New()})

		require.NoError(t, err)
		assert.True(t, delivered)
		require.Len(t, q.queries, 1)
		assert.Contains(t, q.queries[0], "published_at")
	})

	t.Run("handler failure is scheduled for retry", func(t *testing.T) {
		q := &execRecorder{}
		delivered, err := NewOutboxRelay(nil, 10, failing).deliver(context.Background(), q, &OutboxMessage{ID: id.New()})

		require.NoError(t, err)
		assert.False(t, delivered)
		require.Len(t, q.queries, 1)
		assert.Contains(t, q.queries[0], "retry_count = retry_count + 1")
	})

	t.Run("failed bookkeeping is returned", func(t *testing.T) {
		for _, h := range []OutboxHandler{ok, failing} {
			q := &execRecorder{err: errors.New("current transaction is aborted")}
			delivered, err := NewOutboxRelay(nil, 10, h).deliver(context.Background(), q, &OutboxMessage{ID: id.New()})

			require.Error(t, err)
			assert.False(t, delivered)
		}
	})
}

func TestOutcomeQuery_GivesUpAfterMaxRetries(t *testing.T) {
	now := time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	_, args, err := outcomeQuery(&OutboxMessage{ID: id.New(), RetryCount: 1}, boom, now)
	require.NoError(t, err)
	assert.Contains(t, args, OutboxStatusPending)
	assert.Contains(t, args, now.Add(2*time.Minute))

	_, args, err = outcomeQuery(&OutboxMessage{ID: id.New(), RetryCount: outboxMaxRetries - 1}, boom, now)
	require.NoError(t, err)
	assert.Contains(t, args, OutboxStatusFailed)
}
