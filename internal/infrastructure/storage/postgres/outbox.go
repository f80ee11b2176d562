package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"pharmaledger/internal/core/id"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

const (
	outboxTable      = "sys_outbox"
	outboxMaxRetries = 5
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// OutboxMessage is a ledger event waiting to be delivered.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"` // Sale, Batch, Drug
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// OutboxPublisher writes ledger events to the outbox table.
type OutboxPublisher struct {
	txManager *TxManager
}

var _ ledger.EventPublisher = (*OutboxPublisher)(nil)

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

// Publish writes an event within the current transaction, so it commits or rolls back
// together with the ledger change it describes.
func (p *OutboxPublisher) Publish(ctx context.Context, event ledger.Event) error {
	tx := p.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	query, args, err := psql.Insert(outboxTable).
		Columns("id", "aggregate_type", "aggregate_id", "event_type", "payload", "status", "created_at").
		Values(id.New(), event.AggregateType, event.AggregateID, event.EventType, payload, OutboxStatusPending, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox insert: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// OutboxHandler delivers one message to its consumer.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

func (f OutboxHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error { return f(ctx, msg) }

// OutboxRelay moves pending messages to a handler. Run by the worker.
type OutboxRelay struct {
	txManager *TxManager
	batchSize uint64
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		txManager: txManager,
		batchSize: uint64(batchSize),
		handler:   handler,
	}
}

// BatchSize is the most messages one ProcessBatch call claims.
func (r *OutboxRelay) BatchSize() int { return int(r.batchSize) }

func (r *OutboxRelay) pendingQuery() (string, []any, error) {
	return psql.Select(
		"id", "aggregate_type", "aggregate_id", "event_type", "payload", "status",
		"retry_count", "last_error", "next_retry_at", "created_at", "published_at",
	).
		From(outboxTable).
		Where(sq.Eq{"status": OutboxStatusPending}).
		Where(sq.Or{sq.Eq{"next_retry_at": nil}, sq.Expr("next_retry_at <= NOW()")}).
		OrderBy("created_at").
		Limit(r.batchSize).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
}

// ProcessBatch delivers up to batchSize pending messages and returns how many succeeded.
// Rows are claimed with SKIP LOCKED so several workers can relay side by side.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		query, args, err := r.pendingQuery()
		if err != nil {
			return fmt.Errorf("build outbox select: %w", err)
		}

		q := r.txManager.GetQuerier(ctx)
		var messages []*OutboxMessage
		if err := pgxscan.Select(ctx, q, &messages, query, args...); err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			delivered, err := r.deliver(ctx, q, msg)
			if err != nil {
				// The transaction is aborted; nothing else in it can run.
				return fmt.Errorf("outbox message %s: %w", msg.ID, err)
			}
			if delivered {
				processed++
			}
		}
		return nil
	})
	return processed, err
}

// deliver hands msg to the handler and records the outcome. A handler failure is logged
// and scheduled for retry; the returned error is reserved for failed bookkeeping.
func (r *OutboxRelay) deliver(ctx context.Context, q Querier, msg *OutboxMessage) (bool, error) {
	handleErr := r.handler.Handle(ctx, msg)
	if handleErr != nil {
		logger.Warn(ctx, "outbox delivery failed",
			"message_id", msg.ID,
			"event_type", msg.EventType,
			"retry", msg.RetryCount+1,
			"error", handleErr,
		)
	}

	query, args, err := outcomeQuery(msg, handleErr, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("build outbox update: %w", err)
	}
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return false, fmt.Errorf("update outbox message: %w", err)
	}
	return handleErr == nil, nil
}

// outcomeQuery marks msg published, or schedules a retry with linear backoff and gives up
// after outboxMaxRetries attempts.
func outcomeQuery(msg *OutboxMessage, handleErr error, now time.Time) (string, []any, error) {
	if handleErr == nil {
		return psql.Update(outboxTable).
			Set("status", OutboxStatusPublished).
			Set("published_at", now).
			Where(sq.Eq{"id": msg.ID}).
			ToSql()
	}

	status := OutboxStatusPending
	if msg.RetryCount+1 >= outboxMaxRetries {
		status = OutboxStatusFailed
	}
	return psql.Update(outboxTable).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("last_error", handleErr.Error()).
		Set("next_retry_at", now.Add(time.Duration(msg.RetryCount+1)*time.Minute)).
		Set("status", status).
		Where(sq.Eq{"id": msg.ID}).
		ToSql()
}
