package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/lots"
	"lotledger/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// MaxOutboxRetries is the number of failed deliveries before a message is parked.
const MaxOutboxRetries = 5

// OutboxClaimTimeout is how long a claimed message stays invisible to other relays.
const OutboxClaimTimeout = 2 * time.Minute

// OutboxMessage represents a message in the transactional outbox.
type OutboxMessage struct {
	ID          id.ID        `db:"id"`
	EntryID     id.ID        `db:"entry_id"`
	EventType   string       `db:"event_type"` // e.g. "lot.consume"
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	RetryCount  int          `db:"retry_count"`
	LastError   *string      `db:"last_error"`
	NextRetryAt *time.Time   `db:"next_retry_at"`
	CreatedAt   time.Time    `db:"created_at"`
	PublishedAt *time.Time   `db:"published_at"`
}

// EventType names the event emitted for a movement kind.
func EventType(kind lots.MovementKind) string {
	return "lot." + string(kind)
}

// OutboxPublisher writes ledger movements to sys_outbox. Inside a transaction
// the message commits or rolls back with the mutation.
type OutboxPublisher struct {
	txManager *TxManager
}

var _ lots.EventPublisher = (*OutboxPublisher)(nil)

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

// Publish implements lots.EventPublisher.
func (p *OutboxPublisher) Publish(ctx context.Context, m lots.Movement) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = p.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_outbox (id, entry_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id.New(), m.EntryID, EventType(m.Kind), payload, OutboxStatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// OutboxHandler delivers outbox messages to a broker.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelay reads pending messages and hands them to the handler.
// Used by the background worker.
type OutboxRelay struct {
	pool      *pgxpool.Pool
	batchSize int
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(pool *pgxpool.Pool, batchSize int, handler OutboxHandler) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		pool:      pool,
		batchSize: batchSize,
		handler:   handler,
	}
}

// ProcessBatch delivers one batch of pending messages and returns how many succeeded.
// Messages are claimed by pushing next_retry_at past OutboxClaimTimeout, so
// concurrent relays never pick the same message while it is in flight.
// A lot's message is not claimed while an older pending message of the same
// lot is backing off, and a failure stops the rest of that lot's batch. Parked
// (failed) messages no longer hold their lot back.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE sys_outbox
		SET next_retry_at = NOW() + make_interval(secs => $3)
		WHERE id IN (
			SELECT o.id FROM sys_outbox o
			WHERE o.status = $1
			  AND (o.next_retry_at IS NULL OR o.next_retry_at <= NOW())
			  AND NOT EXISTS (
				SELECT 1 FROM sys_outbox older
				WHERE older.entry_id = o.entry_id
				  AND older.status = $1
				  AND older.created_at < o.created_at
				  AND older.next_retry_at > NOW()
			  )
			ORDER BY o.created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, entry_id, event_type, payload, status,
		          retry_count, last_error, next_retry_at, created_at, published_at
	`, OutboxStatusPending, r.batchSize, OutboxClaimTimeout.Seconds())
	if err != nil {
		return 0, fmt.Errorf("fetch outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		err := rows.Scan(
			&msg.ID, &msg.EntryID, &msg.EventType,
			&msg.Payload, &msg.Status, &msg.RetryCount, &msg.LastError,
			&msg.NextRetryAt, &msg.CreatedAt, &msg.PublishedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("scan outbox message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox messages: %w", err)
	}
	rows.Close()

	return deliverInOrder(ctx, messages, r.processMessage), nil
}

// deliverInOrder hands messages to deliver oldest first. After a failure the
// remaining messages of the same lot stay claimed and are retried after it.
func deliverInOrder(ctx context.Context, messages []*OutboxMessage, deliver func(context.Context, *OutboxMessage) error) int {
	// RETURNING has no order
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	blocked := make(map[id.ID]bool)
	processed := 0
	for _, msg := range messages {
		if blocked[msg.EntryID] {
			continue
		}
		if err := deliver(ctx, msg); err != nil {
			blocked[msg.EntryID] = true
			logger.Warn(ctx, "outbox delivery failed",
				"message_id", msg.ID,
				"entry_id", msg.EntryID,
				"event_type", msg.EventType,
				"retry", msg.RetryCount,
				"error", err,
			)
			continue
		}
		processed++
	}
	return processed
}

func (r *OutboxRelay) processMessage(ctx context.Context, msg *OutboxMessage) error {
	err := r.handler.Handle(ctx, msg)
	if err != nil {
		// linear backoff, one more minute per failure
		nextRetry := time.Now().Add(time.Duration(msg.RetryCount+1) * time.Minute)

		_, updateErr := r.pool.Exec(ctx, `
			UPDATE sys_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
			WHERE id = $5
		`, err.Error(), nextRetry, MaxOutboxRetries, OutboxStatusFailed, msg.ID)
		if updateErr != nil {
			return fmt.Errorf("update failed message: %w", updateErr)
		}
		return err
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, time.Now().UTC(), msg.ID)
	return err
}

// PurgePublished deletes delivered messages older than the retention period.
func (r *OutboxRelay) PurgePublished(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sys_outbox WHERE status = $1 AND published_at < $2
	`, OutboxStatusPublished, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
