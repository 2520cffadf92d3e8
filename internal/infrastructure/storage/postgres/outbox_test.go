package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lotledger/internal/core/id"
)

func TestDeliverInOrder_StopsLotAfterFailure(t *testing.T) {
	t0 := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	lotA, lotB := id.New(), id.New()
	msg := func(entry id.ID, event string, offset int) *OutboxMessage {
		return &OutboxMessage{ID: id.New(), EntryID: entry, EventType: event, CreatedAt: t0.Add(time.Duration(offset) * time.Second)}
	}
	// shuffled the way RETURNING may hand them back
	messages := []*OutboxMessage{
		msg(lotA, "lot.restock", 3),
		msg(lotB, "lot.consume", 2),
		msg(lotA, "lot.consume", 1),
		msg(lotA, "lot.intake", 0),
		msg(lotB, "lot.state", 4),
	}

	var delivered []string
	deliver := func(_ context.Context, m *OutboxMessage) error {
		if m.EntryID == lotA && m.EventType == "lot.consume" {
			return errors.New("broker down")
		}
		delivered = append(delivered, m.EventType)
		return nil
	}

	n := deliverInOrder(context.Background(), messages, deliver)
	assert.Equal(t, 3, n)
	// lot A's restock waits for its failed consume, lot B is unaffected
	assert.Equal(t, []string{"lot.intake", "lot.consume", "lot.state"}, delivered)
}
