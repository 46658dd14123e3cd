package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/db/dbtest"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

func deadEvent(code string) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrderGroup,
		AggregateID:   GroupAggregateID(code),
		OrderCode:     code,
		Payload:       []byte(`{}`),
		AttemptCount:  10,
	}
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewDLQRepository(db)
	event := deadEvent("ORD-D")
	cause := errors.New(strings.Repeat("x", maxLastErrorLen+50))

	if err := repo.InsertTx(db, models.DeadLetter(event, enums.OutboxDLQReasonMaxAttempts, cause, time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	found, err := repo.FindByEventID(context.Background(), event.ID)
	if err != nil || found == nil {
		t.Fatalf("find: %v %v", found, err)
	}
	if found.ErrorMessage == nil || len(*found.ErrorMessage) != maxLastErrorLen {
		t.Fatalf("expected truncated message")
	}
	if found.OrderCode != "ORD-D" || found.AttemptCount != 10 {
		t.Fatalf("unexpected row %+v", found)
	}

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown event, got %v %v", missing, err)
	}
}

func TestDLQInsertIgnoresDuplicateEvent(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewDLQRepository(db)
	event := deadEvent("ORD-E")
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		if err := repo.InsertTx(db, models.DeadLetter(event, enums.OutboxDLQReasonUnroutable, errors.New("no topic"), now)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := repo.InsertTx(db, models.DeadLetter(deadEvent("ORD-F"), enums.OutboxDLQReasonUnroutable, nil, now)); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	rows, err := repo.ListByOrderCode(context.Background(), "ORD-E")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one ORD-E dead letter, got %d %v", len(rows), err)
	}
}
