package memory

import (
	"context"
	"errors"
	"testing"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/storage"
)

func testEvent(id, op, model string, stage domain.Stage) *domain.UpdateEvent {
	price := 0.0000005
	return &domain.UpdateEvent{
		EventID:     id,
		OperationID: op,
		ModelID:     model,
		Kind:        domain.OperationBurn,
		Stage:       stage,
		Status:      domain.EventStatusOK,
		Price:       &price,
		OccurredAt:  1700000000000,
	}
}

func TestEventStore_AppendAndGetByOperation(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	stages := []domain.Stage{domain.StageValidated, domain.StageSubmitted, domain.StageConfirmed}
	for i, st := range stages {
		if err := store.Append(ctx, testEvent(string(rune('a'+i)), "op1", "m1", st)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(ctx, testEvent("z", "op2", "m1", domain.StageValidated)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := store.GetByOperationID(ctx, "op1")
	if err != nil {
		t.Fatalf("GetByOperationID failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, st := range stages {
		if events[i].Stage != st {
			t.Errorf("event %d: stage %s, want %s", i, events[i].Stage, st)
		}
	}

	none, err := store.GetByOperationID(ctx, "missing")
	if err != nil {
		t.Fatalf("GetByOperationID failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no events, got %d", len(none))
	}
}

func TestEventStore_DuplicateAndInvalid(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if err := store.Append(ctx, testEvent("e1", "op1", "m1", domain.StageValidated)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, testEvent("e1", "op1", "m1", domain.StageValidated)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Append(ctx, testEvent("", "op1", "m1", domain.StageValidated)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEventStore_GetByModelID(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, testEvent(string(rune('a'+i)), "op", "m1", domain.StageValidated)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(ctx, testEvent("x", "op", "m2", domain.StageValidated)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	latest, err := store.GetByModelID(ctx, "m1", 2)
	if err != nil {
		t.Fatalf("GetByModelID failed: %v", err)
	}
	if len(latest) != 2 || latest[0].EventID != "e" || latest[1].EventID != "d" {
		t.Errorf("unexpected latest events: %+v", latest)
	}

	all, _ := store.GetByModelID(ctx, "m1", 0)
	if len(all) != 5 {
		t.Errorf("expected 5 events, got %d", len(all))
	}
}

func TestEventStore_CopyOnReturn(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if err := store.Append(ctx, testEvent("e1", "op1", "m1", domain.StageValidated)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, _ := store.GetByOperationID(ctx, "op1")
	*events[0].Price = 99

	again, _ := store.GetByOperationID(ctx, "op1")
	if *again[0].Price == 99 {
		t.Error("mutating a returned event changed the store")
	}
}
