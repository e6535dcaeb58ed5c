package memory

import (
	"context"
	"errors"
	"testing"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/storage"
)

func TestPriceHistoryStore_InsertAndGet(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	for _, ts := range []int64{3000, 1000, 2000} {
		err := store.Insert(ctx, &domain.PriceTick{
			ModelID:     "m1",
			Kind:        domain.OperationBurn,
			NewPrice:    float64(ts),
			TimestampMs: ts,
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	ticks, err := store.GetByModelID(ctx, "m1")
	if err != nil {
		t.Fatalf("GetByModelID failed: %v", err)
	}
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(ticks))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if ticks[i].TimestampMs != want {
			t.Errorf("tick %d: timestamp %d, want %d", i, ticks[i].TimestampMs, want)
		}
	}

	ranged, err := store.GetByTimeRange(ctx, "m1", 1500, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("expected 2 ticks in range, got %d", len(ranged))
	}

	other, _ := store.GetByModelID(ctx, "m2")
	if len(other) != 0 {
		t.Errorf("expected no ticks for m2, got %d", len(other))
	}
}

func TestPriceHistoryStore_InvalidInput(t *testing.T) {
	store := NewPriceHistoryStore()
	if err := store.Insert(context.Background(), &domain.PriceTick{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
