package idhash

import (
	"testing"

	"model-token-engine/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	tests := []struct {
		name        string
		operationID string
		stage       domain.Stage
		status      string
	}{
		{"validated", "op-1", domain.StageValidated, domain.EventStatusOK},
		{"failed", "op-1", domain.StageFailed, domain.EventStatusFailed},
		{"empty operation", "", domain.StageCompleted, domain.EventStatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEventID(tt.operationID, tt.stage, tt.status)
			if len(got) != 64 {
				t.Errorf("ComputeEventID() length = %d, want 64", len(got))
			}
		})
	}
}

func TestComputeEventID_Determinism(t *testing.T) {
	first := ComputeEventID("op-1", domain.StageSubmitted, domain.EventStatusOK)
	for i := 0; i < 50; i++ {
		if got := ComputeEventID("op-1", domain.StageSubmitted, domain.EventStatusOK); got != first {
			t.Fatalf("run %d: %s != %s", i, got, first)
		}
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	base := ComputeEventID("op-1", domain.StageConfirmed, domain.EventStatusOK)

	if base == ComputeEventID("op-2", domain.StageConfirmed, domain.EventStatusOK) {
		t.Error("Different operation should produce different hash")
	}
	if base == ComputeEventID("op-1", domain.StagePersisted, domain.EventStatusOK) {
		t.Error("Different stage should produce different hash")
	}
	if base == ComputeEventID("op-1", domain.StageConfirmed, domain.EventStatusFailed) {
		t.Error("Different status should produce different hash")
	}
}
