// Package idhash derives deterministic identifiers for persisted records.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"model-token-engine/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(operation_id|stage|status)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(operationID string, stage domain.Stage, status string) string {
	data := fmt.Sprintf("%s|%s|%s", operationID, string(stage), status)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
