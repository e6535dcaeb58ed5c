package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"model-token-engine/internal/coordinator"
	"model-token-engine/internal/storage"
)

type errorBody struct {
	Error           string `json:"error"`
	Kind            string `json:"kind,omitempty"`
	Stage           string `json:"stage,omitempty"`
	OperationID     string `json:"operationId,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	PriceUpdated    *bool  `json:"priceUpdated,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a coordinator failure to an HTTP status.
func statusFor(err error) int {
	ue, ok := coordinator.AsUpdateError(err)
	if !ok {
		if errors.Is(err, storage.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}

	switch ue.Kind {
	case coordinator.KindInvalidRequest:
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return http.StatusNotFound
		case errors.Is(err, storage.ErrDuplicateKey):
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case coordinator.KindSubmission:
		return http.StatusBadGateway
	case coordinator.KindExecution:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Failures after confirmation carry the transaction
// hash so callers can reconcile.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	if ue, ok := coordinator.AsUpdateError(err); ok {
		body.Kind = string(ue.Kind)
		body.Stage = ue.Stage
		body.OperationID = ue.OperationID
		body.TransactionHash = ue.TransactionHash
		if ue.TransactionHash != "" {
			updated := ue.PriceUpdated
			body.PriceUpdated = &updated
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("status", status).Warn("request failed")
	}
	writeJSON(w, status, body)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: string(coordinator.KindInvalidRequest)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
