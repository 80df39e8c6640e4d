package server

import (
	"encoding/json"
	"net/http"

	"completion-gateway/internal/gateway"
)

type errorResponse struct {
	Error string       `json:"error"`
	Kind  gateway.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response for request-level failures.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

// writeGatewayError maps a gateway failure onto its HTTP status.
func writeGatewayError(w http.ResponseWriter, err error) {
	kind := gateway.KindOf(err)
	if kind == "" {
		kind = gateway.KindUnexpected
	}
	writeJSON(w, statusForKind(kind), errorResponse{Error: err.Error(), Kind: kind})
}

func statusForKind(kind gateway.Kind) int {
	switch kind {
	case gateway.KindInvalidAPIKey:
		return http.StatusUnauthorized
	case gateway.KindRateLimited:
		return http.StatusTooManyRequests
	case gateway.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case gateway.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
