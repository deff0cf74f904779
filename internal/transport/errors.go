// Package transport implements the Transport Adapter (spec section
// 4.K): HTTP request/response routes and a WebSocket streaming surface
// translating inbound calls into operations on the Workflow Controller,
// Peer Review Coordinator, Metrics Core and Knowledge Store. No domain
// logic lives here.
//
// Grounded in the teacher's internal/server/server.go (mux.Router setup,
// respondJSON/respondError) and internal/server/hub.go (the WebSocket
// Hub/Client pub-sub shape and its heartbeat cadence).
package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/agentmesh/orchestrator/internal/apperr"
)

// statusFor maps an apperr.Kind to the spec's normative HTTP status
// (spec section 7).
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	case apperr.Capacity:
		return http.StatusServiceUnavailable
	case apperr.Degraded:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[TRANSPORT] failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	respondJSON(w, statusFor(kind), map[string]any{
		"error":     err.Error(),
		"kind":      kind,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
