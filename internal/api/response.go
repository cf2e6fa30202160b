// Package api provides HTTP response utilities for the lead qualification service.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/convoflow/leadqual/internal/models"
)

// fallbackErrorBody is written when a response fails to marshal. Built once at
// startup so the failure path never depends on runtime encoding.
var fallbackErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("api: fallback response does not marshal: %v", err))
	}
	return data
}

// writeJSONResponse serializes the envelope and writes it with the given
// status. Marshaling happens before any header is written so an encoding
// failure can still demote the status to 500 with the fallback body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to encode API response", "error", err, "status", statusCode)
		body = fallbackErrorBody
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Failed to write API response", "error", err)
	}
}

// writeMethodNotAllowed rejects the request, advertising the allowed method.
func writeMethodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	w.WriteHeader(http.StatusMethodNotAllowed)
}
