package api

import (
	"encoding/json"
	"net/http"

	"github.com/studioml/beacon/internal/log"
)

// writeJSON writes a JSON response with the given status code.
// If encoding fails after WriteHeader, the status is already on the wire;
// the error is logged and the response left as-is.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}
