package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// fallbackError is marshaled once at startup so a late encoding failure can
// never leave the client without a JSON body.
var fallbackError []byte

func init() {
	var err error
	fallbackError, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("marshal fallback error response: %v", err))
	}
}

// writeJSON marshals before touching headers so encoding errors can still
// downgrade the status code.
func writeJSON(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSON: failed to marshal response", "error", err)
		body = fallbackError
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSON: failed to write response", "error", err)
	}
}
