package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"inventory-service/internal/core"
	"inventory-service/internal/logging"

	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var kindStatus = map[core.ErrorKind]int{
	core.KindValidation:        http.StatusBadRequest,
	core.KindNotFound:          http.StatusNotFound,
	core.KindInvalidState:      http.StatusConflict,
	core.KindInsufficientStock: http.StatusUnprocessableEntity,
	core.KindConflict:          http.StatusConflict,
}

// writeServiceError maps a domain error to its HTTP status. Anything without
// a kind is logged and reported as an opaque 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	kind := core.KindOf(err)
	if status, ok := kindStatus[kind]; ok {
		writeError(w, r, domainMessage(err), string(kind), status)
		return
	}
	logging.LogError(log, "web", r.Method+" "+r.URL.Path,
		map[string]string{"request_id": requestIDFromContext(r.Context())}, err)
	writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}

// domainMessage returns the innermost domain error's message, dropping any
// wrapping context added on the way up.
func domainMessage(err error) string {
	var stock *core.InsufficientStockError
	if errors.As(err, &stock) {
		return stock.Error()
	}
	var de *core.Error
	if errors.As(err, &de) {
		return de.Error()
	}
	return err.Error()
}
