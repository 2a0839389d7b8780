package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/relaywave/wagateway/internal/apierr"
	. "github.com/relaywave/wagateway/internal/logging"
)

// errorBody is the envelope every non-2xx response carries.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"traceId"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		L_debug("httpapi: response encode failed", "error", err)
	}
}

// writeError translates err through the taxonomy and shapes the
// documented error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.As(err)
	writeJSON(w, e.Status, errorBody{Error: errorDetail{
		Code:    e.Code,
		Message: e.Message,
		TraceID: traceIDFrom(r),
	}})
}
