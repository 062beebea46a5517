// Package respond writes the public JSON envelope.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/signalix/identity/internal/apperr"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// Error writes err as {"success":false,"error":{code,message}}. Anything
// that is not an *apperr.Error, and every internal error, is logged and
// replaced by a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"err", err)
		e = apperr.Internal("internal server error")
	}
	Status(w, e.Status(), e.Code, e.Message)
}

// Status writes an error envelope with an explicit status.
func Status(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, errorEnvelope{Error: errorDetail{Code: code, Message: message}})
}
