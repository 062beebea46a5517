package actor

import (
	"encoding/json"
	"net/http"

	"github.com/signalix/identity/internal/apperr"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as the instance's reply.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes err as an error reply. Unclassified errors become
// INTERNAL_ERROR; their text stays inside the process.
func WriteError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err.Error())
	}
	WriteJSON(w, e.Status(), errorBody{Code: e.Code, Message: e.Message})
}

// Decode reads the JSON request body into v.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation(apperr.CodeInvalidRequest, "malformed actor request")
	}
	return nil
}
