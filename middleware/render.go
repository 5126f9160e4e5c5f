package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"timesheets/apperr"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps err to its status and writes the envelope. Internal
// details are logged and never sent to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal("internal error", err)
	}
	body := ErrorBody{Error: appErr.Kind.String(), Message: appErr.Message, Field: appErr.Field}
	if appErr.Kind == apperr.KindInternal {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		body.Message = "internal error"
	}
	WriteJSON(w, appErr.Kind.HTTPStatus(), body)
}
