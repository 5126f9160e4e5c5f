// Package handlers exposes the timesheet services over JSON HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"timesheets/apperr"
	"timesheets/middleware"
	"timesheets/models"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.Validation(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Validation("", "invalid JSON body: "+err.Error())
	}
	return nil
}

// pathID parses a numeric URL parameter.
func pathID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.Validation(name, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return uint(id), nil
}

// currentUser returns the authenticated caller. Routes using it sit behind
// middleware.Authenticate.
func currentUser(r *http.Request) *models.User {
	return middleware.GetUserFromContext(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	middleware.WriteJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}
