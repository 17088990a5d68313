package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"gobridgetracker/types"
)

// errBadRequest marks malformed input the service never saw.
var errBadRequest = errors.New("bad request")

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// StatusCode maps service errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, types.ErrUnsupportedRoute),
		errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, types.ErrTransientEstimation):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fieldFor(err error) string {
	var fe *fieldError
	if errors.As(err, &fe) {
		return fe.field
	}
	switch {
	case errors.Is(err, types.ErrInvalidAmount):
		return "amount"
	case errors.Is(err, types.ErrInvalidAddress):
		return "owner"
	case errors.Is(err, types.ErrUnsupportedRoute):
		return "route"
	}
	return ""
}

func (a *API) responseError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	ev := a.logger.Warn()
	if code >= http.StatusInternalServerError {
		ev = a.logger.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("code", code).Msg("request failed")

	responseJSON(w, &APIResponse{
		Status:    "error",
		Message:   err.Error(),
		Field:     fieldFor(err),
		Retryable: types.Retryable(err),
	}, code)
}

func badRequest(field, message string) error {
	return &fieldError{field: field, message: message}
}

type fieldError struct {
	field   string
	message string
}

func (e *fieldError) Error() string { return e.message }

func (e *fieldError) Unwrap() error { return errBadRequest }
