package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"oraculo/internal/protocol"
	"oraculo/internal/storage"
)

// codeReplayedRequest is the error code of a rejected replay.
const codeReplayedRequest = "ReplayedRequest"

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps an error to an HTTP status by protocol kind.
func statusFor(err error) int {
	switch protocol.KindOf(err) {
	case protocol.KindValidation:
		return http.StatusBadRequest
	case protocol.KindStateConflict:
		return http.StatusConflict
	case protocol.KindAuthorization:
		return http.StatusForbidden
	case protocol.KindArithmetic:
		return http.StatusUnprocessableEntity
	case protocol.KindNotFound:
		return http.StatusNotFound
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeErr writes err with the status of its kind. Internal errors are not
// echoed to the client.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var pe *protocol.Error
	if errors.As(err, &pe) {
		body.Code = pe.Code
		body.Kind = string(pe.Kind)
	}
	if status >= http.StatusInternalServerError {
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

// APIError is a non-2xx response decoded by Client. It unwraps to the
// protocol sentinel of its code, so errors.Is works across the wire.
type APIError struct {
	Status  int
	Code    string
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// Unwrap returns the sentinel for the code, if any.
func (e *APIError) Unwrap() error {
	if e.Code == codeReplayedRequest {
		return ErrReplayedRequest
	}
	if pe, ok := protocol.LookupCode(e.Code); ok {
		return pe
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}
