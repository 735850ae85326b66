// Package httputil centralizes JSON response and error mapping so handlers
// stay thin and error bodies stay consistent across endpoints.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	derrors "chronicle/pkg/domain-errors"
)

// errorResponse is the wire shape for all error bodies.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// codeStatus maps domain error codes to HTTP statuses.
var codeStatus = map[derrors.Code]int{
	derrors.CodeBadRequest:         http.StatusBadRequest,
	derrors.CodeInvalidInput:       http.StatusBadRequest,
	derrors.CodeContentPolicy:      http.StatusUnprocessableEntity,
	derrors.CodeUnauthorized:       http.StatusUnauthorized,
	derrors.CodeForbidden:          http.StatusForbidden,
	derrors.CodeNotFound:           http.StatusNotFound,
	derrors.CodeConflict:           http.StatusConflict,
	derrors.CodeInvariantViolation: http.StatusConflict,
	derrors.CodeUnavailable:        http.StatusServiceUnavailable,
	derrors.CodeInternal:           http.StatusInternalServerError,
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to an HTTP response. Internal and
// infrastructure errors omit the description so storage detail never leaks to
// callers; caller errors include it for debuggability.
func WriteError(w http.ResponseWriter, err error) {
	code := derrors.CodeOf(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
		code = derrors.CodeInternal
	}

	resp := errorResponse{Error: string(code)}
	if status < http.StatusInternalServerError {
		var de *derrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message()
		}
	}
	WriteJSON(w, status, resp)
}

// Decode parses a JSON request body into T, rejecting unknown fields.
func Decode[T any](r *http.Request) (T, error) {
	var req T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, derrors.New(derrors.CodeBadRequest, "invalid request body")
	}
	return req, nil
}
