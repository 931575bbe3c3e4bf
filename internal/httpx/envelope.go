// Package httpx carries the HTTP plumbing shared by every service: the JSON
// error envelope, request-ID middleware, request logging, JSON body decoding,
// and the dependency-aware health handler.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Stable error codes used in the error envelope. Clients match on these, so
// they never change meaning.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeRateLimited        = "rate_limited"
	CodeInternalError      = "internal_error"
	CodeServiceUnavailable = "service_unavailable"
	CodeGatewayTimeout     = "gateway_timeout"
)

// ErrorBody is the non-2xx JSON envelope.
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id"`
}

// ErrorDetail carries the stable code plus a human-readable message.
type ErrorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// WriteError writes the error envelope. Details may be nil; the field is
// always serialized as an array.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details ...string) {
	if details == nil {
		details = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorBody{
		Error:     ErrorDetail{Code: code, Message: message, Details: details},
		RequestID: RequestID(r.Context()),
	})
}

// WriteJSON writes a 2xx JSON body.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
// On failure it writes a 422 envelope and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, r, http.StatusUnprocessableEntity, CodeInvalidRequest,
			"malformed request body", err.Error())
		return false
	}
	return true
}
