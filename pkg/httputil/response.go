package httputil

import (
	"encoding/json"
	"net/http"
)

// Stable error codes surfaced in the JSON envelope. Clients branch on
// these, so they never change once shipped.
const (
	CodeAuthMissing           = "auth_missing"
	CodeAuthInvalid           = "auth_invalid"
	CodeAuthForbidden         = "auth_forbidden"
	CodeValidationError       = "validation_error"
	CodeWeakPassword          = "weak_password"
	CodeInvalidPasswordFormat = "invalid_password_format"
	CodeInvalidURL            = "invalid_url"
	CodeInvalidEvent          = "invalid_event"
	CodeEmptyUpload           = "empty_upload"
	CodeNotFound              = "not_found"
	CodeConflict              = "conflict"
	CodeVersionExists         = "version_exists"
	CodePayloadTooLarge       = "payload_too_large"
	CodeRateLimited           = "rate_limited"
	CodeUpstreamDisabled      = "upstream_disabled"
	CodeUpstreamError         = "upstream_error"
	CodeStorageError          = "storage_error"
	CodeInternalError         = "internal_error"
	CodePasswordChangeNeeded  = "password_change_required"
)

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps an ErrorBody for marshaling.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// SuccessEnvelope is the message-only success shape used by mutations
// that have no resource to return.
type SuccessEnvelope struct {
	Success SuccessBody `json:"success"`
}

// SuccessBody carries the human-readable outcome of a mutation.
type SuccessBody struct {
	Message string `json:"message"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck // headers already sent
}

// WriteError writes the error envelope with the given status, code and
// message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message}})
}

// WriteSuccessMessage writes a 200 with the message-only success
// envelope.
func WriteSuccessMessage(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusOK, SuccessEnvelope{Success: SuccessBody{Message: message}})
}

// WriteValidationError writes a 400 validation_error.
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// WriteNotFound writes a 404 not_found.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteConflict writes a 409 conflict.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// WriteStorageError writes a 500 storage_error. The underlying error is
// deliberately not echoed to the client.
func WriteStorageError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeStorageError, "storage operation failed")
}

// WriteInternalError writes a 500 internal_error.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
}
