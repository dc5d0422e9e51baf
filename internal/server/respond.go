package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"newsroom/internal/core"
)

// envelope is the `{success, data | error}` shape every route returns
// (spec §6 "All responses carry {success: bool, data | error}").
type envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func respondData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// respondError maps err's taxonomy Kind to an HTTP status (spec §7
// "provider/persistence issues -> 502/503; validation -> 400; not-found ->
// 404; busy -> 429; deadline -> 504; internal -> 500") and writes the
// envelope. Internal details never reach the message string.
func respondError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	status, msg := statusAndMessage(kind, err)
	writeJSON(w, status, envelope{Success: false, Error: &errorPayload{Kind: string(kind), Message: msg}})
}

func statusAndMessage(kind core.ErrorKind, err error) (int, string) {
	msg := safeMessage(err)
	switch kind {
	case core.ErrProviderUnavailable, core.ErrStoreUnavailable, core.ErrIndexUnavailable:
		return http.StatusBadGateway, msg
	case core.ErrProviderRateLimited:
		return http.StatusServiceUnavailable, msg
	case core.ErrConstraintViolation, core.ErrContextOverflow, core.ErrUnstructuredOutput, core.ErrInvalidResponse:
		return http.StatusBadRequest, msg
	case core.ErrNotFound:
		return http.StatusNotFound, msg
	case core.ErrSessionBusy, core.ErrBusyRetry:
		return http.StatusTooManyRequests, msg
	case core.ErrDeadlineExceeded:
		return http.StatusGatewayTimeout, msg
	case core.ErrCancelled:
		return http.StatusRequestTimeout, msg
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// safeMessage returns a taxonomy error's Message without its wrapped Cause
// chain, which may carry driver- or provider-internal detail (spec §7).
func safeMessage(err error) string {
	var e *core.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.NewError(core.ErrConstraintViolation, "invalid request body", err)
	}
	return nil
}
