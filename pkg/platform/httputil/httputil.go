// Package httputil centralizes JSON response writing and domain error
// translation so handlers stay thin and error payloads stay uniform.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "fundgate/pkg/domain-errors"
)

// errorResponse is the wire shape for all rejections.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into an HTTP response. The stable
// error code becomes the "error" field; internal errors omit the description
// so infrastructure details never leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.GetCode(err)
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message()
		}
	}
	WriteJSON(w, statusFor(code), resp)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeInvalidSignature, dErrors.CodeNonceMismatch:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeWrongState:
		return http.StatusConflict
	case dErrors.CodeTooEarly, dErrors.CodeExpired:
		return http.StatusUnprocessableEntity
	case dErrors.CodeCapacityExceeded, dErrors.CodeIssuanceLocked, dErrors.CodeLiquidityShortfall, dErrors.CodeOracleDegraded, dErrors.CodeQuorumNotMet:
		return http.StatusUnprocessableEntity
	case dErrors.CodeExternalCallFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Decode parses a JSON request body into T, rejecting unknown fields.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed request body")
	}
	return v, nil
}
