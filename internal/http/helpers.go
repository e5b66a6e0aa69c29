package http

import (
	"errors"
	"net/http"
	"strings"

	"gigfin/internal/auth"
	"gigfin/internal/core"
	"gigfin/internal/listing"
	"gigfin/internal/log"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// respondError maps err to a status and a client-safe message. Unexpected
// errors are logged and answered with a generic 500.
func respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorOp(r.Context(), "Request failed", op, err,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
	}
	ErrorResponse(status, msg).Write(w)
}

func classify(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.msg
	case core.IsValidation(err):
		var ve *core.ValidationError
		errors.As(err, &ve)
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, listing.ErrInvalidQuery):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTwoFactorRequired),
		errors.Is(err, auth.ErrInvalidCode):
		return http.StatusUnauthorized, rootMessage(err)
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidPassword):
		return http.StatusBadRequest, rootMessage(err)
	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrTOTPNotSetUp),
		errors.Is(err, auth.ErrTOTPAlreadyEnabled),
		errors.Is(err, auth.ErrTOTPNotEnabled),
		errors.Is(err, core.ErrConflict):
		return http.StatusConflict, rootMessage(err)
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// rootMessage returns the innermost error text so wrapping context added
// by lower layers does not leak to clients.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
