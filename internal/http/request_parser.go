// Package http provides the JSON API server and its handlers.
//
// This file implements utilities for parsing and validating HTTP request data:
// strict JSON bodies, path ids and the dashboard query parameters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gigfin/internal/aggregate"
)

const maxBodyBytes = 1 << 20

// requestError is a malformed request. Its message is safe to return.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads exactly one JSON object into dst. Unknown fields,
// trailing data and bodies over 1 MiB are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("request body must not be empty")
		case errors.As(err, &syntaxErr):
			return badRequest("malformed JSON at position %d", syntaxErr.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return badRequest("malformed JSON")
		case errors.As(err, &typeErr):
			if typeErr.Field != "" {
				return badRequest("invalid value for field %q", typeErr.Field)
			}
			return badRequest("invalid JSON value at position %d", typeErr.Offset)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return badRequest("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		case errors.As(err, &maxErr):
			return &requestError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
		default:
			return badRequest("invalid request body: %s", sanitizeInput(err.Error()))
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return badRequest("request body must contain a single JSON object")
	}
	return nil
}

// pathID reads the {id} URL parameter as a positive integer.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", sanitizeInput(raw))
	}
	return id, nil
}

// parseTimeframe reads ?timeframe=, defaulting to the current month.
func parseTimeframe(r *http.Request) (aggregate.Timeframe, error) {
	v := strings.TrimSpace(r.URL.Query().Get("timeframe"))
	if v == "" {
		return aggregate.Monthly, nil
	}
	tf, err := aggregate.ParseTimeframe(v)
	if err != nil {
		return "", badRequest("unknown timeframe %q", sanitizeInput(v))
	}
	return tf, nil
}

// parseKind reads ?kind=income|expense, defaulting to income.
func parseKind(r *http.Request) (string, error) {
	switch v := strings.TrimSpace(r.URL.Query().Get("kind")); v {
	case "", "income":
		return "income", nil
	case "expense":
		return "expense", nil
	default:
		return "", badRequest("kind must be income or expense")
	}
}

// intQuery reads an optional integer parameter bounded to [lo, hi].
func intQuery(r *http.Request, key string, def, lo, hi int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, badRequest("%s must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}
