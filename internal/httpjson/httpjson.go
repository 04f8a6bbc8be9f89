// Package httpjson holds the JSON request and response helpers shared by the
// HTTP handlers.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// MaxBodyBytes bounds request bodies accepted by [Decode].
const MaxBodyBytes = 1 << 20

// MsgInvalidJSON is the error message returned for unparseable bodies.
const MsgInvalidJSON = "Invalid JSON in request body"

// ErrorBody is the response body of every failed request.
type ErrorBody struct {
	Error string `json:"error"`
}

// Write encodes v as JSON with the given status code.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpjson: encode response", "err", err)
	}
}

// Error writes {"error": msg} with the given status code.
func Error(w http.ResponseWriter, status int, msg string) {
	Write(w, status, ErrorBody{Error: msg})
}

// ErrTrailingData is returned by [Decode] when the body holds more than one
// JSON value.
var ErrTrailingData = errors.New("httpjson: unexpected data after JSON value")

// Decode reads a JSON body into v. The body must hold exactly one JSON value.
// An empty body decodes as an empty object only when allowEmpty is set.
func Decode(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}
	return nil
}
