// Package apiresp writes the JSON envelope every endpoint answers with.
package apiresp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Reasons []string          `json:"reasons,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

var statusCodes = map[int]string{
	http.StatusBadRequest:          "invalid_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "unprocessable_entity",
	http.StatusTooManyRequests:     "rate_limited",
	http.StatusInternalServerError: "internal_error",
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	send(w, r, status, Envelope{OK: true, Data: data})
}

// WriteError derives the code from the HTTP status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	code, ok := statusCodes[status]
	if !ok {
		code = "error"
	}
	WriteCode(w, r, status, code, msg)
}

// WriteCode reports a failure with an explicit machine-readable code.
func WriteCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	fail(w, r, status, ErrorPayload{Code: code, Message: msg})
}

func WriteValidation(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	fail(w, r, http.StatusBadRequest, ErrorPayload{
		Code:    "validation_failed",
		Message: "validation failed",
		Fields:  fields,
	})
}

// WriteRejected reports a domain rejection. The first reason doubles as the
// message.
func WriteRejected(w http.ResponseWriter, r *http.Request, status int, code string, reasons []string) {
	p := ErrorPayload{Code: code, Message: code, Reasons: reasons}
	if len(reasons) > 0 {
		p.Message = reasons[0]
	}
	fail(w, r, status, p)
}

func fail(w http.ResponseWriter, r *http.Request, status int, p ErrorPayload) {
	if p.Message == "" {
		p.Message = http.StatusText(status)
	}
	send(w, r, status, Envelope{Error: &p})
}

func send(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	env.Meta.RequestID = middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
