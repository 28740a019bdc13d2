// Package api serves the engine over HTTP with RFC 7807 problem details.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

const problemTypeBase = "https://lightmint.dev/errors/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs), extended
// with the engine's error code and reason.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is the request path.
	Instance string `json:"instance,omitempty"`
	// RequestID correlates the response with server logs.
	RequestID string `json:"request_id,omitempty"`
	// Code is the engine error code.
	Code contracts.Code `json:"code,omitempty"`
	// Reason is the machine-readable reason within Code.
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func write(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	if r != nil {
		p.Instance = r.URL.Path
		p.RequestID = RequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem detail for status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	write(w, r, &ProblemDetail{
		Type:   problemTypeBase + strconv.Itoa(status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "request_id", RequestID(r.Context()))
	WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteErr maps an engine error onto a problem detail. Errors outside the
// taxonomy, and INTERNAL ones, are logged and answered with a generic 500.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	ce, ok := contracts.AsError(err)
	if !ok || ce.Code == contracts.CodeInternal {
		WriteInternal(w, r, err)
		return
	}
	status := contracts.HTTPStatus(ce.Code)
	write(w, r, &ProblemDetail{
		Type:      problemTypeBase + string(ce.Code),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    ce.UserMessage(),
		Code:      ce.Code,
		Reason:    ce.Reason,
		Retryable: ce.Retryable,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		WriteErr(w, r, contracts.ValidationError("invalid_body", "invalid request body: %v", err))
		return false
	}
	return true
}

const maxBody = 1 << 20
