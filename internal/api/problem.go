package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atriumdigital/spliosync/internal/mapping"
	"github.com/atriumdigital/spliosync/internal/record"
	"github.com/atriumdigital/spliosync/internal/splio"
	"github.com/atriumdigital/spliosync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://spliosync.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://spliosync.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://spliosync.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://spliosync.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://spliosync.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://spliosync.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusBadGateway: {
		typeURI: "https://spliosync.dev/errors/upstream-rejection",
		title:   "Bad Gateway",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://spliosync.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *splio.RequestError

	switch {
	case errors.Is(err, record.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Record not found")
	case errors.Is(err, mapping.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Field mapping not found")
	case errors.Is(err, splio.ErrNotMapped):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Record is not mapped to any Splio entity")
	case errors.Is(err, splio.ErrNoKeyField):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Record carries no value for the configured key field")
	case errors.Is(err, splio.ErrNoParentReceipt):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Order line is not attached to a known receipt")
	case errors.Is(err, splio.ErrInvalidAction):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Unknown sync action")
	case errors.Is(err, splio.ErrDeleteUnsupported):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Splio does not support deleting this entity type")
	case errors.As(err, &reqErr) && reqErr.Transient():
		WriteProblem(w, r, http.StatusServiceUnavailable, "Splio is not responding")
	case errors.As(err, &reqErr):
		WriteProblem(w, r, http.StatusBadGateway, "Splio rejected the request")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
