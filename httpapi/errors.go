// Package httpapi exposes the product query service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aluiziolira/go-dispatch/scraper"
	"github.com/aluiziolira/go-dispatch/service"
	"github.com/aluiziolira/go-dispatch/store"
)

type jsonError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonError{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service failures onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		unknown  *scraper.UnknownProviderError
		storeErr *store.StoreError
	)
	switch {
	case errors.As(err, &unknown):
		WriteJSONError(w, http.StatusBadRequest, "unknown_provider", err.Error())
	case errors.Is(err, service.ErrInvalidLimit):
		WriteJSONError(w, http.StatusUnprocessableEntity, "invalid_limit", err.Error())
	case errors.As(err, &storeErr):
		WriteJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		WriteJSONError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
