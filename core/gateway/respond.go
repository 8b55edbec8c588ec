package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/logging"
)

const kindInvalidRequest = "invalid_request"

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a catalog error onto its HTTP status and a stable kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	kind := catalog.Kind(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.Error("gateway", "request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: kindInvalidRequest})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, catalog.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge
	case catalog.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
