package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/patchvec/patchvec/internal/errdefs"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps service errors onto HTTP statuses. Unrecognized errors
// become an opaque 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, errdefs.ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, errdefs.ErrInvalidArgument), errors.Is(err, errdefs.ErrInvalidFilter):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, errdefs.ErrUnsupportedFormat):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, errdefs.ErrTimeout):
		status, msg = http.StatusGatewayTimeout, err.Error()
	case errors.Is(err, errdefs.ErrModelError), errors.Is(err, errdefs.ErrFetchError):
		status, msg = http.StatusBadGateway, err.Error()
	}

	writeJSON(w, status, map[string]string{"error": msg})
}
