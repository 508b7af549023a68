package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jmcleod/leafgate/inference"
	"github.com/jmcleod/leafgate/session"
	"github.com/jmcleod/leafgate/storage"
	"github.com/jmcleod/leafgate/upload"
)

const (
	maxAuthBodySize = 16 << 10

	msgAuthRequired       = "authentication required"
	msgInvalidCredentials = "invalid email or password"
	msgInternal           = "internal server error"
	msgInferenceFailed    = "prediction failed"
	msgNotSaved           = "analysis could not be saved"
)

var errInvalidCredentials = errors.New("invalid credentials")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs err and returns a generic 500 so internal detail
// never reaches the client.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	a.logger.ErrorContext(r.Context(), msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, msgInternal)
}

// mapError translates a domain error into a status and a client-safe
// message.
func mapError(w http.ResponseWriter, err error) {
	var verr *upload.ValidationError
	var ierr *inference.Error
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, errInvalidCredentials):
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, session.ErrMissingToken),
		errors.Is(err, session.ErrMalformedToken),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrExpiredToken),
		errors.Is(err, session.ErrRevokedToken):
		writeError(w, http.StatusUnauthorized, msgAuthRequired)
	case errors.Is(err, storage.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ierr):
		writeError(w, http.StatusInternalServerError, msgInferenceFailed)
	default:
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

// decodeJSON reads a JSON body of at most limit bytes into a T. On failure
// it writes the error response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return v, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "could not read request body")
		}
		return v, false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required")
		return v, false
	}
	if err := json.Unmarshal(body, &v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return v, false
	}
	return v, true
}
