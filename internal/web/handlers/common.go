package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-finder/internal/constants"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondMessage sends a {"message": ...} response, the shape used by the auth endpoints.
func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// processErrorStatus maps codec and store failures to an HTTP status.
func processErrorStatus(err error) int {
	switch {
	case errors.Is(err, fingerprint.ErrEncodingMismatch), errors.Is(err, fingerprint.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, fingerprint.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondProcessError logs err and sends the generic processing failure.
func respondProcessError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := processErrorStatus(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, op+" failed", "error", sanitizeForLog(err.Error()), "status", status)
	respondError(w, status, constants.MsgProcessFailed)
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
