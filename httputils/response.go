package httputils

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandleAPIResponse writes resp as JSON, or err as a plain-text error with
// the given status.
func HandleAPIResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, resp any, err error, status int) {
	if logger == nil {
		logger = slog.Default()
	}
	if err != nil {
		logger.Error("API request failed",
			"remote", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		http.Error(w, err.Error(), status)
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Failed to encode API response",
			"remote", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
