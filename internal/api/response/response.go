package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/scoreforge/scoreforge/internal/apperr"
)

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, data)
}

// Status writes data with an explicit status code.
func Status(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Detail: detail, Code: code})
}

// Failure reports a service error with the status and code of its kind.
// Internal failures are logged in full and sent with a generic detail.
func Failure(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
	}
	Error(w, status, apperr.Code(err), apperr.Message(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response body", "error", err)
	}
}
