package response

import (
	"net/http"

	"github.com/getsentry/sentry-go"

	"file-server-go/internal/sentryx"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Error writes a standard JSON error envelope. Server errors are reported to Sentry.
func Error(w http.ResponseWriter, statusCode int, message string) {
	ErrorWithKind(w, statusCode, "", message)
}

// ErrorWithKind writes an error envelope carrying a machine-readable kind.
func ErrorWithKind(w http.ResponseWriter, statusCode int, kind, message string) {
	if statusCode >= http.StatusInternalServerError {
		sentryx.CaptureMessage(sentry.LevelError, "http_error status=%d kind=%s message=%s", statusCode, kind, message)
	}
	JSON(w, statusCode, ErrorBody{Error: message, Kind: kind})
}

func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "Unauthorized")
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

func TooManyRequests(w http.ResponseWriter, message string) {
	Error(w, http.StatusTooManyRequests, message)
}

func InternalServerError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "Internal Server Error")
}
