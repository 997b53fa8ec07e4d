package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/caredose/caredose/core/logger"
)

// The error taxonomy of the backend. Lower layers wrap one of these
// sentinels; the handler layer maps them to HTTP status codes. Callers check
// with errors.Is.
var (
	// ErrNotFound means the requested object has no record.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means an object with the same identifier exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidRequest means the caller supplied invalid input, detected
	// before any storage work was done.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDataIntegrity means stored data does not have the expected shape.
	// This signals corruption or schema drift, not transient unavailability.
	ErrDataIntegrity = errors.New("data integrity error")
	// ErrBackendFailure means the document store itself failed.
	ErrBackendFailure = errors.New("backend failure")
)

func invalidRequestError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, a...))
}

func notFoundError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

func dataIntegrityError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, a...))
}

func backendFailureError(err error) error {
	return fmt.Errorf("%w: %s", ErrBackendFailure, err)
}

// writeError maps a taxonomy error to its HTTP status. Server-side errors
// are logged with the request logger and surface as a generic message, the
// details stay out of the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrDataIntegrity):
		logger.FromContext(r.Context()).Errorln(err)
		http.Error(w, "data integrity error", http.StatusInternalServerError)
	default:
		logger.FromContext(r.Context()).Errorln(err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
