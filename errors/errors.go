package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/siriushex/astral/log"
)

var (
	// Backing or budget allocation failed; the publish was rejected and nothing was stored
	ErrAllocationFailed = errors.New("segment allocation failed")
	// Manifest did not decode as an HLS playlist
	ErrInvalidManifest = errors.New("invalid manifest")
	// The cache has been torn down
	ErrCacheClosed = errors.New("cache closed")
	// The configured stream limit was reached
	ErrStreamLimit = errors.New("stream limit reached")
)

// IsAllocationFailure reports whether a publish failed because memory could not be reserved,
// as opposed to a producer contract problem.
func IsAllocationFailure(err error) bool {
	return errors.Is(err, ErrAllocationFailed) || errors.Is(err, ErrStreamLimit)
}

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoStreamID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// HTTP Errors
func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}
