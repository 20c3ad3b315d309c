package requests

import (
	"net/http"

	"github.com/google/uuid"
)

const requestIDParam = "X-Request-ID"

// GetRequestId returns the caller's request id, minting one when the caller
// didn't send it
func GetRequestId(req *http.Request) string {
	requestID := req.Header.Get(requestIDParam)
	if requestID != "" {
		return requestID
	}
	requestID = uuid.NewString()
	req.Header.Set(requestIDParam, requestID)
	return requestID
}
