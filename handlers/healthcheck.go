package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/siriushex/astral/log"
)

type HealthcheckResponse struct {
	Status        string `json:"status"`
	Streams       int    `json:"streams"`
	ResidentBytes int64  `json:"resident_bytes"`
}

// Returns an HTTP 200 while the cache is up, with a summary of what it holds
func (d *CacheHandlersCollection) Healthcheck() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		responseObject := HealthcheckResponse{
			Status:        "healthy",
			Streams:       len(d.Cache.StreamIDs()),
			ResidentBytes: d.Cache.ResidentBytes(),
		}

		b, err := json.Marshal(responseObject)
		if err != nil {
			log.LogNoStreamID("Failed to marshal healthcheck status: " + err.Error())
			b = []byte(`{"status": "marshalling status failed"}`)
		}

		w.Header().Set("content-type", "application/json")
		if _, err := io.Writer.Write(w, b); err != nil {
			log.LogNoStreamID("Failed to write HTTP response for " + req.URL.Path)
		}
	}
}
