package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/siriushex/astral/cache"
	"github.com/siriushex/astral/log"
)

type CacheHandlersCollection struct {
	Cache       *cache.StreamCache
	IdleTimeout time.Duration
}

func NewCacheHandlersCollection(c *cache.StreamCache, idleTimeout time.Duration) *CacheHandlersCollection {
	return &CacheHandlersCollection{
		Cache:       c,
		IdleTimeout: idleTimeout,
	}
}

func writeJSON(w http.ResponseWriter, req *http.Request, status int, body interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoStreamID("Failed to write HTTP response", "path", req.URL.Path, "err", err)
	}
}
