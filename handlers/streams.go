package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/siriushex/astral/cache"
	"github.com/siriushex/astral/errors"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/playback"
)

type StreamDetail struct {
	cache.StreamStats
	Manifest        *playback.ManifestInfo `json:"manifest,omitempty"`
	ManifestError   string                 `json:"manifest_error,omitempty"`
	MissingSegments []string               `json:"missing_segments,omitempty"`
}

func (d *CacheHandlersCollection) ListStreams() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, req, http.StatusOK, d.Cache.Stats())
	}
}

// GetStream reports a stream's stats together with its decoded manifest and
// any segment the manifest names that the cache doesn't hold
func (d *CacheHandlersCollection) GetStream() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		streamID := params.ByName("id")
		stats, ok := d.Cache.StreamStats(streamID)
		if !ok {
			errors.WriteHTTPNotFound(w, "stream not found", nil)
			return
		}

		detail := StreamDetail{StreamStats: stats}
		if manifest, ok := d.Cache.CopyManifest(streamID); ok {
			info, err := playback.InspectManifest(manifest)
			if err != nil {
				detail.ManifestError = err.Error()
			} else {
				detail.Manifest = &info
				detail.MissingSegments = missingSegments(info.SegmentNames(), stats.Segments)
			}
		}
		writeJSON(w, req, http.StatusOK, detail)
	}
}

func missingSegments(referenced, cached []string) []string {
	have := make(map[string]bool, len(cached))
	for _, name := range cached {
		have[name] = true
	}
	var missing []string
	for _, name := range referenced {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func (d *CacheHandlersCollection) DeleteStream() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		streamID := params.ByName("id")
		if !d.Cache.RemoveStream(streamID) {
			errors.WriteHTTPNotFound(w, "stream not found", nil)
			return
		}
		log.Log(streamID, "stream removed through the internal API", "remote", req.RemoteAddr)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Sweep runs an eviction pass right away instead of waiting for the next tick
func (d *CacheHandlersCollection) Sweep() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		result := d.Cache.Sweep(d.Cache.Now(), d.IdleTimeout)
		writeJSON(w, req, http.StatusOK, result)
	}
}
