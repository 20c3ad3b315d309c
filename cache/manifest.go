package cache

import (
	"fmt"

	"github.com/siriushex/astral/errors"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
	"github.com/siriushex/astral/playback"
)

// PublishManifest replaces the stream's manifest with a copy of manifest,
// creating the stream if needed. It does not count as a touch.
func (c *StreamCache) PublishManifest(streamID string, manifest []byte) error {
	if c.closed.Load() {
		return errors.ErrCacheClosed
	}
	if c.opts.ValidateManifests {
		if _, err := playback.InspectManifest(manifest); err != nil {
			metrics.Metrics.SegmentCache.PublishFailureCount.WithLabelValues("invalid_manifest").Inc()
			log.Warn(streamID, "manifest rejected", "err", err)
			return fmt.Errorf("publish manifest for %s: %w: %s", streamID, errors.ErrInvalidManifest, err)
		}
	}

	buf := make([]byte, len(manifest))
	copy(buf, manifest)

	for {
		s, err := c.getOrCreateStream(streamID, false)
		if err != nil {
			metrics.Metrics.SegmentCache.PublishFailureCount.WithLabelValues(failureReason(err)).Inc()
			return fmt.Errorf("publish manifest for %s: %w", streamID, err)
		}
		if s.setManifest(buf) {
			break
		}
	}

	metrics.Metrics.SegmentCache.ManifestPublishCount.Inc()
	log.Debug(streamID, "manifest published", "size", len(buf))
	return nil
}

// setManifest reports false when the stream already left the registry. The
// eviction check and the store are separate critical sections, so segMu and
// manifestMu are never held together.
func (s *stream) setManifest(manifest []byte) bool {
	s.segMu.RLock()
	evicted := s.evicted
	s.segMu.RUnlock()
	if evicted {
		return false
	}
	s.manifestMu.Lock()
	s.manifest = manifest
	s.manifestMu.Unlock()
	return true
}

// CopyManifest returns a private copy of the latest manifest. The bool is false
// when the stream is unknown or has no manifest yet.
func (c *StreamCache) CopyManifest(streamID string) ([]byte, bool) {
	s, ok := c.streams.Get(streamID)
	if !ok {
		metrics.Metrics.SegmentCache.ManifestCopyCount.WithLabelValues("miss").Inc()
		return nil, false
	}

	s.manifestMu.Lock()
	if s.manifest == nil {
		s.manifestMu.Unlock()
		metrics.Metrics.SegmentCache.ManifestCopyCount.WithLabelValues("miss").Inc()
		return nil, false
	}
	out := make([]byte, len(s.manifest))
	copy(out, s.manifest)
	s.manifestMu.Unlock()

	metrics.Metrics.SegmentCache.ManifestCopyCount.WithLabelValues("hit").Inc()
	return out, true
}
