package cache

import (
	"time"

	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
)

type SweepResult struct {
	SegmentsEvicted int   `json:"segments_evicted"`
	StreamsEvicted  int   `json:"streams_evicted"`
	BytesFreed      int64 `json:"bytes_freed"`
}

// Sweep reclaims idle entries in two passes per stream. Unreferenced segments
// not acquired for longer than idleTimeout are dropped first, then a stream not
// touched for longer than idleTimeout is dropped together with its remaining
// segments, unless one of them is still held by a reader.
// now is a timestamp from the cache's clock.
func (c *StreamCache) Sweep(now int64, idleTimeout time.Duration) SweepResult {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	start := time.Now()
	idle := idleTimeout.Microseconds()
	var result SweepResult
	var unlinked []*segment

	for _, s := range c.streams.Values() {
		expired := s.expireSegments(now, idle)
		result.SegmentsEvicted += len(expired)
		unlinked = append(unlinked, expired...)

		if now-s.lastTouch.Load() <= idle {
			continue
		}
		var leftovers []*segment
		_, removed := c.streams.RemoveIf(s.id, func(cur *stream) bool {
			if cur != s {
				return false
			}
			var ok bool
			leftovers, ok = s.evictIfIdle(now, idle)
			return ok
		})
		if !removed {
			continue
		}
		result.StreamsEvicted++
		result.SegmentsEvicted += len(leftovers)
		unlinked = append(unlinked, leftovers...)
		c.streamGone(s.id)
		log.LogNoStreamID("evicted idle stream", "stream_id", s.id, "idle_us", now-s.lastTouch.Load())
	}

	// nothing can reach these any more, free them without holding any lock
	for _, seg := range unlinked {
		result.BytesFreed += seg.free()
	}

	metrics.Metrics.SegmentCache.EvictionCount.WithLabelValues("segment").Add(float64(result.SegmentsEvicted))
	metrics.Metrics.SegmentCache.EvictionCount.WithLabelValues("stream").Add(float64(result.StreamsEvicted))
	metrics.Metrics.SegmentCache.SweepDurationSec.Observe(time.Since(start).Seconds())
	return result
}

func (s *stream) expireSegments(now, idle int64) []*segment {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	var expired []*segment
	for name, seg := range s.segments {
		if seg.refs.Load() == 0 && now-seg.lastAccess.Load() > idle {
			delete(s.segments, name)
			expired = append(expired, seg)
		}
	}
	return expired
}

// evictIfIdle runs with the registry write lock held so no new touch or lookup
// can race the decision.
func (s *stream) evictIfIdle(now, idle int64) ([]*segment, bool) {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	if now-s.lastTouch.Load() <= idle {
		return nil, false
	}
	for _, seg := range s.segments {
		if seg.refs.Load() > 0 {
			return nil, false
		}
	}
	s.evicted = true
	leftovers := make([]*segment, 0, len(s.segments))
	for _, seg := range s.segments {
		leftovers = append(leftovers, seg)
	}
	s.segments = make(map[string]*segment)
	return leftovers, true
}
