package cache

import (
	"fmt"

	"github.com/siriushex/astral/errors"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
)

// PublishSegment stores a copy of data under name, creating the stream if
// needed. A segment already published under the same name is replaced; readers
// holding the old one keep it until they release it.
func (c *StreamCache) PublishSegment(streamID, name string, data []byte) error {
	if c.closed.Load() {
		return errors.ErrCacheClosed
	}

	size := int64(len(data))
	if !c.reserve(size) {
		metrics.Metrics.SegmentCache.PublishFailureCount.WithLabelValues("budget").Inc()
		log.Warn(streamID, "segment rejected, resident byte limit reached", "segment", name, "size", size, "resident_bytes", c.resident.Load())
		return fmt.Errorf("publish %s/%s: %w", streamID, name, errors.ErrAllocationFailed)
	}

	b := c.allocator.Allocate(streamID, name, data)
	seg := &segment{
		owner:    c,
		streamID: streamID,
		name:     name,
		backing:  b,
	}
	seg.lastAccess.Store(c.clock.NowMicros())
	metrics.Metrics.SegmentCache.SegmentsResident.Inc()
	metrics.Metrics.SegmentCache.ResidentBytes.WithLabelValues(b.kind.String()).Add(float64(size))

	for {
		s, err := c.getOrCreateStream(streamID, false)
		if err != nil {
			seg.free()
			metrics.Metrics.SegmentCache.PublishFailureCount.WithLabelValues(failureReason(err)).Inc()
			return fmt.Errorf("publish %s/%s: %w", streamID, name, err)
		}
		old, inserted := s.insert(seg)
		if !inserted {
			// lost a race with eviction, the next lookup creates a fresh stream
			continue
		}
		if old != nil {
			old.orphan()
		}
		break
	}

	metrics.Metrics.SegmentCache.SegmentPublishCount.WithLabelValues(b.kind.String()).Inc()
	log.Debug(streamID, "segment published", "segment", name, "size", size, "backing", b.kind)
	return nil
}

func failureReason(err error) string {
	switch err {
	case errors.ErrStreamLimit:
		return "stream_limit"
	case errors.ErrCacheClosed:
		return "closed"
	}
	return "other"
}

func (s *stream) insert(seg *segment) (*segment, bool) {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	if s.evicted {
		return nil, false
	}
	old := s.segments[seg.name]
	s.segments[seg.name] = seg
	return old, true
}

// Acquire pins the named segment. The bool is false when either the stream or
// the segment is unknown.
func (c *StreamCache) Acquire(streamID, name string) (*Handle, bool) {
	s, ok := c.streams.Get(streamID)
	if !ok {
		c.acquireMiss(streamID, name, "stream")
		return nil, false
	}

	now := c.clock.NowMicros()
	s.segMu.RLock()
	if s.evicted {
		s.segMu.RUnlock()
		c.acquireMiss(streamID, name, "stream")
		return nil, false
	}
	seg, found := s.segments[name]
	if !found {
		s.segMu.RUnlock()
		c.acquireMiss(streamID, name, "segment")
		return nil, false
	}
	seg.refs.Add(1)
	seg.lastAccess.Store(now)
	s.segMu.RUnlock()

	metrics.Metrics.SegmentCache.AcquireCount.WithLabelValues("hit", "").Inc()
	return newHandle(seg), true
}

func (c *StreamCache) acquireMiss(streamID, name, reason string) {
	metrics.Metrics.SegmentCache.AcquireCount.WithLabelValues("miss", reason).Inc()
	if log.IsDebug() {
		log.Debug(streamID, "segment not found", "segment", name, "reason", reason)
	}
}

// WithSegment runs fn with the segment pinned and releases it afterwards.
// found is false when the segment is not cached, fn is not called then.
func (c *StreamCache) WithSegment(streamID, name string, fn func(h *Handle) error) (found bool, err error) {
	h, ok := c.Acquire(streamID, name)
	if !ok {
		return false, nil
	}
	defer h.Release()
	return true, fn(h)
}
