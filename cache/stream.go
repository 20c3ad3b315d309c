package cache

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/siriushex/astral/config"
	"github.com/siriushex/astral/errors"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
)

type Options struct {
	// Segments of at least this many bytes are placed in shared memory
	SharedMemoryThreshold int
	DisableSharedMemory   bool
	// Zero means unlimited
	MaxStreams       int
	MaxResidentBytes int64
	// Reject manifests that don't decode as HLS playlists
	ValidateManifests bool
	Clock             config.TimestampGenerator
}

// StreamCache holds the latest manifest and the published segments of every
// live stream. The registry lock is only held for lookups and inserts, each
// stream guards its manifest and segment table with its own locks.
// Locks are always taken in the order registry, then a stream's segment lock.
type StreamCache struct {
	opts      Options
	clock     config.TimestampGenerator
	allocator *Allocator
	streams   *registry[*stream]

	resident atomic.Int64
	closed   atomic.Bool
	sweepMu  sync.Mutex
}

type stream struct {
	id        string
	lastTouch atomic.Int64

	manifestMu sync.Mutex
	manifest   []byte

	segMu    sync.RWMutex
	segments map[string]*segment
	// set under segMu once the stream has left the registry
	evicted bool
}

func New(opts Options) *StreamCache {
	if opts.Clock == nil {
		opts.Clock = config.Clock
	}
	if opts.SharedMemoryThreshold <= 0 {
		opts.SharedMemoryThreshold = config.DefaultSharedMemoryThreshold
	}
	return &StreamCache{
		opts:      opts,
		clock:     opts.Clock,
		allocator: NewAllocator(opts.SharedMemoryThreshold, !opts.DisableSharedMemory),
		streams:   newRegistry[*stream](),
	}
}

func newStream(id string, now int64) *stream {
	s := &stream{
		id:       id,
		segments: make(map[string]*segment),
	}
	s.lastTouch.Store(now)
	return s
}

// Touch marks the stream as wanted, creating it if needed. It returns false
// when the stream could not be registered.
func (c *StreamCache) Touch(streamID string) bool {
	if c.closed.Load() {
		return false
	}
	if _, err := c.getOrCreateStream(streamID, true); err != nil {
		log.Warn(streamID, "unable to register stream", "err", err)
		return false
	}
	return true
}

// getOrCreateStream looks the stream up, creating it with a fresh touch time
// when missing. Only touch refreshes the idle clock of an existing stream.
func (c *StreamCache) getOrCreateStream(streamID string, touch bool) (*stream, error) {
	now := c.clock.NowMicros()
	var visit func(*stream)
	if touch {
		visit = func(s *stream) { s.lastTouch.Store(now) }
	}
	s, created, err := c.streams.GetOrCreate(streamID, visit, func(size int) (*stream, error) {
		if c.closed.Load() {
			return nil, errors.ErrCacheClosed
		}
		if c.opts.MaxStreams > 0 && size >= c.opts.MaxStreams {
			return nil, errors.ErrStreamLimit
		}
		return newStream(streamID, now), nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.Metrics.SegmentCache.StreamsActive.Inc()
		// a stream id can come back after eviction, the session tells the incarnations apart
		log.AddContext(streamID, "stream_session", uuid.NewString())
		log.Debug(streamID, "stream registered")
	}
	return s, nil
}

// RemoveStream drops a stream immediately, regardless of idleness. Segments
// still held by readers stay alive until their handles are released.
func (c *StreamCache) RemoveStream(streamID string) bool {
	var unlinked []*segment
	_, removed := c.streams.RemoveIf(streamID, func(s *stream) bool {
		unlinked = s.evict()
		return true
	})
	if !removed {
		return false
	}
	c.streamGone(streamID)
	for _, seg := range unlinked {
		seg.orphan()
	}
	log.LogNoStreamID("stream removed", "stream_id", streamID, "segments", len(unlinked))
	return true
}

// evict marks the stream dead and empties its segment table
func (s *stream) evict() []*segment {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	s.evicted = true
	unlinked := make([]*segment, 0, len(s.segments))
	for _, seg := range s.segments {
		unlinked = append(unlinked, seg)
	}
	s.segments = make(map[string]*segment)
	return unlinked
}

func (c *StreamCache) streamGone(streamID string) {
	metrics.Metrics.SegmentCache.StreamsActive.Dec()
	log.Forget(streamID)
}

// Close drops every stream. Outstanding handles stay valid until released,
// nothing can be published afterwards.
func (c *StreamCache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	for id, s := range c.streams.Drain() {
		for _, seg := range s.evict() {
			seg.orphan()
		}
		c.streamGone(id)
	}
	log.LogNoStreamID("segment cache closed", "resident_bytes", c.resident.Load())
}

func (c *StreamCache) reserve(size int64) bool {
	for {
		cur := c.resident.Load()
		if c.opts.MaxResidentBytes > 0 && cur+size > c.opts.MaxResidentBytes {
			return false
		}
		if c.resident.CompareAndSwap(cur, cur+size) {
			return true
		}
	}
}

func (c *StreamCache) unreserve(size int64, kind BackingKind) {
	c.resident.Add(-size)
	metrics.Metrics.SegmentCache.ResidentBytes.WithLabelValues(kind.String()).Sub(float64(size))
	metrics.Metrics.SegmentCache.SegmentsResident.Dec()
}

// Now reads the cache's clock, for callers that sweep on their own schedule
func (c *StreamCache) Now() int64 {
	return c.clock.NowMicros()
}

// ResidentBytes counts the segment bytes still in memory, orphaned segments included
func (c *StreamCache) ResidentBytes() int64 {
	return c.resident.Load()
}

func (c *StreamCache) StreamIDs() []string {
	return c.streams.Keys()
}

type StreamStats struct {
	ID                   string   `json:"id"`
	ManifestBytes        int      `json:"manifest_bytes"`
	Segments             []string `json:"segments"`
	ReferencedSegments   int      `json:"referenced_segments"`
	SharedMemorySegments int      `json:"shared_memory_segments"`
	ResidentBytes        int64    `json:"resident_bytes"`
	IdleMicros           int64    `json:"idle_us"`
}

// Stats snapshots every stream, sorted by id
func (c *StreamCache) Stats() []StreamStats {
	now := c.clock.NowMicros()
	streams := c.streams.Values()
	stats := make([]StreamStats, 0, len(streams))
	for _, s := range streams {
		stats = append(stats, s.stats(now))
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

func (c *StreamCache) StreamStats(streamID string) (StreamStats, bool) {
	s, ok := c.streams.Get(streamID)
	if !ok {
		return StreamStats{}, false
	}
	return s.stats(c.clock.NowMicros()), true
}

func (s *stream) stats(now int64) StreamStats {
	st := StreamStats{
		ID:         s.id,
		Segments:   []string{},
		IdleMicros: now - s.lastTouch.Load(),
	}
	s.manifestMu.Lock()
	st.ManifestBytes = len(s.manifest)
	s.manifestMu.Unlock()

	s.segMu.RLock()
	for name, seg := range s.segments {
		st.Segments = append(st.Segments, name)
		st.ResidentBytes += int64(seg.backing.size())
		if seg.refs.Load() > 0 {
			st.ReferencedSegments++
		}
		if seg.backing.kind == BackingSharedMemory {
			st.SharedMemorySegments++
		}
	}
	s.segMu.RUnlock()
	sort.Strings(st.Segments)
	return st
}
