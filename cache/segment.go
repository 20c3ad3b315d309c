package cache

import (
	"sync"
	"sync/atomic"

	"github.com/siriushex/astral/log"
)

type segment struct {
	owner    *StreamCache
	streamID string
	name     string
	backing  backing

	refs       atomic.Int64
	lastAccess atomic.Int64
	// set once the segment is no longer reachable from its stream
	orphaned atomic.Bool
	freeOnce sync.Once
}

// orphan is called after the segment has been unlinked from its stream. The
// last handle to be released frees it, or it is freed here when nobody holds it.
func (s *segment) orphan() int64 {
	s.orphaned.Store(true)
	if s.refs.Load() == 0 {
		return s.free()
	}
	return 0
}

func (s *segment) free() int64 {
	var freed int64
	s.freeOnce.Do(func() {
		size := int64(s.backing.size())
		kind := s.backing.kind
		if err := s.backing.free(); err != nil {
			log.LogError(s.streamID, "failed to release segment memory", err, "segment", s.name, "backing", kind)
		}
		s.owner.unreserve(size, kind)
		freed = size
	})
	return freed
}
