package cache

import (
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
)

// Handle pins one segment in memory. The segment stays readable, and any
// descriptor stays open, until Release is called.
type Handle struct {
	seg      *segment
	released atomic.Bool
}

func newHandle(seg *segment) *Handle {
	h := &Handle{seg: seg}
	runtime.SetFinalizer(h, func(h *Handle) {
		if !h.released.Load() {
			log.Warn(h.seg.streamID, "segment handle was garbage collected without being released", "segment", h.seg.name)
			h.Release()
		}
	})
	return h
}

// Release drops the reference. Only the first call counts.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		h.misuse("release")
		return
	}
	runtime.SetFinalizer(h, nil)
	if h.seg.refs.Add(-1) == 0 && h.seg.orphaned.Load() {
		h.seg.free()
	}
}

func (h *Handle) misuse(op string) {
	metrics.Metrics.SegmentCache.HandleMisuseCount.Inc()
	log.Warn(h.seg.streamID, "segment handle used after release", "segment", h.seg.name, "op", op)
}

func (h *Handle) live(op string) bool {
	if h.released.Load() {
		h.misuse(op)
		return false
	}
	return true
}

func (h *Handle) Name() string {
	return h.seg.name
}

func (h *Handle) StreamID() string {
	return h.seg.streamID
}

func (h *Handle) Size() int {
	if !h.live("size") {
		return 0
	}
	return h.seg.backing.size()
}

func (h *Handle) IsSharedMemoryBacked() bool {
	if !h.live("kind") {
		return false
	}
	return h.seg.backing.kind == BackingSharedMemory
}

// Bytes aliases the cached data. It must be treated as read only and not used
// after Release.
func (h *Handle) Bytes() []byte {
	if !h.live("bytes") {
		return nil
	}
	return h.seg.backing.data
}

// Descriptor returns the anonymous file behind a shared memory segment, or nil
// for heap segments. The file is owned by the cache and must not be closed.
func (h *Handle) Descriptor() *os.File {
	if !h.live("descriptor") {
		return nil
	}
	return h.seg.backing.file
}

// WriteTo sends the segment to w, using sendfile when w is a TCP connection and
// the segment lives in shared memory.
func (h *Handle) WriteTo(w io.Writer) (int64, error) {
	if !h.live("write") {
		return 0, nil
	}
	b := h.seg.backing
	if b.kind == BackingSharedMemory {
		if n, handled, err := sendShared(w, b.file, b.size()); handled {
			return n, err
		}
	}
	n, err := w.Write(b.data)
	return int64(n), err
}
