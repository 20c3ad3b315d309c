package cache

import (
	"fmt"
	"os"

	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
)

type BackingKind int

const (
	BackingHeap BackingKind = iota
	BackingSharedMemory
)

func (k BackingKind) String() string {
	if k == BackingSharedMemory {
		return "memfd"
	}
	return "heap"
}

// memfd names are capped by the kernel at 249 bytes
const maxSharedName = 249

// backing holds a segment's bytes. Shared memory backings keep the anonymous
// file open alongside a read only mapping of it, data aliases the mapping.
type backing struct {
	kind BackingKind
	data []byte
	file *os.File
}

func heapBacking(data []byte) backing {
	buf := make([]byte, len(data))
	copy(buf, data)
	return backing{kind: BackingHeap, data: buf}
}

func (b backing) size() int {
	return len(b.data)
}

func (b *backing) free() error {
	if b.kind != BackingSharedMemory {
		b.data = nil
		return nil
	}
	var unmapErr error
	if b.data != nil {
		unmapErr = unmapShared(b.data)
	}
	closeErr := b.file.Close()
	b.data = nil
	b.file = nil
	if unmapErr != nil {
		return fmt.Errorf("munmap: %w", unmapErr)
	}
	return closeErr
}

// Allocator picks a backing for each published segment
type Allocator struct {
	// Segments of at least this many bytes go to shared memory
	Threshold    int
	SharedMemory bool

	newShared func(name string, data []byte) (backing, error)
}

func NewAllocator(threshold int, sharedMemory bool) *Allocator {
	return &Allocator{
		Threshold:    threshold,
		SharedMemory: sharedMemory,
		newShared:    newSharedBacking,
	}
}

func (a *Allocator) wantsShared(size int) bool {
	return a.SharedMemory && size > 0 && size >= a.Threshold
}

// Allocate copies data into a new backing. A failed shared memory allocation
// falls back to the heap, the caller only ever sees a usable backing.
func (a *Allocator) Allocate(streamID, name string, data []byte) backing {
	if !a.wantsShared(len(data)) {
		return heapBacking(data)
	}
	b, err := a.newShared(sharedName(streamID, name), data)
	if err != nil {
		metrics.Metrics.SegmentCache.BackingFallbackCount.Inc()
		log.Warn(streamID, "shared memory allocation failed, falling back to heap", "segment", name, "size", len(data), "err", err)
		return heapBacking(data)
	}
	return b
}

func sharedName(streamID, name string) string {
	n := "astral/" + streamID + "/" + name
	if len(n) > maxSharedName {
		n = n[:maxSharedName]
	}
	return n
}
