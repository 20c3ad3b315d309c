package cache

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/siriushex/astral/config"
	"github.com/siriushex/astral/metrics"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

func TestSweepExpiresIdleSegmentsOfLiveStream(t *testing.T) {
	c, clock := newTestCache(t, Options{DisableSharedMemory: true})
	require.NoError(t, c.PublishSegment("ch1", "old.ts", make([]byte, 10)))
	clock.Advance(90 * time.Second)
	require.NoError(t, c.PublishSegment("ch1", "new.ts", make([]byte, 20)))
	require.True(t, c.Touch("ch1"))

	segmentEvictions := testutil.ToFloat64(metrics.Metrics.SegmentCache.EvictionCount.WithLabelValues("segment"))
	res := c.Sweep(clock.NowMicros(), time.Minute)
	require.Equal(t, SweepResult{SegmentsEvicted: 1, BytesFreed: 10}, res)
	require.Equal(t, segmentEvictions+1, testutil.ToFloat64(metrics.Metrics.SegmentCache.EvictionCount.WithLabelValues("segment")))

	_, ok := c.Acquire("ch1", "old.ts")
	require.False(t, ok)
	h, ok := c.Acquire("ch1", "new.ts")
	require.True(t, ok)
	h.Release()
}

func TestAcquireRefreshesSegment(t *testing.T) {
	c, clock := newTestCache(t, Options{DisableSharedMemory: true})
	require.NoError(t, c.PublishSegment("ch1", "seg1.ts", []byte("x")))

	clock.Advance(50 * time.Second)
	require.True(t, c.Touch("ch1"))
	h, _ := c.Acquire("ch1", "seg1.ts")
	h.Release()

	res := c.Sweep(clock.Advance(50*time.Second), time.Minute)
	require.Equal(t, SweepResult{}, res)
}

func TestIdleBoundaryIsExclusive(t *testing.T) {
	c, _ := newTestCache(t, Options{DisableSharedMemory: true})
	require.NoError(t, c.PublishSegment("ch1", "seg1.ts", []byte("x")))

	require.Equal(t, SweepResult{}, c.Sweep(after(time.Minute), time.Minute))
	require.Equal(t, 1, c.Sweep(after(time.Minute+time.Microsecond), time.Minute).StreamsEvicted)
}

func TestTouchKeepsEmptyStreamAlive(t *testing.T) {
	c, clock := newTestCache(t, Options{})
	require.True(t, c.Touch("ch1"))
	for i := 0; i < 5; i++ {
		clock.Advance(40 * time.Second)
		require.True(t, c.Touch("ch1"))
		require.Zero(t, c.Sweep(clock.NowMicros(), time.Minute).StreamsEvicted)
	}
	require.Equal(t, 1, c.Sweep(clock.Advance(61*time.Second), time.Minute).StreamsEvicted)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	c, clock := newTestCache(t, Options{DisableSharedMemory: true})
	require.NoError(t, c.PublishSegment("ch1", "seg1.ts", []byte("x")))
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunSweeper(ctx, time.Millisecond, time.Minute) }()

	require.Eventually(t, func() bool { return len(c.StreamIDs()) == 0 }, 5*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	require.Error(t, c.RunSweeper(context.Background(), 0, time.Minute))
}

func TestConcurrentPublishAcquireSweep(t *testing.T) {
	c, clock := newTestCache(t, Options{SharedMemoryThreshold: 512})
	streams := []string{"ch1", "ch2", "ch3"}
	names := []string{"seg1.ts", "seg2.ts", "seg3.ts", "seg4.ts"}

	ctx, cancel := context.WithCancel(context.Background())
	var sweeps sync.WaitGroup
	sweeps.Add(1)
	go func() {
		defer sweeps.Done()
		for ctx.Err() == nil {
			c.Sweep(clock.Advance(time.Second), 2*time.Second)
		}
	}()

	var workers errgroup.Group
	for w := 0; w < 8; w++ {
		r := rand.New(rand.NewSource(int64(w)))
		workers.Go(func() error {
			for i := 0; i < 500; i++ {
				id := streams[r.Intn(len(streams))]
				name := names[r.Intn(len(names))]
				switch r.Intn(4) {
				case 0:
					payload := []byte(fmt.Sprintf("%s/%s/%d", id, name, r.Intn(1024)))
					if r.Intn(2) == 0 {
						payload = append(payload, make([]byte, 1024)...)
					}
					if err := c.PublishSegment(id, name, payload); err != nil {
						return err
					}
				case 1:
					c.Touch(id)
				case 2:
					_ = c.PublishManifest(id, []byte("#EXTM3U\n"))
					if m, ok := c.CopyManifest(id); ok && string(m) != "#EXTM3U\n" {
						return fmt.Errorf("torn manifest %q", m)
					}
				default:
					h, ok := c.Acquire(id, name)
					if !ok {
						continue
					}
					data := h.Bytes()
					prefix := id + "/" + name + "/"
					if len(data) != h.Size() || !strings.HasPrefix(string(data), prefix) {
						h.Release()
						return fmt.Errorf("segment %s/%s holds unexpected data", id, name)
					}
					h.Release()
				}
			}
			return nil
		})
	}
	require.NoError(t, workers.Wait())
	cancel()
	sweeps.Wait()

	c.Sweep(clock.Advance(time.Hour), time.Minute)
	require.Empty(t, c.StreamIDs())
	require.Zero(t, c.ResidentBytes())
}

func TestResidentBytesAlwaysMatchLiveSegments(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := config.NewFixedClock(0)
		c := New(Options{DisableSharedMemory: true, Clock: clock})
		defer c.Close()

		streams := []string{"a", "b"}
		names := []string{"s1", "s2", "s3"}
		var held []*Handle

		ops := rapid.IntRange(10, 100).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			id := rapid.SampledFrom(streams).Draw(rt, "stream")
			name := rapid.SampledFrom(names).Draw(rt, "name")
			switch rapid.IntRange(0, 5).Draw(rt, "op") {
			case 0:
				size := rapid.IntRange(0, 64).Draw(rt, "size")
				require.NoError(rt, c.PublishSegment(id, name, make([]byte, size)))
			case 1:
				if h, ok := c.Acquire(id, name); ok {
					held = append(held, h)
				}
			case 2:
				if len(held) > 0 {
					idx := rapid.IntRange(0, len(held)-1).Draw(rt, "idx")
					held[idx].Release()
					held = append(held[:idx], held[idx+1:]...)
				}
			case 3:
				advance := rapid.IntRange(0, 120).Draw(rt, "advance")
				c.Sweep(clock.Advance(time.Duration(advance)*time.Second), time.Minute)
			case 4:
				c.Touch(id)
			case 5:
				c.RemoveStream(id)
			}

			var pinned int64
			seen := map[*segment]bool{}
			for _, h := range held {
				require.Equal(rt, h.Size(), len(h.Bytes()))
				if !seen[h.seg] {
					seen[h.seg] = true
					pinned += int64(h.Size())
				}
			}
			var linked int64
			for _, st := range c.Stats() {
				linked += st.ResidentBytes
			}
			// held segments may or may not still be linked, so the total sits between the two
			require.GreaterOrEqual(rt, c.ResidentBytes(), linked)
			require.LessOrEqual(rt, c.ResidentBytes(), linked+pinned)
		}

		for _, h := range held {
			h.Release()
		}
		c.Sweep(clock.Advance(time.Hour), time.Minute)
		require.Zero(rt, c.ResidentBytes())
		require.Empty(rt, c.StreamIDs())
	})
}

func TestRefcountStaysExactUnderConcurrentAcquire(t *testing.T) {
	c, _ := newTestCache(t, Options{DisableSharedMemory: true})
	require.NoError(t, c.PublishSegment("ch1", "seg1.ts", []byte("pinned")))
	held, ok := c.Acquire("ch1", "seg1.ts")
	require.True(t, ok)

	s, ok := c.streams.Get("ch1")
	require.True(t, ok)
	seg := s.segments["seg1.ts"]

	ctx, cancel := context.WithCancel(context.Background())
	var sweeps sync.WaitGroup
	sweeps.Add(1)
	go func() {
		defer sweeps.Done()
		for ctx.Err() == nil {
			c.Sweep(after(time.Hour), time.Minute)
		}
	}()

	var readers errgroup.Group
	for w := 0; w < 16; w++ {
		readers.Go(func() error {
			for i := 0; i < 2000; i++ {
				h, ok := c.Acquire("ch1", "seg1.ts")
				if !ok {
					return fmt.Errorf("acquire missed on iteration %d", i)
				}
				if refs := seg.refs.Load(); refs < 2 {
					h.Release()
					return fmt.Errorf("refcount %d while two handles are held", refs)
				}
				h.Release()
			}
			return nil
		})
	}
	require.NoError(t, readers.Wait())
	cancel()
	sweeps.Wait()

	require.Equal(t, int64(1), seg.refs.Load())
	require.Equal(t, []string{"ch1"}, c.StreamIDs())
	held.Release()
	require.Equal(t, int64(0), seg.refs.Load())
}

func TestSlowSweepIsLogged(t *testing.T) {
	logs := captureLogs(t)
	c, _ := newTestCache(t, Options{})

	c.sweepOnce(context.Background(), 0, time.Minute)

	warning := findLog(toMap(logs), "sweep pass took longer than the sweep interval")
	require.NotNil(t, warning)
	require.Equal(t, "warn", warning["level"])
	require.NotEmpty(t, warning["sweep_id"])
}
