// Command soak drives an in-process segment cache with synthetic live streams
// and concurrent readers, then prints what the cache looked like at the end.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/kylelemons/godebug/pretty"
	"github.com/siriushex/astral/cache"
	"github.com/siriushex/astral/config"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/playback"
	"golang.org/x/sync/errgroup"
)

type soakConfig struct {
	Streams         int
	Readers         int
	Window          int
	SegmentSize     int64
	SegmentInterval time.Duration
	IdleTimeout     time.Duration
	Duration        time.Duration
	SharedMemory    bool
}

func (cfg soakConfig) validate() error {
	if cfg.Streams <= 0 || cfg.Window <= 0 {
		return fmt.Errorf("streams and window must be positive")
	}
	if cfg.SegmentInterval <= 0 || cfg.Duration <= 0 {
		return fmt.Errorf("segment-interval and duration must be positive")
	}
	if cfg.IdleTimeout < 4*time.Microsecond {
		return fmt.Errorf("idle-timeout %s is too short", cfg.IdleTimeout)
	}
	return nil
}

type counters struct {
	published atomic.Int64
	acquired  atomic.Int64
	misses    atomic.Int64
	bytesRead atomic.Int64
}

type report struct {
	Published     int64
	Acquired      int64
	Misses        int64
	BytesRead     int64
	ResidentBytes int64
	Streams       []cache.StreamStats
}

func run(ctx context.Context, cfg soakConfig) (report, error) {
	if err := cfg.validate(); err != nil {
		return report{}, err
	}
	c := cache.New(cache.Options{
		SharedMemoryThreshold: config.DefaultSharedMemoryThreshold,
		DisableSharedMemory:   !cfg.SharedMemory,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	var count counters

	group.Go(func() error {
		return c.RunSweeper(ctx, cfg.IdleTimeout/4, cfg.IdleTimeout)
	})
	streamIDs := make([]string, 0, cfg.Streams)
	for i := 0; i < cfg.Streams; i++ {
		streamID := fmt.Sprintf("soak%d", i)
		streamIDs = append(streamIDs, streamID)
		group.Go(func() error {
			return produce(ctx, c, streamID, cfg, &count)
		})
	}
	for i := 0; i < cfg.Readers; i++ {
		seed := int64(i)
		group.Go(func() error {
			return consume(ctx, c, streamIDs, rand.New(rand.NewSource(seed)), &count)
		})
	}

	if err := group.Wait(); err != nil {
		return report{}, err
	}
	return report{
		Published:     count.published.Load(),
		Acquired:      count.acquired.Load(),
		Misses:        count.misses.Load(),
		BytesRead:     count.bytesRead.Load(),
		ResidentBytes: c.ResidentBytes(),
		Streams:       c.Stats(),
	}, nil
}

// produce publishes one segment per interval and a manifest naming the last window of them
func produce(ctx context.Context, c *cache.StreamCache, streamID string, cfg soakConfig, count *counters) error {
	ticker := time.NewTicker(cfg.SegmentInterval)
	defer ticker.Stop()
	payload := make([]byte, cfg.SegmentSize)

	for seq := 0; ; seq++ {
		c.Touch(streamID)
		name := fmt.Sprintf("seg%d.ts", seq)
		if err := c.PublishSegment(streamID, name, payload); err != nil {
			return fmt.Errorf("publishing %s/%s: %w", streamID, name, err)
		}
		count.published.Add(1)
		if err := c.PublishManifest(streamID, manifest(seq, cfg.Window, cfg.SegmentInterval)); err != nil {
			return fmt.Errorf("publishing manifest for %s: %w", streamID, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func manifest(last, window int, interval time.Duration) []byte {
	first := last - window + 1
	if first < 0 {
		first = 0
	}
	target := int(interval.Seconds()) + 1
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:%d\n", target, first)
	for seq := first; seq <= last; seq++ {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\nseg%d.ts\n", interval.Seconds(), seq)
	}
	return []byte(b.String())
}

// consume behaves like a player: read the manifest, then fetch its newest segment
func consume(ctx context.Context, c *cache.StreamCache, streamIDs []string, r *rand.Rand, count *counters) error {
	for ctx.Err() == nil {
		streamID := streamIDs[r.Intn(len(streamIDs))]
		m, ok := c.CopyManifest(streamID)
		if !ok {
			count.misses.Add(1)
			time.Sleep(time.Millisecond)
			continue
		}
		info, err := playback.InspectManifest(m)
		if err != nil {
			return fmt.Errorf("manifest for %s: %w", streamID, err)
		}
		names := info.SegmentNames()
		if len(names) == 0 {
			continue
		}
		found, err := c.WithSegment(streamID, names[len(names)-1], func(h *cache.Handle) error {
			n, err := h.WriteTo(io.Discard)
			count.bytesRead.Add(n)
			return err
		})
		if err != nil {
			return err
		}
		if found {
			count.acquired.Add(1)
		} else {
			count.misses.Add(1)
		}
	}
	return nil
}

func main() {
	fs := flag.NewFlagSet("soak", flag.ExitOnError)
	cfg := soakConfig{}
	fs.IntVar(&cfg.Streams, "streams", 4, "Number of synthetic live streams")
	fs.IntVar(&cfg.Readers, "readers", 16, "Number of concurrent readers")
	fs.IntVar(&cfg.Window, "window", 6, "Segments listed in each manifest")
	config.ByteSizeFlag(fs, &cfg.SegmentSize, "segment-size", 512*1024, "Size of every published segment")
	fs.DurationVar(&cfg.SegmentInterval, "segment-interval", 200*time.Millisecond, "Time between segments of a stream")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 2*time.Second, "Cache idle timeout")
	fs.DurationVar(&cfg.Duration, "duration", 10*time.Second, "How long to run")
	config.InvertedBoolFlag(fs, &cfg.SharedMemory, "memfd", true, "Use shared memory segments")
	logLevel := fs.String("log-level", "warning", "Cache log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		glog.Fatal(err)
	}
	if err := log.SetLevel(*logLevel); err != nil {
		glog.Fatal(err)
	}

	rep, err := run(context.Background(), cfg)
	if err != nil {
		glog.Fatalf("soak failed: %s", err)
	}
	fmt.Println(pretty.Sprint(rep))
}
