package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/kylelemons/godebug/pretty"
	"github.com/siriushex/astral/log"
)

// RunSweeper sweeps every interval until ctx is cancelled
func (c *StreamCache) RunSweeper(ctx context.Context, interval, idleTimeout time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.LogNoStreamID("segment cache sweeper started", "interval", interval, "idle_timeout", idleTimeout)
	for {
		select {
		case <-ctx.Done():
			log.LogNoStreamID("segment cache sweeper stopped")
			return nil
		case <-ticker.C:
			c.sweepOnce(ctx, interval, idleTimeout)
		}
	}
}

func (c *StreamCache) sweepOnce(ctx context.Context, interval, idleTimeout time.Duration) SweepResult {
	ctx = log.WithLogValues(ctx, "sweep_id", uuid.NewString())
	start := time.Now()
	result := c.Sweep(c.Now(), idleTimeout)
	if elapsed := time.Since(start); elapsed >= interval {
		log.WarnCtx(ctx, "sweep pass took longer than the sweep interval", "duration", elapsed, "interval", interval)
	}
	if result.SegmentsEvicted > 0 || result.StreamsEvicted > 0 {
		log.LogCtx(ctx, "sweep reclaimed idle entries",
			"segments", result.SegmentsEvicted,
			"streams", result.StreamsEvicted,
			"bytes", result.BytesFreed,
			"resident_bytes", c.ResidentBytes(),
		)
	}
	if glog.V(6) {
		glog.Infof("segment cache after sweep: %s", pretty.Sprint(c.Stats()))
	}
	return result
}
