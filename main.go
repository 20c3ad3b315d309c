package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"github.com/siriushex/astral/api"
	"github.com/siriushex/astral/cache"
	"github.com/siriushex/astral/config"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/pprof"
	"golang.org/x/sync/errgroup"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("astral", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	config.AddrFlag(fs, &cli.HTTPInternalAddress, "http-internal-addr", config.DefaultInternalAddress, "Address to bind for the internal ops API")
	fs.IntVar(&cli.PprofPort, "pprof-port", config.DefaultPprofPort, "Pprof listen port on localhost, 0 disables it")

	// cache parameters
	fs.DurationVar(&cli.IdleTimeout, "idle-timeout", config.DefaultIdleTimeout, "Evict streams and segments nobody has touched for this long")
	fs.DurationVar(&cli.SweepInterval, "sweep-interval", config.DefaultSweepInterval, "How often to look for idle streams and segments")
	config.InvertedBoolFlag(fs, &cli.SharedMemory, "memfd", true, "Place large segments in sealed anonymous shared memory so they can be sent with sendfile")
	config.ByteSizeFlag(fs, &cli.SharedMemoryThreshold, "memfd-threshold", config.DefaultSharedMemoryThreshold, "Segments of at least this size go to shared memory, e.g. 32KiB")
	fs.IntVar(&cli.MaxStreams, "max-streams", 0, "Maximum number of streams held at once, 0 for no limit")
	config.ByteSizeFlag(fs, &cli.MaxResidentBytes, "max-resident-bytes", 0, "Maximum bytes of segment data held in memory, 0 for no limit")
	fs.BoolVar(&cli.ValidateManifests, "validate-manifests", false, "Reject published manifests that don't decode as HLS playlists")
	config.CommaSliceFlag(fs, &cli.Streams, "streams", []string{}, "Comma-separated stream ids to register at startup")

	// logging
	fs.StringVar(&cli.LogLevel, "log-level", "info", "Cache log level: error, warning, info or debug")
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")

	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("ASTRAL"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	if *verbosity != "" {
		if err = vFlag.Value.Set(*verbosity); err != nil {
			glog.Fatal(err)
		}
	}
	if *version {
		fmt.Printf("astral version: %s\n", config.Version)
		return
	}
	if err = cli.Validate(); err != nil {
		glog.Fatal(err)
	}
	if err = log.SetLevel(cli.LogLevel); err != nil {
		glog.Fatal(err)
	}

	streamCache := cache.New(cache.Options{
		SharedMemoryThreshold: int(cli.SharedMemoryThreshold),
		DisableSharedMemory:   !cli.SharedMemory,
		MaxStreams:            cli.MaxStreams,
		MaxResidentBytes:      cli.MaxResidentBytes,
		ValidateManifests:     cli.ValidateManifests,
		Clock:                 config.Clock,
	})
	defer streamCache.Close()

	for _, streamID := range cli.Streams {
		if !streamCache.Touch(streamID) {
			glog.Warningf("unable to register configured stream %q", streamID)
		}
	}

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServeInternal(ctx, cli, streamCache)
	})

	group.Go(func() error {
		return streamCache.RunSweeper(ctx, cli.SweepInterval, cli.IdleTimeout)
	})

	if cli.PprofPort > 0 {
		group.Go(func() error {
			return pprof.ListenAndServe(ctx, cli.PprofPort)
		})
	}

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
