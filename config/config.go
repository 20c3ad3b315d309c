package config

import "time"

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = NewMonotonicClock()

const (
	DefaultIdleTimeout           = 60 * time.Second
	DefaultSweepInterval         = 5 * time.Second
	DefaultSharedMemoryThreshold = 32 * 1024
	DefaultInternalAddress       = "127.0.0.1:7979"
	DefaultPprofPort             = 6061
)
