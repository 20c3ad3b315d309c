package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Cli struct {
	HTTPInternalAddress   string
	PprofPort             int
	LogLevel              string
	IdleTimeout           time.Duration
	SweepInterval         time.Duration
	SharedMemory          bool
	SharedMemoryThreshold int64
	MaxStreams            int
	MaxResidentBytes      int64
	ValidateManifests     bool
	Streams               []string
}

// OwnInternalURL returns the URL other local processes can use to reach our internal API
func (cli *Cli) OwnInternalURL() string {
	host, port, err := net.SplitHostPort(cli.HTTPInternalAddress)
	if err != nil {
		panic(fmt.Sprintf("error splitting host/port from internal address: %s", cli.HTTPInternalAddress))
	}
	ip := net.ParseIP(host)
	if ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
}

// Validate catches combinations the cache would accept but that can never work.
func (cli *Cli) Validate() error {
	if cli.IdleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be positive, got %s", cli.IdleTimeout)
	}
	if cli.SweepInterval <= 0 {
		return fmt.Errorf("sweep-interval must be positive, got %s", cli.SweepInterval)
	}
	if cli.SharedMemoryThreshold < 0 {
		return fmt.Errorf("memfd-threshold must not be negative, got %d", cli.SharedMemoryThreshold)
	}
	if cli.MaxStreams < 0 || cli.MaxResidentBytes < 0 {
		return fmt.Errorf("max-streams and max-resident-bytes must not be negative")
	}
	return nil
}

// AddrFlag is a flag that parses a host:port pair
func AddrFlag(fs *flag.FlagSet, dest *string, name, value, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		_, _, err := net.SplitHostPort(s)
		if err != nil {
			return err
		}
		*dest = s
		return nil
	})
}

// CommaSliceFlag handles a comma-separated list of values, trimming whitespace and dropping empty items
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		out := []string{}
		for _, item := range strings.Split(s, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			out = append(out, item)
		}
		*dest = out
		return nil
	})
}

// InvertedBoolFlag registers both -name and -no-name; the latter sets dest to false
func InvertedBoolFlag(fs *flag.FlagSet, dest *bool, name string, value bool, usage string) {
	fs.BoolVar(dest, name, value, usage)
	fs.BoolFunc(fmt.Sprintf("no-%s", name), fmt.Sprintf("Disable -%s", name), func(s string) error {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*dest = !b
		return nil
	})
}

// ByteSizeFlag accepts plain byte counts or K/M/G suffixed values (binary multiples), e.g. 32KiB or 1G
func ByteSizeFlag(fs *flag.FlagSet, dest *int64, name string, value int64, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		n, err := ParseByteSize(s)
		if err != nil {
			return err
		}
		*dest = n
		return nil
	})
}

func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	multiplier := int64(1)
	for _, unit := range []struct {
		suffixes []string
		factor   int64
	}{
		{[]string{"GIB", "GB", "G"}, 1 << 30},
		{[]string{"MIB", "MB", "M"}, 1 << 20},
		{[]string{"KIB", "KB", "K"}, 1 << 10},
		{[]string{"B"}, 1},
	} {
		found := false
		for _, suffix := range unit.suffixes {
			if strings.HasSuffix(upper, suffix) {
				upper = strings.TrimSuffix(upper, suffix)
				multiplier = unit.factor
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid byte size %q: must not be negative", s)
	}
	return n * multiplier, nil
}
