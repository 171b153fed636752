// Package config parses the CLI surface: repeatable endpoint mappings, the
// read-only switch, timing parameters, and the log level.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/pocketomega/clustermux/internal/endpoint"
	"github.com/pocketomega/clustermux/internal/logging"
)

// Config is the fully parsed, validated CLI surface.
type Config struct {
	Mappings            []endpoint.Mapping
	ReadOnly            bool
	PingInterval        time.Duration
	PingTimeout         time.Duration
	MaxReconnectBackoff time.Duration
	LogLevel            string
}

// multiFlag accumulates repeated occurrences of a flag into a []string,
// the standard library idiom for repeatable flags (flag.Value has no
// built-in slice support).
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// Parse parses args (typically os.Args[1:]) into a Config, or returns an
// error describing the first problem found. Any error is fatal at the call
// site.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("clustermux", flag.ContinueOnError)

	var mappings multiFlag
	fs.Var(&mappings, "mapping", "downstream endpoint mapping URL[=IDENTITY] (repeatable)")

	readOnly := fs.Bool("read-only", true, "restrict to read-only operation")
	noReadOnly := fs.Bool("no-read-only", false, "negate --read-only")
	pingInterval := fs.Int("ping-interval", 60, "health ping interval, seconds")
	pingTimeout := fs.Int("ping-timeout", 10, "health ping timeout, seconds")
	maxBackoff := fs.Int("max-reconnect-backoff", 300, "reconnect backoff ceiling, seconds")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if len(mappings) == 0 {
		return Config{}, fmt.Errorf("config: at least one --mapping is required")
	}

	parsed := make([]endpoint.Mapping, 0, len(mappings))
	for _, raw := range mappings {
		m, err := parseMapping(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		parsed = append(parsed, m)
	}

	level, err := logging.ParseLevelFlagValue(*logLevel)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return Config{
		Mappings:            parsed,
		ReadOnly:            *readOnly && !*noReadOnly,
		PingInterval:        time.Duration(*pingInterval) * time.Second,
		PingTimeout:         time.Duration(*pingTimeout) * time.Second,
		MaxReconnectBackoff: time.Duration(*maxBackoff) * time.Second,
		LogLevel:            level,
	}, nil
}

// parseMapping splits "URL=IDENTITY" or bare "URL" on the first '=':
// everything after the first '=' is identity, even if it contains further
// '=' characters.
func parseMapping(raw string) (endpoint.Mapping, error) {
	idx := strings.IndexByte(raw, '=')
	if idx < 0 {
		if raw == "" {
			return endpoint.Mapping{}, fmt.Errorf("empty mapping")
		}
		return endpoint.Mapping{URL: raw}, nil
	}

	url := raw[:idx]
	identity := raw[idx+1:]
	if url == "" {
		return endpoint.Mapping{}, fmt.Errorf("mapping %q has an empty URL", raw)
	}
	return endpoint.Mapping{URL: url, Identity: identity}, nil
}
