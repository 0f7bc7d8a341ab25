// Package config resolves daemon configuration from defaults, environment
// variables, and CLI flags, in that precedence order (flags win).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/tabdaemon/tabd/internal/paths"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	IPCSocketPath      string
	WSPort             int
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	DefaultBrowserPath string
}

// Defaults returns the baseline configuration before env/flag overrides.
func Defaults() Config {
	return Config{
		IPCSocketPath:     paths.DefaultSocketPath,
		WSPort:            paths.DefaultWSPort,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// FromEnv applies TAB_SOCKET_PATH / TAB_WS_PORT / TAB_BROWSER_PATH on top of
// cfg, returning the merged result. Malformed values are ignored so a bad
// environment never prevents the daemon from starting.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("TAB_SOCKET_PATH"); v != "" {
		cfg.IPCSocketPath = v
	}
	if v := os.Getenv("TAB_WS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.WSPort = port
		}
	}
	if v := os.Getenv("TAB_BROWSER_PATH"); v != "" {
		cfg.DefaultBrowserPath = v
	}
	return cfg
}

// Overrides holds the subset of Config a CLI flag set may supply; a zero
// value field means "not set, keep the existing value".
type Overrides struct {
	SocketPath string
	Port       int
	Browser    string
}

// ApplyFlags merges non-zero Overrides fields on top of cfg. Flags take
// precedence over both defaults and the environment.
func ApplyFlags(cfg Config, o Overrides) Config {
	if o.SocketPath != "" {
		cfg.IPCSocketPath = o.SocketPath
	}
	if o.Port != 0 {
		cfg.WSPort = o.Port
	}
	if o.Browser != "" {
		cfg.DefaultBrowserPath = o.Browser
	}
	return cfg
}

// Load resolves the full precedence chain: defaults -> env -> flags.
func Load(o Overrides) Config {
	cfg := Defaults()
	cfg = FromEnv(cfg)
	cfg = ApplyFlags(cfg, o)
	return cfg
}
