// Package config loads the drivectl client configuration: the identity to
// talk to, session credentials, and the named drive mounts commands operate
// on. Precedence is defaults, then the TOML file, then CLI flags.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/internal/logging"
)

// DriveMount is one named drive a command can address, configured under
// [drives.<name>].
type DriveMount struct {
	Alias               string `mapstructure:"alias"`
	Type                string `mapstructure:"type"`
	Name                string `mapstructure:"name"`
	AllowAnonymousReads bool   `mapstructure:"allow_anonymous_reads"`
}

// TargetDrive returns the wire identifier of the mount.
func (m DriveMount) TargetDrive() core.TargetDrive {
	return core.TargetDrive{Alias: m.Alias, Type: m.Type}
}

// Config is the resolved client configuration.
type Config struct {
	// Identity is the hostname of the identity to operate on.
	Identity string `toml:"identity"`

	// Root overrides the derived API root, for test or staging hosts.
	Root string `toml:"root"`

	// AccessToken is the session token. The shared secret is never stored
	// in configuration; it is derived at login and held in memory only.
	AccessToken string `toml:"access_token"`

	// HTTPTimeoutSeconds bounds every request. Zero means the default.
	HTTPTimeoutSeconds int `toml:"http_timeout_seconds"`

	Logging LoggingConfig `toml:"logging"`

	// Drives holds the raw [drives.<name>] tables; each is decoded into a
	// DriveMount after load.
	Drives map[string]map[string]any `toml:"drives"`

	mounts map[string]DriveMount
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level"`
}

// Mount returns the named drive mount.
func (c *Config) Mount(name string) (DriveMount, bool) {
	m, ok := c.mounts[name]
	return m, ok
}

// Mounts returns all configured drive mounts by name.
func (c *Config) Mounts() map[string]DriveMount {
	return c.mounts
}

// HTTPTimeout returns the configured request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// FlagOverrides holds CLI flag values that override file values. Nil means
// the flag was not set.
type FlagOverrides struct {
	Identity    *string
	Root        *string
	AccessToken *string
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file. Optional, but when set
	// a missing or invalid file fails the load.
	ConfigPath string

	FlagOverrides FlagOverrides

	// Logger receives warnings (e.g. unknown config keys). Defaults to a
	// no-op logger.
	Logger logging.Logger
}

// Load resolves the configuration: TOML file values overlaid with CLI
// flags. Unknown TOML keys produce a warning, not an error.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	cfg := &Config{}
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", opts.ConfigPath, err)
		}
		for _, key := range md.Undecoded() {
			logger.Warn(context.Background(), "unknown config key ignored",
				"key", key.String(), "file", opts.ConfigPath)
		}
	}

	if opts.FlagOverrides.Identity != nil && *opts.FlagOverrides.Identity != "" {
		cfg.Identity = *opts.FlagOverrides.Identity
	}
	if opts.FlagOverrides.Root != nil && *opts.FlagOverrides.Root != "" {
		cfg.Root = *opts.FlagOverrides.Root
	}
	if opts.FlagOverrides.AccessToken != nil && *opts.FlagOverrides.AccessToken != "" {
		cfg.AccessToken = *opts.FlagOverrides.AccessToken
	}

	if cfg.Identity == "" {
		return nil, fmt.Errorf("no identity configured: set it in %q or pass --identity",
			opts.ConfigPath)
	}

	cfg.mounts = make(map[string]DriveMount, len(cfg.Drives))
	for name, raw := range cfg.Drives {
		var mount DriveMount
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:      &mount,
			ErrorUnused: false,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("decoding drive mount %q: %w", name, err)
		}
		if mount.Alias == "" || mount.Type == "" {
			return nil, fmt.Errorf("drive mount %q needs both alias and type", name)
		}
		if mount.Name == "" {
			mount.Name = name
		}
		cfg.mounts[name] = mount
	}
	return cfg, nil
}
