// Package config loads hackd settings from a TOML or YAML file, applies
// HACKGAME_ environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/hackgame/internal/account"
	"github.com/danmuck/hackgame/internal/credential"
	"github.com/danmuck/hackgame/internal/protocol/session"
	"github.com/danmuck/hackgame/internal/software"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "HACKGAME_"

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

var ErrUnsupportedFormat = errors.New("config: unsupported file format")

type Config struct {
	ListenAddr    string `toml:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR"`
	WebSocketAddr string `toml:"websocket_addr" yaml:"websocket_addr" env:"WEBSOCKET_ADDR"`
	MetricsAddr   string `toml:"metrics_addr" yaml:"metrics_addr" env:"METRICS_ADDR"`

	Storage    Storage           `toml:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Registry   Registry          `toml:"registry" yaml:"registry" envPrefix:"REGISTRY_"`
	Credential credential.Params `toml:"credential" yaml:"credential" envPrefix:"CREDENTIAL_"`
	Session    session.Config    `toml:"session" yaml:"session" envPrefix:"SESSION_"`
	Commands   Commands          `toml:"commands" yaml:"commands" envPrefix:"COMMANDS_"`
	Events     Events            `toml:"events" yaml:"events" envPrefix:"EVENTS_"`
	Dev        account.Dev       `toml:"dev" yaml:"dev" envPrefix:"DEV_"`

	Software []software.Metadata `toml:"software" yaml:"software"`
}

type Storage struct {
	Driver string `toml:"driver" yaml:"driver" env:"DRIVER"`
	Path   string `toml:"path" yaml:"path" env:"PATH"`
}

type Registry struct {
	SyncInterval          time.Duration `toml:"sync_interval" yaml:"sync_interval" env:"SYNC_INTERVAL"`
	CheckDurableAddresses bool          `toml:"check_durable_addresses" yaml:"check_durable_addresses" env:"CHECK_DURABLE_ADDRESSES"`
	StartingBalance       int64         `toml:"starting_balance" yaml:"starting_balance" env:"STARTING_BALANCE"`
	Shards                int           `toml:"shards" yaml:"shards" env:"SHARDS"`
}

// Commands bounds per-connection command throughput.
type Commands struct {
	RatePerSecond float64 `toml:"rate_per_second" yaml:"rate_per_second" env:"RATE_PER_SECOND"`
	Burst         int     `toml:"burst" yaml:"burst" env:"BURST"`
}

// Events configures host lifecycle publishing. An empty NATSURL disables it.
type Events struct {
	NATSURL       string `toml:"nats_url" yaml:"nats_url" env:"NATS_URL"`
	SubjectPrefix string `toml:"subject_prefix" yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

func Default() Config {
	return Config{
		ListenAddr:    ":4242",
		WebSocketAddr: "",
		MetricsAddr:   "",
		Storage:       Storage{Driver: DriverSQLite, Path: "hackgame.db"},
		Registry: Registry{
			SyncInterval:    30 * time.Second,
			StartingBalance: 100,
			Shards:          16,
		},
		Credential: credential.DefaultParams(),
		Session:    session.DefaultConfig(),
		Commands:   Commands{RatePerSecond: 10, Burst: 20},
		Events:     Events{SubjectPrefix: "hackgame.host"},
		Dev:        account.DefaultDev(),
		Software: []software.Metadata{
			{ID: "tool.portscan", Name: "Port Scanner", Description: "Lists open services on a host"},
			{ID: "tool.cracker", Name: "Password Cracker", Description: "Recovers host credentials"},
			{ID: "fw.basic", Name: "Basic Firewall", Description: "Slows down intrusion attempts"},
		},
	}
}

// Load reads path (TOML or YAML by extension) over Default, then applies
// environment overrides. An empty path uses defaults and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
		return nil
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverBadger:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("config: storage.path is required for driver %q", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Registry.SyncInterval <= 0 {
		return fmt.Errorf("config: registry.sync_interval must be positive")
	}
	if c.Registry.Shards < 1 {
		return fmt.Errorf("config: registry.shards must be at least 1")
	}
	if c.Registry.StartingBalance < 0 {
		return fmt.Errorf("config: registry.starting_balance must not be negative")
	}
	if c.Commands.RatePerSecond <= 0 || c.Commands.Burst < 1 {
		return fmt.Errorf("config: commands.rate_per_second and commands.burst must be positive")
	}
	if err := c.Session.ValidateServerTransport(); err != nil {
		return fmt.Errorf("config: session: %w", err)
	}
	for i, meta := range c.Software {
		if err := software.ValidateMetadata(meta); err != nil {
			return fmt.Errorf("config: software[%d]: %w", i, err)
		}
	}
	if c.Dev.Enabled {
		if c.Dev.Username == "" || c.Dev.Password == "" || c.Dev.Address == "" {
			return fmt.Errorf("config: dev.username, dev.password and dev.address are required when dev is enabled")
		}
		if err := account.ValidateUsername(c.Dev.Username); err != nil {
			return fmt.Errorf("config: dev.username: %w", err)
		}
	}
	return nil
}
