package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lojhan/chainkv/internal/hashtable"
)

const (
	EnvPrefix = "CHAINKV"

	PersistenceNone     = "none"
	PersistenceSnapshot = "snapshot"
	PersistenceAOF      = "aof"
)

// viper keys
const (
	KeyTableCapacity = "table.capacity"
	KeyTableHasher   = "table.hasher"

	KeyServerAddr      = "server.addr"
	KeyServerMulticore = "server.multicore"

	KeyHTTPEnabled      = "http.enabled"
	KeyHTTPAddr         = "http.addr"
	KeyHTTPReadTimeout  = "http.read_timeout"
	KeyHTTPWriteTimeout = "http.write_timeout"
	KeyHTTPIdleTimeout  = "http.idle_timeout"

	KeyPersistenceMode             = "persistence.mode"
	KeyPersistenceSnapshotFile     = "persistence.snapshot_file"
	KeyPersistenceSnapshotInterval = "persistence.snapshot_interval"
	KeyPersistenceAOFFile          = "persistence.aof_file"
	KeyPersistenceAOFFsync         = "persistence.aof_fsync"

	KeyLogLevel      = "log.level"
	KeyLogFile       = "log.file"
	KeyLogMaxSizeMB  = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"
	KeyLogMaxAgeDays = "log.max_age_days"
)

type Table struct {
	Capacity int    `mapstructure:"capacity"`
	Hasher   string `mapstructure:"hasher"`
}

type Server struct {
	Addr      string `mapstructure:"addr"`
	Multicore bool   `mapstructure:"multicore"`
}

type HTTP struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type Persistence struct {
	Mode             string        `mapstructure:"mode"`
	SnapshotFile     string        `mapstructure:"snapshot_file"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	AOFFile          string        `mapstructure:"aof_file"`
	AOFFsync         string        `mapstructure:"aof_fsync"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	Table       Table       `mapstructure:"table"`
	Server      Server      `mapstructure:"server"`
	HTTP        HTTP        `mapstructure:"http"`
	Persistence Persistence `mapstructure:"persistence"`
	Log         Log         `mapstructure:"log"`

	// File is the config file that was read, if any. Created reports that
	// it did not exist and was written with the defaults.
	File    string `mapstructure:"-"`
	Created bool   `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTableCapacity, hashtable.DefaultCapacity)
	v.SetDefault(KeyTableHasher, hashtable.HasherDJB2)

	v.SetDefault(KeyServerAddr, "tcp://127.0.0.1:6380")
	v.SetDefault(KeyServerMulticore, true)

	v.SetDefault(KeyHTTPEnabled, true)
	v.SetDefault(KeyHTTPAddr, "127.0.0.1:8380")
	v.SetDefault(KeyHTTPReadTimeout, "5s")
	v.SetDefault(KeyHTTPWriteTimeout, "10s")
	v.SetDefault(KeyHTTPIdleTimeout, "2m")

	v.SetDefault(KeyPersistenceMode, PersistenceNone)
	v.SetDefault(KeyPersistenceSnapshotFile, "dump.ckv")
	v.SetDefault(KeyPersistenceSnapshotInterval, "0s")
	v.SetDefault(KeyPersistenceAOFFile, "appendonly.aof")
	v.SetDefault(KeyPersistenceAOFFsync, "everysec")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 100)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAgeDays, 28)
}

// Flags registers the command line overrides on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config.toml (created with defaults if missing)")
	fs.Int("capacity", hashtable.DefaultCapacity, "number of hash table buckets")
	fs.String("hasher", hashtable.HasherDJB2, "bucket hash function: djb2, fnv1a, xxhash, siphash")
	fs.String("addr", "tcp://127.0.0.1:6380", "RESP listen address")
	fs.String("http-addr", "127.0.0.1:8380", "HTTP API listen address")
	fs.String("persistence", PersistenceNone, "persistence mode: none, snapshot, aof")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
}

var flagKeys = map[string]string{
	"capacity":    KeyTableCapacity,
	"hasher":      KeyTableHasher,
	"addr":        KeyServerAddr,
	"http-addr":   KeyHTTPAddr,
	"persistence": KeyPersistenceMode,
	"log-level":   KeyLogLevel,
}

// Load resolves the configuration from defaults, the TOML file named by the
// --config flag, CHAINKV_* environment variables and changed flags, in
// increasing order of precedence. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgFile := ""
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil {
			cfgFile = strings.TrimSpace(f.Value.String())
		}
	}

	created := false
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
			if err := writeDefaults(cfgFile); err != nil {
				return nil, fmt.Errorf("failed to write default config %s: %w", cfgFile, err)
			}
			created = true
		}
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = cfgFile
	cfg.Created = created

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeDefaults writes only the built-in defaults, never env or flag values.
func writeDefaults(path string) error {
	d := viper.New()
	d.SetConfigType("toml")
	setDefaults(d)
	return d.WriteConfigAs(path)
}

func (c *Config) Validate() error {
	if c.Table.Capacity <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyTableCapacity, c.Table.Capacity)
	}
	if _, err := hashtable.HasherByName(c.Table.Hasher); err != nil {
		return fmt.Errorf("%s: %w", KeyTableHasher, err)
	}

	switch c.Persistence.Mode {
	case PersistenceNone, PersistenceSnapshot, PersistenceAOF:
	default:
		return fmt.Errorf("%s: unknown mode %q", KeyPersistenceMode, c.Persistence.Mode)
	}
	switch strings.ToLower(c.Persistence.AOFFsync) {
	case "always", "everysec", "no":
	default:
		return fmt.Errorf("%s: unknown policy %q", KeyPersistenceAOFFsync, c.Persistence.AOFFsync)
	}
	if c.Persistence.SnapshotInterval < 0 {
		return fmt.Errorf("%s must not be negative", KeyPersistenceSnapshotInterval)
	}
	return nil
}
