// Package config loads the runtime configuration of a tabula session
// factory from YAML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/tabula/dialect"
)

// Config is the root configuration.
type Config struct {
	// Dialect is one of postgres, mysql or sqlite.
	Dialect string `yaml:"dialect"`
	// Driver is the database/sql driver name. It defaults per dialect.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// BatchSize is the number of statements batched together; values
	// below 2 disable batching.
	BatchSize int `yaml:"batch_size"`
	// StatementTimeout bounds each mutation statement.
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	// LobsLast orders large object columns last in inserts and updates.
	LobsLast bool `yaml:"lobs_last"`
	// DynamicUpdate writes only the columns of changed attributes.
	DynamicUpdate bool `yaml:"dynamic_update"`
	// SlowQueryThreshold logs statements slower than the threshold.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	// Debug logs every statement at debug level in place of collecting
	// statement statistics.
	Debug bool        `yaml:"debug"`
	Cache CacheConfig `yaml:"cache"`
	Log   LogConfig   `yaml:"log"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	QueryCache bool `yaml:"query_cache"`
	// Region is memory or redis.
	Region string `yaml:"region"`
	// Size bounds the number of results held by the memory region.
	Size int `yaml:"size"`
	// Prefix prefixes the keys of the redis region.
	Prefix string `yaml:"prefix"`
	// TTL expires results held by the redis region.
	TTL time.Duration `yaml:"ttl"`
	// LockTimeout is how long a space modified by an unfinished
	// transaction rejects cached results.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	Redis       RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the redis client of the redis region.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Cache regions.
const (
	RegionMemory = "memory"
	RegionRedis  = "redis"
)

// Defaults returns the configuration used for unset values.
func Defaults() Config {
	return Config{
		Dialect:   dialect.SQLite,
		BatchSize: 20,
		Cache: CacheConfig{
			Region:      RegionMemory,
			Size:        1024,
			Prefix:      "tabula:",
			LockTimeout: time.Minute,
			Redis: RedisConfig{
				Addr:        "127.0.0.1:6379",
				DialTimeout: 5 * time.Second,
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the given files in order over the defaults. Values of later
// files override earlier ones. The merged configuration is validated.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		return Config{}, errors.New("config: no files to load")
	}
	cfg := Defaults()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", p, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid value.
func (c Config) Validate() error {
	var errs []error
	switch c.Dialect {
	case dialect.Postgres, dialect.MySQL, dialect.SQLite:
	default:
		errs = append(errs, fmt.Errorf("config: unknown dialect %q", c.Dialect))
	}
	if c.DSN == "" {
		errs = append(errs, errors.New("config: dsn is required"))
	}
	if c.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("config: negative batch_size %d", c.BatchSize))
	}
	if c.Cache.QueryCache {
		switch c.Cache.Region {
		case RegionMemory:
		case RegionRedis:
			if c.Cache.Redis.Addr == "" {
				errs = append(errs, errors.New("config: cache.redis.addr is required by the redis region"))
			}
		default:
			errs = append(errs, fmt.Errorf("config: unknown cache region %q", c.Cache.Region))
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// DriverName returns the database/sql driver to open. Postgres uses
// lib/pq unless pgx is configured.
func (c Config) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}
	switch c.Dialect {
	case dialect.Postgres:
		return "postgres"
	case dialect.MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// Logger returns a logger writing to w.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
	return l, nil
}
