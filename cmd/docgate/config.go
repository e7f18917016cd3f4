package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// defaultConfigFile is read when present and no -config flag is given.
const defaultConfigFile = "docgate.toml"

// duration decodes TOML strings such as "30m" or "8h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the command configuration. Values come from defaults, then the
// TOML file, then DOCGATE_* environment variables.
type Config struct {
	Origin   string `toml:"origin"`
	LogLevel string `toml:"log_level"`

	Auth    AuthConfig    `toml:"auth"`
	Session SessionConfig `toml:"session"`
	Store   StoreConfig   `toml:"store"`
	Bus     BusConfig     `toml:"bus"`
	Redis   RedisConfig   `toml:"redis"`
	Server  ServerConfig  `toml:"server"`
}

type AuthConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type SessionConfig struct {
	Duration          duration `toml:"duration"`
	Remember          duration `toml:"remember"`
	Renewal           duration `toml:"renewal"`
	WarningLead       duration `toml:"warning_lead"`
	InactivityCeiling duration `toml:"inactivity_ceiling"`
	InactivityCheck   duration `toml:"inactivity_check"`
	LoginDelay        duration `toml:"login_delay"`
	DisableNonceScope bool     `toml:"disable_nonce_scope"`
}

// StoreConfig selects the session record backend: sqlite, mysql, redis, file or memory.
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// BusConfig selects the cross-tab bus: file, redis or none.
type BusConfig struct {
	Driver  string `toml:"driver"`
	Path    string `toml:"path"`
	Channel string `toml:"channel"`
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

type ServerConfig struct {
	Addr          string  `toml:"addr"`
	DocsDir       string  `toml:"docs_dir"`
	GeoIPPath     string  `toml:"geoip_path"`
	NewLocationKM float64 `toml:"new_location_km"`
}

func defaultConfig() *Config {
	return &Config{
		Origin:   "default",
		LogLevel: "info",
		Auth: AuthConfig{
			Username: "admin",
			Password: "password",
		},
		Session: SessionConfig{
			Duration:          duration{30 * time.Minute},
			Remember:          duration{24 * time.Hour},
			WarningLead:       duration{5 * time.Minute},
			InactivityCeiling: duration{15 * time.Minute},
			InactivityCheck:   duration{30 * time.Second},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "docgate.db",
		},
		Bus: BusConfig{
			Driver:  "file",
			Path:    "docgate.bus",
			Channel: "docgate:bus",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "docgate:",
		},
		Server: ServerConfig{
			Addr:    ":8080",
			DocsDir: "site",
		},
	}
}

// loadConfig builds the configuration. An explicit path must exist; the
// default file is optional.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Origin = getEnv("DOCGATE_ORIGIN", c.Origin)
	c.LogLevel = getEnv("DOCGATE_LOG_LEVEL", c.LogLevel)

	c.Auth.Username = getEnv("DOCGATE_USERNAME", c.Auth.Username)
	c.Auth.Password = getEnv("DOCGATE_PASSWORD", c.Auth.Password)

	c.Session.Duration.Duration = getEnvDuration("DOCGATE_SESSION_DURATION", c.Session.Duration.Duration)
	c.Session.Remember.Duration = getEnvDuration("DOCGATE_REMEMBER_DURATION", c.Session.Remember.Duration)
	c.Session.Renewal.Duration = getEnvDuration("DOCGATE_RENEWAL_DURATION", c.Session.Renewal.Duration)
	c.Session.InactivityCeiling.Duration = getEnvDuration("DOCGATE_INACTIVITY_CEILING", c.Session.InactivityCeiling.Duration)
	c.Session.LoginDelay.Duration = getEnvDuration("DOCGATE_LOGIN_DELAY", c.Session.LoginDelay.Duration)

	c.Store.Driver = getEnv("DOCGATE_STORE", c.Store.Driver)
	c.Store.Path = getEnv("DOCGATE_STORE_PATH", c.Store.Path)
	c.Store.DSN = getEnv("DOCGATE_MYSQL_DSN", c.Store.DSN)

	c.Bus.Driver = getEnv("DOCGATE_BUS", c.Bus.Driver)
	c.Bus.Path = getEnv("DOCGATE_BUS_PATH", c.Bus.Path)

	c.Redis.Addr = getEnv("DOCGATE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("DOCGATE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("DOCGATE_REDIS_DB", c.Redis.DB)

	c.Server.Addr = getEnv("DOCGATE_ADDR", c.Server.Addr)
	c.Server.DocsDir = getEnv("DOCGATE_DOCS_DIR", c.Server.DocsDir)
	c.Server.GeoIPPath = getEnv("DOCGATE_GEOIP_DB", c.Server.GeoIPPath)
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s store", c.Store.Driver)
		}
	case "mysql":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the mysql store")
		}
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Bus.Driver {
	case "file":
		if c.Bus.Path == "" {
			return errors.New("bus.path is required for the file bus")
		}
	case "redis", "none":
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}

	if c.Store.Driver == "memory" && c.Bus.Driver != "none" {
		return errors.New("the memory store cannot be shared; use bus driver \"none\"")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
