package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/aadithya-v/docgate"
	"github.com/aadithya-v/docgate/bus"
	"github.com/aadithya-v/docgate/store"
)

// newLogger writes colored text to a terminal and JSON otherwise.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func (c *Config) redisConfig() store.RedisConfig {
	return store.RedisConfig{
		Addr:      c.Redis.Addr,
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		KeyPrefix: c.Redis.KeyPrefix,
	}
}

func openStore(cfg *Config) (store.RecordStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path, cfg.Origin)
	case "mysql":
		return store.NewMySQLFromDSN(cfg.Store.DSN, cfg.Origin)
	case "redis":
		return store.NewRedisFromConfig(cfg.redisConfig(), cfg.Origin)
	case "file":
		return store.NewFile(cfg.Store.Path)
	case "memory":
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// openBus returns nil for the "none" driver. The Redis bus gets its own
// client so that closing the store does not close it.
func openBus(cfg *Config, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case "file":
		return bus.NewFile(cfg.Bus.Path, bus.WithFileLogger(logger))
	case "redis":
		client, err := store.NewRedisClient(cfg.redisConfig())
		if err != nil {
			return nil, err
		}
		return bus.NewRedis(client, cfg.Bus.Channel+":"+cfg.Origin, bus.WithRedisLogger(logger), bus.WithOwnedClient()), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// newSessionManager is replaced in tests.
var newSessionManager = docgate.New

// newManager opens the configured store and bus and hands them to a Manager.
// If the Manager cannot be built, both are closed again.
func newManager(cfg *Config, logger *slog.Logger) (*docgate.Manager, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	b, err := openBus(cfg, logger)
	if err != nil {
		// The manager degrades to single-tab mode without a bus.
		logger.Warn("cross-tab bus unavailable", "driver", cfg.Bus.Driver, "error", err)
		b = nil
	}

	mgr, err := newSessionManager(docgate.Config{
		Origin:                  cfg.Origin,
		SessionDuration:         cfg.Session.Duration.Duration,
		RememberDuration:        cfg.Session.Remember.Duration,
		RenewalDuration:         cfg.Session.Renewal.Duration,
		WarningLeadTime:         cfg.Session.WarningLead.Duration,
		InactivityCeiling:       cfg.Session.InactivityCeiling.Duration,
		InactivityCheckInterval: cfg.Session.InactivityCheck.Duration,
		LoginDelay:              cfg.Session.LoginDelay.Duration,
		DisableNonceScope:       cfg.Session.DisableNonceScope,
		Store:                   st,
		Bus:                     b,
		Logger:                  logger,
	})
	if err != nil {
		st.Close()
		if b != nil {
			b.Close()
		}
		return nil, err
	}
	return mgr, nil
}
