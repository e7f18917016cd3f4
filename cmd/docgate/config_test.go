package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aadithya-v/docgate"
	"github.com/aadithya-v/docgate/bus"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "docgate.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
origin = "handbook"
log_level = "debug"

[auth]
username = "reader"
password = "s3cret"

[session]
duration = "8h"
remember = "72h"
inactivity_ceiling = "20m"

[store]
driver = "file"
path = "/tmp/handbook-session.json"

[bus]
driver = "none"
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Origin != "handbook" {
		t.Errorf("Origin = %q, want handbook", cfg.Origin)
	}
	if cfg.Auth.Username != "reader" || cfg.Auth.Password != "s3cret" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Session.Duration.Duration != 8*time.Hour {
		t.Errorf("Session.Duration = %v, want 8h", cfg.Session.Duration.Duration)
	}
	if cfg.Session.InactivityCeiling.Duration != 20*time.Minute {
		t.Errorf("Session.InactivityCeiling = %v, want 20m", cfg.Session.InactivityCeiling.Duration)
	}
	// Unset values keep their defaults.
	if cfg.Session.WarningLead.Duration != 5*time.Minute {
		t.Errorf("Session.WarningLead = %v, want 5m", cfg.Session.WarningLead.Duration)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
origin = "handbook"

[session]
duration = "8h"
`)
	t.Setenv("DOCGATE_ORIGIN", "runbook")
	t.Setenv("DOCGATE_SESSION_DURATION", "45m")
	t.Setenv("DOCGATE_REDIS_DB", "3")
	t.Setenv("DOCGATE_PASSWORD", "from-env")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Origin != "runbook" {
		t.Errorf("Origin = %q, want runbook", cfg.Origin)
	}
	if cfg.Session.Duration.Duration != 45*time.Minute {
		t.Errorf("Session.Duration = %v, want 45m", cfg.Session.Duration.Duration)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Redis.DB = %d, want 3", cfg.Redis.DB)
	}
	if cfg.Auth.Password != "from-env" {
		t.Errorf("Auth.Password = %q, want from-env", cfg.Auth.Password)
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Bus.Driver != "file" {
		t.Errorf("drivers = %s/%s, want sqlite/file", cfg.Store.Driver, cfg.Bus.Driver)
	}
	if cfg.Auth.Username != "admin" || cfg.Auth.Password != "password" {
		t.Errorf("Auth = %+v, want admin/password", cfg.Auth)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "[session]\nduration = \"soon\"\n", "decode"},
		{"unknown store", "[store]\ndriver = \"etcd\"\n", "unknown store driver"},
		{"unknown bus", "[bus]\ndriver = \"carrier-pigeon\"\n", "unknown bus driver"},
		{"mysql without dsn", "[store]\ndriver = \"mysql\"\n", "dsn"},
		{"shared memory store", "[store]\ndriver = \"memory\"\n", "memory store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("loadConfig error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("an explicit missing config file should be an error")
	}
}

func TestOpenStoreAndBus(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.Store.Path = filepath.Join(dir, "docgate.db")
	cfg.Bus.Path = filepath.Join(dir, "docgate.bus")

	mgr, err := newManager(cfg, newLogger("error"))
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	defer mgr.Close()

	if mgr.Status().SingleTab {
		t.Error("file bus should connect tabs")
	}
}

func TestNewManagerClosesStoreAndBusOnFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.Store.Path = filepath.Join(dir, "docgate.db")
	cfg.Bus.Path = filepath.Join(dir, "docgate.bus")

	var got docgate.Config
	wantErr := errors.New("manager unavailable")
	orig := newSessionManager
	newSessionManager = func(c docgate.Config) (*docgate.Manager, error) {
		got = c
		return nil, wantErr
	}
	defer func() { newSessionManager = orig }()

	if _, err := newManager(cfg, newLogger("error")); !errors.Is(err, wantErr) {
		t.Fatalf("newManager error = %v, want %v", err, wantErr)
	}

	if got.Store == nil || got.Bus == nil {
		t.Fatal("store and bus should be opened before the manager is built")
	}
	if _, err := got.Store.Load(context.Background()); err == nil {
		t.Error("store should be closed after a failed start")
	}
	if err := got.Bus.Publish(context.Background(), bus.Logout()); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish after failed start = %v, want %v", err, bus.ErrClosed)
	}
}
