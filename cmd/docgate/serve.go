package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aadithya-v/docgate/gate"
)

func runServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", "", "path to a TOML config file")
	addr := flags.String("addr", "", "listen address")
	docsDir := flags.String("docs", "", "documentation directory")
	flags.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *docsDir != "" {
		cfg.Server.DocsDir = *docsDir
	}

	if info, err := os.Stat(cfg.Server.DocsDir); err != nil || !info.IsDir() {
		return fmt.Errorf("documentation directory %q not found", cfg.Server.DocsDir)
	}

	logger := newLogger(cfg.LogLevel)

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	g := gate.New(mgr,
		gate.WithCredentials(gate.Credentials{Principal: cfg.Auth.Username, Secret: cfg.Auth.Password}),
		gate.WithLogger(logger),
	)

	opts := []gate.ServerOption{gate.WithServerLogger(logger)}
	if cfg.Server.GeoIPPath != "" {
		reader, err := gate.NewGeoIPReader(cfg.Server.GeoIPPath)
		if err != nil {
			logger.Warn("login location alerts disabled", "error", err)
		} else {
			defer reader.Close()
			opts = append(opts, gate.WithLoginTracker(gate.NewLoginTracker(reader, cfg.Server.NewLocationKM, logger)))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if g.Load(ctx) {
		logger.Info("resumed existing session", "principal", mgr.Status().Principal)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gate.NewServer(g, os.DirFS(cfg.Server.DocsDir), opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving documentation",
			"addr", cfg.Server.Addr,
			"docs", cfg.Server.DocsDir,
			"store", cfg.Store.Driver,
			"bus", cfg.Bus.Driver,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
