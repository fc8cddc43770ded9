// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// webapp is a sample web application which signs users in with any OIDC
// provider using the authorization code flow with PKCE.
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

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-rp/oidc"
	"github.com/hashicorp/oidc-rp/oidc/callback"
	"github.com/hashicorp/oidc-rp/oidc/sqlitestore"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional file of environment variables")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := loadConfig(envFile, os.Environ())
	if err != nil {
		return err
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "webapp",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oc, err := cfg.oidcConfig(logger.Named("oidc"))
	if err != nil {
		return err
	}

	var store oidc.SessionStore = oidc.NewMemoryStore()
	if cfg.SessionDB != "" {
		s, err := sqlitestore.Open(ctx, cfg.SessionDB)
		if err != nil {
			return err
		}
		defer s.Close()
		go pruneSessions(ctx, s, cfg.SessionMaxAge, logger)
		store = s
	}

	authOpts, err := cfg.authenticatorOptions(oc)
	if err != nil {
		return err
	}
	a, err := oidc.NewAuthenticator(oc, store, authOpts...)
	if err != nil {
		return err
	}
	sessions := &callback.CookieSessions{
		MaxAge:   cfg.SessionMaxAge,
		Insecure: cfg.InsecureCookie,
	}
	router, err := newRouter(a, sessions, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "issuer", cfg.Issuer)
		srvCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server closed with error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// pruneSessions removes idle sessions from the store every hour.
func pruneSessions(ctx context.Context, s *sqlitestore.Store, maxAge time.Duration, logger hclog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteIdle(ctx, maxAge)
			if err != nil {
				logger.Warn("unable to prune sessions", "error", err)
				continue
			}
			logger.Debug("pruned sessions", "count", n)
		}
	}
}
