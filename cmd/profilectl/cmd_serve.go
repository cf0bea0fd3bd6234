package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the profile API with health and metrics endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := current.logger
		if current.verifier == nil {
			logger.Warn("PROFILE_JWKS_URL is not set, API requests will be rejected")
		}

		addr := serveAddr
		if addr == "" {
			addr = current.cfg.MetricsAddr
		}
		if addr == "" {
			addr = ":8080"
		}

		// Create HTTP server with timeout configuration
		srv := &http.Server{
			Addr: addr,
			Handler: server.NewMux(server.Options{
				Docs:     current.docs,
				Store:    current.store,
				Verifier: current.verifier,
				Issuer:   current.cfg.JWTIssuer,
				Audience: current.cfg.JWTAudience,
			}),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info("server starting", "addr", addr, "env", current.cfg.Env)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- err
			}
		}()

		// Wait for interrupt signal
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-quit:
		case err := <-serveErr:
			return fmt.Errorf("server failed to start: %w", err)
		}

		// Handle graceful shutdown
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info("server exited")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default PROFILE_METRICS_ADDR or :8080)")
}
