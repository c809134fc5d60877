/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/objgate/internal/config"
	"github.com/friendsincode/objgate/internal/credential"
	"github.com/friendsincode/objgate/internal/fetch"
	"github.com/friendsincode/objgate/internal/logging"
	"github.com/friendsincode/objgate/internal/objectstore"
	"github.com/friendsincode/objgate/internal/server"
	"github.com/friendsincode/objgate/internal/telemetry"
	"github.com/friendsincode/objgate/internal/transfer"
	"github.com/friendsincode/objgate/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "objgate",
	Short:         "objgate - object storage transfer gateway",
	Long:          "objgate moves files between local disk and S3-compatible object storage under an assumed IAM role.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads .env, then configuration (called by commands that need it)
func loadConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

// newEngine wires the credential provider, storage backend and fetcher.
func newEngine() (*transfer.Engine, error) {
	store, err := objectstore.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}

	return transfer.New(transfer.Options{
		Store:       store,
		Credentials: credential.NewProvider(credential.OptionsFromConfig(cfg), logger),
		Identity:    credential.IdentityFromConfig(cfg),
		Bucket:      cfg.Bucket,
		DataDir:     cfg.DataDir,
		Images:      fetch.NewFromConfig(cfg, logger),
	}, logger), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("version", version.Version).
		Str("backend", string(cfg.StorageBackend)).
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Msg("objgate starting")

	engine, err := newEngine()
	if err != nil {
		return err
	}
	srv := server.New(cfg, engine, logger)
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfigFrom(cfg, version.Version), logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	srv.DeferClose(func() error {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("objgate stopped")
	return nil
}
