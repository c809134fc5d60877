/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/objgate/internal/failure"
	"github.com/friendsincode/objgate/internal/fetch"
	"github.com/friendsincode/objgate/internal/transfer"
)

var (
	getConcurrency int
	fetchForward   string
)

var putCmd = &cobra.Command{
	Use:   "put <key> [file]",
	Short: "Upload a file to the bucket",
	Long:  "Upload file to key. Without a file argument, <data-dir>/<key>.png is uploaded.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *transfer.Engine, args []string) error {
		var (
			res transfer.Result
			err error
		)
		if len(args) == 2 {
			res, err = engine.UploadFile(ctx, args[0], args[1])
		} else {
			res, err = engine.UploadKey(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	}),
}

var getCmd = &cobra.Command{
	Use:   "get <key>...",
	Short: "Download objects to <data-dir>/<key>-dest.png",
	Args:  cobra.MinimumNArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *transfer.Engine, args []string) error {
		results := make([]transfer.Result, len(args))

		g, gctx := errgroup.WithContext(ctx)
		if getConcurrency > 0 {
			g.SetLimit(getConcurrency)
		}
		for i, key := range args {
			g.Go(func() error {
				res, err := engine.DownloadKey(gctx, key)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, res := range results {
			if err := printJSON(out, res); err != nil {
				return err
			}
		}
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List object keys in the bucket",
	Args:  cobra.NoArgs,
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *transfer.Engine, args []string) error {
		listing, err := engine.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), listing)
	}),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <width> <height>",
	Short: "Fetch a placeholder image and save it locally",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *transfer.Engine, args []string) error {
		d, err := fetch.ParseDescriptor(args[0], args[1])
		if err != nil {
			return err
		}
		res, err := engine.Import(ctx, d, fetchForward)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	}),
}

func init() {
	getCmd.Flags().IntVarP(&getConcurrency, "concurrency", "c", 4, "Maximum concurrent downloads (0 for no limit)")
	fetchCmd.Flags().StringVar(&fetchForward, "forward", "", "Also upload the saved image to this key")

	rootCmd.AddCommand(putCmd, getCmd, listCmd, fetchCmd)
}

type engineFunc func(ctx context.Context, cmd *cobra.Command, engine *transfer.Engine, args []string) error

// withEngine loads configuration, builds an engine and runs fn with a context
// cancelled on SIGINT or SIGTERM. Failures are reported by their resolved
// message only.
func withEngine(fn engineFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		engine, err := newEngine()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := fn(ctx, cmd, engine, args); err != nil {
			var fe *failure.Error
			if errors.As(err, &fe) {
				outcome, msg := failure.Resolve(err)
				return errors.New(outcome.String() + ": " + msg)
			}
			return err
		}
		return nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}
