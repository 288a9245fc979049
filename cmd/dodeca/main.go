// Command dodeca builds and serves a site from an incremental,
// content-addressed query pipeline (spec.md §1 Overview).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bearcove/dodeca-sub000/internal/build"
	"github.com/bearcove/dodeca-sub000/internal/config"
	"github.com/bearcove/dodeca-sub000/internal/devserver"
	"github.com/bearcove/dodeca-sub000/internal/linkcheck"
	"github.com/bearcove/dodeca-sub000/internal/live"
	"github.com/bearcove/dodeca-sub000/internal/logging"
	"github.com/bearcove/dodeca-sub000/internal/query/cache"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dodeca",
		Short: "Incremental static-site engine with a live-update dev server",
	}

	f := rootCmd.PersistentFlags()
	f.String("content-dir", "content", "directory of markdown content and templates")
	f.String("output-dir", "dist", "output directory setting (build keeps rendered routes in memory and writes no files to it)")
	f.String("cache-dir", ".dodeca-cache", "directory for on-disk query/link-check caches")
	f.String("serve-addr", "127.0.0.1", "address the dev server listens on")
	f.Int("serve-port", 2480, "port the dev server listens on")
	f.Bool("link-check", false, "validate internal/external links after each build")
	f.Int("external-rate-limit-ms", 1000, "minimum interval between HEAD probes to the same host")
	f.StringSlice("link-check-skip", nil, "hostnames excluded from external link checking")
	f.StringSlice("stable-asset", nil, "asset basenames served under their original (non-hashed) name")
	f.Bool("highlight", true, "spawn cmd/cell-highlight and syntax-highlight code fences through it")
	f.String("log-level", "info", "debug, info, warn, or error")
	f.Bool("log-pretty", true, "human-readable console logging instead of JSON")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("content_dir", "content-dir")
	bindFlag("output_dir", "output-dir")
	bindFlag("cache_dir", "cache-dir")
	bindFlag("serve_addr", "serve-addr")
	bindFlag("serve_port", "serve-port")
	bindFlag("link_check_enabled", "link-check")
	bindFlag("external_rate_limit_ms", "external-rate-limit-ms")
	bindFlag("link_check_skip_list", "link-check-skip")
	bindFlag("stable_asset_names", "stable-asset")
	bindFlag("highlight_enabled", "highlight")
	bindFlag("log_level", "log-level")
	bindFlag("log_pretty", "log-pretty")

	viper.SetEnvPrefix("DODECA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	viper.SetConfigName("dodeca")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintln(os.Stderr, "dodeca: read config:", err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(buildCmd(), serveCmd(), checkLinksCmd(), cellsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Render every route once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.New(logging.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

			sources, err := build.DiscoverSources(cfg.ContentDir)
			if err != nil {
				return fmt.Errorf("discover sources: %w", err)
			}

			bar := progressbar.Default(int64(len(sources)), "building")
			pipeline := build.New(cfg, log, nil)
			pipeline.OnSourceProcessed = func(path string) { _ = bar.Add(1) }

			highlight := startHighlightCell(cmd.Context(), cfg, pipeline, log)
			defer highlight.Close()

			result, err := pipeline.Build(cmd.Context())
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			_ = bar.Finish()

			for route, err := range result.RenderErrors {
				printBuildError(route, err)
			}
			fmt.Printf("%d routes rendered, %d render errors, %d dirty\n",
				len(result.Routes), len(result.RenderErrors), len(result.Dirty))
			if len(result.RenderErrors) > 0 {
				return fmt.Errorf("%d route(s) failed to render", len(result.RenderErrors))
			}
			return nil
		},
	}
}

func printBuildError(route string, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(os.Stderr, "error: ")
	fmt.Fprintf(os.Stderr, "%s: %v\n", route, err)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the site, rebuilding and live-reloading on every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.New(logging.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

			hub := live.NewHub()
			pipeline := build.New(cfg, log, hub)
			srv := devserver.New(cfg, pipeline, hub, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			highlight := startHighlightCell(ctx, cfg, pipeline, log)
			defer highlight.Close()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				sig := <-sigCh
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				cancel()
			}()

			results, err := pipeline.Watch(ctx)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			go func() {
				for result := range results {
					log.Info().
						Int("routes", len(result.Routes)).
						Int("dirty", len(result.Dirty)).
						Int("render_errors", len(result.RenderErrors)).
						Msg("rebuilt")
				}
			}()

			serveErrCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil {
					serveErrCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErrCh:
				if err != nil {
					log.Error().Err(err).Msg("dev server error")
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func checkLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-links",
		Short: "Build once and validate every internal and external link",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.LinkCheckEnabled = true
			log := logging.New(logging.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

			pipeline := build.New(cfg, log, nil)
			result, err := pipeline.Build(cmd.Context())
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}

			red := color.New(color.FgRed, color.Bold)
			green := color.New(color.FgGreen)

			for _, issue := range result.LinkIssues {
				red.Printf("broken: ")
				fmt.Println(issue.String())
			}

			store, err := cache.Open(cfg.CacheDir + "/linkcheck.db")
			if err != nil {
				return fmt.Errorf("open link cache: %w", err)
			}
			defer store.Close()

			checker := linkcheck.NewChecker(
				&http.Client{Timeout: 10 * time.Second},
				linkcheck.NewStoreCache(store),
				cfg.LinkCheckSkipList,
				time.Duration(cfg.ExternalRateLimitMS)*time.Millisecond,
			)

			broken := len(result.LinkIssues)
			for _, ref := range result.ExternalLinks {
				res := checker.Check(cmd.Context(), ref.URL, time.Now())
				if res.OK {
					green.Printf("ok: ")
					fmt.Printf("%s -> %s (%d)\n", ref.Route, ref.URL, res.StatusCode)
					continue
				}
				broken++
				red.Printf("broken: ")
				if res.Err != nil {
					fmt.Printf("%s -> %s (%v)\n", ref.Route, ref.URL, res.Err)
				} else {
					fmt.Printf("%s -> %s (%d)\n", ref.Route, ref.URL, res.StatusCode)
				}
			}

			if broken > 0 {
				return fmt.Errorf("%d broken link(s)", broken)
			}
			return nil
		},
	}
}

func cellsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cells",
		Short: "List the cell binaries this build ships (cell-highlight highlights code fences)",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range registeredCellBinaries() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// registeredCellBinaries names the cell binaries this build ships with.
// cmd/cell-highlight is the only worked example; a real deployment
// would discover these from PATH or a config table instead of a
// hardcoded list, but nothing in this repo's scope installs more than
// one cell binary yet.
func registeredCellBinaries() []string {
	return []string{"cell-highlight"}
}
