// Copyright 2025 The nextword Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main runs the nextword prediction server and CLI [DBG] application.

Note: This is a BETA release. APIs and functionality may rapidly change.

nextword predicts the next word for scan-and-select typing. A local n-gram
model learned from what the user confirms is always consulted. When online
mode is on and the prediction service answers in time, its ranking is merged
in; otherwise the local ranking is used as is.

# Usage

Start the msgpack IPC server with default settings:

	nextword

Use a custom config and enable debug mode:

	nextword -config ./nextword.toml -d

Run in CLI mode for interactive testing:

	nextword -c -limit 8

Expose Prometheus metrics while serving:

	nextword -metrics 127.0.0.1:9464

# Configuration

Settings live in a TOML file created with defaults when missing:

	[engine]
	online_mode_enabled = true
	merge_strategy = "weighted"
	api_weight = 0.7
	offline_weight = 0.3

	[remote]
	api_timeout = 5
	api_max_retries = 2
	api_vocabulary = "100k"
	network_check_interval = 30

	[cache]
	cache_ttl = 300
	max_entries = 100

	[model]
	order = 3
	corpus_path = "corpus.txt"
	snapshot_path = "model.msgpack"
	store = "msgpack"

Invalid values stop the program at startup. The server's reload action
re-reads the file; a file that does not validate leaves the running settings
untouched.

# Model

The learned model is saved next to the config file every autosave_every
observed sequences and on exit. On start it is loaded from there; if nothing
was saved yet, the corpus file trains a fresh model.

# Command Line Flags

	-config string
	    Path to a custom config file
	-d  Enable debug mode with detailed logging
	-c  Run in CLI mode instead of server mode
	-limit int
	    Number of predictions to show in CLI mode
	-offline
	    Never call the prediction service
	-metrics string
	    Serve Prometheus metrics on this address
	-version
	    Show current version
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bastiangx/nextword/internal/cli"
	"github.com/bastiangx/nextword/internal/logger"
	"github.com/bastiangx/nextword/internal/observe"
	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/availability"
	"github.com/bastiangx/nextword/pkg/cache"
	"github.com/bastiangx/nextword/pkg/config"
	"github.com/bastiangx/nextword/pkg/dictionary"
	"github.com/bastiangx/nextword/pkg/ngram"
	"github.com/bastiangx/nextword/pkg/remote"
	"github.com/bastiangx/nextword/pkg/server"
	"github.com/bastiangx/nextword/pkg/suggest"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	Version = "0.1.0-beta"
	AppName = "nextword"
	gh      = "https://github.com/bastiangx/nextword"

	cacheSweepInterval = time.Minute
)

// main parses flags, wires the components and runs either the IPC server or
// the CLI. It holds no prediction logic itself.
func main() {
	defaultConfig := config.DefaultConfig()

	showVersion := flag.Bool("version", false, "Show current version")
	configPath := flag.String("config", "", "Path to a custom config file")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	cliMode := flag.Bool("c", false, "Run CLI -- useful for testing and debugging")
	limit := flag.Int("limit", defaultConfig.CLI.DefaultLimit, "Number of predictions to show in CLI mode")
	offline := flag.Bool("offline", false, "Never call the prediction service")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	rebuildConfig := flag.Bool("rebuild-config", false, "Overwrite the default config.toml with defaults and exit")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *rebuildConfig {
		if err := config.RebuildConfigFile(); err != nil {
			log.Fatalf("Failed to rebuild config: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote defaults to %s\n", config.GetActiveConfigPath(""))
		os.Exit(0)
	}

	if *debugMode {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	if err := run(*configPath, *cliMode, *limit, *offline, *debugMode, *metricsAddr); err != nil {
		log.Fatalf("nextword: %v", err)
	}
}

func run(configPath string, cliMode bool, limit int, offline, debug bool, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, usedPath, err := config.LoadConfigWithPriority(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if offline {
		cfg.Engine.OnlineModeEnabled = false
	}
	engCfg, err := cfg.EngineSnapshot()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if engCfg.DebugLogging && !debug {
		logger.SetDebug(true)
	}
	log.Debugf("Using config file: (%s)", usedPath)

	baseDir := "."
	if usedPath != "" {
		baseDir = filepath.Dir(usedPath)
	}

	model := ngram.New(ngram.Options{
		Order:          cfg.Model.Order,
		Discount:       cfg.Model.Discount,
		MinTokenLength: cfg.Model.MinTokenLength,
	})
	store, err := dictionary.Open(cfg.Model.Store, modelPath(cfg.Model, baseDir))
	if err != nil {
		return err
	}
	defer store.Close()

	origin, err := dictionary.Bootstrap(model, store, utils.ResolvePath(cfg.Model.CorpusPath, baseDir))
	if err != nil {
		log.Warnf("Starting with an empty model: %v", err)
	}
	log.Debugf("Model ready from %s: %v", origin, model.Stats())
	saver := dictionary.NewAutosaver(store, model, cfg.Model.AutosaveEvery)

	metrics := observe.Noop()
	var provider *observe.Provider
	if metricsAddr != "" {
		if provider, err = observe.InitProvider(observe.ProviderConfig{ServiceName: AppName, ServiceVersion: Version}); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = provider.Shutdown(sctx)
		}()
		if metrics, err = observe.NewMetrics(provider.MeterProvider); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	client := remote.New(remote.Options{
		BaseURL:        cfg.Remote.BaseURL,
		MinTokenLength: cfg.Model.MinTokenLength,
	})
	monitor := availability.New(client, availability.Options{
		Enabled:  engCfg.OnlineEnabled,
		Interval: engCfg.NetworkCheckInterval,
	})
	defer monitor.Close()
	responses := cache.New(engCfg.CacheCapacity, engCfg.CacheTTL)

	engine, err := suggest.New(model, engCfg,
		suggest.WithRemote(client, monitor, responses),
		suggest.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	if engCfg.OnlineEnabled {
		if err := monitor.Probe(ctx); err != nil {
			log.Warnf("Prediction service not reachable, starting offline: %v", err)
		}
	}

	// Background workers stop when the foreground loop ends.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	g, gctx := errgroup.WithContext(bgCtx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return saver.Run(gctx) })
	g.Go(func() error { return sweepCache(gctx, responses) })
	if provider != nil {
		serveMetrics(gctx, g, metricsAddr, provider.Handler())
	}

	done := make(chan error, 1)
	go func() {
		if cliMode {
			log.SetReportTimestamp(false)
			done <- cli.NewInputHandler(engine, limit, cfg.Server.MaxText).WithObserver(saver).Start(ctx)
			return
		}
		srv := server.NewServer(engine, cfg.Server,
			server.WithSaver(saver),
			server.WithHealth(monitor.State),
			server.WithReloader(reloader(usedPath, offline)),
		)
		showStartupInfo(config.GetActiveConfigPath(usedPath), origin)
		done <- srv.Start(ctx)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
	}
	cancelBg()
	if err := g.Wait(); err != nil {
		log.Errorf("Shutdown: %v", err)
	}
	return runErr
}

// modelPath resolves where the store lives. A sqlite store keeps the
// configured name but not a snapshot extension.
func modelPath(m config.ModelConfig, baseDir string) string {
	path := m.SnapshotPath
	if m.Store == config.StoreSQLite && strings.HasSuffix(path, ".msgpack") {
		path = strings.TrimSuffix(path, ".msgpack") + ".db"
	}
	return utils.ResolvePath(path, baseDir)
}

// reloader re-reads the active config file for the server's reload action.
func reloader(path string, offline bool) func() (config.Engine, error) {
	return func() (config.Engine, error) {
		if path == "" {
			return config.Engine{}, errors.New("no config file in use")
		}
		c, err := config.LoadConfig(path)
		if err != nil {
			return config.Engine{}, err
		}
		if offline {
			c.Engine.OnlineModeEnabled = false
		}
		return c.EngineSnapshot()
	}
}

func sweepCache(ctx context.Context, c *cache.ResponseCache) error {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debugf("Dropped %d expired cache entries", n)
			}
		}
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Infof("Serving metrics on http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func printVersion() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
		Prefix:          "",
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	logger.SetStyles(styles)

	logger.Print("")
	logger.Print("[ nextword ] Next-word predictions, online or off")
	logger.Print("", "version", Version)
	logger.Print("")
	logger.Print("use -h or --help to see available options")
	logger.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the init process on stderr.
func showStartupInfo(configPath string, origin dictionary.Origin) {
	currentLevel := log.GetLevel()
	log.SetLevel(log.InfoLevel)
	defer log.SetLevel(currentLevel)

	fmt.Fprintln(os.Stderr, "==========")
	fmt.Fprintln(os.Stderr, " nextword ")
	fmt.Fprintln(os.Stderr, "==========")
	log.Infof("Version: %s", Version)
	log.Infof("Process ID: [ %d ]", os.Getpid())
	log.Infof("config: ( %s )", configPath)
	log.Infof("model: %s", origin)
	log.Info("status: ready")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to exit")
}
