package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friend-radar/backend/internal/config"
	"github.com/friend-radar/backend/internal/feed"
	"github.com/friend-radar/backend/internal/history"
	"github.com/friend-radar/backend/internal/metrics"
	"github.com/friend-radar/backend/internal/mock"
	"github.com/friend-radar/backend/internal/product"
	"github.com/friend-radar/backend/internal/roster"
	"github.com/friend-radar/backend/internal/settings"
	"github.com/friend-radar/backend/internal/stats"
	"github.com/friend-radar/backend/internal/watcher"
	"github.com/friend-radar/backend/internal/ws"
)

const shutdownGrace = 5 * time.Second

var (
	flagConfig  string
	flagMock    bool
	flagPort    int
	flagVerbose bool
)

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friendradar",
		Short: "Contact presence daemon for the friend radar overlay",
		Long: `friendradar watches the client's presence feed, turns roster and
presence transitions into semantic events (came online, went in-game,
removed you), and streams them to overlay clients over WebSocket with
per-contact notification filtering and session statistics.`,
		RunE:         runDaemon,
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Config file path (default "+config.DefaultPath()+")")
	cmd.Flags().BoolVar(&flagMock, "mock", false, "Serve a scripted mock roster instead of the real feed")
	cmd.Flags().IntVar(&flagPort, "port", 0, "Override the configured server port")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagPort > 0 {
		cfg.Server.Port = flagPort
	}
	if flagMock {
		cfg.Feed.Mock = true
	}

	log := newLogger(cfg)
	if changes := config.Diff(config.Default(), cfg); len(changes) > 0 {
		log.Debug().Strs("overrides", changes).Msg("config overrides")
	}

	if cfg.Server.AuthToken == "" {
		tok, err := config.GenerateToken()
		if err != nil {
			return fmt.Errorf("generating api token: %w", err)
		}
		cfg.Server.AuthToken = tok
		log.Info().Str("token", tok).Msg("no api token configured, generated one for this run")
	}

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	rosterStore := roster.NewStore()
	settingsStore := settings.NewStore(cfg.Storage.Dir)

	aggregator, err := stats.NewAggregator(stats.NewStore(cfg.Storage.Dir))
	if err != nil {
		return fmt.Errorf("loading stats: %w", err)
	}

	journal, err := history.Open(filepath.Join(cfg.Storage.Dir, "events.jsonl"), cfg.Storage.HistoryMaxBytes, log)
	if err != nil {
		return fmt.Errorf("opening event journal: %w", err)
	}
	defer journal.Close()

	broadcaster := ws.NewBroadcaster(rosterStore, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval, log)
	defer broadcaster.Close()

	var source feed.Source
	if cfg.Feed.Mock {
		source = mock.NewGenerator(cfg.Feed.MockSeed, log)
	} else {
		source = feed.NewFileSource(cfg.Feed.Path, cfg.Feed.SnapshotPath, log)
	}

	m := metrics.New()
	broadcaster.SetMetrics(m)

	w := watcher.New(watcher.Config{
		Source:           source,
		Roster:           rosterStore,
		Settings:         settingsStore,
		Stats:            aggregator,
		Journal:          journal,
		Broadcaster:      broadcaster,
		Metrics:          m,
		Detector:         product.NewDetector(cfg.Products, cfg.Watcher.ProductRescanInterval, log),
		PollInterval:     cfg.Watcher.PollInterval,
		RetryDelay:       cfg.Watcher.RetryDelay,
		FailureThreshold: cfg.Watcher.FailureThreshold,
		Log:              log,
	})

	server := ws.NewServer(rosterStore, settingsStore, aggregator, journal, broadcaster, m,
		cfg.Server.AllowedOrigins, cfg.Server.AuthToken, log)
	server.SetHealthFunc(w.HealthSnapshots)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go w.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	log.Info().
		Str("version", Version).
		Str("addr", httpSrv.Addr).
		Str("source", source.Name()).
		Msg("friendradar listening")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl := cfg.LogLevel()
	if flagVerbose {
		lvl = zerolog.DebugLevel
	}
	var out io.Writer = os.Stderr
	if cfg.Log.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
