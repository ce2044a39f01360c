package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/0xc0d3d00d/tickerd/internal/analytics"
	"github.com/0xc0d3d00d/tickerd/internal/domain"
	"github.com/0xc0d3d00d/tickerd/internal/feed"
	"github.com/0xc0d3d00d/tickerd/internal/httpapi"
	"github.com/0xc0d3d00d/tickerd/internal/metrics"
	"github.com/0xc0d3d00d/tickerd/internal/pipeline"
	"github.com/0xc0d3d00d/tickerd/internal/resample"
	"github.com/0xc0d3d00d/tickerd/internal/storage"
	"github.com/0xc0d3d00d/tickerd/internal/store"
)

type config struct {
	ListenAddress    string             `env:"ADDR" envDefault:":6969"`
	DataDir          string             `env:"DATA_DIR" envDefault:"./data"`
	FeedURL          string             `env:"FEED_URL" envDefault:"wss://fstream.binance.com/ws"`
	Symbols          []string           `env:"SYMBOLS" envDefault:"btcusdt,ethusdt"`
	Timeframes       map[string]int     `env:"TIMEFRAMES" envDefault:"1s:1,1m:60,5m:300"`
	TickCapacity     int                `env:"TICK_CAPACITY" envDefault:"10000"`
	BarCapacity      int                `env:"BAR_CAPACITY" envDefault:"500"`
	ZScoreWindow     int                `env:"ZSCORE_WINDOW" envDefault:"20"`
	AlertZThresholds map[string]float64 `env:"ALERT_Z_THRESHOLDS" envDefault:"btcusdt:2,ethusdt:2"`
	ArchiveChunkBars int                `env:"ARCHIVE_CHUNK_BARS" envDefault:"10000"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.DateTime,
		}),
	))

	cfg := config{}
	err := loadConfig(&cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		symbols = append(symbols, strings.ToLower(symbol))
	}

	catalog, err := domain.NewCatalog(cfg.Timeframes)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build timeframe catalog", "error", err)
		os.Exit(1)
	}

	archive, err := storage.NewArchive(cfg.DataDir, catalog, cfg.ArchiveChunkBars)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open bar archive", "error", err)
		os.Exit(1)
	}

	meterProvider, err := metrics.NewMeterProvider()
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up metrics", "error", err)
		os.Exit(1)
	}
	m, err := metrics.New(meterProvider.Meter("tickerd"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to register instruments", "error", err)
		os.Exit(1)
	}

	tickStore := store.NewTickStore(symbols, cfg.TickCapacity)
	barStore := store.NewBarStore(symbols, catalog, cfg.BarCapacity)
	resampler := resample.New(symbols, catalog, barStore)
	engine := analytics.NewEngine(cfg.ZScoreWindow, analytics.NewRuleTable(cfg.AlertZThresholds))

	pipe := pipeline.New(tickStore, resampler, engine, archive, m)
	marketFeed := feed.New(cfg.FeedURL, symbols, pipe, m)

	handler := httpapi.NewHandler(archive, tickStore, pipe)
	server := httpapi.NewServer(ctx, cfg.ListenAddress, handler.Routes(ctx))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.InfoContext(ctx, "starting server", "listen_address", cfg.ListenAddress)
		if err := runHttpServer(gCtx, cfg.ListenAddress, server); err != nil {
			slog.ErrorContext(ctx, "failed to start server", "error", err)
			cancel()
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := pipe.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := marketFeed.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Handle graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down server gracefully")

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server terminated", "err", err)
	}
}

func runHttpServer(ctx context.Context, listenAddress string, srv *httpapi.Server) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return err
	}

	err = srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func loadConfig(config any) error {
	// Ignore error if .env is missing
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// Parse for built-in types
	if err := env.Parse(config); err != nil {
		return err
	}

	return nil
}
