package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/latencymonitor/internal/config"
	"github.com/hamed0406/latencymonitor/internal/httpapi"
	"github.com/hamed0406/latencymonitor/internal/logging"
	"github.com/hamed0406/latencymonitor/internal/probe"
	"github.com/hamed0406/latencymonitor/internal/repo"
	"github.com/hamed0406/latencymonitor/internal/repo/bolt"
	"github.com/hamed0406/latencymonitor/internal/repo/memory"
	"github.com/hamed0406/latencymonitor/internal/repo/postgres"
	"github.com/hamed0406/latencymonitor/internal/scheduler"
	"github.com/hamed0406/latencymonitor/internal/stats"
)

type statsBackend interface {
	stats.Recorder
	stats.Reader
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) (err error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	if n, err := repo.Seed(ctx, store, cfg.DefaultDomains); err != nil {
		return err
	} else if n > 0 {
		logger.Info("seeded_domains", zap.Int("count", n))
	}

	st, closeStats := openStats(ctx, cfg, logger)
	defer func() { err = multierr.Append(err, closeStats()) }()

	sch, err := scheduler.New(logger, store, newProber(cfg, logger), scheduler.Options{
		Interval:       cfg.ProbeInterval,
		ProbeTimeout:   probeBudget(cfg),
		MaxConcurrency: cfg.MaxConcurrent,
		Retention:      cfg.Retention(),
		PurgeSchedule:  cfg.PurgeSchedule,
		Recorder:       st,
	})
	if err != nil {
		return err
	}
	sch.Start(ctx)
	defer sch.Stop()

	api := httpapi.NewServer(logger, store, sch, st)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(httpapi.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			PublicRPM:      cfg.PublicRPM,
			PublicBurst:    cfg.PublicBurst,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api_listen",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("probe_mode", cfg.ProbeMode),
			zap.Duration("interval", cfg.ProbeInterval),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("api_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			return nil, multierr.Append(err, pg.Close())
		}
		logger.Info("store_ready", zap.String("driver", "postgres"))
		return pg, nil
	case config.DriverMemory:
		logger.Warn("store_ready", zap.String("driver", "memory"), zap.String("note", "samples are lost on restart"))
		return memory.New(), nil
	default:
		b, err := bolt.Open(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.DatabasePath, err)
		}
		logger.Info("store_ready", zap.String("driver", "bolt"), zap.String("path", cfg.DatabasePath))
		return b, nil
	}
}

// openStats uses Redis when configured and reachable, otherwise process memory.
func openStats(ctx context.Context, cfg config.Config, logger *zap.Logger) (statsBackend, func() error) {
	if cfg.RedisAddr == "" {
		return stats.NewMemoryRecorder(), func() error { return nil }
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		logger.Warn("redis_unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return stats.NewMemoryRecorder(), func() error { return nil }
	}
	logger.Info("stats_ready", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
	return stats.NewRedisRecorder(rdb, stats.WithPrefix(cfg.StatsPrefix)), rdb.Close
}

func newProber(cfg config.Config, logger *zap.Logger) probe.Prober {
	res := probe.NewDNSResolver(cfg.DNSServer, cfg.DNSTimeout, logger)

	var p probe.Prober
	if cfg.ProbeMode == config.ModeExec {
		p = probe.NewCommandProber(res, cfg.PingCount, cfg.ProbeTimeout)
	} else {
		p = probe.NewICMPProber(res, cfg.PingCount, cfg.ProbeTimeout, cfg.PingPrivileged, logger)
	}
	if cfg.ProbeAttempts > 1 {
		p = &probe.RetryProber{Inner: p, Attempts: cfg.ProbeAttempts, Backoff: cfg.ProbeBackoff}
	}
	return p
}

// probeBudget is how long the scheduler waits for one domain: every attempt
// may spend the DNS timeout on both A and AAAA lookups plus the ping timeout.
func probeBudget(cfg config.Config) time.Duration {
	attempts := time.Duration(cfg.ProbeAttempts)
	if attempts < 1 {
		attempts = 1
	}
	perAttempt := cfg.ProbeTimeout + 2*cfg.DNSTimeout
	return attempts*perAttempt + (attempts-1)*cfg.ProbeBackoff
}
