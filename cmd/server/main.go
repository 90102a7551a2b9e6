// Node search server
//
// Features:
// - Keyset-paginated node search with opaque page tokens
// - Public (link-shared) folder search for anonymous callers
// - Node moves with descendant path rewrite
// - Prometheus metrics & structured logging (zap)
// - PostgreSQL or in-memory node store
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/api"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/auth"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/config"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata/memory"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata/postgres"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/retry"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/search"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/sharing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error() + "\n\n" + config.Usage())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("node search server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.StoreBackend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store metadata.Store
		links sharing.Links
		pg    *postgres.Store
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logging.Warn("using in-memory store, data is lost on exit")
		store = memory.New()
		links = sharing.NewMemoryLinkStore()
	default:
		pg, err = connect(ctx, cfg)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer pg.Close()

		if dir := findMigrationsDir(cfg.MigrationsDir); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := pg.Migrate(dir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		} else {
			logging.Warn("no migrations directory found", zap.String("configured", cfg.MigrationsDir))
		}
		store = pg
		links = sharing.NewLinkStore(pg.DB())
	}

	finder := search.NewFinder(store, cfg.PageSizeMax)
	srv := api.NewServer(store, finder, links, auth.New(cfg.JWTSecret), cfg.StoreBackend)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		return serve(httpServer)
	})
	g.Go(func() error {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		return serve(metricsServer)
	})
	if pg != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					pg.UpdateConnectionMetrics()
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}

func serve(s *http.Server) error {
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// connect opens the database, waiting for it to accept connections.
func connect(ctx context.Context, cfg *config.Config) (*postgres.Store, error) {
	policy := retry.StartupPolicy()
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Warn("database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	pool := postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
	logging.Info("connecting to PostgreSQL...")
	return retry.Do(ctx, policy, func(ctx context.Context) (*postgres.Store, error) {
		s, err := postgres.New(ctx, cfg.DatabaseURL, pool)
		return s, retry.Transient(err)
	})
}

func findMigrationsDir(configured string) string {
	candidates := []string{configured, "migrations", "../migrations"}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
