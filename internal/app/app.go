package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"diet-planner/internal/api"
	"diet-planner/internal/cache"
	"diet-planner/internal/config"
	"diet-planner/internal/database"
	"diet-planner/internal/metrics"
	"diet-planner/internal/planner"
	"diet-planner/internal/recipe"
	"diet-planner/internal/shopping"
	"diet-planner/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	cacheGCInterval = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// App holds the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db            *database.DB
	cache         cache.Cache
	cacheDegraded bool
	registry      *prometheus.Registry

	recipeRepo *recipe.Repository
	planRepo   *planner.PlanRepository
	listRepo   *shopping.Repository
	engine     *shopping.CachedEngine
	service    *shopping.Service
}

// New opens the database and cache and wires the shopping list service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	c, err := openCache(cfg, logger)
	cacheDegraded := err != nil
	if cacheDegraded {
		logger.Warn("shopping cache unavailable, generating uncached", "backend", cfg.CacheBackend, "path", cfg.CachePath, "error", err)
		m.CacheError("backend", "open")
		c = cache.NewNoop()
	}

	a := &App{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		cache:         c,
		cacheDegraded: cacheDegraded,
		registry:      registry,
		recipeRepo:    recipe.NewRepository(db.SQL),
		planRepo:      planner.NewPlanRepository(db.SQL),
		listRepo:      shopping.NewRepository(db.SQL),
	}

	if err := a.seedCategories(ctx); err != nil {
		a.Close()
		return nil, err
	}

	engine := shopping.NewEngine(a.recipeRepo, a.recipeRepo, a.listRepo, logger)
	a.engine = shopping.NewCachedEngine(engine, c, cfg.CacheTTL, m, logger)

	opts := []shopping.ServiceOption{
		shopping.WithInvalidator(a.engine),
		shopping.WithMetrics(m),
		shopping.WithLogger(logger),
	}
	if cfg.TelegramBotToken != "" {
		sharer, err := telegram.NewSharer(cfg.TelegramBotToken, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, shopping.WithSharer(sharer))
	}
	a.service = shopping.NewService(a.listRepo, a.planRepo, a.engine, opts...)
	a.planRepo.OnChange(a.service.HandleMealPlanChanged)

	return a, nil
}

func openCache(cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.CacheBackend == config.CacheBackendMemory {
		return cache.NewMemory(), nil
	}
	c, err := cache.OpenBadger(cache.BadgerConfig{
		Path:       cfg.CachePath,
		Logger:     logger,
		GCInterval: cacheGCInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return c, nil
}

// seedCategories inserts the default store categories, or the ones of
// CATEGORIES_FILE, without touching existing rows.
func (a *App) seedCategories(ctx context.Context) error {
	categories, err := shopping.DefaultCategories()
	if err != nil {
		return err
	}
	if a.cfg.CategoriesFile != "" {
		data, err := os.ReadFile(a.cfg.CategoriesFile)
		if err != nil {
			return fmt.Errorf("failed to read categories file: %w", err)
		}
		if categories, err = shopping.ParseCategories(data); err != nil {
			return err
		}
	}

	added, err := a.listRepo.SeedCategories(ctx, categories)
	if err != nil {
		return err
	}
	if added > 0 {
		a.logger.Info("store categories seeded", "added", added)
	}
	return nil
}

// Service returns the shopping list service.
func (a *App) Service() *shopping.Service {
	return a.service
}

// Router builds the HTTP handler of the application.
func (a *App) Router() *gin.Engine {
	return api.NewRouter(a.service, api.RouterConfig{
		JWTSecret: a.cfg.AuthJWTSecret,
		Gatherer:  a.registry,
		DataPaths: []string{filepath.Dir(a.cfg.DatabasePath), a.cfg.CachePath},
		Logger:    a.logger,
	})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("shopping list server listening", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// CacheDegraded reports whether the configured cache backend could not be
// opened and generations run uncached.
func (a *App) CacheDegraded() bool {
	return a.cacheDegraded
}

// PurgeMealPlanCache drops every cached generation of a meal plan.
func (a *App) PurgeMealPlanCache(ctx context.Context, mealPlanID int64) (int, error) {
	return a.service.PurgeCache(ctx, mealPlanID)
}

// Close releases the cache and the database.
func (a *App) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
