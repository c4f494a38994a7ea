package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"diet-planner/internal/app"
	"diet-planner/internal/config"
	"diet-planner/internal/database"

	"github.com/spf13/cobra"
)

var (
	verbose      bool
	fixturesFile string
	mealPlanID   int64

	rootCmd = &cobra.Command{
		Use:           "diet-planner",
		Short:         "Shopping list aggregation service for weekly meal plans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Load ingredients, recipes and meal plans from a YAML fixtures file",
		RunE:  runSeed,
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage the aggregation cache",
	}

	cachePurgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Drop every cached generation of a meal plan (server stopped)",
		RunE:  runCachePurge,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	seedCmd.Flags().StringVarP(&fixturesFile, "file", "f", "", "fixtures file (YAML)")
	_ = seedCmd.MarkFlagRequired("file")

	cachePurgeCmd.Flags().Int64Var(&mealPlanID, "meal-plan", 0, "meal plan id")
	_ = cachePurgeCmd.MarkFlagRequired("meal-plan")

	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.New(ctx, cfg, slog.Default())
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("Database %s is up to date.\n", db.Path)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	fx, err := app.LoadFixtures(fixturesFile)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.IngestFixtures(cmd.Context(), fx)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d ingredients, %d recipes, %d meal plans (%d skipped).\n",
		report.Ingredients, report.Recipes, len(report.MealPlans), report.Failed)
	for _, id := range report.MealPlans {
		fmt.Printf("  meal plan %d\n", id)
	}
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.CacheDegraded() {
		return fmt.Errorf("cache is held by a running server; use POST /v1/meal-plans/%d/cache/purge instead", mealPlanID)
	}

	n, err := a.PurgeMealPlanCache(cmd.Context(), mealPlanID)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d cache entries for meal plan %d.\n", n, mealPlanID)
	return nil
}
