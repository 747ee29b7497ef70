package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testdocs/api/internal/config"
	"testdocs/api/internal/logging"
	"testdocs/api/internal/search"
	"testdocs/api/internal/store"
)

var RootCmd = cobra.Command{
	Use:   "testdocs",
	Short: "TestDocs API server",
	Long:  "Collaborative test documentation: accounts, projects, versioned documents and comments.",
	// Running the binary without a subcommand starts the server.
	RunE: func(cmd *cobra.Command, args []string) error {
		return ServeCommand.RunE(cmd, args)
	},
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().String("config", "", "optional config file (yaml, toml or json); environment variables still win")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime holds what every subcommand needs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	db     *sql.DB
}

func setup(ctx context.Context, cmd *cobra.Command) (*runtime, func(), error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, func() {}, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, func() {}, fmt.Errorf("build logger: %w", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, func() {}, fmt.Errorf("database connection failed: %w", err)
	}

	cleanup := func() {
		_ = db.Close()
		_ = logger.Sync()
	}
	return &runtime{cfg: cfg, logger: logger, db: db}, cleanup, nil
}

// searchEngine returns nil when Meilisearch is not configured so the
// service falls back to Postgres. The returned func stops the health loop.
func searchEngine(cfg config.Config, logger *zap.Logger) (search.Engine, func()) {
	if cfg.MeiliURL == "" {
		return nil, func() {}
	}
	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	return meili, meili.Close
}
