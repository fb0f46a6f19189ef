// migrate 应用 migrations/ 下的 SQL 迁移 (schema_version 追踪)。
//
//	migrate up      应用所有未执行的迁移
//	migrate status  列出待执行的迁移
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/multi-agent/genruntime/internal/config"
	"github.com/multi-agent/genruntime/internal/database"
	"github.com/multi-agent/genruntime/pkg/logger"
)

var migrationsDir string

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Apply genruntime database migrations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, dir string) error {
			if err := database.Migrate(ctx, pool, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, dir string) error {
			pending, err := database.Pending(ctx, pool, dir)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Up to date.")
				return nil
			}
			for _, name := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", name)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "migrations directory (default: $MIGRATIONS_DIR or ./migrations)")
	rootCmd.AddCommand(upCmd, statusCmd)
}

func withPool(ctx context.Context, fn func(context.Context, *pgxpool.Pool, string) error) error {
	cfg := config.Load()
	logger.Init(cfg.LogEnv)
	if !cfg.PersistenceEnabled() {
		return fmt.Errorf("POSTGRES_CONNECTION_STRING not set")
	}
	dir := migrationsDir
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, dir)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}
