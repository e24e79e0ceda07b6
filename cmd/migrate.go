package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/config"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/db"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/storage"
)

// MigrateCommand creates the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Show migration status without applying migrations",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return RunMigrations(ctx, os.Stdout, cfg.SQLitePath, c.Bool("status"))
		},
	}
}

// RunMigrations handles the migration process (exported for testing)
func RunMigrations(ctx context.Context, w io.Writer, dbPath string, statusOnly bool) error {
	if statusOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			fmt.Fprintf(w, "Database does not exist, will be created on first use: %s\n", dbPath)
			return nil
		}
	}

	dbConn, err := storage.OpenDB(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			fmt.Fprintf(w, "Warning: failed to close database: %v\n", err)
		}
	}()

	migrationManager := db.NewMigrationManager(dbConn)

	if statusOnly {
		if err := showMigrationStatus(ctx, w, migrationManager); err != nil {
			return fmt.Errorf("showing migration status: %w", err)
		}
		fmt.Fprintln(w, "\nMigration status check completed")
		return nil
	}

	n, err := migrationManager.ApplyPending(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	fmt.Fprintf(w, "Applied %d migrations to %s\n", n, dbPath)
	return nil
}

// showMigrationStatus displays the current migration status
func showMigrationStatus(ctx context.Context, w io.Writer, manager *db.MigrationManager) error {
	status, err := manager.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Applied migrations: %d\n", len(status.Applied))
	for _, migration := range status.Applied {
		appliedTime := "unknown"
		if migration.AppliedAt != nil {
			appliedTime = migration.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  ✓ %03d_%s (applied %s)\n", migration.Version, migration.Name, appliedTime)
	}

	fmt.Fprintf(w, "Pending migrations: %d\n", len(status.Pending))
	for _, migration := range status.Pending {
		fmt.Fprintf(w, "  • %03d_%s\n", migration.Version, migration.Name)
	}
	return nil
}
