package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/config"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/storage"
)

// ImportCommand creates the import command
func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Load the dataset into the SQLite database used by the sqlite backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dataset",
				Usage: "Dataset directory (defaults to dataset_dir)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			dir := c.String("dataset")
			if dir == "" {
				dir = cfg.DatasetDir
			}
			return importDataset(ctx, dir, cfg.SQLitePath)
		},
	}
}

func importDataset(ctx context.Context, dir, dbPath string) error {
	start := time.Now()
	ds, err := dataset.Load(dir)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	store, err := storage.Open(ctx, dbPath, 0)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	if err := store.Import(ctx, ds, dir); err != nil {
		return fmt.Errorf("importing dataset: %w", err)
	}

	fmt.Printf("Imported %d countries and %d institutions into %s in %s\n",
		ds.Countries.Len(), ds.Institutions.Len(), dbPath, time.Since(start).Round(time.Millisecond))
	return nil
}
