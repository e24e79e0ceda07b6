package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/config"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/filter"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/storage"
)

// StatsCommand creates the stats command
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show dataset statistics",
		Action: func(ctx context.Context, c *cli.Command) error {
			return showStats(ctx, os.Stdout, c.String("config"))
		},
	}
}

// showStats displays collection sizes and value ranges
func showStats(ctx context.Context, w io.Writer, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ds, err := dataset.Load(cfg.DatasetDir)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	formatStats(w, ds, cfg.QueryLimits())

	if cfg.Backend != config.BackendSQLite {
		return nil
	}
	if _, err := os.Stat(cfg.SQLitePath); os.IsNotExist(err) {
		fmt.Fprintf(w, "\nDatabase %s has not been created yet\n", cfg.SQLitePath)
		return nil
	}

	store, err := storage.Open(ctx, cfg.SQLitePath, 0)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	info, err := store.LastImport(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	if info == nil {
		fmt.Fprintf(w, "Database %s: never imported\n", cfg.SQLitePath)
		return nil
	}
	fmt.Fprintf(w, "Database %s: %d countries, %d institutions, imported %s from %s\n",
		cfg.SQLitePath, info.Countries, info.Institutions, info.ImportedAt.Local().Format("Jan 2, 2006 15:04"), info.Source)
	return nil
}

// formatStats writes the size and whole-collection bounds of each
// collection.
func formatStats(w io.Writer, ds *dataset.Dataset, limits query.Limits) {
	fmt.Fprintln(w, titleStyle.Render("Dataset Statistics"))

	for _, kind := range core.EntityTypes {
		c := ds.Collection(kind)
		res := filter.Filter(c, query.All(limits))

		fmt.Fprintf(w, "%s\n", nameStyle.Render(titleCase.String(kind.Plural())))
		fmt.Fprintf(w, "   Entities: %d", c.Len())
		if len(res.Items) != c.Len() {
			fmt.Fprintf(w, " (%d above the output floor)", len(res.Items))
		}
		fmt.Fprintln(w)
		if res.Min == nil {
			continue
		}
		fmt.Fprintf(w, "   Outputs:      %s - %s\n", formatNumber(res.Min.NOutputs), formatNumber(res.Max.NOutputs))
		fmt.Fprintf(w, "   Open outputs: %s - %s\n", formatNumber(res.Min.NOutputsOpen), formatNumber(res.Max.NOutputsOpen))
		fmt.Fprintf(w, "   Open access:  %s - %s\n", formatPercent(res.Min.POutputsOpen), formatPercent(res.Max.POutputsOpen))
	}
}
