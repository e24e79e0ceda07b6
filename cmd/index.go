package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/config"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/index"
)

// IndexCommand creates the index command
func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Manage the search index export",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "Build the search index from the dataset and write it next to it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "Index file to write (defaults to the configured index path)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := config.LoadConfig(c.String("config"))
					if err != nil {
						return fmt.Errorf("loading config: %w", err)
					}
					out := c.String("output")
					if out == "" {
						out = cfg.ResolvedIndexPath()
					}
					return buildIndex(cfg.DatasetDir, out)
				},
			},
		},
	}
}

// buildIndex writes the index export of the dataset in dir to out and
// verifies that it loads back.
func buildIndex(dir, out string) error {
	start := time.Now()
	ds, err := dataset.Load(dir)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	ix := index.Build(ds.Entities())
	if err := ix.Save(out); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	if _, err := index.Load(out, ds); err != nil {
		return fmt.Errorf("verifying index: %w", err)
	}

	fmt.Printf("Indexed %d entities (%d tokens) into %s in %s\n",
		ix.Len(), ix.Tokens(), out, time.Since(start).Round(time.Millisecond))
	return nil
}
