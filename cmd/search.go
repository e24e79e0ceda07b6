package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

// SearchCommand creates the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search countries and institutions by name, acronym or location",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Result page, starting at 0",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("search text is required")
			}

			svc, closeFn, err := setupService(ctx, c.String("config"))
			if err != nil {
				return err
			}
			defer closeFn()

			return runSearch(ctx, os.Stdout, svc, text, c.Int("page"), c.Int("limit"))
		},
	}
}

func runSearch(ctx context.Context, w io.Writer, svc *search.Service, text string, page, limit int) error {
	env, err := svc.SearchEntities(ctx, text, page, limit)
	if err != nil {
		return fmt.Errorf("searching %q: %w", text, err)
	}
	printProjections(w, text, env)
	return nil
}
