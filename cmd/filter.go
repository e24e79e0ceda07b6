package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

// FilterCommand creates the filter command
func FilterCommand() *cli.Command {
	return &cli.Command{
		Name:  "filter",
		Usage: "Filter, sort and page countries or institutions",
		Description: `Parameters use the names accepted by the HTTP API, for example:

   oaweb filter --type institution --param countries=AUS,NZL --param orderBy=name --param orderDir=asc`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Entity type: country or institution",
				Value: "country",
			},
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Query parameter as key=value, repeatable",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			params, err := parseParams(c.StringSlice("param"))
			if err != nil {
				return err
			}

			svc, closeFn, err := setupService(ctx, c.String("config"))
			if err != nil {
				return err
			}
			defer closeFn()

			return runFilter(ctx, os.Stdout, svc, c.String("type"), params)
		},
	}
}

// parseParams turns key=value pairs into query values.
func parseParams(pairs []string) (url.Values, error) {
	params := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", p)
		}
		params.Add(k, v)
	}
	return params, nil
}

func runFilter(ctx context.Context, w io.Writer, svc *search.Service, entityType string, params url.Values) error {
	env, err := svc.FilterEntities(ctx, entityType, params)
	if err != nil {
		return err
	}
	kind, _ := query.ParseEntityType(entityType)
	printEntities(w, kind, env)
	return nil
}
