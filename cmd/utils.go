package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/config"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/index"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/log"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/storage"
)

var logger = log.ForService("cmd")

// loadIndex reads the exported index at path. A missing file is not an
// error: the caller builds the index from the dataset instead.
func loadIndex(path string, ds *dataset.Dataset) (*index.Index, error) {
	ix, err := index.Load(path, ds)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Infof("no index export at %s, building from dataset", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// loadService loads the dataset and index named by cfg and builds a
// service over them. A nil backend selects the in-memory one.
func loadService(cfg *config.Config, backend search.Backend) (*search.Service, error) {
	ds, err := dataset.Load(cfg.DatasetDir)
	if err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}

	ix, err := loadIndex(cfg.ResolvedIndexPath(), ds)
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}

	svc := search.NewService(ds, ix, search.Options{
		Backend:      backend,
		Limits:       cfg.QueryLimits(),
		TableLimits:  cfg.TablePageLimits(),
		SearchLimits: cfg.SearchPageLimits(),
	})
	logger.Infof("loaded %d countries, %d institutions, %d index tokens from %s",
		ds.Countries.Len(), ds.Institutions.Len(), svc.Index().Tokens(), cfg.DatasetDir)
	return svc, nil
}

// openBackend returns the configured filter backend. The memory backend
// is created by the service itself, so nil is returned for it. The
// returned close function is never nil.
func openBackend(ctx context.Context, cfg *config.Config) (search.Backend, func(), error) {
	if cfg.Backend != config.BackendSQLite {
		return nil, func() {}, nil
	}

	store, err := storage.Open(ctx, cfg.SQLitePath, cfg.Server.QueryTimeout.Duration)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", cfg.SQLitePath, err)
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Warnf("failed to close database: %v", err)
		}
	}

	info, err := store.LastImport(ctx)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if info == nil {
		logger.Warnf("database %s is empty, run 'oaweb import' first", cfg.SQLitePath)
	}
	return store, closeFn, nil
}

// setupService loads configuration, backend and dataset for the one-shot
// commands.
func setupService(ctx context.Context, configPath string) (*search.Service, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	backend, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	svc, err := loadService(cfg, backend)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}
