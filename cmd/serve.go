package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/api"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/config"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

const (
	shutdownTimeout = 30 * time.Second
	// reloadDelay lets a dataset export finish writing all files before
	// the reload starts.
	reloadDelay = 500 * time.Millisecond
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the filter and search API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to bind to (overrides server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on (overrides server.port)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if h := c.String("host"); h != "" {
				cfg.Server.Host = h
			}
			if p := c.Int("port"); p != 0 {
				cfg.Server.Port = p
			}
			return serve(ctx, cfg)
		},
	}
}

// reloader owns the active service snapshot. Requests read it without
// locking; Reload builds a complete replacement and swaps it in.
type reloader struct {
	load    func() (*search.Service, error)
	current atomic.Pointer[search.Service]
	group   singleflight.Group
	onSwap  func()
}

func newReloader(load func() (*search.Service, error)) *reloader {
	return &reloader{load: load}
}

// Service implements api.Provider.
func (r *reloader) Service() *search.Service {
	return r.current.Load()
}

// Reload replaces the active snapshot. Concurrent calls share one load.
// On failure the previous snapshot stays active.
func (r *reloader) Reload() error {
	_, err, _ := r.group.Do("reload", func() (any, error) {
		svc, err := r.load()
		if err != nil {
			return nil, err
		}
		r.current.Store(svc)
		if r.onSwap != nil {
			r.onSwap()
		}
		return nil, nil
	})
	return err
}

// serve starts the API server and keeps its dataset current
func serve(ctx context.Context, cfg *config.Config) error {
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	rl := newReloader(func() (*search.Service, error) {
		return loadService(cfg, backend)
	})
	if err := rl.Reload(); err != nil {
		return err
	}

	apiServer := api.NewServer(rl, api.Options{
		CacheTTL:     cfg.Server.CacheTTL.Duration,
		CacheSize:    cfg.Server.CacheSize,
		QueryTimeout: cfg.Server.QueryTimeout.Duration,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		Compress:     cfg.CompressionEnabled(),
	})
	rl.onSwap = func() {
		if c := apiServer.Cache(); c != nil {
			c.Purge()
		}
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Starting API server on http://%s (%s backend)", cfg.Addr(), cfg.Backend)
		logger.Infof("  GET /api/countries, /api/institutions, /api/search/{text}, /health")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("Shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return handleSignals(gctx, cancel, rl)
	})

	if cfg.WatchEnabled() {
		g.Go(func() error {
			return watchDataset(gctx, cfg.DatasetDir, rl)
		})
	}

	return g.Wait()
}

// handleSignals reloads on SIGHUP and stops the server on SIGINT or SIGTERM.
func handleSignals(ctx context.Context, stop context.CancelFunc, rl *reloader) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Infof("Received SIGHUP, reloading dataset...")
				reload(rl)
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Infof("Received %s", sig)
				stop()
				return nil
			}
		}
	}
}

func reload(rl *reloader) {
	if err := rl.Reload(); err != nil {
		logger.Errorf("Failed to reload dataset, keeping the previous one: %v", err)
		return
	}
	logger.Infof("Dataset reloaded successfully")
}

// isDatasetFile reports whether a change to name affects the served
// snapshot.
func isDatasetFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, dataset.CountriesFile) ||
		strings.HasPrefix(base, dataset.InstitutionsFile) ||
		base == dataset.IndexFile
}

// watchDataset reloads after dataset files in dir change. Bursts of events
// are coalesced into one reload.
func watchDataset(ctx context.Context, dir string, rl *reloader) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("failed to create dataset watcher: %v", err)
		return nil
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warnf("failed to close dataset watcher: %v", err)
		}
	}()

	if err := watcher.Add(dir); err != nil {
		logger.Warnf("failed to watch dataset directory %s: %v", dir, err)
		return nil
	}
	logger.Infof("Watching dataset directory for changes: %s", dir)

	timer := time.NewTimer(reloadDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors and exporters often write a temp file and rename it.
			if !isDatasetFile(event.Name) || strings.HasSuffix(event.Name, ".tmp") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				logger.Debugf("dataset file changed: %s (%s)", event.Name, event.Op)
				timer.Reset(reloadDelay)
			}
		case <-timer.C:
			logger.Infof("Dataset changed, reloading...")
			reload(rl)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("dataset watcher error: %v", err)
		}
	}
}
