package app

import (
	"context"
	"fmt"
	"os"

	"github.com/specialistvlad/chunkflow/internal/cache"
	"github.com/specialistvlad/chunkflow/internal/chunk"
	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/diskstore"
	"github.com/specialistvlad/chunkflow/internal/engine"
	"github.com/specialistvlad/chunkflow/internal/housekeeper"
	"github.com/specialistvlad/chunkflow/internal/isolation"
	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/specialistvlad/chunkflow/internal/partition"
	"github.com/specialistvlad/chunkflow/internal/scheduler"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// newEngine assembles the engine context from the configuration.
func (app *App) newEngine(ctx context.Context) (*engine.Engine, error) {
	cfg := app.config
	if app.baseDir() == "" {
		return nil, errNoBaseDir
	}

	manifest, err := app.manifest()
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}
	policy, err := housekeeper.ParsePolicy(cfg.Keep)
	if err != nil {
		return nil, err
	}
	classifier, err := partition.NewRegexClassifier(cfg.PartitionPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid partition pattern: %w", err)
	}

	results := diskstore.New()
	runner, err := app.newRunner(results)
	if err != nil {
		return nil, err
	}
	c, err := app.newCache()
	if err != nil {
		return nil, err
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = app.baseDir()
	}

	ec := &engine.Context{
		Config: engine.Config{
			CacheDir: cacheDir,
			Source: cache.Source{
				Spec:     app.model.Source,
				Manifest: manifest,
				Version:  Version,
				BaseDir:  app.baseDir(),
			},
			Strategy: strategy,
			Chunking: chunk.Options{ExcludeDefault: cfg.ExcludeDefault, Only: cfg.Only},
			Scheduler: scheduler.Options{
				Workers:      cfg.Workers,
				MemoryGB:     cfg.MemoryGB,
				Processors:   cfg.Processors,
				Resume:       cfg.Resume,
				Housekeeping: housekeeper.Config{Policy: policy, Categories: cfg.KeepCategories},
			},
		},
		Cache:      c,
		Runner:     runner,
		Results:    results,
		Classifier: classifier,
	}
	ctxlog.FromContext(ctx).Debug("Engine configured.", "cache_dir", cacheDir, "cache", c != nil, "strategy", strategy.String())
	return engine.New(ec)
}

func (app *App) newRunner(results nodestore.Store) (task.Runner, error) {
	reg := task.NewRegistry()
	if app.config.Isolation == IsolationNone {
		return task.NewLocalRunner(reg, results), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating the worker executable: %w", err)
	}
	runner, err := isolation.NewRunner(
		[]string{exe, CommandWorker, "--log-level", app.config.LogLevel, "--log-format", app.config.LogFormat},
		isolation.DefaultBackend(),
	)
	if err != nil {
		return nil, err
	}
	return runner, nil
}

func (app *App) newCache() (*cache.Cache, error) {
	cfg := app.config
	if cfg.NoCache {
		return nil, nil
	}

	opts := cache.Options{Entries: cfg.CacheEntries}
	if cfg.S3.Endpoint != "" {
		store, err := cache.NewS3Store(cache.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring s3 cache: %w", err)
		}
		opts.Remote = store
	}
	return cache.New(opts)
}
