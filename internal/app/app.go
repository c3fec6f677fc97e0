package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/specialistvlad/chunkflow/internal/config"
	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/engine"
	"github.com/specialistvlad/chunkflow/internal/graph"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ctx    context.Context
	config *Config
	model  *config.Model

	engine     *engine.Engine
	httpServer *http.Server
}

// NewApp loads the graph and run settings found at the configured paths.
// Settings from files are applied below pinned flags and environment values.
// Logs go to logW.
func NewApp(outW, logW io.Writer, cfg *Config, loader config.Loader) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}
	if model.Graph == nil {
		return nil, fmt.Errorf("no graph block found in %s", cfg.GraphPath)
	}
	applyRunSettings(cfg, model.Run)

	if cfg.ConfigPath != "" {
		settings, err := loader.Load(ctx, cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load run config: %w", err)
		}
		if settings.Graph != nil {
			logger.Warn("Ignoring graph blocks in run config.", "path", cfg.ConfigPath)
		}
		applyRunSettings(cfg, settings.Run)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "files", len(model.Files), "nodes", len(model.Graph.Nodes))

	return &App{
		outW:   outW,
		logger: logger,
		ctx:    ctx,
		config: cfg,
		model:  model,
	}, nil
}

// Run executes the configured command until it finishes or ctx is canceled.
func (app *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, app.logger)
	app.ctx = ctx
	app.logger.Debug("App.Run method started.", "command", app.config.Command)

	eng, err := app.newEngine(ctx)
	if err != nil {
		return err
	}
	app.engine = eng

	switch app.config.Command {
	case CommandPlan:
		return app.plan(ctx)
	case CommandRun:
		app.healthCheckServer()
		defer app.closeHealthCheckServer()
		return app.run(ctx)
	}
	return fmt.Errorf("command %q cannot run from an App", app.config.Command)
}

func (app *App) run(ctx context.Context) error {
	app.logger.Info("Starting run.", "graph", app.config.GraphPath, "memory_gb", app.config.MemoryGB, "isolation", app.config.Isolation)
	res, err := app.engine.Run(ctx, app.buildGraph)
	if res != nil {
		app.summarize(res)
	}
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	app.logger.Info("Execution finished.")
	return nil
}

func (app *App) summarize(res *engine.Result) {
	for _, r := range res.Reports {
		for _, w := range r.Overruns {
			app.logger.Warn("Node exceeded its declared memory.", "chunk", r.Chunk, "node", w.Node, "declared_gb", w.DeclaredGB, "observed_gb", w.ObservedGB)
		}
		app.logger.Debug("Chunk report.", "chunk", r.Chunk, "executed", len(r.Results), "skipped", len(r.Skipped), "deleted", len(r.Deleted), "peak_in_use_gb", r.PeakInUseGB)
	}
}

func (app *App) manifest() ([]byte, error) {
	if app.config.ManifestPath == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(app.config.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return raw, nil
}

func (app *App) baseDir() string {
	if app.config.BaseDir != "" {
		return app.config.BaseDir
	}
	return app.model.Graph.BaseDir
}

func (app *App) buildGraph(context.Context) (*graph.Graph, error) {
	return app.model.Graph.Build(app.baseDir())
}

// errNoBaseDir is returned when neither the graph nor the flags name a base
// directory.
var errNoBaseDir = errors.New("no base directory: set base_dir in the graph or pass --base-dir")
