package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/hclspec"
	"github.com/modelyard/modelyard/internal/registry"
)

// App encapsulates the application's dependencies, configuration and
// lifecycle. Each App carries its own isolated logger, so parallel test
// instances never share state.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	cfg     *Config
	modules []registry.Module
	loader  *hclspec.Loader
}

// NewApp is the constructor for the main application. The modules variadic
// exists for tests; production callers rely on the built-in step set.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules()
	}
	return &App{
		outW:    outW,
		logger:  logger,
		cfg:     cfg,
		modules: modules,
		loader:  hclspec.NewLoader(),
	}
}

// Run dispatches the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", a.cfg.Command)

	switch a.cfg.Command {
	case CmdRun:
		return a.runPipeline(ctx)
	case CmdTag:
		return a.tagArtifact(ctx)
	case CmdGet:
		return a.getArtifact(ctx)
	case CmdArtifacts:
		return a.listArtifacts(ctx)
	case CmdRuns:
		return a.listRuns(ctx)
	case CmdServe:
		return a.serveStore(ctx)
	case CmdWatch:
		return a.watchAndRun(ctx)
	default:
		return fmt.Errorf("unknown command %q", a.cfg.Command)
	}
}
