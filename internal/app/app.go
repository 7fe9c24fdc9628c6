// Package app wires the compiler's collaborators together for the CLI:
// logger, task registry, format registry, spec loader. Each App instance
// is isolated; two compilations in one process never share state.
package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/format"
	"github.com/vk/pipecrate/internal/hclspec"
	"github.com/vk/pipecrate/internal/logging"
	"github.com/vk/pipecrate/internal/registry"
	"github.com/vk/pipecrate/internal/tasks/identity"
)

// coreModules are the task modules every pipecrate binary ships with.
// The entrypoint resolves the embedded spec's task reference against the
// same set, so compile-time resolution guarantees runtime resolution.
var coreModules = []registry.Module{
	&identity.Module{},
}

// App holds one CLI invocation's dependencies.
type App struct {
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger

	tasks   *registry.Registry
	formats *format.Registry
	loader  *hclspec.Loader
}

// NewApp constructs an App with its own logger and registries. Extra
// modules, when given, replace the core set (used by tests).
func NewApp(outW, errW io.Writer, logLevel, logFormat string, modules ...registry.Module) (*App, error) {
	logger, err := logging.New(logLevel, logFormat, errW)
	if err != nil {
		return nil, err
	}

	tasks := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(tasks)
	}
	logger.Debug("Task modules registered.", "count", len(modules))

	return &App{
		outW:    outW,
		errW:    errW,
		logger:  logger,
		tasks:   tasks,
		formats: format.Builtin(),
		loader:  hclspec.NewLoader(),
	}, nil
}

// Context embeds the app's logger into the given context.
func (a *App) Context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// Tasks returns the task registry. Primarily for tests.
func (a *App) Tasks() *registry.Registry {
	return a.tasks
}

// Formats returns the format registry. Primarily for tests.
func (a *App) Formats() *format.Registry {
	return a.formats
}
