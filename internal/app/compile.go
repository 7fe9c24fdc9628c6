package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/pipecrate/internal/builder"
	"github.com/vk/pipecrate/internal/compiler"
	"github.com/vk/pipecrate/internal/plan"
	"github.com/vk/pipecrate/internal/validate"
)

// MakeConfig tunes a full compilation.
type MakeConfig struct {
	// BuildDir receives the build context; temp dir when empty.
	BuildDir string
	// Builder selects the build collaborator: "docker" or "dry-run".
	Builder string
	// BuildTimeout bounds the delegated build; zero means unbounded.
	BuildTimeout time.Duration
}

// Validate loads every pipeline spec at path and validates it. The first
// invalid spec aborts.
func (a *App) Validate(ctx context.Context, path string) error {
	ctx = a.Context(ctx)

	specs, err := a.loader.Load(ctx, path)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if err := validate.Spec(ctx, s, a.tasks, a.formats); err != nil {
			return fmt.Errorf("%s: %w", s.LoadedFrom, err)
		}
		fmt.Fprintf(a.outW, "%s: pipeline %q ok\n", s.LoadedFrom, s.Name)
	}
	return nil
}

// Plan compiles the spec at path up to the build plan and writes the
// build context into buildDir without invoking any build tooling.
func (a *App) Plan(ctx context.Context, path, buildDir string) error {
	ctx = a.Context(ctx)

	s, err := a.loader.LoadOne(ctx, path)
	if err != nil {
		return err
	}

	session := compiler.NewSession(s, a.tasks, a.formats, &builder.Recorder{})
	if err := session.Validate(ctx); err != nil {
		return err
	}
	if _, err := session.Surface(ctx); err != nil {
		return err
	}
	buildPlan, err := session.Plan(ctx)
	if err != nil {
		return err
	}
	if err := plan.WriteContext(buildPlan, buildDir); err != nil {
		return err
	}

	fmt.Fprintf(a.outW, "image: %s\n", buildPlan.ImageTag)
	for _, step := range buildPlan.Steps {
		fmt.Fprintf(a.outW, "step: %s\n", step.Kind)
	}
	fmt.Fprintf(a.outW, "build context written to %s\n", buildDir)
	return nil
}

// Make runs the full compilation and returns the built image id.
func (a *App) Make(ctx context.Context, path string, cfg MakeConfig) (string, error) {
	ctx = a.Context(ctx)

	s, err := a.loader.LoadOne(ctx, path)
	if err != nil {
		return "", err
	}

	var b builder.Builder
	switch cfg.Builder {
	case "", "docker":
		b = &builder.Docker{Timeout: cfg.BuildTimeout}
	case "dry-run":
		b = &builder.Recorder{}
	default:
		return "", fmt.Errorf("unknown builder %q: must be 'docker' or 'dry-run'", cfg.Builder)
	}

	session := compiler.NewSession(s, a.tasks, a.formats, b)
	session.BuildDir = cfg.BuildDir

	imageID, err := session.Compile(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(a.outW, imageID)
	return imageID, nil
}
