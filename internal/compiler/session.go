// Package compiler orchestrates one compilation: validation, CLI surface
// derivation, build planning, and the delegated image build. All state
// for a compilation lives in a CompilerSession owned by exactly one
// invocation, so independent compilations in one process need no
// coordination.
package compiler

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/vk/pipecrate/internal/builder"
	"github.com/vk/pipecrate/internal/cmdgen"
	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/format"
	"github.com/vk/pipecrate/internal/plan"
	"github.com/vk/pipecrate/internal/registry"
	"github.com/vk/pipecrate/internal/spec"
	"github.com/vk/pipecrate/internal/validate"
)

// CompilerSession owns one spec for the duration of one compilation.
// The derived command surface and build plan are immutable views and are
// discarded with the session.
type CompilerSession struct {
	ID   string
	Spec *spec.PipelineSpec

	Tasks   *registry.Registry
	Formats *format.Registry
	Builder builder.Builder

	// BuildDir is where the build context is written; a temp directory
	// is used when empty.
	BuildDir string

	// EntrypointBinary is staged into the image; resolved from the
	// running executable when empty.
	EntrypointBinary string

	validated bool
	surface   *cmdgen.Surface
	buildPlan *plan.BuildPlan
}

// NewSession creates a session for one compilation of the given spec.
func NewSession(s *spec.PipelineSpec, tasks *registry.Registry, formats *format.Registry, b builder.Builder) *CompilerSession {
	return &CompilerSession{
		ID:      uuid.NewString(),
		Spec:    s,
		Tasks:   tasks,
		Formats: formats,
		Builder: b,
	}
}

// Validate runs the spec validation passes. It must succeed before any
// planning or building; the session remembers the outcome.
func (c *CompilerSession) Validate(ctx context.Context) error {
	if err := validate.Spec(ctx, c.Spec, c.Tasks, c.Formats); err != nil {
		return err
	}
	c.validated = true
	return nil
}

// Surface derives the CLI surface. Requires a validated session.
func (c *CompilerSession) Surface(ctx context.Context) (*cmdgen.Surface, error) {
	if !c.validated {
		return nil, fmt.Errorf("session %s: surface requested before validation", c.ID)
	}
	if c.surface == nil {
		surface, err := cmdgen.Derive(c.Spec)
		if err != nil {
			return nil, err
		}
		c.surface = surface
	}
	return c.surface, nil
}

// Plan assembles the build plan. Requires a validated session; a spec
// that failed validation never produces a plan.
func (c *CompilerSession) Plan(ctx context.Context) (*plan.BuildPlan, error) {
	if !c.validated {
		return nil, fmt.Errorf("session %s: plan requested before validation", c.ID)
	}
	if c.buildPlan == nil {
		p, err := plan.Plan(ctx, c.Spec, plan.Options{EntrypointBinary: c.EntrypointBinary})
		if err != nil {
			return nil, err
		}
		c.buildPlan = p
	}
	return c.buildPlan, nil
}

// Compile runs the full chain: validate, derive the surface, plan, then
// delegate to the build collaborator. Compiler-time errors abort before
// the collaborator is ever invoked.
func (c *CompilerSession) Compile(ctx context.Context) (string, error) {
	logger := ctxlog.FromContext(ctx).With("session", c.ID, "pipeline", c.Spec.Name)

	if err := c.Validate(ctx); err != nil {
		return "", err
	}
	if _, err := c.Surface(ctx); err != nil {
		return "", err
	}

	if c.EntrypointBinary == "" {
		bin, err := builder.EntrypointBinary()
		if err != nil {
			return "", fmt.Errorf("locating entrypoint binary: %w", err)
		}
		c.EntrypointBinary = bin
	}

	buildPlan, err := c.Plan(ctx)
	if err != nil {
		return "", err
	}

	dir := c.BuildDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "pipecrate-build-*")
		if err != nil {
			return "", fmt.Errorf("creating build directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	logger.Info("🔨 Delegating image build.", "image", buildPlan.ImageTag, "dir", dir)
	imageID, err := c.Builder.Build(ctx, buildPlan, dir)
	if err != nil {
		return "", err
	}
	logger.Info("✅ Compilation finished.", "image_id", imageID)
	return imageID, nil
}
