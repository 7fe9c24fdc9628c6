// Package builder defines the image build collaborator. The planner only
// produces an ordered description; executing it belongs here. The Docker
// implementation shells out to the docker CLI, the Recorder stands in
// for tests and dry runs.
package builder

import (
	"context"

	"github.com/vk/pipecrate/internal/plan"
)

// Builder turns a build plan into an image and returns its identifier.
type Builder interface {
	Build(ctx context.Context, p *plan.BuildPlan, contextDir string) (string, error)
}

// BuildError is an opaque collaborator failure, surfaced with the
// collaborator's own message.
type BuildError struct {
	Image  string
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Output != "" {
		return "building image " + e.Image + ": " + e.Output
	}
	return "building image " + e.Image + ": " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
