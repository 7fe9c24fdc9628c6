package builder

import (
	"context"

	"github.com/vk/pipecrate/internal/plan"
)

// Recorder is a Builder that records the plans it was asked to build
// instead of invoking any tooling. It backs `plan` dry runs and tests.
type Recorder struct {
	Plans   []*plan.BuildPlan
	ImageID string
	Err     error
}

// Build records the plan, still writing the build context so callers can
// inspect the rendered Dockerfile.
func (r *Recorder) Build(ctx context.Context, p *plan.BuildPlan, contextDir string) (string, error) {
	if err := plan.WriteContext(p, contextDir); err != nil {
		return "", err
	}
	r.Plans = append(r.Plans, p)
	if r.Err != nil {
		return "", r.Err
	}
	if r.ImageID == "" {
		return "sha256:recorded", nil
	}
	return r.ImageID, nil
}
