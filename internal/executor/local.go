package executor

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/registry"
)

// Local executes tasks in-process through the task registry. It is the
// executor the generated entrypoint ships with.
type Local struct {
	registry *registry.Registry
}

// NewLocal creates a Local executor backed by the given registry.
func NewLocal(reg *registry.Registry) *Local {
	return &Local{registry: reg}
}

// Run resolves the task reference and invokes its registered function.
// Any error from the task body is wrapped as a TaskError.
func (l *Local) Run(ctx context.Context, taskRef string, inputs map[string]cty.Value) (map[string]cty.Value, error) {
	logger := ctxlog.FromContext(ctx).With("task", taskRef)

	task, ok := l.registry.Resolve(taskRef)
	if !ok {
		// Validation resolves references before any image is built, so an
		// unknown reference here means the binary and the embedded spec
		// are out of sync.
		return nil, fmt.Errorf("task reference %q is not registered in this build", taskRef)
	}

	logger.Info("▶️ Running task.", "inputs", len(inputs))
	outputs, err := task.Run(ctx, inputs)
	if err != nil {
		if _, ok := err.(*TaskError); ok {
			return nil, err
		}
		return nil, &TaskError{Ref: taskRef, Err: err}
	}
	logger.Info("✅ Task finished.", "outputs", len(outputs))
	return outputs, nil
}
