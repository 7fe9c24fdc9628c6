// Package identity provides the stock pass-through task. Every input is
// copied to the output of the same name. It exists for smoke-testing
// built images and as the reference for writing task modules.
package identity

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run copies each input value to the same-named output.
func Run(ctx context.Context, inputs map[string]cty.Value) (map[string]cty.Value, error) {
	ctxlog.FromContext(ctx).Debug("Identity task passing inputs through.", "count", len(inputs))

	outputs := make(map[string]cty.Value, len(inputs))
	for name, v := range inputs {
		outputs[name] = v
	}
	return outputs, nil
}

// Register registers the task with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTask(&registry.RegisteredTask{
		Ref:         "core.identity",
		Description: "Passes every input through to the output of the same name.",
		Run:         Run,
	})
}
