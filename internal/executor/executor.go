// Package executor defines the pipeline execution collaborator. The
// entrypoint treats it as opaque: a typed parameter mapping goes in, a
// typed result mapping or a task-level failure comes out. Scheduling,
// retries and distribution are the collaborator's own business.
package executor

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Executor runs the pipeline identified by a task reference.
type Executor interface {
	Run(ctx context.Context, taskRef string, inputs map[string]cty.Value) (map[string]cty.Value, error)
}

// TaskError is a task-level failure, distinguished from framework
// failures so the entrypoint can report it with its own exit code and
// surface the payload verbatim.
type TaskError struct {
	Ref     string
	Payload string
	Err     error
}

func (e *TaskError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("task %q failed: %s", e.Ref, e.Payload)
	}
	return fmt.Sprintf("task %q failed: %v", e.Ref, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
