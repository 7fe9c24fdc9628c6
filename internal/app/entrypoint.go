package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vk/pipecrate/internal/bridge"
	"github.com/vk/pipecrate/internal/cmdgen"
	"github.com/vk/pipecrate/internal/datastore"
	"github.com/vk/pipecrate/internal/executor"
	"github.com/vk/pipecrate/internal/plan"
	"github.com/vk/pipecrate/internal/runtime"
	"github.com/vk/pipecrate/internal/spec"
)

// Entrypoint runs the generated runtime against the spec embedded in the
// image and returns the process exit code. argv is the raw invocation
// tail; env is the process environment in KEY=VALUE form.
func (a *App) Entrypoint(ctx context.Context, argv, env []string) int {
	ctx = a.Context(ctx)

	specPath := scanSpecFlag(argv)
	data, err := os.ReadFile(specPath)
	if err != nil {
		fmt.Fprintf(a.errW, "reading embedded spec: %v\n", err)
		return runtime.ExitArguments
	}
	s, err := spec.Decode(data)
	if err != nil {
		fmt.Fprintln(a.errW, err)
		return runtime.ExitArguments
	}

	surface, err := cmdgen.Derive(s)
	if err != nil {
		// The compiler rejected collisions before building, so this only
		// fires when the embedded spec was tampered with.
		fmt.Fprintln(a.errW, err)
		return runtime.ExitArguments
	}

	rt := &runtime.Runtime{
		Spec:     s,
		Surface:  surface,
		Bridge:   bridge.New(a.formats),
		Executor: executor.NewLocal(a.tasks),
		OpenStore: func(root string) (datastore.Store, error) {
			return datastore.OpenLocal(root)
		},
		Stdout: a.outW,
		Stderr: a.errW,
	}
	return rt.Run(ctx, argv, envMap(env))
}

// scanSpecFlag extracts --spec from argv ahead of the full parse; the
// spec must be loaded before the generated flag set even exists. The
// full parse still validates the flag again.
func scanSpecFlag(argv []string) string {
	for i, arg := range argv {
		switch {
		case arg == "--spec" || arg == "-spec":
			if i+1 < len(argv) {
				return argv[i+1]
			}
		case strings.HasPrefix(arg, "--spec="):
			return strings.TrimPrefix(arg, "--spec=")
		case strings.HasPrefix(arg, "-spec="):
			return strings.TrimPrefix(arg, "-spec=")
		}
	}
	return plan.SpecPath
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}
