// Package runtime is the generated entrypoint executed inside built
// images. It walks a linear state machine with no backward transitions:
//
//	START → PARSE → RESOLVE_INPUTS → EXECUTE → STORE_OUTPUTS → EXIT
//
// Every failure class terminates the process with its own exit code;
// the code mapping is a stable external contract consumed by
// orchestrating platforms.
package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/bridge"
	"github.com/vk/pipecrate/internal/cmdgen"
	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/datastore"
	"github.com/vk/pipecrate/internal/executor"
	"github.com/vk/pipecrate/internal/spec"
)

// Process exit codes. Persisted external contract; never renumber.
const (
	ExitSuccess    = 0
	ExitArguments  = 2
	ExitResolution = 3
	ExitExecution  = 4
	ExitStorage    = 5
)

// Runtime executes one entrypoint invocation. It owns its invocation
// result exclusively for the duration of one process execution.
type Runtime struct {
	Spec     *spec.PipelineSpec
	Surface  *cmdgen.Surface
	Bridge   *bridge.Bridge
	Executor executor.Executor

	// OpenStore opens the data store for the invocation's dataset root.
	// Swappable so tests can inject fakes.
	OpenStore func(root string) (datastore.Store, error)

	// Stdout carries only the final stored-output report; everything
	// else, including all diagnostics, goes to Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Run drives the state machine and returns the process exit code.
func (r *Runtime) Run(ctx context.Context, argv []string, env map[string]string) int {
	logger := ctxlog.FromContext(ctx)

	// An env file must be merged before the parse, because required
	// parameters may be supplied through it. The process environment wins
	// over the file; the caller's map is never written to.
	if envFile := scanEnvFileFlag(argv); envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			fmt.Fprintf(r.Stderr, "loading env file: %v\n", err)
			return ExitArguments
		}
		merged := make(map[string]string, len(env)+len(fileEnv))
		for k, v := range fileEnv {
			merged[k] = v
		}
		for k, v := range env {
			merged[k] = v
		}
		env = merged
	}

	// PARSE
	values, fw, err := cmdgen.Parse(ctx, r.Bridge, r.Surface, argv, env)
	if err != nil {
		fmt.Fprintln(r.Stderr, err)
		return ExitArguments
	}
	if fw.Help {
		fmt.Fprint(r.Stdout, r.Surface.Help())
		return ExitSuccess
	}
	logger.Debug("Invocation parsed.", "parameters", len(values))

	workDir := fw.WorkDir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "pipecrate-run-*")
		if err != nil {
			fmt.Fprintf(r.Stderr, "creating work directory: %v\n", err)
			return ExitResolution
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	dataset := fw.Dataset
	if dataset == "" {
		dataset = "."
	}
	store, err := r.OpenStore(dataset)
	if err != nil {
		fmt.Fprintf(r.Stderr, "opening data store: %v\n", err)
		return ExitResolution
	}
	defer store.Close()

	// RESOLVE_INPUTS
	if code := r.resolveInputs(ctx, store, values); code != ExitSuccess {
		return code
	}

	// EXECUTE
	logger.Info("▶️ Executing pipeline.", "task", r.Spec.Task)
	outputs, err := r.Executor.Run(ctx, r.Spec.Task, values)
	if err != nil {
		// Task-level failures are surfaced verbatim, distinct from
		// framework failures.
		fmt.Fprintln(r.Stderr, err)
		return ExitExecution
	}
	for _, decl := range r.Spec.Outputs {
		if _, ok := outputs[decl.Name]; !ok {
			fmt.Fprintf(r.Stderr, "executor did not produce declared output %q\n", decl.Name)
			return ExitExecution
		}
	}

	// STORE_OUTPUTS
	stored, code := r.storeOutputs(ctx, store, outputs, fw.OutputDest, workDir)
	if code != ExitSuccess {
		return code
	}

	// EXIT(success): the success stream carries the stored references
	// only, one per line, in declared order.
	for _, line := range stored {
		fmt.Fprintln(r.Stdout, line)
	}
	logger.Info("🏁 Invocation finished.", "outputs", len(stored))
	return ExitSuccess
}

// scanEnvFileFlag extracts --env-file from argv ahead of the full parse;
// its values must be in place before required parameters are checked.
// The full parse still validates the flag again.
func scanEnvFileFlag(argv []string) string {
	for i, arg := range argv {
		switch {
		case arg == "--env-file" || arg == "-env-file":
			if i+1 < len(argv) {
				return argv[i+1]
			}
		case strings.HasPrefix(arg, "--env-file="):
			return strings.TrimPrefix(arg, "--env-file=")
		case strings.HasPrefix(arg, "-env-file="):
			return strings.TrimPrefix(arg, "-env-file=")
		}
	}
	return ""
}

type fetchResult struct {
	path string
	err  error
}

// resolveInputs materializes every reference-typed input through the
// data store. Fetches run concurrently, but the first failure in
// declared parameter order is the one reported.
func (r *Runtime) resolveInputs(ctx context.Context, store datastore.Store, values map[string]cty.Value) int {
	logger := ctxlog.FromContext(ctx)

	type pending struct {
		decl *spec.ParamDecl
		ref  string
	}
	var work []pending
	for _, decl := range r.Spec.Inputs {
		v, ok := values[decl.Name]
		if !ok || !decl.Type.IsReference() {
			continue
		}
		work = append(work, pending{decl: decl, ref: v.AsString()})
	}
	if len(work) == 0 {
		return ExitSuccess
	}

	results := make([]fetchResult, len(work))
	done := make(chan int, len(work))
	for i, w := range work {
		go func(i int, w pending) {
			defer func() { done <- i }()

			// Absolute paths that already exist (bind mounts) bypass the
			// store; everything else is fetched.
			if filepath.IsAbs(w.ref) {
				if _, err := os.Stat(w.ref); err == nil {
					results[i] = fetchResult{path: w.ref}
					return
				}
			}
			local, err := store.Fetch(ctx, w.ref)
			results[i] = fetchResult{path: local, err: err}
		}(i, w)
	}
	for range work {
		<-done
	}

	for i, w := range work {
		res := results[i]
		if res.err != nil {
			fmt.Fprintf(r.Stderr, "resolving input %q: %v\n", w.decl.Name, res.err)
			return ExitResolution
		}
		if err := r.Bridge.ValidateReference(w.decl, res.path); err != nil {
			fmt.Fprintf(r.Stderr, "resolving input %q: %v\n", w.decl.Name, err)
			return ExitResolution
		}
		values[w.decl.Name] = cty.StringVal(res.path)
		logger.Debug("Input materialized.", "param", w.decl.Name, "path", res.path)
	}
	return ExitSuccess
}

// storeOutputs serializes and stores every declared output in order.
// A failing output is reported but already stored outputs stay put:
// storage is overwrite-idempotent, so retrying the whole invocation is
// the recovery path, not a rollback.
func (r *Runtime) storeOutputs(ctx context.Context, store datastore.Store, outputs map[string]cty.Value, dest, workDir string) ([]string, int) {
	logger := ctxlog.FromContext(ctx)

	var lines []string
	failed := false
	for _, decl := range r.Spec.Outputs {
		v := outputs[decl.Name]

		localPath := ""
		if decl.Type.IsReference() {
			localPath = v.AsString()
		} else {
			token, err := r.Bridge.ToToken(decl, v)
			if err != nil {
				fmt.Fprintf(r.Stderr, "storing output %q: %v\n", decl.Name, err)
				failed = true
				continue
			}
			localPath = filepath.Join(workDir, decl.Name+".txt")
			if err := os.WriteFile(localPath, []byte(token+"\n"), 0o644); err != nil {
				fmt.Fprintf(r.Stderr, "storing output %q: %v\n", decl.Name, err)
				failed = true
				continue
			}
		}

		ref := r.outputRef(decl, dest)
		storedRef, err := store.Put(ctx, localPath, ref)
		if err != nil {
			fmt.Fprintf(r.Stderr, "storing output %q: %v\n", decl.Name, err)
			failed = true
			continue
		}
		logger.Debug("Output stored.", "param", decl.Name, "ref", storedRef)
		lines = append(lines, decl.Name+"="+storedRef)
	}
	if failed {
		return nil, ExitStorage
	}
	return lines, ExitSuccess
}

// outputRef derives the store reference for a declared output from its
// name, its format's primary extension, and the --output-dest prefix.
func (r *Runtime) outputRef(decl *spec.ParamDecl, dest string) string {
	name := decl.Name
	if decl.Type.IsReference() {
		if f, ok := r.Bridge.Formats().Lookup(decl.Type.Format); ok && len(f.Extensions) > 0 {
			name += f.Extensions[0]
		}
	} else {
		name += ".txt"
	}
	if dest == "" {
		return name
	}
	return path.Join(dest, name)
}
