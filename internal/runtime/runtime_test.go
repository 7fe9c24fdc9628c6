package runtime_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/bridge"
	"github.com/vk/pipecrate/internal/cmdgen"
	"github.com/vk/pipecrate/internal/datastore"
	"github.com/vk/pipecrate/internal/format"
	"github.com/vk/pipecrate/internal/runtime"
	"github.com/vk/pipecrate/internal/spec"
	"github.com/vk/pipecrate/internal/testutil"
)

var gzipHeader = []byte{0x1f, 0x8b, 0x08, 0x00}

func betSpec() *spec.PipelineSpec {
	return &spec.PipelineSpec{
		Name: "bet",
		Task: "core.bet",
		Inputs: []*spec.ParamDecl{
			{Name: "t1w", Type: spec.File("nifti-gz"), Required: true},
			{Name: "roi", Type: spec.File("nifti-gz")},
			{Name: "threshold", Type: spec.Float()},
		},
		Outputs: []*spec.ParamDecl{
			{Name: "mask", Type: spec.File("nifti-gz")},
			{Name: "voxels", Type: spec.Integer()},
		},
	}
}

// identityBet produces a mask from whatever t1w resolved to and a fixed
// voxel count.
func identityBet(t *testing.T) testutil.ExecutorFunc {
	t.Helper()
	produced := filepath.Join(t.TempDir(), "mask.nii.gz")
	require.NoError(t, os.WriteFile(produced, gzipHeader, 0o644))
	return func(ctx context.Context, taskRef string, inputs map[string]cty.Value) (map[string]cty.Value, error) {
		return map[string]cty.Value{
			"mask":   cty.StringVal(produced),
			"voxels": cty.NumberIntVal(90210),
		}, nil
	}
}

type fixture struct {
	rt     *runtime.Runtime
	store  *testutil.MemStore
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newFixture(t *testing.T, exec testutil.ExecutorFunc) *fixture {
	t.Helper()
	s := betSpec()
	surface, err := cmdgen.Derive(s)
	require.NoError(t, err)

	f := &fixture{
		store:  testutil.NewMemStore(),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	f.rt = &runtime.Runtime{
		Spec:     s,
		Surface:  surface,
		Bridge:   bridge.New(format.Builtin()),
		Executor: exec,
		OpenStore: func(root string) (datastore.Store, error) {
			return f.store, nil
		},
		Stdout: f.stdout,
		Stderr: f.stderr,
	}
	return f
}

func writeNifti(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, gzipHeader, 0o644))
	return path
}

func TestRunSuccess(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))
	f.store.Paths["sub-01/anat.nii.gz"] = writeNifti(t, "anat.nii.gz")

	code := f.rt.Run(ctx, []string{
		"--t1w", "sub-01/anat.nii.gz",
		"--output-dest", "derived/bet",
	}, nil)
	require.Equal(t, runtime.ExitSuccess, code, "stderr: %s", f.stderr)

	// One fetch per resolved reference, one put per declared output.
	assert.Equal(t, []string{"sub-01/anat.nii.gz"}, f.store.Fetches)
	assert.ElementsMatch(t, []string{"derived/bet/mask.nii.gz", "derived/bet/voxels.txt"}, f.store.Puts)

	// Stdout carries only the stored references, in declared order.
	assert.Equal(t, "mask=derived/bet/mask.nii.gz\nvoxels=derived/bet/voxels.txt\n", f.stdout.String())
	assert.True(t, f.store.Closed)
}

func TestRunHelp(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))

	code := f.rt.Run(ctx, []string{"--help"}, nil)
	assert.Equal(t, runtime.ExitSuccess, code)
	assert.Contains(t, f.stdout.String(), "--t1w")
	assert.Empty(t, f.store.Fetches)
	assert.Empty(t, f.store.Puts)
}

func TestRunArgumentErrors(t *testing.T) {
	ctx, _ := testutil.Context(t)

	cases := map[string][]string{
		"unknown flag":     {"--t1w", "x", "--bogus"},
		"missing required": {},
		"bad token":        {"--t1w", "x", "--threshold", "fast"},
		"positional":       {"--t1w", "x", "stray"},
	}
	for name, argv := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, identityBet(t))
			code := f.rt.Run(ctx, argv, nil)
			assert.Equal(t, runtime.ExitArguments, code)
			assert.NotEmpty(t, f.stderr.String())
			assert.Empty(t, f.stdout.String())
		})
	}
}

func TestRunEnvFallback(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))
	f.store.Paths["env/anat.nii.gz"] = writeNifti(t, "anat.nii.gz")

	code := f.rt.Run(ctx, nil, map[string]string{"PIPECRATE_ARG_T1W": "env/anat.nii.gz"})
	assert.Equal(t, runtime.ExitSuccess, code, "stderr: %s", f.stderr)
	assert.Equal(t, []string{"env/anat.nii.gz"}, f.store.Fetches)
}

func TestRunEnvFileSuppliesRequired(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))
	f.store.Paths["file/anat.nii.gz"] = writeNifti(t, "anat.nii.gz")

	// The required t1w comes from the env file alone; a nil process
	// environment must not trip the missing-required check or the merge.
	envFile := filepath.Join(t.TempDir(), "run.env")
	require.NoError(t, os.WriteFile(envFile,
		[]byte("PIPECRATE_ARG_T1W=file/anat.nii.gz\n"), 0o644))

	code := f.rt.Run(ctx, []string{"--env-file", envFile}, nil)
	assert.Equal(t, runtime.ExitSuccess, code, "stderr: %s", f.stderr)
	assert.Equal(t, []string{"file/anat.nii.gz"}, f.store.Fetches)
}

func TestRunEnvFileLosesToProcessEnv(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))
	f.store.Paths["proc/anat.nii.gz"] = writeNifti(t, "anat.nii.gz")

	envFile := filepath.Join(t.TempDir(), "run.env")
	require.NoError(t, os.WriteFile(envFile,
		[]byte("PIPECRATE_ARG_T1W=file/anat.nii.gz\n"), 0o644))

	procEnv := map[string]string{"PIPECRATE_ARG_T1W": "proc/anat.nii.gz"}
	code := f.rt.Run(ctx, []string{"--env-file", envFile}, procEnv)
	assert.Equal(t, runtime.ExitSuccess, code, "stderr: %s", f.stderr)
	assert.Equal(t, []string{"proc/anat.nii.gz"}, f.store.Fetches)

	// The caller's map is read, never written.
	assert.Equal(t, map[string]string{"PIPECRATE_ARG_T1W": "proc/anat.nii.gz"}, procEnv)
}

func TestRunEnvFileUnreadable(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))

	code := f.rt.Run(ctx, []string{
		"--env-file", filepath.Join(t.TempDir(), "absent.env"),
		"--t1w", "x",
	}, nil)
	assert.Equal(t, runtime.ExitArguments, code)
	assert.Contains(t, f.stderr.String(), "loading env file")
}

func TestRunResolutionFailure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))

	code := f.rt.Run(ctx, []string{"--t1w", "missing/anat.nii.gz"}, nil)
	assert.Equal(t, runtime.ExitResolution, code)
	assert.Contains(t, f.stderr.String(), `resolving input "t1w"`)
	assert.Empty(t, f.store.Puts)
}

func TestRunResolutionReportsDeclaredOrder(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))
	f.store.FetchErrs["a.nii.gz"] = errors.New("a is gone")
	f.store.FetchErrs["b.nii.gz"] = errors.New("b is gone")

	// roi is declared after t1w; even when its fetch fails first, the
	// reported error is t1w's.
	code := f.rt.Run(ctx, []string{"--t1w", "a.nii.gz", "--roi", "b.nii.gz"}, nil)
	assert.Equal(t, runtime.ExitResolution, code)
	assert.Contains(t, f.stderr.String(), `resolving input "t1w"`)
	assert.NotContains(t, f.stderr.String(), `resolving input "roi"`)
}

func TestRunResolutionFormatMismatch(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))

	wrong := filepath.Join(t.TempDir(), "anat.csv")
	require.NoError(t, os.WriteFile(wrong, []byte("a,b\n"), 0o644))
	f.store.Paths["sub-01/anat.csv"] = wrong

	code := f.rt.Run(ctx, []string{"--t1w", "sub-01/anat.csv"}, nil)
	assert.Equal(t, runtime.ExitResolution, code)
	assert.Contains(t, f.stderr.String(), `resolving input "t1w"`)
}

func TestRunAbsolutePathBypassesStore(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))

	mounted := writeNifti(t, "anat.nii.gz")
	code := f.rt.Run(ctx, []string{"--t1w", mounted}, nil)
	assert.Equal(t, runtime.ExitSuccess, code, "stderr: %s", f.stderr)
	assert.Empty(t, f.store.Fetches)
}

func TestRunExecutionFailure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, func(ctx context.Context, taskRef string, inputs map[string]cty.Value) (map[string]cty.Value, error) {
		return nil, errors.New("brain not found")
	})
	f.store.Paths["sub-01/anat.nii.gz"] = writeNifti(t, "anat.nii.gz")

	code := f.rt.Run(ctx, []string{"--t1w", "sub-01/anat.nii.gz"}, nil)
	assert.Equal(t, runtime.ExitExecution, code)
	assert.Contains(t, f.stderr.String(), "brain not found")
	assert.Empty(t, f.store.Puts)
}

func TestRunMissingDeclaredOutput(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, func(ctx context.Context, taskRef string, inputs map[string]cty.Value) (map[string]cty.Value, error) {
		return map[string]cty.Value{"mask": cty.StringVal("/tmp/mask.nii.gz")}, nil
	})
	f.store.Paths["sub-01/anat.nii.gz"] = writeNifti(t, "anat.nii.gz")

	code := f.rt.Run(ctx, []string{"--t1w", "sub-01/anat.nii.gz"}, nil)
	assert.Equal(t, runtime.ExitExecution, code)
	assert.Contains(t, f.stderr.String(), `"voxels"`)
	assert.Empty(t, f.store.Puts)
}

func TestRunStorageFailureStillAttemptsEveryOutput(t *testing.T) {
	ctx, _ := testutil.Context(t)
	f := newFixture(t, identityBet(t))
	f.store.Paths["sub-01/anat.nii.gz"] = writeNifti(t, "anat.nii.gz")
	f.store.PutErrs["mask.nii.gz"] = errors.New("disk full")

	code := f.rt.Run(ctx, []string{"--t1w", "sub-01/anat.nii.gz"}, nil)
	assert.Equal(t, runtime.ExitStorage, code)
	assert.Contains(t, f.stderr.String(), `storing output "mask"`)
	// The second output was still attempted; no rollback happens.
	assert.ElementsMatch(t, []string{"mask.nii.gz", "voxels.txt"}, f.store.Puts)
	assert.Empty(t, f.stdout.String())
}
