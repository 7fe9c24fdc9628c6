package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipecrate/internal/app"
	"github.com/vk/pipecrate/internal/runtime"
	"github.com/vk/pipecrate/internal/testutil"
)

const copyHCL = `
pipeline "copy" {
  task  = "core.identity"
  title = "Copies a scan through unchanged"

  input "mask" {
    type        = file("nifti-gz")
    required    = true
    passthrough = true
  }
  output "mask" {
    type        = file("nifti-gz")
    passthrough = true
  }

  packaging {
    name    = "copy-app"
    version = "0.1.0"
    org     = "neuro"
  }
}
`

func newApp(t *testing.T) (*app.App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	errW := &bytes.Buffer{}
	a, err := app.NewApp(out, errW, "debug", "text")
	require.NoError(t, err)
	return a, out, errW
}

func TestValidate(t *testing.T) {
	a, out, _ := newApp(t)
	path := testutil.WriteSpec(t, copyHCL)

	require.NoError(t, a.Validate(context.Background(), path))
	assert.Contains(t, out.String(), `pipeline "copy" ok`)
}

func TestValidateReportsFile(t *testing.T) {
	a, _, _ := newApp(t)
	path := testutil.WriteSpec(t, `
pipeline "bad" {
  task = "core.missing"
}
`)
	err := a.Validate(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestPlanWritesBuildContext(t *testing.T) {
	a, out, _ := newApp(t)
	path := testutil.WriteSpec(t, copyHCL)
	buildDir := t.TempDir()

	require.NoError(t, a.Plan(context.Background(), path, buildDir))
	assert.Contains(t, out.String(), "image: neuro/copy-app:0.1.0")
	assert.Contains(t, out.String(), "step: base-image")
	assert.Contains(t, out.String(), "step: entrypoint")

	for _, name := range []string{"Dockerfile", "spec.yaml"} {
		_, err := os.Stat(filepath.Join(buildDir, name))
		assert.NoError(t, err, name)
	}
}

func TestMakeDryRun(t *testing.T) {
	a, out, _ := newApp(t)
	path := testutil.WriteSpec(t, copyHCL)

	imageID, err := a.Make(context.Background(), path, app.MakeConfig{
		BuildDir: t.TempDir(),
		Builder:  "dry-run",
	})
	require.NoError(t, err)
	assert.Equal(t, "sha256:recorded", imageID)
	assert.Contains(t, out.String(), imageID)
}

func TestMakeRejectsUnknownBuilder(t *testing.T) {
	a, _, _ := newApp(t)
	path := testutil.WriteSpec(t, copyHCL)

	_, err := a.Make(context.Background(), path, app.MakeConfig{Builder: "podman"})
	assert.ErrorContains(t, err, "unknown builder")
}

// TestPlanThenEntrypoint drives the full loop: plan the image, then run
// the entrypoint against the spec the plan embedded, the way the built
// container would.
func TestPlanThenEntrypoint(t *testing.T) {
	a, out, errW := newApp(t)
	specPath := testutil.WriteSpec(t, copyHCL)
	buildDir := t.TempDir()
	require.NoError(t, a.Plan(context.Background(), specPath, buildDir))
	out.Reset()

	dataset := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, "sub-01"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dataset, "sub-01", "scan.nii.gz"),
		[]byte{0x1f, 0x8b, 0x08, 0x00}, 0o644))

	code := a.Entrypoint(context.Background(), []string{
		"--spec", filepath.Join(buildDir, "spec.yaml"),
		"--dataset", dataset,
		"--mask", "sub-01/scan.nii.gz",
		"--output-dest", "derived/copy",
	}, nil)
	require.Equal(t, runtime.ExitSuccess, code, "stderr: %s", errW)

	assert.Equal(t, "mask=derived/copy/mask.nii.gz\n", out.String())

	// The stored object is a real copy under the dataset's objects tree.
	entries, err := os.ReadDir(filepath.Join(dataset, "objects"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestEntrypointMissingSpec(t *testing.T) {
	a, _, errW := newApp(t)
	code := a.Entrypoint(context.Background(), []string{
		"--spec", filepath.Join(t.TempDir(), "absent.yaml"),
	}, nil)
	assert.Equal(t, runtime.ExitArguments, code)
	assert.Contains(t, errW.String(), "reading embedded spec")
}

func TestEntrypointHelp(t *testing.T) {
	a, out, _ := newApp(t)
	specPath := testutil.WriteSpec(t, copyHCL)
	buildDir := t.TempDir()
	require.NoError(t, a.Plan(context.Background(), specPath, buildDir))
	out.Reset()

	code := a.Entrypoint(context.Background(), []string{
		"--spec", filepath.Join(buildDir, "spec.yaml"),
		"--help",
	}, nil)
	assert.Equal(t, runtime.ExitSuccess, code)
	assert.Contains(t, out.String(), "--mask")
	assert.Contains(t, out.String(), "Copies a scan through unchanged")
}
