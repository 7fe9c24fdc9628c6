package cmdgen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/bridge"
	"github.com/vk/pipecrate/internal/cmdgen"
	"github.com/vk/pipecrate/internal/format"
	"github.com/vk/pipecrate/internal/spec"
	"github.com/vk/pipecrate/internal/testutil"
)

func parseSurface(t *testing.T) (*bridge.Bridge, *cmdgen.Surface) {
	t.Helper()
	fi := cty.NumberFloatVal(0.5)
	s := &spec.PipelineSpec{
		Name: "bet",
		Inputs: []*spec.ParamDecl{
			{Name: "t1w", Type: spec.File("nifti-gz"), Required: true},
			{Name: "fractional_intensity", Type: spec.Float(), Default: &fi},
			{Name: "exclude", Type: spec.List(spec.String())},
			{Name: "verbose", Type: spec.Bool()},
		},
	}
	surface, err := cmdgen.Derive(s)
	require.NoError(t, err)
	return bridge.New(format.Builtin()), surface
}

func TestParsePrecedence(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	values, fw, err := cmdgen.Parse(ctx, br, surface,
		[]string{"--t1w", "sub-01/anat.nii.gz", "--fractional-intensity", "0.3", "--verbose"},
		map[string]string{"PIPECRATE_ARG_FRACTIONAL_INTENSITY": "0.9"},
	)
	require.NoError(t, err)
	require.NotNil(t, fw)
	assert.False(t, fw.Help)

	assert.True(t, cty.StringVal("sub-01/anat.nii.gz").RawEquals(values["t1w"]))
	// argv wins over the environment fallback.
	assert.True(t, cty.NumberFloatVal(0.3).RawEquals(values["fractional_intensity"]))
	assert.True(t, cty.True.RawEquals(values["verbose"]))
	// Optional list without a default is simply absent.
	_, ok := values["exclude"]
	assert.False(t, ok)
}

func TestParseEnvFallbackAndDefaults(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	values, _, err := cmdgen.Parse(ctx, br, surface, nil, map[string]string{
		"PIPECRATE_ARG_T1W":     "anat.nii.gz",
		"PIPECRATE_ARG_EXCLUDE": "eyes,ears",
	})
	require.NoError(t, err)

	assert.True(t, cty.StringVal("anat.nii.gz").RawEquals(values["t1w"]))
	assert.Equal(t, 2, values["exclude"].LengthInt())
	// Declared default applies when neither argv nor env supply a value.
	assert.True(t, cty.NumberFloatVal(0.5).RawEquals(values["fractional_intensity"]))
	// Absent booleans are false, not missing.
	assert.True(t, cty.False.RawEquals(values["verbose"]))
}

func TestParseMissingRequired(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	_, _, err := cmdgen.Parse(ctx, br, surface, nil, nil)
	var perr *cmdgen.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "--t1w")
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	_, _, err := cmdgen.Parse(ctx, br, surface, []string{"--t1w", "x", "--bogus", "1"}, nil)
	var perr *cmdgen.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestParseRejectsPositionalArgs(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	_, _, err := cmdgen.Parse(ctx, br, surface, []string{"--t1w", "x", "stray"}, nil)
	var perr *cmdgen.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "positional")
}

func TestParseRejectsBadToken(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	_, _, err := cmdgen.Parse(ctx, br, surface,
		[]string{"--t1w", "x", "--fractional-intensity", "fast"}, nil)
	var perr *cmdgen.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestParseHelp(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	values, fw, err := cmdgen.Parse(ctx, br, surface, []string{"--help"}, nil)
	require.NoError(t, err)
	assert.Nil(t, values)
	require.NotNil(t, fw)
	assert.True(t, fw.Help)
}

func TestParseFrameworkFlags(t *testing.T) {
	ctx, _ := testutil.Context(t)
	br, surface := parseSurface(t)

	_, fw, err := cmdgen.Parse(ctx, br, surface, []string{
		"--t1w", "x",
		"--spec", "/crate/spec.yaml",
		"--dataset", "/data",
		"--output-dest", "derived/bet",
		"--work-dir", "/tmp/work",
		"--log-level", "debug",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/crate/spec.yaml", fw.SpecPath)
	assert.Equal(t, "/data", fw.Dataset)
	assert.Equal(t, "derived/bet", fw.OutputDest)
	assert.Equal(t, "/tmp/work", fw.WorkDir)
	assert.Equal(t, "debug", fw.LogLevel)
	assert.Equal(t, "text", fw.LogFormat)
}
