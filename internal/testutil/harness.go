// Package testutil provides the shared harness for compiler and runtime
// tests: temp-dir spec files, an isolated logger, a recording builder,
// and in-memory collaborator fakes.
package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/pipecrate/internal/builder"
	"github.com/vk/pipecrate/internal/compiler"
	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/format"
	"github.com/vk/pipecrate/internal/hclspec"
	"github.com/vk/pipecrate/internal/registry"
	"github.com/vk/pipecrate/internal/spec"
	"github.com/vk/pipecrate/internal/tasks/identity"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Context returns a context carrying a debug logger that writes into the
// returned buffer.
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// WriteSpec writes an HCL spec document into a fresh temp dir and
// returns its path.
func WriteSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// LoadSpec parses a spec document from source text.
func LoadSpec(t *testing.T, content string) *spec.PipelineSpec {
	t.Helper()
	ctx, _ := Context(t)
	s, err := hclspec.NewLoader().LoadOne(ctx, WriteSpec(t, content))
	require.NoError(t, err)
	return s
}

// Registry builds a task registry with the identity module plus any
// extra modules the test supplies.
func Registry(extra ...registry.Module) *registry.Registry {
	reg := registry.New()
	(&identity.Module{}).Register(reg)
	for _, mod := range extra {
		mod.Register(reg)
	}
	return reg
}

// CompileResult holds the outcomes of a harness compilation.
type CompileResult struct {
	ImageID  string
	Session  *compiler.CompilerSession
	Recorder *builder.Recorder
	BuildDir string
	Err      error
	Logs     string
}

// Compile runs the full compile chain over the given spec source using
// the recording builder.
func Compile(t *testing.T, specHCL string, modules ...registry.Module) *CompileResult {
	t.Helper()
	ctx, logs := Context(t)

	s, err := hclspec.NewLoader().LoadOne(ctx, WriteSpec(t, specHCL))
	require.NoError(t, err)

	rec := &builder.Recorder{}
	session := compiler.NewSession(s, Registry(modules...), format.Builtin(), rec)
	session.BuildDir = t.TempDir()

	imageID, err := session.Compile(ctx)
	return &CompileResult{
		ImageID:  imageID,
		Session:  session,
		Recorder: rec,
		BuildDir: session.BuildDir,
		Err:      err,
		Logs:     logs.String(),
	}
}
