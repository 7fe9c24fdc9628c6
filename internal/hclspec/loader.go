// Package hclspec loads pipeline-app spec documents from HCL sources and
// translates them into the format-agnostic spec model.
package hclspec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/schema"
	"github.com/vk/pipecrate/internal/spec"
)

// Loader parses .hcl spec documents.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a Loader with a fresh HCL parser.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load reads the given path (a single .hcl file or a directory searched
// recursively) and returns every pipeline spec found, in file order.
func (l *Loader) Load(ctx context.Context, path string) ([]*spec.PipelineSpec, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := l.resolveFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl spec files found at %q", path)
	}
	logger.Debug("Spec files resolved.", "path", path, "count", len(files))

	var specs []*spec.PipelineSpec
	for _, file := range files {
		parsed, diags := l.parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", file, diags)
		}

		var doc schema.Document
		if diags := gohcl.DecodeBody(parsed.Body, nil, &doc); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", file, diags)
		}

		for _, block := range doc.Pipelines {
			s, err := translatePipeline(ctx, block)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			s.LoadedFrom = file
			logger.Debug("Pipeline spec loaded.", "name", s.Name, "task", s.Task, "file", file)
			specs = append(specs, s)
		}
	}
	return specs, nil
}

// LoadOne is Load for callers that compile exactly one pipeline. It fails
// when the source contains zero or more than one pipeline block.
func (l *Loader) LoadOne(ctx context.Context, path string) (*spec.PipelineSpec, error) {
	specs, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(specs) != 1 {
		return nil, fmt.Errorf("expected exactly one pipeline block at %q, found %d", path, len(specs))
	}
	return specs[0], nil
}

func (l *Loader) resolveFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("spec path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	matches, err := doublestar.Glob(os.DirFS(path), "**/*.hcl")
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", path, err)
	}
	sort.Strings(matches)

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, filepath.Join(path, m))
	}
	return files, nil
}
