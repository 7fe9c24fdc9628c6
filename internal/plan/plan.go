// Package plan assembles the ordered, conflict-free build step sequence
// for a validated pipeline spec and renders it into a Dockerfile build
// context. The planner only describes the build; executing it is the
// build collaborator's job.
package plan

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/spec"
)

// Fixed, documented locations inside the image. The entrypoint relies on
// SpecPath at runtime; changing these breaks previously built images.
const (
	SpecPath       = "/crate/spec.yaml"
	ReadmePath     = "/crate/README.md"
	EntrypointPath = "/usr/local/bin/pipecrate"
)

// StepKind orders the build phases. Package installation must precede
// code embedding because later steps may depend on runtime availability;
// entrypoint registration always comes last.
type StepKind int

const (
	StepBaseImage StepKind = iota
	StepPackages
	StepEmbedFile
	StepCopyBinary
	StepLicenseDir
	StepEntrypoint
)

func (k StepKind) String() string {
	switch k {
	case StepBaseImage:
		return "base-image"
	case StepPackages:
		return "packages"
	case StepEmbedFile:
		return "embed-file"
	case StepCopyBinary:
		return "copy-binary"
	case StepLicenseDir:
		return "license-dir"
	case StepEntrypoint:
		return "entrypoint"
	default:
		return "invalid"
	}
}

// Step is one build directive. Which fields are meaningful depends on Kind.
type Step struct {
	Kind StepKind

	// StepBaseImage.
	BaseImage string

	// StepPackages: directives for one manager, sorted by package name.
	Manager  string
	Packages []spec.Package

	// StepEmbedFile / StepCopyBinary: Source is the build-context-relative
	// file name, Dest the absolute image path. Content, when non-nil, is
	// written into the build context by WriteContext.
	Source  string
	Dest    string
	Content []byte

	// StepEntrypoint.
	Command []string
}

// BuildPlan is the complete, ordered description of one image build.
type BuildPlan struct {
	ImageTag string
	Labels   map[string]string
	Steps    []*Step

	// EntrypointBinary is the local path of the pipecrate binary to copy
	// into the build context; empty in dry runs.
	EntrypointBinary string
}

// Error is a PlanError: the spec is valid but its build steps conflict.
// No build is attempted after a plan error.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "build planning failed: " + e.Reason
}

// Options tunes plan generation.
type Options struct {
	// EntrypointBinary is copied into the image as the entrypoint
	// executable. Empty is allowed for plan-only flows.
	EntrypointBinary string
}

// Plan derives the build plan for a validated spec.
func Plan(ctx context.Context, s *spec.PipelineSpec, opts Options) (*BuildPlan, error) {
	logger := ctxlog.FromContext(ctx)

	p := &BuildPlan{
		ImageTag:         s.ImageTag(),
		Labels:           buildLabels(s),
		EntrypointBinary: opts.EntrypointBinary,
	}

	base := s.Packaging.BaseImage
	if base == "" {
		base = spec.DefaultBaseImage
	}
	p.Steps = append(p.Steps, &Step{Kind: StepBaseImage, BaseImage: base})

	pkgSteps, err := mergePackages(s.Packaging.Packages)
	if err != nil {
		return nil, err
	}
	p.Steps = append(p.Steps, pkgSteps...)

	encoded, err := spec.Encode(s)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("serializing spec for embedding: %v", err)}
	}
	p.Steps = append(p.Steps, &Step{
		Kind:    StepEmbedFile,
		Source:  "spec.yaml",
		Dest:    SpecPath,
		Content: encoded,
	})
	if s.Packaging.Readme != "" {
		p.Steps = append(p.Steps, &Step{
			Kind:    StepEmbedFile,
			Source:  "README.md",
			Dest:    ReadmePath,
			Content: []byte(s.Packaging.Readme),
		})
	}

	p.Steps = append(p.Steps, &Step{
		Kind:   StepCopyBinary,
		Source: "pipecrate",
		Dest:   EntrypointPath,
	})

	for _, lic := range s.Packaging.Licenses {
		p.Steps = append(p.Steps, &Step{Kind: StepLicenseDir, Dest: path.Dir(lic.Destination)})
	}

	p.Steps = append(p.Steps, &Step{
		Kind:    StepEntrypoint,
		Command: []string{EntrypointPath, "entrypoint", "--spec", SpecPath},
	})

	if err := p.verifyOrder(); err != nil {
		return nil, err
	}

	logger.Debug("Build plan assembled.", "image", p.ImageTag, "steps", len(p.Steps))
	return p, nil
}

// mergePackages merges directives by package name per manager. The same
// package requested at two different versions is a conflict, never a
// silent pick.
func mergePackages(packages []spec.Package) ([]*Step, error) {
	merged := map[string]map[string]spec.Package{}
	for _, pkg := range packages {
		byName, ok := merged[pkg.Manager]
		if !ok {
			byName = map[string]spec.Package{}
			merged[pkg.Manager] = byName
		}
		if prev, dup := byName[pkg.Name]; dup {
			if prev.Version != pkg.Version {
				return nil, &Error{Reason: fmt.Sprintf(
					"package %q requested at conflicting versions %q and %q",
					pkg.Name, prev.Version, pkg.Version)}
			}
			continue
		}
		byName[pkg.Name] = pkg
	}

	var steps []*Step
	for _, manager := range []string{"apt", "pip"} {
		byName := merged[manager]
		if len(byName) == 0 {
			continue
		}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)

		step := &Step{Kind: StepPackages, Manager: manager}
		for _, name := range names {
			step.Packages = append(step.Packages, byName[name])
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// verifyOrder asserts the load-bearing ordering invariant: base image
// first, package installs before code embedding, entrypoint registration
// last.
func (p *BuildPlan) verifyOrder() error {
	rank := map[StepKind]int{
		StepBaseImage:  0,
		StepPackages:   1,
		StepEmbedFile:  2,
		StepCopyBinary: 2,
		StepLicenseDir: 2,
		StepEntrypoint: 3,
	}
	if len(p.Steps) == 0 || p.Steps[0].Kind != StepBaseImage {
		return &Error{Reason: "plan must start with a base image step"}
	}
	if p.Steps[len(p.Steps)-1].Kind != StepEntrypoint {
		return &Error{Reason: "plan must end with the entrypoint registration step"}
	}
	prev := -1
	for _, step := range p.Steps {
		r := rank[step.Kind]
		if r < prev {
			return &Error{Reason: fmt.Sprintf("step %s out of order", step.Kind)}
		}
		prev = r
	}
	return nil
}

func buildLabels(s *spec.PipelineSpec) map[string]string {
	labels := map[string]string{
		"org.pipecrate.schema-version": spec.SchemaVersion,
		"org.pipecrate.pipeline":       s.Name,
		"org.pipecrate.task":           s.Task,
	}
	for _, lic := range s.Packaging.Licenses {
		labels["org.pipecrate.license."+lic.Name] = lic.Destination
	}
	for k, v := range s.Packaging.Labels {
		labels[k] = v
	}
	return labels
}
