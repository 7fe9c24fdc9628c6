// Package validate performs the ordered validation passes over a loaded
// pipeline spec: schema-level checks, referential checks against the task
// and format registries, name uniqueness and pass-through rules, and
// resource sanity. Any failure aborts compilation before a single build
// step is planned; the error names the first offending field.
package validate

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/vk/pipecrate/internal/cmdgen"
	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/format"
	"github.com/vk/pipecrate/internal/registry"
	"github.com/vk/pipecrate/internal/spec"
)

// knownManagers are the package managers the planner can emit steps for.
var knownManagers = map[string]bool{"apt": true, "pip": true}

// Spec runs every validation pass in order and returns the first failure
// as a *spec.ValidationError.
func Spec(ctx context.Context, s *spec.PipelineSpec, tasks *registry.Registry, formats *format.Registry) error {
	logger := ctxlog.FromContext(ctx)

	passes := []func(*spec.PipelineSpec, *registry.Registry, *format.Registry) error{
		checkSchema,
		checkReferences,
		checkNames,
		checkResources,
	}
	for _, pass := range passes {
		if err := pass(s, tasks, formats); err != nil {
			return err
		}
	}

	logger.Debug("Spec validation passed.", "pipeline", s.Name, "task", s.Task)
	return nil
}

// checkSchema verifies required fields are present and well-formed.
func checkSchema(s *spec.PipelineSpec, _ *registry.Registry, _ *format.Registry) error {
	if s.Name == "" {
		return spec.Invalidf("pipeline", "pipeline block requires a name label")
	}
	if s.Task == "" {
		return spec.Invalidf("task", "task reference is required")
	}

	for _, list := range []struct {
		field string
		decls []*spec.ParamDecl
	}{{"inputs", s.Inputs}, {"outputs", s.Outputs}} {
		for _, d := range list.decls {
			field := list.field + "." + d.Name
			if d.Name == "" {
				return spec.Invalidf(list.field, "parameter name must not be empty")
			}
			if d.Type.IsReference() && d.Default != nil {
				ref := d.Default.AsString()
				if filepath.IsAbs(ref) || strings.Contains(ref, "://") {
					return spec.Invalidf(field+".default",
						"defaults for %s parameters must be dataset-relative references, got %q", d.Type, ref)
				}
			}
		}
	}

	for i, pkg := range s.Packaging.Packages {
		if pkg.Name == "" {
			return spec.Invalidf("packaging.package", "package %d has no name", i)
		}
		if !knownManagers[pkg.Manager] {
			return spec.Invalidf("packaging.package."+pkg.Name,
				"unknown package manager %q (apt or pip)", pkg.Manager)
		}
	}
	for _, lic := range s.Packaging.Licenses {
		if lic.Name == "" || lic.Destination == "" {
			return spec.Invalidf("packaging.license", "licenses require a name and a destination")
		}
		if !filepath.IsAbs(lic.Destination) {
			return spec.Invalidf("packaging.license."+lic.Name,
				"license destination %q must be an absolute path inside the image", lic.Destination)
		}
	}
	return nil
}

// checkReferences verifies the task reference resolves and every format
// tag is known to the format registry.
func checkReferences(s *spec.PipelineSpec, tasks *registry.Registry, formats *format.Registry) error {
	if _, ok := tasks.Resolve(s.Task); !ok {
		return spec.Invalidf("task", "task reference %q is not registered (known: %s)",
			s.Task, strings.Join(tasks.Refs(), ", "))
	}

	for _, list := range []struct {
		field string
		decls []*spec.ParamDecl
	}{{"inputs", s.Inputs}, {"outputs", s.Outputs}} {
		for _, d := range list.decls {
			if !d.Type.IsReference() {
				continue
			}
			if _, ok := formats.Lookup(d.Type.Format); !ok {
				return spec.Invalidf(list.field+"."+d.Name+".type",
					"unknown format tag %q (known: %s)", d.Type.Format, strings.Join(formats.Names(), ", "))
			}
		}
	}
	return nil
}

// checkNames enforces per-list uniqueness, the pass-through opt-in rule
// for names shared between inputs and outputs, and derived-flag
// collision freedom.
func checkNames(s *spec.PipelineSpec, _ *registry.Registry, _ *format.Registry) error {
	inputs := make(map[string]*spec.ParamDecl, len(s.Inputs))
	for _, d := range s.Inputs {
		if _, dup := inputs[d.Name]; dup {
			return spec.Invalidf("inputs."+d.Name, "duplicate input parameter name %q", d.Name)
		}
		inputs[d.Name] = d
	}

	outputs := make(map[string]*spec.ParamDecl, len(s.Outputs))
	for _, d := range s.Outputs {
		if _, dup := outputs[d.Name]; dup {
			return spec.Invalidf("outputs."+d.Name, "duplicate output parameter name %q", d.Name)
		}
		outputs[d.Name] = d
	}

	for name, out := range outputs {
		in, shared := inputs[name]
		if !shared {
			continue
		}
		if !in.Passthrough || !out.Passthrough {
			return spec.Invalidf("outputs."+name,
				"parameter %q appears as both input and output without passthrough opt-in on both declarations", name)
		}
		if !in.Type.Equal(out.Type) {
			return spec.Invalidf("outputs."+name+".type",
				"pass-through parameter %q declares type %s as input but %s as output", name, in.Type, out.Type)
		}
	}

	// Flag collisions are a validation-time error, not a runtime one.
	if _, err := cmdgen.Derive(s); err != nil {
		return err
	}
	return nil
}

// checkResources verifies resource requirements are sane.
func checkResources(s *spec.PipelineSpec, _ *registry.Registry, _ *format.Registry) error {
	if s.Resources.CPUs < 0 {
		return spec.Invalidf("resources.cpus", "cpu requirement must be non-negative, got %v", s.Resources.CPUs)
	}
	if s.Resources.Memory != "" {
		bytes, err := spec.ParseMemory(s.Resources.Memory)
		if err != nil {
			return spec.Invalidf("resources.memory", "%v", err)
		}
		s.Resources.MemoryBytes = bytes
	}
	return nil
}
