// Package spec holds the format-agnostic model of a pipeline-app
// specification: the task reference, its typed input and output parameters,
// resource requirements and packaging metadata. The HCL loader translates
// source documents into this model; the YAML codec round-trips the model
// through the copy embedded in built images.
package spec

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// SchemaVersion identifies the serialized spec layout embedded in images.
const SchemaVersion = "1.0"

// DefaultBaseImage is used when packaging metadata does not name one.
const DefaultBaseImage = "ubuntu:22.04"

// PipelineSpec is the in-memory representation of one pipeline-app spec.
// It is loaded once per compilation and owned by the compiler session.
type PipelineSpec struct {
	// Name is the pipeline block label, used for image naming fallbacks.
	Name string
	// Task is the registry reference of the task or workflow to run.
	Task string
	// Title is a one line description surfaced in help output.
	Title string

	// Inputs and Outputs keep their declaration order; ordering is part of
	// the CLI surface and of deterministic error reporting.
	Inputs  []*ParamDecl
	Outputs []*ParamDecl

	Resources Resources
	Packaging Packaging

	// LoadedFrom records the source file the spec came from, if any.
	LoadedFrom string
}

// ParamDecl declares a single input or output parameter.
type ParamDecl struct {
	Name     string
	Type     ParamType
	Help     string
	Required bool
	// Default is nil when no default was declared. For file-like types it
	// is always a dataset-relative reference, never inline content.
	Default *cty.Value
	// Passthrough marks a parameter that is allowed to appear in both the
	// input and output lists.
	Passthrough bool
}

// Input returns the input declaration with the given name, or nil.
func (s *PipelineSpec) Input(name string) *ParamDecl {
	for _, d := range s.Inputs {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Output returns the output declaration with the given name, or nil.
func (s *PipelineSpec) Output(name string) *ParamDecl {
	for _, d := range s.Outputs {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Packaging carries the image build metadata from the spec document.
type Packaging struct {
	// Name is the image name; falls back to the pipeline name when empty.
	Name      string
	Version   string
	Org       string
	Registry  string
	BaseImage string
	Readme    string
	Labels    map[string]string
	Packages  []Package
	Licenses  []License
}

// Package is a single package-manager directive.
type Package struct {
	Name    string
	Version string
	Manager string // "apt" or "pip"
}

// License describes a license file that must be installed into the image.
type License struct {
	Name        string
	Destination string
	InfoURL     string
}

// ImageTag derives the full image tag from the packaging metadata.
func (s *PipelineSpec) ImageTag() string {
	name := s.Packaging.Name
	if name == "" {
		name = s.Name
	}
	if s.Packaging.Org != "" {
		name = s.Packaging.Org + "/" + name
	}
	version := s.Packaging.Version
	if version == "" {
		version = "latest"
	}
	if s.Packaging.Registry != "" {
		name = s.Packaging.Registry + "/" + name
	}
	return fmt.Sprintf("%s:%s", name, version)
}
