// Package schema defines the HCL block structures of a pipeline-app spec
// document. These types mirror the source syntax one-to-one; the hclspec
// loader translates them into the format-agnostic spec model.
package schema

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Document is the top-level structure of a spec file.
type Document struct {
	Pipelines []*Pipeline `hcl:"pipeline,block"`
	Body      hcl.Body    `hcl:",remain"`
}

// Pipeline represents a `pipeline` block: one task/workflow reference with
// its declared parameters, resources and packaging metadata.
type Pipeline struct {
	Name      string          `hcl:"name,label"`
	Task      string          `hcl:"task"`
	Title     string          `hcl:"title,optional"`
	Inputs    []*Param        `hcl:"input,block"`
	Outputs   []*Param        `hcl:"output,block"`
	Resources *ResourcesBlock `hcl:"resources,block"`
	Packaging *PackagingBlock `hcl:"packaging,block"`
}

// Param represents an `input` or `output` block. The type is kept as a raw
// expression (`file("nifti")`, `list(string)`, ...) and parsed by the loader.
type Param struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Help        string         `hcl:"help,optional"`
	Required    bool           `hcl:"required,optional"`
	Default     *cty.Value     `hcl:"default,optional"`
	Passthrough bool           `hcl:"passthrough,optional"`
}

// ResourcesBlock represents the optional `resources` block.
type ResourcesBlock struct {
	CPUs   *float64 `hcl:"cpus,optional"`
	Memory string   `hcl:"memory,optional"`
	GPU    bool     `hcl:"gpu,optional"`
}

// PackagingBlock represents the optional `packaging` block.
type PackagingBlock struct {
	Name      string            `hcl:"name,optional"`
	Version   string            `hcl:"version,optional"`
	Org       string            `hcl:"org,optional"`
	Registry  string            `hcl:"registry,optional"`
	BaseImage string            `hcl:"base_image,optional"`
	Readme    string            `hcl:"readme,optional"`
	Labels    map[string]string `hcl:"labels,optional"`
	Packages  []*PackageBlock   `hcl:"package,block"`
	Licenses  []*LicenseBlock   `hcl:"license,block"`
}

// PackageBlock is a single package-manager directive.
type PackageBlock struct {
	Name    string `hcl:"name,label"`
	Version string `hcl:"version,optional"`
	Manager string `hcl:"manager,optional"`
}

// LicenseBlock describes a license to install into the image.
type LicenseBlock struct {
	Name        string `hcl:"name"`
	Destination string `hcl:"destination"`
	InfoURL     string `hcl:"info_url,optional"`
}
