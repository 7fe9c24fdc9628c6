package hclspec

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/pipecrate/internal/schema"
	"github.com/vk/pipecrate/internal/spec"
)

// translatePipeline converts the HCL-specific pipeline schema into the
// agnostic spec model. Structural problems that can only be judged against
// the whole spec (duplicates, pass-through rules, flag collisions) are left
// to the validator; this stage only rejects values that cannot be
// represented in the model at all.
func translatePipeline(ctx context.Context, p *schema.Pipeline) (*spec.PipelineSpec, error) {
	s := &spec.PipelineSpec{
		Name:  p.Name,
		Task:  p.Task,
		Title: p.Title,
	}

	var err error
	if s.Inputs, err = translateParams(ctx, p.Inputs, "input"); err != nil {
		return nil, err
	}
	if s.Outputs, err = translateParams(ctx, p.Outputs, "output"); err != nil {
		return nil, err
	}

	if p.Resources != nil {
		if p.Resources.CPUs != nil {
			s.Resources.CPUs = *p.Resources.CPUs
		}
		s.Resources.Memory = p.Resources.Memory
		s.Resources.GPU = p.Resources.GPU
	}

	if p.Packaging != nil {
		s.Packaging = spec.Packaging{
			Name:      p.Packaging.Name,
			Version:   p.Packaging.Version,
			Org:       p.Packaging.Org,
			Registry:  p.Packaging.Registry,
			BaseImage: p.Packaging.BaseImage,
			Readme:    p.Packaging.Readme,
			Labels:    p.Packaging.Labels,
		}
		for _, pkg := range p.Packaging.Packages {
			manager := pkg.Manager
			if manager == "" {
				manager = "apt"
			}
			s.Packaging.Packages = append(s.Packaging.Packages, spec.Package{
				Name:    pkg.Name,
				Version: pkg.Version,
				Manager: manager,
			})
		}
		for _, lic := range p.Packaging.Licenses {
			s.Packaging.Licenses = append(s.Packaging.Licenses, spec.License{
				Name:        lic.Name,
				Destination: lic.Destination,
				InfoURL:     lic.InfoURL,
			})
		}
	}
	if s.Packaging.BaseImage == "" {
		s.Packaging.BaseImage = spec.DefaultBaseImage
	}

	return s, nil
}

func translateParams(ctx context.Context, params []*schema.Param, blockName string) ([]*spec.ParamDecl, error) {
	decls := make([]*spec.ParamDecl, 0, len(params))
	for _, p := range params {
		t, err := typeExprToParamType(ctx, p.Type)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", blockName, p.Name, err)
		}

		d := &spec.ParamDecl{
			Name:        p.Name,
			Type:        t,
			Help:        p.Help,
			Required:    p.Required,
			Passthrough: p.Passthrough,
		}

		if p.Default != nil {
			converted, err := convert.Convert(*p.Default, t.CtyType())
			if err != nil {
				return nil, fmt.Errorf("%s %q: default is not assignable to %s: %w", blockName, p.Name, t, err)
			}
			if t.Kind == spec.KindInteger {
				if _, acc := converted.AsBigFloat().Int64(); acc != 0 {
					return nil, fmt.Errorf("%s %q: default is not an integer", blockName, p.Name)
				}
			}
			d.Default = &converted
		}

		decls = append(decls, d)
	}
	return decls, nil
}
