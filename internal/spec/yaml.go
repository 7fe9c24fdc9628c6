package spec

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	"gopkg.in/yaml.v3"
)

// The YAML form of the spec is what gets embedded into built images and
// reloaded by the entrypoint. Key names are an external contract; changing
// them breaks images built by earlier releases.

type yamlDoc struct {
	SchemaVersion string            `yaml:"schema_version"`
	Name          string            `yaml:"name"`
	Task          string            `yaml:"task"`
	Title         string            `yaml:"title,omitempty"`
	Inputs        []*yamlParam      `yaml:"inputs"`
	Outputs       []*yamlParam      `yaml:"outputs"`
	Resources     *yamlResources    `yaml:"resources,omitempty"`
	Packaging     yamlPackaging     `yaml:"packaging"`
}

type yamlParam struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Help        string `yaml:"help,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
	Default     any    `yaml:"default,omitempty"`
	Passthrough bool   `yaml:"passthrough,omitempty"`
}

type yamlResources struct {
	CPUs   float64 `yaml:"cpus,omitempty"`
	Memory string  `yaml:"memory,omitempty"`
	GPU    bool    `yaml:"gpu,omitempty"`
}

type yamlPackaging struct {
	Name      string            `yaml:"name,omitempty"`
	Version   string            `yaml:"version,omitempty"`
	Org       string            `yaml:"org,omitempty"`
	Registry  string            `yaml:"registry,omitempty"`
	BaseImage string            `yaml:"base_image,omitempty"`
	Readme    string            `yaml:"readme,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty"`
	Packages  []yamlPackage     `yaml:"packages,omitempty"`
	Licenses  []yamlLicense     `yaml:"licenses,omitempty"`
}

type yamlPackage struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
	Manager string `yaml:"manager"`
}

type yamlLicense struct {
	Name        string `yaml:"name"`
	Destination string `yaml:"destination"`
	InfoURL     string `yaml:"info_url,omitempty"`
}

// Encode serializes the spec into its embedded YAML form.
func Encode(s *PipelineSpec) ([]byte, error) {
	doc := &yamlDoc{
		SchemaVersion: SchemaVersion,
		Name:          s.Name,
		Task:          s.Task,
		Title:         s.Title,
		Packaging: yamlPackaging{
			Name:      s.Packaging.Name,
			Version:   s.Packaging.Version,
			Org:       s.Packaging.Org,
			Registry:  s.Packaging.Registry,
			BaseImage: s.Packaging.BaseImage,
			Readme:    s.Packaging.Readme,
			Labels:    s.Packaging.Labels,
		},
	}
	for _, p := range s.Packaging.Packages {
		doc.Packaging.Packages = append(doc.Packaging.Packages, yamlPackage(p))
	}
	for _, l := range s.Packaging.Licenses {
		doc.Packaging.Licenses = append(doc.Packaging.Licenses, yamlLicense(l))
	}
	if s.Resources != (Resources{}) {
		doc.Resources = &yamlResources{
			CPUs:   s.Resources.CPUs,
			Memory: s.Resources.Memory,
			GPU:    s.Resources.GPU,
		}
	}

	var err error
	if doc.Inputs, err = encodeParams(s.Inputs); err != nil {
		return nil, err
	}
	if doc.Outputs, err = encodeParams(s.Outputs); err != nil {
		return nil, err
	}

	return yaml.Marshal(doc)
}

// Decode is the inverse of Encode, used by the entrypoint to reload the
// spec embedded in the image.
func Decode(data []byte) (*PipelineSpec, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding embedded spec: %w", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("embedded spec has schema version %q, this build understands %q",
			doc.SchemaVersion, SchemaVersion)
	}

	s := &PipelineSpec{
		Name:  doc.Name,
		Task:  doc.Task,
		Title: doc.Title,
		Packaging: Packaging{
			Name:      doc.Packaging.Name,
			Version:   doc.Packaging.Version,
			Org:       doc.Packaging.Org,
			Registry:  doc.Packaging.Registry,
			BaseImage: doc.Packaging.BaseImage,
			Readme:    doc.Packaging.Readme,
			Labels:    doc.Packaging.Labels,
		},
	}
	for _, p := range doc.Packaging.Packages {
		s.Packaging.Packages = append(s.Packaging.Packages, Package(p))
	}
	for _, l := range doc.Packaging.Licenses {
		s.Packaging.Licenses = append(s.Packaging.Licenses, License(l))
	}
	if doc.Resources != nil {
		s.Resources = Resources{
			CPUs:   doc.Resources.CPUs,
			Memory: doc.Resources.Memory,
			GPU:    doc.Resources.GPU,
		}
		if s.Resources.Memory != "" {
			bytes, err := ParseMemory(s.Resources.Memory)
			if err != nil {
				return nil, err
			}
			s.Resources.MemoryBytes = bytes
		}
	}

	var err error
	if s.Inputs, err = decodeParams(doc.Inputs, "inputs"); err != nil {
		return nil, err
	}
	if s.Outputs, err = decodeParams(doc.Outputs, "outputs"); err != nil {
		return nil, err
	}
	return s, nil
}

func encodeParams(decls []*ParamDecl) ([]*yamlParam, error) {
	out := make([]*yamlParam, 0, len(decls))
	for _, d := range decls {
		p := &yamlParam{
			Name:        d.Name,
			Type:        d.Type.String(),
			Help:        d.Help,
			Required:    d.Required,
			Passthrough: d.Passthrough,
		}
		if d.Default != nil {
			enc, err := EncodeValue(d.Type, *d.Default)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", d.Name, err)
			}
			p.Default = enc
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeParams(params []*yamlParam, list string) ([]*ParamDecl, error) {
	out := make([]*ParamDecl, 0, len(params))
	for _, p := range params {
		t, err := ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", list, p.Name, err)
		}
		d := &ParamDecl{
			Name:        p.Name,
			Type:        t,
			Help:        p.Help,
			Required:    p.Required,
			Passthrough: p.Passthrough,
		}
		if p.Default != nil {
			v, err := DecodeValue(t, p.Default)
			if err != nil {
				return nil, fmt.Errorf("%s.%s.default: %w", list, p.Name, err)
			}
			d.Default = &v
		}
		out = append(out, d)
	}
	return out, nil
}

// EncodeValue converts a typed parameter value into a plain Go value
// suitable for YAML scalars and sequences.
func EncodeValue(t ParamType, v cty.Value) (any, error) {
	switch t.Kind {
	case KindString, KindFile, KindDirectory:
		return v.AsString(), nil
	case KindInteger:
		var n int64
		if err := gocty.FromCtyValue(v, &n); err != nil {
			return nil, err
		}
		return n, nil
	case KindFloat:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		return f, nil
	case KindBool:
		return v.True(), nil
	case KindList:
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			enc, err := EncodeValue(*t.Elem, ev)
			if err != nil {
				return nil, err
			}
			out = append(out, enc)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot encode value of type %q", t)
	}
}

// DecodeValue converts a plain Go value (from YAML) back into the typed
// cty representation declared for the parameter.
func DecodeValue(t ParamType, raw any) (cty.Value, error) {
	if t.Kind == KindList {
		items, ok := raw.([]any)
		if !ok {
			return cty.NilVal, fmt.Errorf("expected a list for type %q, got %T", t, raw)
		}
		if len(items) == 0 {
			return cty.ListValEmpty(t.Elem.CtyType()), nil
		}
		elems := make([]cty.Value, 0, len(items))
		for _, item := range items {
			ev, err := DecodeValue(*t.Elem, item)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, ev)
		}
		return cty.ListVal(elems), nil
	}

	v, err := gocty.ToCtyValue(raw, t.CtyType())
	if err != nil {
		return cty.NilVal, fmt.Errorf("value %v is not assignable to %q: %w", raw, t, err)
	}
	if t.Kind == KindInteger {
		if _, acc := v.AsBigFloat().Int64(); acc != 0 {
			return cty.NilVal, fmt.Errorf("value %v is not an integer", raw)
		}
	}
	return v, nil
}
