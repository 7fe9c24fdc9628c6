// Package cmdgen derives the CLI surface of a pipeline spec and parses
// invocations of that surface back into typed parameters. Derivation and
// parsing are exact inverses over the tested domain: every input
// parameter maps to exactly one --flag, and every accepted token maps
// back to the declared type through the type bridge.
package cmdgen

import (
	"fmt"
	"strings"

	"github.com/vk/pipecrate/internal/spec"
)

// EnvPrefix is the prefix of the environment fallback for generated
// flags: a parameter `fractional_intensity` may also be supplied as
// PIPECRATE_ARG_FRACTIONAL_INTENSITY.
const EnvPrefix = "PIPECRATE_ARG_"

// Framework flag names are reserved; a derived parameter flag may not
// collide with them.
var frameworkFlags = map[string]string{
	"spec":        "Path to the embedded spec document.",
	"dataset":     "Root of the data store inputs are fetched from.",
	"output-dest": "Reference prefix outputs are stored under.",
	"work-dir":    "Scratch directory for materialized inputs and outputs.",
	"env-file":    "Optional dotenv file merged into the environment.",
	"log-level":   "Logging level: debug, info, warn or error.",
	"log-format":  "Log output format: json, text or tint.",
	"help":        "Print this help text.",
}

// Option is one derived CLI flag bound to its parameter declaration.
type Option struct {
	// Flag is the derived flag name without the leading dashes.
	Flag string
	Decl *spec.ParamDecl
}

// EnvVar is the environment fallback key for this option.
func (o *Option) EnvVar() string {
	var b strings.Builder
	for _, r := range strings.ToUpper(o.Decl.Name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return EnvPrefix + b.String()
}

// Surface is the derived CLI of one pipeline spec. It is computed from
// the spec, never persisted, and discarded after use.
type Surface struct {
	Pipeline string
	Title    string
	Options  []*Option
}

// Option returns the option whose flag matches name, or nil.
func (s *Surface) Option(name string) *Option {
	for _, o := range s.Options {
		if o.Flag == name {
			return o
		}
	}
	return nil
}

// DeriveFlagName lowercases a parameter name and replaces every run of
// non-alphanumeric characters with a single hyphen.
func DeriveFlagName(param string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(param) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('-')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Derive computes the CLI surface of a spec: one flag per input
// parameter in declaration order. Collisions after derivation, with each
// other or with the fixed framework flags, are spec errors.
func Derive(s *spec.PipelineSpec) (*Surface, error) {
	surface := &Surface{Pipeline: s.Name, Title: s.Title}

	seen := make(map[string]string, len(s.Inputs))
	for _, decl := range s.Inputs {
		flagName := DeriveFlagName(decl.Name)
		if flagName == "" {
			return nil, spec.Invalidf("inputs."+decl.Name, "parameter name derives to an empty flag")
		}
		if _, reserved := frameworkFlags[flagName]; reserved {
			return nil, spec.Invalidf("inputs."+decl.Name, "derived flag --%s collides with a framework flag", flagName)
		}
		if prev, dup := seen[flagName]; dup {
			return nil, spec.Invalidf("inputs."+decl.Name,
				"derived flag --%s collides with parameter %q", flagName, prev)
		}
		seen[flagName] = decl.Name
		surface.Options = append(surface.Options, &Option{Flag: flagName, Decl: decl})
	}
	return surface, nil
}

// Help renders the generated usage text. Every declared parameter
// appears exactly once.
func (s *Surface) Help() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s [options]\n", s.Pipeline)
	if s.Title != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Title)
	}

	b.WriteString("\nParameters:\n")
	for _, o := range s.Options {
		if o.Decl.Type.Kind == spec.KindBool {
			fmt.Fprintf(&b, "  --%s\n", o.Flag)
		} else {
			fmt.Fprintf(&b, "  --%s value\n", o.Flag)
		}
		desc := o.Decl.Help
		if desc == "" {
			desc = o.Decl.Name
		}
		attrs := []string{o.Decl.Type.String()}
		if o.Decl.Required {
			attrs = append(attrs, "required")
		}
		fmt.Fprintf(&b, "        %s (%s)\n", desc, strings.Join(attrs, ", "))
	}

	b.WriteString("\nFramework options:\n")
	for _, name := range []string{"spec", "dataset", "output-dest", "work-dir", "env-file", "log-level", "log-format", "help"} {
		fmt.Fprintf(&b, "  --%s\n        %s\n", name, frameworkFlags[name])
	}
	return b.String()
}
