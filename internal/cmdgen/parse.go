package cmdgen

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/bridge"
	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/spec"
)

// ParseError is a malformed runtime invocation: unknown flag, missing
// required parameter, or a token the type bridge rejects. It maps to
// exit code 2 in the entrypoint.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return e.Reason
}

// Framework carries the fixed framework flag values of one invocation.
type Framework struct {
	SpecPath   string
	Dataset    string
	OutputDest string
	WorkDir    string
	EnvFile    string
	LogLevel   string
	LogFormat  string
	// Help is set when the invocation asked for usage text; no values
	// are returned in that case.
	Help bool
}

// Parse is the inverse of Derive: it maps argv and the environment back
// into typed parameter values. Unknown flags are rejected, never
// silently dropped. Absent optional parameters resolve to their declared
// default; absent booleans default to false; absent required parameters
// are an error naming the parameter.
func Parse(ctx context.Context, br *bridge.Bridge, s *Surface, argv []string, env map[string]string) (map[string]cty.Value, *Framework, error) {
	logger := ctxlog.FromContext(ctx)

	fs := flag.NewFlagSet(s.Pipeline, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	fw := &Framework{}
	fs.StringVar(&fw.SpecPath, "spec", "", frameworkFlags["spec"])
	fs.StringVar(&fw.Dataset, "dataset", "", frameworkFlags["dataset"])
	fs.StringVar(&fw.OutputDest, "output-dest", "", frameworkFlags["output-dest"])
	fs.StringVar(&fw.WorkDir, "work-dir", "", frameworkFlags["work-dir"])
	fs.StringVar(&fw.EnvFile, "env-file", "", frameworkFlags["env-file"])
	fs.StringVar(&fw.LogLevel, "log-level", "info", frameworkFlags["log-level"])
	fs.StringVar(&fw.LogFormat, "log-format", "text", frameworkFlags["log-format"])

	// Booleans are presence flags; every other kind takes a string token
	// interpreted by the type bridge. This asymmetry is deliberate and
	// matches conventional CLI ergonomics.
	for _, o := range s.Options {
		if o.Decl.Type.Kind == spec.KindBool {
			fs.Bool(o.Flag, false, o.Decl.Help)
		} else {
			fs.String(o.Flag, "", o.Decl.Help)
		}
	}

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, &Framework{Help: true}, nil
		}
		return nil, nil, &ParseError{Reason: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, nil, &ParseError{Reason: fmt.Sprintf("unexpected positional argument %q: the generated surface is flag-based only", fs.Arg(0))}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	values := make(map[string]cty.Value, len(s.Options))
	for _, o := range s.Options {
		decl := o.Decl

		if set[o.Flag] {
			if decl.Type.Kind == spec.KindBool {
				// Presence of the flag means true regardless of syntax.
				values[decl.Name] = cty.True
				continue
			}
			token := fs.Lookup(o.Flag).Value.String()
			v, err := br.FromToken(decl, token)
			if err != nil {
				return nil, nil, &ParseError{Reason: err.Error()}
			}
			values[decl.Name] = v
			continue
		}

		if token, ok := env[o.EnvVar()]; ok {
			logger.Debug("Parameter resolved from environment.", "param", decl.Name, "var", o.EnvVar())
			v, err := br.FromToken(decl, token)
			if err != nil {
				return nil, nil, &ParseError{Reason: err.Error()}
			}
			values[decl.Name] = v
			continue
		}

		if decl.Default != nil {
			values[decl.Name] = *decl.Default
			continue
		}
		if decl.Type.Kind == spec.KindBool {
			values[decl.Name] = cty.False
			continue
		}
		if decl.Required {
			return nil, nil, &ParseError{Reason: fmt.Sprintf("missing required parameter --%s (%s)", o.Flag, decl.Name)}
		}
		// Optional, no default: simply absent from the mapping.
	}

	return values, fw, nil
}
