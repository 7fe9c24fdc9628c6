// Package bridge maps typed pipeline parameter values onto flat CLI and
// environment tokens and back. The mapping is bijective for every
// primitive type; the only deliberate asymmetry is booleans, which the
// command surface expresses as presence/absence flags rather than
// true/false tokens.
package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/pipecrate/internal/format"
	"github.com/vk/pipecrate/internal/spec"
)

// ListDelimiter joins list element tokens. Element representations that
// contain it are rejected rather than escaped, which keeps the encoding
// trivially reversible.
const ListDelimiter = ","

// TypeError reports a token that cannot be interpreted as the declared
// parameter type, or a referenced object whose detected format does not
// match the declared format tag.
type TypeError struct {
	Param  string
	Token  string
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("parameter %q: token %q: %s", e.Param, e.Token, e.Reason)
}

// Bridge converts between typed parameter values and string tokens.
type Bridge struct {
	formats *format.Registry
}

// New creates a Bridge backed by the given format registry.
func New(formats *format.Registry) *Bridge {
	return &Bridge{formats: formats}
}

// Formats exposes the underlying format registry.
func (b *Bridge) Formats() *format.Registry {
	return b.formats
}

// ToToken serializes a typed value into its flat token form. For file-like
// and directory-like types the value already is a reference string and
// passes through unchanged; content is never inlined.
func (b *Bridge) ToToken(decl *spec.ParamDecl, v cty.Value) (string, error) {
	return b.encode(decl, decl.Type, v, false)
}

// FromToken parses a flat token into the declared typed value. Reference
// tokens are accepted as-is here; format validation happens against the
// materialized local path via ValidateReference.
func (b *Bridge) FromToken(decl *spec.ParamDecl, token string) (cty.Value, error) {
	return b.decode(decl, decl.Type, token, false)
}

// ValidateReference checks a materialized local path against the declared
// format tag of a file-like or directory-like parameter.
func (b *Bridge) ValidateReference(decl *spec.ParamDecl, localPath string) error {
	if !decl.Type.IsReference() {
		return nil
	}
	if err := b.formats.Validate(localPath, decl.Type.Format); err != nil {
		return &TypeError{Param: decl.Name, Token: localPath, Reason: err.Error()}
	}
	return nil
}

func (b *Bridge) encode(decl *spec.ParamDecl, t spec.ParamType, v cty.Value, inList bool) (string, error) {
	var token string
	switch t.Kind {
	case spec.KindString, spec.KindFile, spec.KindDirectory:
		token = v.AsString()

	case spec.KindInteger:
		var n int64
		if err := gocty.FromCtyValue(v, &n); err != nil {
			return "", &TypeError{Param: decl.Name, Token: v.GoString(), Reason: "value is not an integer"}
		}
		token = strconv.FormatInt(n, 10)

	case spec.KindFloat:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return "", &TypeError{Param: decl.Name, Token: v.GoString(), Reason: "value is not a float"}
		}
		token = strconv.FormatFloat(f, 'g', -1, 64)

	case spec.KindBool:
		token = strconv.FormatBool(v.True())

	case spec.KindList:
		if inList {
			return "", &TypeError{Param: decl.Name, Token: v.GoString(), Reason: "nested lists are not representable"}
		}
		elems := make([]string, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			elemTok, err := b.encode(decl, *t.Elem, ev, true)
			if err != nil {
				return "", err
			}
			elems = append(elems, elemTok)
		}
		return strings.Join(elems, ListDelimiter), nil

	default:
		return "", &TypeError{Param: decl.Name, Token: v.GoString(), Reason: fmt.Sprintf("unsupported type %q", t)}
	}

	if inList && strings.Contains(token, ListDelimiter) {
		return "", &TypeError{
			Param:  decl.Name,
			Token:  token,
			Reason: fmt.Sprintf("list elements must not contain the %q delimiter", ListDelimiter),
		}
	}
	return token, nil
}

func (b *Bridge) decode(decl *spec.ParamDecl, t spec.ParamType, token string, inList bool) (cty.Value, error) {
	switch t.Kind {
	case spec.KindString, spec.KindFile, spec.KindDirectory:
		return cty.StringVal(token), nil

	case spec.KindInteger:
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return cty.NilVal, &TypeError{Param: decl.Name, Token: token, Reason: "not a valid integer"}
		}
		return cty.NumberIntVal(n), nil

	case spec.KindFloat:
		f, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return cty.NilVal, &TypeError{Param: decl.Name, Token: token, Reason: "not a valid float"}
		}
		return cty.NumberFloatVal(f), nil

	case spec.KindBool:
		v, err := strconv.ParseBool(token)
		if err != nil {
			return cty.NilVal, &TypeError{Param: decl.Name, Token: token, Reason: "not a valid boolean"}
		}
		return cty.BoolVal(v), nil

	case spec.KindList:
		if inList {
			return cty.NilVal, &TypeError{Param: decl.Name, Token: token, Reason: "nested lists are not representable"}
		}
		if token == "" {
			return cty.ListValEmpty(t.Elem.CtyType()), nil
		}
		parts := strings.Split(token, ListDelimiter)
		elems := make([]cty.Value, 0, len(parts))
		for _, part := range parts {
			ev, err := b.decode(decl, *t.Elem, part, true)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, ev)
		}
		return cty.ListVal(elems), nil

	default:
		return cty.NilVal, &TypeError{Param: decl.Name, Token: token, Reason: fmt.Sprintf("unsupported type %q", t)}
	}
}
