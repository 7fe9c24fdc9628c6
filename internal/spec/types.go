package spec

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Kind enumerates the declared parameter kinds.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindBool
	KindFile
	KindDirectory
	KindList
)

// ParamType is the declared type of a parameter. For KindList, Elem holds
// the element type (scalars only). For KindFile and KindDirectory, Format
// holds the file-format tag checked against the format registry.
type ParamType struct {
	Kind   Kind
	Elem   *ParamType
	Format string
}

// Convenience constructors used throughout the compiler and its tests.
func String() ParamType  { return ParamType{Kind: KindString} }
func Integer() ParamType { return ParamType{Kind: KindInteger} }
func Float() ParamType   { return ParamType{Kind: KindFloat} }
func Bool() ParamType    { return ParamType{Kind: KindBool} }

func File(format string) ParamType { return ParamType{Kind: KindFile, Format: format} }

func Directory(format string) ParamType {
	return ParamType{Kind: KindDirectory, Format: format}
}

func List(elem ParamType) ParamType { return ParamType{Kind: KindList, Elem: &elem} }

// CtyType maps the declared type onto the cty type system used for runtime
// values. Integer and float both ride cty.Number; the distinction is kept in
// Kind and enforced by the type bridge. File and directory parameters are
// references, so their runtime value is a string.
func (t ParamType) CtyType() cty.Type {
	switch t.Kind {
	case KindString, KindFile, KindDirectory:
		return cty.String
	case KindInteger, KindFloat:
		return cty.Number
	case KindBool:
		return cty.Bool
	case KindList:
		return cty.List(t.Elem.CtyType())
	default:
		return cty.DynamicPseudoType
	}
}

// IsReference reports whether values of this type are data references that
// must be materialized through the data store before execution.
func (t ParamType) IsReference() bool {
	return t.Kind == KindFile || t.Kind == KindDirectory
}

// IsScalar reports whether the type is a non-collection, non-reference
// primitive. Only scalars may appear as list elements.
func (t ParamType) IsScalar() bool {
	switch t.Kind {
	case KindString, KindInteger, KindFloat, KindBool:
		return true
	}
	return false
}

// Equal reports structural equality of two declared types.
func (t ParamType) Equal(o ParamType) bool {
	if t.Kind != o.Kind || t.Format != o.Format {
		return false
	}
	if t.Kind == KindList {
		return t.Elem.Equal(*o.Elem)
	}
	return true
}

// String renders the canonical textual form of the type, the same grammar
// the HCL loader accepts: string, integer, float, bool, file(nifti),
// directory(dicom), list(string).
func (t ParamType) String() string {
	switch t.Kind {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindFile:
		return fmt.Sprintf("file(%s)", t.Format)
	case KindDirectory:
		return fmt.Sprintf("directory(%s)", t.Format)
	case KindList:
		return fmt.Sprintf("list(%s)", t.Elem.String())
	default:
		return "invalid"
	}
}

// ParseType parses the canonical textual form produced by String. It is the
// inverse used when the serialized spec is reloaded inside the image.
func ParseType(s string) (ParamType, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "string":
		return String(), nil
	case "integer":
		return Integer(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	}

	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return ParamType{}, fmt.Errorf("unknown type %q", s)
	}
	name, arg := s[:open], s[open+1:len(s)-1]

	switch name {
	case "file", "directory":
		if arg == "" {
			return ParamType{}, fmt.Errorf("%s type requires a format tag", name)
		}
		if name == "file" {
			return File(arg), nil
		}
		return Directory(arg), nil
	case "list":
		elem, err := ParseType(arg)
		if err != nil {
			return ParamType{}, fmt.Errorf("list element: %w", err)
		}
		if !elem.IsScalar() {
			return ParamType{}, fmt.Errorf("list element type %q is not a scalar", elem)
		}
		return List(elem), nil
	default:
		return ParamType{}, fmt.Errorf("unknown type constructor %q", name)
	}
}
