// This file contains the logic for parsing HCL type expressions (e.g.
// `string`, `list(integer)`, `file("nifti")`) into spec.ParamType values.

package hclspec

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/spec"
)

// typeExprToParamType converts an HCL type expression into its declared
// parameter type. Primitive keywords are bare identifiers; list takes a
// nested type expression; file and directory take a quoted format tag.
func typeExprToParamType(ctx context.Context, expr hcl.Expression) (spec.ParamType, error) {
	logger := ctxlog.FromContext(ctx)

	if expr == nil {
		return spec.ParamType{}, fmt.Errorf("type expression is missing")
	}

	switch v := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		logger.Debug("Parsing type expression as a constructor call.", "call", v.Name)
		if len(v.Args) != 1 {
			return spec.ParamType{}, fmt.Errorf("type constructor %q requires exactly one argument, got %d", v.Name, len(v.Args))
		}

		switch v.Name {
		case "list":
			elem, err := typeExprToParamType(ctx, v.Args[0])
			if err != nil {
				return spec.ParamType{}, err
			}
			if !elem.IsScalar() {
				return spec.ParamType{}, fmt.Errorf("list element type %q is not a scalar", elem)
			}
			return spec.List(elem), nil

		case "file", "directory":
			tag, diags := v.Args[0].Value(nil)
			if diags.HasErrors() || tag.Type() != cty.String {
				return spec.ParamType{}, fmt.Errorf("%s type requires a quoted format tag, e.g. %s(\"nifti\")", v.Name, v.Name)
			}
			if v.Name == "file" {
				return spec.File(tag.AsString()), nil
			}
			return spec.Directory(tag.AsString()), nil

		default:
			return spec.ParamType{}, fmt.Errorf("unknown type constructor %q", v.Name)
		}

	case *hclsyntax.ScopeTraversalExpr:
		if len(v.Traversal) != 1 {
			return spec.ParamType{}, fmt.Errorf("invalid type keyword: traversal path is not a single identifier")
		}
		rootName := v.Traversal.RootName()
		logger.Debug("Parsing type expression as a primitive.", "keyword", rootName)
		switch rootName {
		case "string":
			return spec.String(), nil
		case "integer":
			return spec.Integer(), nil
		case "float":
			return spec.Float(), nil
		case "bool":
			return spec.Bool(), nil
		default:
			return spec.ParamType{}, fmt.Errorf("unknown primitive type %q", rootName)
		}

	default:
		return spec.ParamType{}, fmt.Errorf("unsupported expression for type definition: %T", v)
	}
}
