package reference

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"

	"github.com/Benny93/anvil-go/internal/parsers"
)

// symbolResolver resolves an identifier or selector used as an argument
// value into a class or enum entry value. Each backing provides its own.
type symbolResolver func(expr ast.Expr) (Value, error)

// evalValue evaluates an argument expression. Literals are backing
// independent; names are delegated to resolve.
func evalValue(expr ast.Expr, resolve symbolResolver) (Value, error) {
	switch x := expr.(type) {
	case *ast.BasicLit:
		lit, err := literalValue(x)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueLiteral, Literal: lit}, nil
	case *ast.UnaryExpr:
		lit, ok := x.X.(*ast.BasicLit)
		if !ok || x.Op != token.SUB {
			return Value{}, fmt.Errorf("unsupported expression %s", types.ExprString(expr))
		}
		v, err := evalValue(lit, resolve)
		if err != nil {
			return Value{}, err
		}
		switch n := v.Literal.(type) {
		case int64:
			v.Literal = -n
		case float64:
			v.Literal = -n
		default:
			return Value{}, fmt.Errorf("cannot negate %s", lit.Value)
		}
		return v, nil
	case *ast.ParenExpr:
		return evalValue(x.X, resolve)
	case *ast.CompositeLit:
		if x.Type != nil {
			return Value{}, fmt.Errorf("typed composite literal %s is not an array value", types.ExprString(expr))
		}
		v := Value{Kind: ValueArray, Elems: make([]Value, 0, len(x.Elts))}
		for _, elt := range x.Elts {
			if _, ok := elt.(*ast.KeyValueExpr); ok {
				return Value{}, fmt.Errorf("keyed element %s in array value", types.ExprString(elt))
			}
			e, err := evalValue(elt, resolve)
			if err != nil {
				return Value{}, err
			}
			v.Elems = append(v.Elems, e)
		}
		return v, nil
	case *ast.Ident:
		switch x.Name {
		case "true", "false":
			return Value{Kind: ValueLiteral, Literal: x.Name == "true"}, nil
		case "nil":
			return Value{Kind: ValueLiteral}, nil
		}
		return resolve(x)
	case *ast.SelectorExpr:
		if _, ok := x.X.(*ast.Ident); !ok {
			return Value{}, fmt.Errorf("unsupported selector %s", types.ExprString(expr))
		}
		return resolve(x)
	}
	return Value{}, fmt.Errorf("unsupported expression %s", types.ExprString(expr))
}

// bindArguments names parsed directive arguments after the schema and
// attaches a resolver to each.
func bindArguments(schema *Schema, parsed []parsers.Arg, resolve symbolResolver) ([]*Argument, error) {
	args := make([]*Argument, 0, len(parsed))
	seen := make(map[string]bool, len(parsed))
	positional := 0
	for _, pa := range parsed {
		var param Param
		if pa.Positional() {
			param = schema.positional(positional)
			positional++
		} else {
			param, _ = schema.param(pa.Name)
			param.Name = pa.Name
		}
		if seen[param.Name] {
			return nil, fmt.Errorf("argument %q given more than once", param.Name)
		}
		seen[param.Name] = true

		expr := pa.Expr
		args = append(args, &Argument{
			name:  param.Name,
			typ:   param.Type,
			index: pa.Index,
			text:  pa.Text,
			resolve: func() (Value, error) {
				return evalValue(expr, resolve)
			},
		})
	}
	return args, nil
}
