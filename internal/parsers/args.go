package parsers

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
)

// Arg is one element of a directive body.
type Arg struct {
	// Name is the key of a keyed element, or empty for positional ones.
	Name string

	// Index is the element's position within the body.
	Index int

	// Expr is the value expression.
	Expr ast.Expr

	// Text is the verbatim source of Expr.
	Text string
}

// Positional reports whether the argument was given without a key.
func (a Arg) Positional() bool {
	return a.Name == ""
}

// Args parses the directive body. A directive without body has no
// arguments. Keys must be identifiers and may not repeat.
func (d Directive) Args() ([]Arg, error) {
	if d.Body == "" {
		return nil, nil
	}

	src := "_" + d.Body
	fset := token.NewFileSet()
	expr, err := parser.ParseExprFrom(fset, "", src, 0)
	if err != nil {
		return nil, fmt.Errorf("parsing %s arguments: %w", d.FqName(), err)
	}
	lit, ok := expr.(*ast.CompositeLit)
	if !ok {
		return nil, fmt.Errorf("parsing %s arguments: body is not a composite literal", d.FqName())
	}

	text := func(e ast.Expr) string {
		return src[fset.Position(e.Pos()).Offset:fset.Position(e.End()).Offset]
	}

	args := make([]Arg, 0, len(lit.Elts))
	seen := make(map[string]bool)
	for i, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			args = append(args, Arg{Index: i, Expr: elt, Text: text(elt)})
			continue
		}
		key, ok := kv.Key.(*ast.Ident)
		if !ok {
			return nil, fmt.Errorf("parsing %s arguments: key %s is not an identifier", d.FqName(), text(kv.Key))
		}
		if seen[key.Name] {
			return nil, fmt.Errorf("parsing %s arguments: duplicate argument %q", d.FqName(), key.Name)
		}
		seen[key.Name] = true
		args = append(args, Arg{Name: key.Name, Index: i, Expr: kv.Value, Text: text(kv.Value)})
	}
	return args, nil
}
