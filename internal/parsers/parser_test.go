package parsers

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/anvil-go/internal/fqname"
)

func TestParser_ParseText(t *testing.T) {
	t.Parallel()

	p := NewParser()

	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantFq   fqname.FqName
		wantBody string
	}{
		{"Marker", "//dagger:module", true, fqname.New("dagger", "module"), ""},
		{"WithBody", "//anvil:contributesTo{scope: AppScope}", true, fqname.New("anvil", "contributesTo"), "{scope: AppScope}"},
		{"TrailingSpace", "//anvil:mergeComponent{AppScope}  ", true, fqname.New("anvil", "mergeComponent"), "{AppScope}"},
		{"UnknownNamespace", "//go:generate mockery", false, fqname.FqName{}, ""},
		{"SpaceAfterSlashes", "// anvil:contributesTo", false, fqname.FqName{}, ""},
		{"PlainComment", "// NetworkModule provides clients.", false, fqname.FqName{}, ""},
		{"GarbageAfterName", "//anvil:contributesTo scope", false, fqname.FqName{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, ok := p.ParseText(tt.text, token.NoPos)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantFq, d.FqName())
			assert.Equal(t, tt.wantBody, d.Body)
		})
	}

	t.Run("CustomNamespaces", func(t *testing.T) {
		t.Parallel()

		custom := NewParser("wire")
		_, ok := custom.ParseText("//wire:provider", token.NoPos)
		assert.True(t, ok)
		_, ok = custom.ParseText("//anvil:contributesTo", token.NoPos)
		assert.False(t, ok)
	})
}

func TestParser_Directives(t *testing.T) {
	t.Parallel()

	src := `package app

// NetworkModule provides the HTTP client.
//
//anvil:contributesTo{scope: AppScope}
//dagger:module
type NetworkModule struct{}
`
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "app.go", src, parser.ParseComments)
	require.NoError(t, err)

	decl := f.Decls[0].(*ast.GenDecl)
	p := NewParser()

	ds := p.Directives(decl.Doc, nil)
	require.Len(t, ds, 2)
	assert.Equal(t, "//anvil:contributesTo{scope: AppScope}", ds[0].String())
	assert.Equal(t, fqname.New("dagger", "module"), ds[1].FqName())
	assert.Equal(t, 5, fset.Position(ds[0].Pos).Line)

	assert.True(t, p.HasDirective(fqname.New("dagger", "module"), decl.Doc))
	assert.False(t, p.HasDirective(fqname.New("dagger", "component"), decl.Doc))
}

func TestDirective_Args(t *testing.T) {
	t.Parallel()

	p := NewParser()

	t.Run("KeyedAndPositional", func(t *testing.T) {
		t.Parallel()

		d, ok := p.ParseText(`//anvil:contributesBinding{scopes.AppScope, replaces: {Legacy, other.Fake}, priority: 2}`, token.NoPos)
		require.True(t, ok)

		args, err := d.Args()
		require.NoError(t, err)
		require.Len(t, args, 3)

		assert.True(t, args[0].Positional())
		assert.Equal(t, "scopes.AppScope", args[0].Text)
		assert.IsType(t, &ast.SelectorExpr{}, args[0].Expr)

		assert.Equal(t, "replaces", args[1].Name)
		assert.Equal(t, "{Legacy, other.Fake}", args[1].Text)
		assert.IsType(t, &ast.CompositeLit{}, args[1].Expr)

		assert.Equal(t, "priority", args[2].Name)
		assert.Equal(t, 2, args[2].Index)
		assert.Equal(t, "2", args[2].Text)
	})

	t.Run("NoBody", func(t *testing.T) {
		t.Parallel()

		d, ok := p.ParseText("//dagger:module", token.NoPos)
		require.True(t, ok)

		args, err := d.Args()
		assert.NoError(t, err)
		assert.Empty(t, args)
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		t.Parallel()

		d, ok := p.ParseText("//anvil:contributesTo{scope: A, scope: B}", token.NoPos)
		require.True(t, ok)

		_, err := d.Args()
		assert.ErrorContains(t, err, "duplicate argument")
	})

	t.Run("SyntaxError", func(t *testing.T) {
		t.Parallel()

		d, ok := p.ParseText("//anvil:contributesTo{scope: }", token.NoPos)
		require.True(t, ok)

		_, err := d.Args()
		assert.Error(t, err)
	})

	t.Run("NonIdentifierKey", func(t *testing.T) {
		t.Parallel()

		d, ok := p.ParseText(`//anvil:contributesTo{"scope": A}`, token.NoPos)
		require.True(t, ok)

		_, err := d.Args()
		assert.ErrorContains(t, err, "not an identifier")
	})
}
