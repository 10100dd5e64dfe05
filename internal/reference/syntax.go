package reference

import (
	"cmp"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"slices"
	"strconv"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// syntaxScope resolves names the way the file they appear in sees them:
// through its import specs, the declaring package and dot imports. No type
// checking is involved.
type syntaxScope struct {
	prog       *Program
	pkg        *Package
	file       *ast.File
	typeParams map[string]bool
}

func (s *syntaxScope) withTypeParams(names ...string) *syntaxScope {
	if len(names) == 0 {
		return s
	}
	tp := make(map[string]bool, len(s.typeParams)+len(names))
	for n := range s.typeParams {
		tp[n] = true
	}
	for _, n := range names {
		tp[n] = true
	}
	return &syntaxScope{prog: s.prog, pkg: s.pkg, file: s.file, typeParams: tp}
}

// maxNameChain bounds alias and defined-type chains, which are not
// checked for cycles in programs without type information.
const maxNameChain = 32

// target finds the package and name an identifier or selector denotes,
// following aliases to the declaration they name.
func (s *syntaxScope) target(expr ast.Expr) (*Package, string, error) {
	pkg, name, err := s.lookup(expr)
	for range maxNameChain {
		if err != nil {
			return nil, "", err
		}
		a := pkg.index.aliases[name]
		if a == nil {
			return pkg, name, nil
		}
		as := &syntaxScope{prog: s.prog, pkg: pkg, file: a.file}
		rhs := instantiated(a.spec.Type)
		if id, ok := rhs.(*ast.Ident); ok && !pkg.index.declares(id.Name) && types.Universe.Lookup(id.Name) != nil {
			return nil, "", &ResolutionError{FqName: fqname.New(pkg.Path, name), Backing: Syntactic, Reason: "alias of a predeclared type"}
		}
		pkg, name, err = as.lookup(rhs)
	}
	return nil, "", fmt.Errorf("alias chain through %s is too long", types.ExprString(expr))
}

// lookup finds the package and name an identifier or selector is written
// against, without following aliases.
func (s *syntaxScope) lookup(expr ast.Expr) (*Package, string, error) {
	switch x := expr.(type) {
	case *ast.Ident:
		if s.pkg.index.declares(x.Name) {
			return s.pkg, x.Name, nil
		}
		for _, imp := range s.file.Imports {
			if imp.Name == nil || imp.Name.Name != "." {
				continue
			}
			if pkg, ok := s.prog.byPath[importPath(imp)]; ok && pkg.index != nil && pkg.index.declares(x.Name) {
				return pkg, x.Name, nil
			}
		}
		return nil, "", &ResolutionError{FqName: fqname.New(s.pkg.Path, x.Name), Backing: Syntactic, Reason: "undeclared name"}
	case *ast.SelectorExpr:
		qual, ok := x.X.(*ast.Ident)
		if !ok {
			return nil, "", fmt.Errorf("unsupported selector %s", types.ExprString(x))
		}
		pkg, err := s.qualifier(qual.Name)
		if err != nil {
			return nil, "", err
		}
		if pkg.index == nil {
			return nil, "", &ResolutionError{FqName: fqname.New(pkg.Path, x.Sel.Name), Backing: Syntactic, Reason: "package has no syntax"}
		}
		return pkg, x.Sel.Name, nil
	}
	return nil, "", fmt.Errorf("unsupported expression %s", types.ExprString(expr))
}

// qualifier maps a package qualifier to a package: first through the
// file's imports, then to the unique loaded package of that name.
func (s *syntaxScope) qualifier(name string) (*Package, error) {
	for _, imp := range s.file.Imports {
		path := importPath(imp)
		local := ""
		if imp.Name != nil {
			local = imp.Name.Name
		} else if pkg, ok := s.prog.byPath[path]; ok && pkg.Name != "" {
			local = pkg.Name
		} else {
			local = guessPackageName(path)
		}
		if local != name {
			continue
		}
		pkg, ok := s.prog.byPath[path]
		if !ok {
			return nil, &ResolutionError{FqName: fqname.New(path, ""), Backing: Syntactic, Reason: "package not loaded"}
		}
		return pkg, nil
	}
	return s.prog.uniquePackageNamed(name, Syntactic)
}

func (s *syntaxScope) resolveValue(expr ast.Expr) (Value, error) {
	pkg, name, err := s.target(expr)
	if err != nil {
		return Value{}, err
	}
	if d := pkg.index.types[name]; d != nil {
		return Value{Kind: ValueClass, Class: s.prog.syntaxClass(d)}, nil
	}
	if c := pkg.index.consts[name]; c != nil {
		entry := EnumEntry{Name: name, FqName: fqname.New(pkg.Path, name)}
		if c.typ != nil {
			cs := &syntaxScope{prog: s.prog, pkg: pkg, file: c.file}
			enum, err := cs.resolveClass(c.typ)
			if err != nil {
				return Value{}, err
			}
			entry.Enum = enum
		}
		return Value{Kind: ValueEnumEntry, Enum: entry}, nil
	}
	return Value{}, &ResolutionError{FqName: fqname.New(pkg.Path, name), Backing: Syntactic, Reason: "not a type or constant"}
}

// resolveClass resolves a type name. Builtin types resolve to nil.
func (s *syntaxScope) resolveClass(expr ast.Expr) (ClassRef, error) {
	if id, ok := expr.(*ast.Ident); ok && !s.pkg.index.declares(id.Name) && types.Universe.Lookup(id.Name) != nil {
		return nil, nil
	}
	pkg, name, err := s.target(expr)
	if err != nil {
		return nil, err
	}
	d := pkg.index.types[name]
	if d == nil {
		return nil, &ResolutionError{FqName: fqname.New(pkg.Path, name), Backing: Syntactic, Reason: "not a type"}
	}
	return s.prog.syntaxClass(d), nil
}

func (idx *declIndex) declares(name string) bool {
	if idx == nil {
		return false
	}
	_, isType := idx.types[name]
	_, isConst := idx.consts[name]
	_, isAlias := idx.aliases[name]
	return isType || isConst || isAlias
}

// instantiated strips parentheses and type arguments from a type name.
func instantiated(expr ast.Expr) ast.Expr {
	expr = ast.Unparen(expr)
	switch x := expr.(type) {
	case *ast.IndexExpr:
		return ast.Unparen(x.X)
	case *ast.IndexListExpr:
		return ast.Unparen(x.X)
	}
	return expr
}

type syntaxClass struct {
	prog *Program
	decl *typeDecl
	fq   fqname.FqName

	annotations lazy[[]AnnotationRef]
	supertypes  lazy[[]TypeRef]
	typeParams  lazy[[]TypeParameterRef]
	functions   lazy[[]FunctionRef]
	properties  lazy[[]PropertyRef]
}

func (p *Program) syntaxClass(d *typeDecl) ClassRef {
	return p.cached(cacheKey{backing: Syntactic, symbol: d}, func() ClassRef {
		return &syntaxClass{prog: p, decl: d, fq: fqname.New(d.pkg.Path, d.name)}
	})
}

func (c *syntaxClass) classRef() {}

func (c *syntaxClass) FqName() fqname.FqName  { return c.fq }
func (c *syntaxClass) ShortName() string      { return c.fq.ShortName() }
func (c *syntaxClass) Backing() Backing       { return Syntactic }
func (c *syntaxClass) Program() *Program      { return c.prog }
func (c *syntaxClass) String() string         { return c.fq.String() }
func (c *syntaxClass) Visibility() Visibility { return classVisibility(c.fq) }

func (c *syntaxClass) Pos() token.Position {
	return c.prog.position(c.decl.spec.Name.Pos())
}

func (c *syntaxClass) scope() *syntaxScope {
	s := &syntaxScope{prog: c.prog, pkg: c.decl.pkg, file: c.decl.file}
	return s.withTypeParams(fieldNames(c.decl.spec.TypeParams)...)
}

// underlying follows a declaration defined over another named type, as in
// type Parts Base, to the type literal at the end of the chain. The scope
// returned is the one that literal is written in.
func (c *syntaxClass) underlying() (ast.Expr, *syntaxScope) {
	s := c.scope()
	expr := ast.Unparen(c.decl.spec.Type)
	for range maxNameChain {
		name := instantiated(expr)
		switch name.(type) {
		case *ast.Ident, *ast.SelectorExpr:
		default:
			return expr, s
		}
		target, err := s.resolveClass(name)
		next, ok := target.(*syntaxClass)
		if err != nil || !ok {
			return expr, s
		}
		s = next.scope()
		expr = ast.Unparen(next.decl.spec.Type)
	}
	return expr, s
}

func (c *syntaxClass) IsInterface() bool {
	expr, _ := c.underlying()
	_, ok := expr.(*ast.InterfaceType)
	return ok
}

func (c *syntaxClass) IsObject() bool {
	expr, _ := c.underlying()
	st, ok := expr.(*ast.StructType)
	return ok && (st.Fields == nil || len(st.Fields.List) == 0)
}

func (c *syntaxClass) IsAnnotationClass() bool {
	return c.prog.parser.HasDirective(AnnotationClassMarker, c.decl.docs...)
}

func (c *syntaxClass) IsGeneric() bool {
	return c.decl.spec.TypeParams != nil && len(c.decl.spec.TypeParams.List) > 0
}

func (c *syntaxClass) EnclosingClass() ClassRef {
	if c.decl.outer == nil {
		return nil
	}
	return c.prog.syntaxClass(c.decl.outer)
}

func (c *syntaxClass) EnclosingClassesWithSelf() []ClassRef { return enclosingWithSelf(c) }

func (c *syntaxClass) InnerClasses() []ClassRef {
	out := make([]ClassRef, 0, len(c.decl.inner))
	for _, d := range c.decl.inner {
		out = append(out, c.prog.syntaxClass(d))
	}
	return out
}

func (c *syntaxClass) CompanionObjects() []ClassRef { return nil }

func (c *syntaxClass) DirectSupertypes() ([]TypeRef, error) {
	return c.supertypes.get(func() ([]TypeRef, error) {
		var out []TypeRef
		expr, s := c.underlying()
		switch t := expr.(type) {
		case *ast.StructType:
			for _, f := range t.Fields.List {
				if len(f.Names) == 0 {
					out = append(out, &syntaxType{scope: s, expr: f.Type})
				}
			}
		case *ast.InterfaceType:
			for _, f := range t.Methods.List {
				if len(f.Names) == 0 && !isTypeSetTerm(f.Type) {
					out = append(out, &syntaxType{scope: s, expr: f.Type})
				}
			}
		}
		return out, nil
	})
}

func (c *syntaxClass) AllSupertypes() ([]ClassRef, error) { return allSupertypes(c) }

func (c *syntaxClass) TypeParameters() ([]TypeParameterRef, error) {
	return c.typeParams.get(func() ([]TypeParameterRef, error) {
		tps := c.decl.spec.TypeParams
		if tps == nil {
			return nil, nil
		}
		s := c.scope()
		var out []TypeParameterRef
		for _, f := range tps.List {
			bounds := syntaxBounds(s, f.Type)
			for _, n := range f.Names {
				out = append(out, &syntaxTypeParam{name: n.Name, bounds: bounds})
			}
		}
		return out, nil
	})
}

// syntaxBounds lists the named bounds of a constraint expression.
func syntaxBounds(s *syntaxScope, constraint ast.Expr) []TypeRef {
	switch t := ast.Unparen(constraint).(type) {
	case *ast.Ident:
		if t.Name == "any" && !s.pkg.index.declares("any") {
			return nil
		}
	case *ast.InterfaceType:
		var out []TypeRef
		for _, f := range t.Methods.List {
			if len(f.Names) == 0 {
				out = append(out, &syntaxType{scope: s, expr: f.Type})
			}
		}
		return out
	}
	return []TypeRef{&syntaxType{scope: s, expr: constraint}}
}

func (c *syntaxClass) Functions() ([]FunctionRef, error) {
	return c.functions.get(func() ([]FunctionRef, error) {
		var out []FunctionRef
		for _, m := range c.decl.methods {
			s := &syntaxScope{prog: c.prog, pkg: c.decl.pkg, file: m.file}
			s = s.withTypeParams(receiverTypeParams(m.decl.Recv.List[0].Type)...)
			out = append(out, &syntaxFunction{
				class: c,
				scope: s,
				name:  m.decl.Name.Name,
				ftype: m.decl.Type,
				docs:  []*ast.CommentGroup{m.decl.Doc},
				pos:   m.decl.Name.Pos(),
			})
		}
		expr, s := c.underlying()
		if it, ok := expr.(*ast.InterfaceType); ok {
			for _, f := range it.Methods.List {
				ft, isFunc := f.Type.(*ast.FuncType)
				if !isFunc {
					continue
				}
				for _, n := range f.Names {
					out = append(out, &syntaxFunction{
						class:    c,
						scope:    s,
						name:     n.Name,
						ftype:    ft,
						docs:     []*ast.CommentGroup{f.Doc, f.Comment},
						pos:      n.Pos(),
						abstract: true,
					})
				}
			}
		}
		slices.SortStableFunc(out, func(a, b FunctionRef) int { return cmp.Compare(a.Name(), b.Name()) })
		return out, nil
	})
}

func (c *syntaxClass) Properties() ([]PropertyRef, error) {
	return c.properties.get(func() ([]PropertyRef, error) {
		expr, s := c.underlying()
		st, ok := expr.(*ast.StructType)
		if !ok {
			return nil, nil
		}
		var out []PropertyRef
		for _, f := range st.Fields.List {
			if len(f.Names) == 0 {
				name := embeddedName(f.Type)
				if name == "" {
					return nil, refError(c, "unsupported embedded field %s", types.ExprString(f.Type))
				}
				out = append(out, &syntaxProperty{class: c, scope: s, field: f, name: name, pos: f.Type.Pos(), embedded: true})
				continue
			}
			for _, n := range f.Names {
				out = append(out, &syntaxProperty{class: c, scope: s, field: f, name: n.Name, pos: n.Pos()})
			}
		}
		return out, nil
	})
}

func (c *syntaxClass) Annotations() []AnnotationRef {
	return c.annotations.must(func() []AnnotationRef {
		anns := c.prog.directiveAnnotations(c, Syntactic, "", c.decl.docs, c.scope().resolveValue)
		return append(anns, c.prog.attachedAnnotations(c)...)
	})
}

func (c *syntaxClass) IsAnnotatedWith(name fqname.FqName) bool {
	return isAnnotatedWith(c.Annotations(), name)
}

type syntaxFunction struct {
	class    *syntaxClass
	scope    *syntaxScope
	name     string
	ftype    *ast.FuncType
	docs     []*ast.CommentGroup
	pos      token.Pos
	abstract bool

	annotations lazy[[]AnnotationRef]
	params      lazy[[]ParameterRef]
	results     lazy[[]TypeRef]
}

func (f *syntaxFunction) functionRef() {}

func (f *syntaxFunction) FqName() fqname.FqName    { return f.class.fq.Nested(f.name) }
func (f *syntaxFunction) Name() string             { return f.name }
func (f *syntaxFunction) DeclaringClass() ClassRef { return f.class }
func (f *syntaxFunction) IsAbstract() bool         { return f.abstract }
func (f *syntaxFunction) String() string           { return f.FqName().String() }
func (f *syntaxFunction) Pos() token.Position      { return f.class.prog.position(f.pos) }

func (f *syntaxFunction) Visibility() Visibility {
	return memberVisibility(f.class.fq, f.name)
}

func (f *syntaxFunction) Annotations() []AnnotationRef {
	return f.annotations.must(func() []AnnotationRef {
		return f.class.prog.directiveAnnotations(f.class, Syntactic, TargetMethod, f.docs, f.scope.resolveValue)
	})
}

func (f *syntaxFunction) Parameters() ([]ParameterRef, error) {
	return f.params.get(func() ([]ParameterRef, error) {
		var out []ParameterRef
		for _, fld := range fieldList(f.ftype.Params) {
			_, variadic := fld.Type.(*ast.Ellipsis)
			names := fieldNamesOrBlank(fld)
			for _, n := range names {
				out = append(out, &syntaxParam{fn: f, name: n, typ: &syntaxType{scope: f.scope, expr: fld.Type}, variadic: variadic})
			}
		}
		return out, nil
	})
}

func (f *syntaxFunction) Results() ([]TypeRef, error) {
	return f.results.get(func() ([]TypeRef, error) {
		var out []TypeRef
		for _, fld := range fieldList(f.ftype.Results) {
			for range fieldNamesOrBlank(fld) {
				out = append(out, &syntaxType{scope: f.scope, expr: fld.Type})
			}
		}
		return out, nil
	})
}

func (f *syntaxFunction) ReturnTypeOrNil() TypeRef {
	rs, err := f.Results()
	if err != nil || len(rs) == 0 {
		return nil
	}
	return rs[0]
}

type syntaxParam struct {
	fn       *syntaxFunction
	name     string
	typ      *syntaxType
	variadic bool
}

func (p *syntaxParam) parameterRef() {}

func (p *syntaxParam) Name() string                   { return p.name }
func (p *syntaxParam) Type() (TypeRef, error)         { return p.typ, nil }
func (p *syntaxParam) IsVariadic() bool               { return p.variadic }
func (p *syntaxParam) DeclaringFunction() FunctionRef { return p.fn }

type syntaxProperty struct {
	class    *syntaxClass
	scope    *syntaxScope
	field    *ast.Field
	name     string
	pos      token.Pos
	embedded bool

	annotations lazy[[]AnnotationRef]
}

func (p *syntaxProperty) propertyRef() {}

func (p *syntaxProperty) FqName() fqname.FqName    { return p.class.fq.Nested(p.name) }
func (p *syntaxProperty) Name() string             { return p.name }
func (p *syntaxProperty) DeclaringClass() ClassRef { return p.class }
func (p *syntaxProperty) IsEmbedded() bool         { return p.embedded }
func (p *syntaxProperty) String() string           { return p.FqName().String() }
func (p *syntaxProperty) Pos() token.Position      { return p.class.prog.position(p.pos) }
func (p *syntaxProperty) Type() (TypeRef, error)   { return p.TypeOrNil(), nil }

func (p *syntaxProperty) Visibility() Visibility {
	return memberVisibility(p.class.fq, p.name)
}

func (p *syntaxProperty) TypeOrNil() TypeRef {
	return &syntaxType{scope: p.scope, expr: p.field.Type}
}

func (p *syntaxProperty) Tag() string {
	if p.field.Tag == nil {
		return ""
	}
	tag, err := strconv.Unquote(p.field.Tag.Value)
	if err != nil {
		return ""
	}
	return tag
}

func (p *syntaxProperty) Annotations() []AnnotationRef {
	return p.annotations.must(func() []AnnotationRef {
		docs := []*ast.CommentGroup{p.field.Doc, p.field.Comment}
		return p.class.prog.directiveAnnotations(p.class, Syntactic, TargetField, docs, p.scope.resolveValue)
	})
}

type syntaxType struct {
	scope *syntaxScope
	expr  ast.Expr
	class lazy[ClassRef]
}

func (t *syntaxType) typeRef() {}

func (t *syntaxType) Backing() Backing { return Syntactic }
func (t *syntaxType) String() string   { return types.ExprString(t.expr) }

// base strips parentheses and one pointer indirection.
func (t *syntaxType) base() ast.Expr {
	e := ast.Unparen(t.expr)
	if star, ok := e.(*ast.StarExpr); ok {
		return ast.Unparen(star.X)
	}
	return e
}

func (t *syntaxType) IsNullable() bool {
	_, ok := ast.Unparen(t.expr).(*ast.StarExpr)
	return ok
}

func (t *syntaxType) IsGenericType() bool {
	id, ok := t.base().(*ast.Ident)
	return ok && t.scope.typeParams[id.Name]
}

func (t *syntaxType) IsGenericClass() bool {
	switch t.base().(type) {
	case *ast.IndexExpr, *ast.IndexListExpr:
		return true
	}
	return false
}

func (t *syntaxType) Class() ClassRef {
	return t.class.must(func() ClassRef {
		e := t.base()
		switch x := e.(type) {
		case *ast.IndexExpr:
			e = x.X
		case *ast.IndexListExpr:
			e = x.X
		}
		switch x := e.(type) {
		case *ast.Ident:
			if t.scope.typeParams[x.Name] {
				return nil
			}
		case *ast.SelectorExpr:
		default:
			return nil
		}
		c, err := t.scope.resolveClass(e)
		if err != nil {
			var re *ResolutionError
			if !errors.As(err, &re) {
				t.scope.prog.log.WithError(err).Debug("unresolved type reference")
			}
			return nil
		}
		return c
	})
}

func (t *syntaxType) Arguments() []TypeRef {
	var exprs []ast.Expr
	switch x := t.base().(type) {
	case *ast.IndexExpr:
		exprs = []ast.Expr{x.Index}
	case *ast.IndexListExpr:
		exprs = x.Indices
	case *ast.ArrayType:
		exprs = []ast.Expr{x.Elt}
	case *ast.MapType:
		exprs = []ast.Expr{x.Key, x.Value}
	case *ast.ChanType:
		exprs = []ast.Expr{x.Value}
	case *ast.Ellipsis:
		exprs = []ast.Expr{x.Elt}
	}
	out := make([]TypeRef, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, &syntaxType{scope: t.scope, expr: e})
	}
	return out
}

type syntaxTypeParam struct {
	name   string
	bounds []TypeRef
}

func (p *syntaxTypeParam) typeParameterRef() {}

func (p *syntaxTypeParam) Name() string            { return p.name }
func (p *syntaxTypeParam) UpperBounds() []TypeRef { return p.bounds }
func (p *syntaxTypeParam) String() string          { return p.name }

type syntaxAnnotation struct{ *annotationCore }

func (*syntaxAnnotation) annotationRef() {}

func isTypeSetTerm(e ast.Expr) bool {
	switch x := ast.Unparen(e).(type) {
	case *ast.BinaryExpr:
		return x.Op == token.OR
	case *ast.UnaryExpr:
		return x.Op == token.TILDE
	}
	return false
}

func embeddedName(e ast.Expr) string {
	switch x := ast.Unparen(e).(type) {
	case *ast.StarExpr:
		return embeddedName(x.X)
	case *ast.Ident:
		return x.Name
	case *ast.SelectorExpr:
		return x.Sel.Name
	case *ast.IndexExpr:
		return embeddedName(x.X)
	case *ast.IndexListExpr:
		return embeddedName(x.X)
	}
	return ""
}

func fieldList(fl *ast.FieldList) []*ast.Field {
	if fl == nil {
		return nil
	}
	return fl.List
}

func fieldNames(fl *ast.FieldList) []string {
	var out []string
	for _, f := range fieldList(fl) {
		for _, n := range f.Names {
			out = append(out, n.Name)
		}
	}
	return out
}

func fieldNamesOrBlank(f *ast.Field) []string {
	if len(f.Names) == 0 {
		return []string{""}
	}
	out := make([]string, len(f.Names))
	for i, n := range f.Names {
		out[i] = n.Name
	}
	return out
}

// receiverTypeParams returns the type parameter names a method receiver
// declares, as in func (b *Box[T]) Get() T.
func receiverTypeParams(recv ast.Expr) []string {
	e := ast.Unparen(recv)
	if star, ok := e.(*ast.StarExpr); ok {
		e = ast.Unparen(star.X)
	}
	var idx []ast.Expr
	switch x := e.(type) {
	case *ast.IndexExpr:
		idx = []ast.Expr{x.Index}
	case *ast.IndexListExpr:
		idx = x.Indices
	}
	var out []string
	for _, i := range idx {
		if id, ok := i.(*ast.Ident); ok {
			out = append(out, id.Name)
		}
	}
	return out
}

func importPath(imp *ast.ImportSpec) string {
	path, err := strconv.Unquote(imp.Path.Value)
	if err != nil {
		return imp.Path.Value
	}
	return path
}
