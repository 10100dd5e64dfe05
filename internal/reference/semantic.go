package reference

import (
	"cmp"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"reflect"
	"slices"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// typesClass is the go/types view of a declaration shared by the Semantic
// and Lowered backings. self is the sealed reference wrapping it.
type typesClass struct {
	prog    *Program
	obj     *types.TypeName
	fq      fqname.FqName
	backing Backing
	decl    *typeDecl
	self    ClassRef

	annotations lazy[[]AnnotationRef]
	supertypes  lazy[[]TypeRef]
	typeParams  lazy[[]TypeParameterRef]
	functions   lazy[[]FunctionRef]
	properties  lazy[[]PropertyRef]
}

// objectClass returns the reference to obj in backing b.
func (p *Program) objectClass(obj *types.TypeName, b Backing) (ClassRef, error) {
	if obj.IsAlias() {
		named, ok := types.Unalias(obj.Type()).(*types.Named)
		if !ok {
			return nil, &ResolutionError{FqName: fqname.New(pkgPathOf(obj), obj.Name()), Backing: b, Reason: "alias of an unnamed type"}
		}
		obj = named.Obj()
	}
	fq, ok := p.objectFqName(obj)
	if !ok {
		return nil, &ResolutionError{FqName: fqname.New(pkgPathOf(obj), obj.Name()), Backing: b, Reason: "not a package-level or nested declaration"}
	}
	switch b {
	case Semantic:
		return p.cached(cacheKey{backing: b, symbol: obj}, func() ClassRef {
			c := &semanticClass{}
			c.typesClass = p.newTypesClass(obj, fq, b, c)
			return c
		}), nil
	case Lowered:
		member, err := p.ssaMember(obj, fq)
		if err != nil {
			return nil, err
		}
		return p.cached(cacheKey{backing: b, symbol: obj}, func() ClassRef {
			c := &loweredClass{member: member}
			c.typesClass = p.newTypesClass(obj, fq, b, c)
			return c
		}), nil
	}
	return nil, &ResolutionError{FqName: fq, Backing: b, Reason: "not a types backing"}
}

func (p *Program) newTypesClass(obj *types.TypeName, fq fqname.FqName, b Backing, self ClassRef) *typesClass {
	return &typesClass{prog: p, obj: obj, fq: fq, backing: b, decl: p.declOf(obj), self: self}
}

func pkgPathOf(obj types.Object) string {
	if obj.Pkg() == nil {
		return ""
	}
	return obj.Pkg().Path()
}

func (c *typesClass) FqName() fqname.FqName  { return c.fq }
func (c *typesClass) ShortName() string      { return c.fq.ShortName() }
func (c *typesClass) Backing() Backing       { return c.backing }
func (c *typesClass) Program() *Program      { return c.prog }
func (c *typesClass) String() string         { return c.fq.String() }
func (c *typesClass) Visibility() Visibility { return classVisibility(c.fq) }
func (c *typesClass) Pos() token.Position    { return c.prog.position(c.obj.Pos()) }

// Object returns the type-checked object.
func (c *typesClass) Object() *types.TypeName { return c.obj }

func (c *typesClass) named() *types.Named {
	n, _ := c.obj.Type().(*types.Named)
	return n
}

func (c *typesClass) IsInterface() bool {
	return types.IsInterface(c.obj.Type())
}

func (c *typesClass) IsObject() bool {
	st, ok := c.obj.Type().Underlying().(*types.Struct)
	return ok && st.NumFields() == 0
}

func (c *typesClass) IsAnnotationClass() bool {
	return c.IsAnnotatedWith(AnnotationClassMarker)
}

func (c *typesClass) IsGeneric() bool {
	n := c.named()
	return n != nil && n.TypeParams().Len() > 0
}

func (c *typesClass) EnclosingClass() ClassRef {
	if c.decl == nil || c.decl.outer == nil {
		return nil
	}
	obj := c.decl.pkg.index.objs[c.decl.outer]
	if obj == nil {
		return nil
	}
	outer, err := c.prog.objectClass(obj, c.backing)
	if err != nil {
		return nil
	}
	return outer
}

func (c *typesClass) EnclosingClassesWithSelf() []ClassRef { return enclosingWithSelf(c.self) }

func (c *typesClass) InnerClasses() []ClassRef {
	if c.decl == nil {
		return nil
	}
	var out []ClassRef
	for _, d := range c.decl.inner {
		obj := c.decl.pkg.index.objs[d]
		if obj == nil {
			continue
		}
		if inner, err := c.prog.objectClass(obj, c.backing); err == nil {
			out = append(out, inner)
		}
	}
	return out
}

func (c *typesClass) CompanionObjects() []ClassRef { return nil }

func (c *typesClass) typeRef(t types.Type) TypeRef {
	return &semanticType{prog: c.prog, t: t, backing: c.backing, rel: c.obj.Pkg()}
}

func (c *typesClass) DirectSupertypes() ([]TypeRef, error) {
	return c.supertypes.get(func() ([]TypeRef, error) {
		var out []TypeRef
		switch u := c.obj.Type().Underlying().(type) {
		case *types.Struct:
			for i := range u.NumFields() {
				if f := u.Field(i); f.Embedded() {
					out = append(out, c.typeRef(f.Type()))
				}
			}
		case *types.Interface:
			for i := range u.NumEmbeddeds() {
				t := u.EmbeddedType(i)
				if _, isUnion := t.(*types.Union); isUnion {
					continue
				}
				out = append(out, c.typeRef(t))
			}
		}
		return out, nil
	})
}

func (c *typesClass) AllSupertypes() ([]ClassRef, error) { return allSupertypes(c.self) }

func (c *typesClass) TypeParameters() ([]TypeParameterRef, error) {
	return c.typeParams.get(func() ([]TypeParameterRef, error) {
		n := c.named()
		if n == nil {
			return nil, nil
		}
		var out []TypeParameterRef
		for i := range n.TypeParams().Len() {
			tp := n.TypeParams().At(i)
			out = append(out, &typesTypeParam{name: tp.Obj().Name(), bounds: c.bounds(tp.Constraint())})
		}
		return out, nil
	})
}

func (c *typesClass) bounds(constraint types.Type) []TypeRef {
	iface, ok := types.Unalias(constraint).(*types.Interface)
	if !ok {
		return []TypeRef{c.typeRef(constraint)}
	}
	var out []TypeRef
	for i := range iface.NumEmbeddeds() {
		out = append(out, c.typeRef(iface.EmbeddedType(i)))
	}
	return out
}

func (c *typesClass) Functions() ([]FunctionRef, error) {
	return c.functions.get(func() ([]FunctionRef, error) {
		var out []FunctionRef
		if iface, ok := c.obj.Type().Underlying().(*types.Interface); ok {
			for i := range iface.NumExplicitMethods() {
				out = append(out, c.function(iface.ExplicitMethod(i), true))
			}
		} else if n := c.named(); n != nil {
			for i := range n.NumMethods() {
				out = append(out, c.function(n.Method(i), false))
			}
		}
		slices.SortStableFunc(out, func(a, b FunctionRef) int { return cmp.Compare(a.Name(), b.Name()) })
		return out, nil
	})
}

func (c *typesClass) function(m *types.Func, abstract bool) FunctionRef {
	if c.backing == Lowered {
		f := &loweredFunction{}
		f.class, f.obj, f.abstract, f.self = c, m, abstract, f
		if !abstract {
			f.fn = c.prog.ssaProgram().FuncValue(m)
		}
		return f
	}
	f := &semanticFunction{}
	f.class, f.obj, f.abstract, f.self = c, m, abstract, f
	return f
}

func (c *typesClass) Properties() ([]PropertyRef, error) {
	return c.properties.get(func() ([]PropertyRef, error) {
		st, ok := c.obj.Type().Underlying().(*types.Struct)
		if !ok {
			return nil, nil
		}
		out := make([]PropertyRef, 0, st.NumFields())
		for i := range st.NumFields() {
			p := &typesProperty{class: c, v: st.Field(i), index: i, tag: st.Tag(i)}
			if c.backing == Lowered {
				out = append(out, &loweredProperty{p})
			} else {
				out = append(out, &semanticProperty{p})
			}
		}
		return out, nil
	})
}

func (c *typesClass) Annotations() []AnnotationRef {
	return c.annotations.must(func() []AnnotationRef {
		var anns []AnnotationRef
		switch {
		case c.decl != nil:
			s := c.scope(c.decl.file)
			anns = c.prog.directiveAnnotations(c.self, c.backing, "", c.decl.docs, s.resolveValue)
		case c.prog.metadata != nil:
			if mds, ok := c.prog.metadata.AnnotationMetadata(c.fq); ok {
				anns = c.prog.metadataAnnotations(c.self, c.backing, mds)
			}
		}
		return append(anns, c.prog.attachedAnnotations(c.self)...)
	})
}

func (c *typesClass) IsAnnotatedWith(name fqname.FqName) bool {
	return isAnnotatedWith(c.Annotations(), name)
}

func (c *typesClass) scope(file *ast.File) *typesScope {
	return &typesScope{prog: c.prog, pkg: c.decl.pkg, file: file, backing: c.backing}
}

type semanticClass struct{ *typesClass }

func (*semanticClass) classRef() {}

// typesScope resolves names through the type checker's file scope.
type typesScope struct {
	prog    *Program
	pkg     *Package
	file    *ast.File
	backing Backing
}

func (s *typesScope) lookup(expr ast.Expr) (types.Object, error) {
	if s.pkg.Info == nil {
		return nil, fmt.Errorf("package %s was loaded without type information", s.pkg.Path)
	}
	fileScope := s.pkg.Info.Scopes[s.file]
	if fileScope == nil {
		return nil, fmt.Errorf("no file scope for %s", s.prog.position(s.file.Pos()).Filename)
	}
	switch x := expr.(type) {
	case *ast.Ident:
		_, obj := fileScope.LookupParent(x.Name, token.NoPos)
		if obj == nil {
			return nil, &ResolutionError{FqName: fqname.New(s.pkg.Path, x.Name), Backing: s.backing, Reason: "undeclared name"}
		}
		return obj, nil
	case *ast.SelectorExpr:
		qual, ok := x.X.(*ast.Ident)
		if !ok {
			return nil, fmt.Errorf("unsupported selector %s", types.ExprString(x))
		}
		var imported *types.Package
		if _, obj := fileScope.LookupParent(qual.Name, token.NoPos); obj != nil {
			pn, isPkg := obj.(*types.PkgName)
			if !isPkg {
				return nil, fmt.Errorf("%s is not a package", qual.Name)
			}
			imported = pn.Imported()
		} else {
			pkg, err := s.prog.uniquePackageNamed(qual.Name, s.backing)
			if err != nil {
				return nil, err
			}
			if pkg.Types == nil {
				return nil, &ResolutionError{FqName: fqname.New(pkg.Path, x.Sel.Name), Backing: s.backing, Reason: "package has no type information"}
			}
			imported = pkg.Types
		}
		obj := imported.Scope().Lookup(x.Sel.Name)
		if obj == nil {
			return nil, &ResolutionError{FqName: fqname.New(imported.Path(), x.Sel.Name), Backing: s.backing, Reason: "no such declaration"}
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unsupported expression %s", types.ExprString(expr))
}

func (s *typesScope) resolveValue(expr ast.Expr) (Value, error) {
	obj, err := s.lookup(expr)
	if err != nil {
		return Value{}, err
	}
	switch o := obj.(type) {
	case *types.TypeName:
		c, err := s.prog.objectClass(o, s.backing)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueClass, Class: c}, nil
	case *types.Const:
		entry := EnumEntry{Name: o.Name(), FqName: fqname.New(pkgPathOf(o), o.Name())}
		if named, ok := o.Type().(*types.Named); ok && named.Obj().Pkg() != nil {
			enum, err := s.prog.objectClass(named.Obj(), s.backing)
			if err != nil {
				return Value{}, err
			}
			entry.Enum = enum
		}
		return Value{Kind: ValueEnumEntry, Enum: entry}, nil
	}
	return Value{}, fmt.Errorf("%s is not a type or constant", types.ExprString(expr))
}

// typesFunction is the go/types view of a method shared by the Semantic and
// Lowered backings.
type typesFunction struct {
	class    *typesClass
	obj      *types.Func
	abstract bool
	self     FunctionRef

	annotations lazy[[]AnnotationRef]
	params      lazy[[]ParameterRef]
	results     lazy[[]TypeRef]
}

func (f *typesFunction) FqName() fqname.FqName    { return f.class.fq.Nested(f.obj.Name()) }
func (f *typesFunction) Name() string             { return f.obj.Name() }
func (f *typesFunction) DeclaringClass() ClassRef { return f.class.self }
func (f *typesFunction) IsAbstract() bool         { return f.abstract }
func (f *typesFunction) String() string           { return f.FqName().String() }
func (f *typesFunction) Pos() token.Position      { return f.class.prog.position(f.obj.Pos()) }

// Object returns the type-checked method.
func (f *typesFunction) Object() *types.Func { return f.obj }

func (f *typesFunction) Visibility() Visibility {
	return memberVisibility(f.class.fq, f.obj.Name())
}

func (f *typesFunction) signature() *types.Signature {
	return f.obj.Type().(*types.Signature)
}

func (f *typesFunction) Annotations() []AnnotationRef {
	return f.annotations.must(func() []AnnotationRef {
		if f.class.decl == nil {
			return nil
		}
		docs, file, ok := f.class.decl.methodNamed(f.obj.Name())
		if !ok {
			return nil
		}
		s := f.class.scope(file)
		return f.class.prog.directiveAnnotations(f.class.self, f.class.backing, TargetMethod, docs, s.resolveValue)
	})
}

func (f *typesFunction) Parameters() ([]ParameterRef, error) {
	return f.params.get(func() ([]ParameterRef, error) {
		sig := f.signature()
		out := make([]ParameterRef, 0, sig.Params().Len())
		for i := range sig.Params().Len() {
			v := sig.Params().At(i)
			variadic := sig.Variadic() && i == sig.Params().Len()-1
			out = append(out, &typesParam{fn: f.self, v: v, typ: f.class.typeRef(v.Type()), variadic: variadic})
		}
		return out, nil
	})
}

func (f *typesFunction) Results() ([]TypeRef, error) {
	return f.results.get(func() ([]TypeRef, error) {
		sig := f.signature()
		out := make([]TypeRef, 0, sig.Results().Len())
		for i := range sig.Results().Len() {
			out = append(out, f.class.typeRef(sig.Results().At(i).Type()))
		}
		return out, nil
	})
}

func (f *typesFunction) ReturnTypeOrNil() TypeRef {
	rs, err := f.Results()
	if err != nil || len(rs) == 0 {
		return nil
	}
	return rs[0]
}

type semanticFunction struct{ typesFunction }

func (*semanticFunction) functionRef() {}

type typesParam struct {
	fn       FunctionRef
	v        *types.Var
	typ      TypeRef
	variadic bool
}

func (p *typesParam) parameterRef() {}

func (p *typesParam) Name() string                   { return p.v.Name() }
func (p *typesParam) Type() (TypeRef, error)         { return p.typ, nil }
func (p *typesParam) IsVariadic() bool               { return p.variadic }
func (p *typesParam) DeclaringFunction() FunctionRef { return p.fn }

// typesProperty is a struct field shared by the Semantic and Lowered
// backings.
type typesProperty struct {
	class *typesClass
	v     *types.Var
	index int
	tag   string

	annotations lazy[[]AnnotationRef]
}

func (p *typesProperty) FqName() fqname.FqName    { return p.class.fq.Nested(p.v.Name()) }
func (p *typesProperty) Name() string             { return p.v.Name() }
func (p *typesProperty) DeclaringClass() ClassRef { return p.class.self }
func (p *typesProperty) IsEmbedded() bool         { return p.v.Embedded() }
func (p *typesProperty) String() string           { return p.FqName().String() }
func (p *typesProperty) Pos() token.Position      { return p.class.prog.position(p.v.Pos()) }
func (p *typesProperty) Tag() string              { return p.tag }
func (p *typesProperty) Type() (TypeRef, error)   { return p.TypeOrNil(), nil }
func (p *typesProperty) TypeOrNil() TypeRef       { return p.class.typeRef(p.v.Type()) }

// Lookup returns the value of key in the field's struct tag.
func (p *typesProperty) Lookup(key string) (string, bool) {
	return reflect.StructTag(p.tag).Lookup(key)
}

func (p *typesProperty) Visibility() Visibility {
	return memberVisibility(p.class.fq, p.v.Name())
}

func (p *typesProperty) Annotations() []AnnotationRef {
	return p.annotations.must(func() []AnnotationRef {
		if p.class.decl == nil {
			return nil
		}
		s := p.class.scope(p.class.decl.file)
		return p.class.prog.directiveAnnotations(p.class.self, p.class.backing, TargetField, p.class.decl.fieldDocs(p.index), s.resolveValue)
	})
}

type semanticProperty struct{ *typesProperty }

func (*semanticProperty) propertyRef() {}

// semanticType is a type usage in the Semantic or Lowered backing.
type semanticType struct {
	prog    *Program
	t       types.Type
	backing Backing
	rel     *types.Package
	class   lazy[ClassRef]
}

func (t *semanticType) typeRef() {}

func (t *semanticType) Backing() Backing { return t.backing }

// Type returns the underlying go/types type.
func (t *semanticType) Type() types.Type { return t.t }

func (t *semanticType) String() string {
	return types.TypeString(t.t, func(p *types.Package) string {
		if p == t.rel {
			return ""
		}
		return p.Name()
	})
}

func (t *semanticType) base() types.Type {
	u := types.Unalias(t.t)
	if ptr, ok := u.(*types.Pointer); ok {
		return types.Unalias(ptr.Elem())
	}
	return u
}

func (t *semanticType) IsNullable() bool {
	_, ok := types.Unalias(t.t).(*types.Pointer)
	return ok
}

func (t *semanticType) IsGenericType() bool {
	_, ok := t.base().(*types.TypeParam)
	return ok
}

func (t *semanticType) IsGenericClass() bool {
	n, ok := t.base().(*types.Named)
	return ok && n.TypeArgs().Len() > 0
}

func (t *semanticType) Class() ClassRef {
	return t.class.must(func() ClassRef {
		n, ok := t.base().(*types.Named)
		if !ok || n.Obj().Pkg() == nil {
			return nil
		}
		c, err := t.prog.objectClass(n.Origin().Obj(), t.backing)
		if err != nil {
			return nil
		}
		return c
	})
}

func (t *semanticType) Arguments() []TypeRef {
	var args []types.Type
	switch x := t.base().(type) {
	case *types.Named:
		for i := range x.TypeArgs().Len() {
			args = append(args, x.TypeArgs().At(i))
		}
	case *types.Slice:
		args = []types.Type{x.Elem()}
	case *types.Array:
		args = []types.Type{x.Elem()}
	case *types.Map:
		args = []types.Type{x.Key(), x.Elem()}
	case *types.Chan:
		args = []types.Type{x.Elem()}
	}
	out := make([]TypeRef, 0, len(args))
	for _, a := range args {
		out = append(out, &semanticType{prog: t.prog, t: a, backing: t.backing, rel: t.rel})
	}
	return out
}

type typesTypeParam struct {
	name   string
	bounds []TypeRef
}

func (p *typesTypeParam) typeParameterRef() {}

func (p *typesTypeParam) Name() string            { return p.name }
func (p *typesTypeParam) UpperBounds() []TypeRef { return p.bounds }
func (p *typesTypeParam) String() string          { return p.name }

type semanticAnnotation struct{ *annotationCore }

func (*semanticAnnotation) annotationRef() {}
