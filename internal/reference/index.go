package reference

import (
	"go/ast"
	"go/token"
	"go/types"
)

// typeDecl is the syntax of one named type declaration. Nested
// declarations are types declared inside a method body of their outer
// declaration.
type typeDecl struct {
	pkg     *Package
	file    *ast.File
	spec    *ast.TypeSpec
	docs    []*ast.CommentGroup
	name    string
	outer   *typeDecl
	inner   []*typeDecl
	methods []methodDecl
}

type methodDecl struct {
	file *ast.File
	decl *ast.FuncDecl
}

// aliasDecl is a top-level alias declaration, type A = B.
type aliasDecl struct {
	file *ast.File
	spec *ast.TypeSpec
}

type constDecl struct {
	file *ast.File
	name string
	typ  ast.Expr
}

// declIndex indexes the declarations of one package's syntax.
type declIndex struct {
	types    map[string]*typeDecl
	topLevel []*typeDecl
	consts   map[string]*constDecl
	aliases  map[string]*aliasDecl
	objs     map[*typeDecl]*types.TypeName
	byObj    map[*types.TypeName]*typeDecl
}

func buildIndex(pkg *Package) *declIndex {
	idx := &declIndex{
		types:   make(map[string]*typeDecl),
		consts:  make(map[string]*constDecl),
		aliases: make(map[string]*aliasDecl),
		objs:    make(map[*typeDecl]*types.TypeName),
		byObj:   make(map[*types.TypeName]*typeDecl),
	}

	for _, f := range pkg.Files {
		for _, decl := range f.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok {
				continue
			}
			switch gd.Tok {
			case token.TYPE:
				for _, d := range typeDecls(pkg, f, gd, "", nil) {
					if _, dup := idx.types[d.name]; dup {
						continue
					}
					idx.types[d.name] = d
					idx.topLevel = append(idx.topLevel, d)
				}
				idx.addAliases(f, gd)
			case token.CONST:
				idx.addConsts(f, gd)
			}
		}
	}

	for _, f := range pkg.Files {
		for _, decl := range f.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv == nil || len(fd.Recv.List) == 0 {
				continue
			}
			owner := idx.types[receiverBase(fd.Recv.List[0].Type)]
			if owner == nil {
				continue
			}
			owner.methods = append(owner.methods, methodDecl{file: f, decl: fd})
			if fd.Body != nil {
				idx.addNested(pkg, f, owner, fd.Body)
			}
		}
	}

	if pkg.Info != nil {
		for _, d := range idx.types {
			if obj, ok := pkg.Info.Defs[d.spec.Name].(*types.TypeName); ok {
				idx.objs[d] = obj
				idx.byObj[obj] = d
			}
		}
	}
	return idx
}

func (idx *declIndex) addNested(pkg *Package, f *ast.File, owner *typeDecl, body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		ds, ok := n.(*ast.DeclStmt)
		if !ok {
			return true
		}
		gd, ok := ds.Decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			return false
		}
		for _, d := range typeDecls(pkg, f, gd, owner.name+".", owner) {
			if _, dup := idx.types[d.name]; dup {
				continue
			}
			idx.types[d.name] = d
			owner.inner = append(owner.inner, d)
		}
		return false
	})
}

func (idx *declIndex) addAliases(f *ast.File, gd *ast.GenDecl) {
	for _, spec := range gd.Specs {
		ts, ok := spec.(*ast.TypeSpec)
		if !ok || !ts.Assign.IsValid() {
			continue
		}
		if _, dup := idx.aliases[ts.Name.Name]; !dup {
			idx.aliases[ts.Name.Name] = &aliasDecl{file: f, spec: ts}
		}
	}
}

// addConsts records constants with their explicit or inherited type.
func (idx *declIndex) addConsts(f *ast.File, gd *ast.GenDecl) {
	var typ ast.Expr
	for _, spec := range gd.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		switch {
		case vs.Type != nil:
			typ = vs.Type
		case len(vs.Values) > 0:
			typ = nil
		}
		for _, n := range vs.Names {
			if n.Name == "_" {
				continue
			}
			idx.consts[n.Name] = &constDecl{file: f, name: n.Name, typ: typ}
		}
	}
}

func typeDecls(pkg *Package, f *ast.File, gd *ast.GenDecl, prefix string, outer *typeDecl) []*typeDecl {
	var out []*typeDecl
	for _, spec := range gd.Specs {
		ts, ok := spec.(*ast.TypeSpec)
		if !ok || ts.Assign.IsValid() {
			continue
		}
		docs := []*ast.CommentGroup{ts.Doc}
		if !gd.Lparen.IsValid() {
			docs = append(docs, gd.Doc)
		}
		out = append(out, &typeDecl{
			pkg:   pkg,
			file:  f,
			spec:  ts,
			docs:  docs,
			name:  prefix + ts.Name.Name,
			outer: outer,
		})
	}
	return out
}

// receiverBase returns the type name of a method receiver expression.
func receiverBase(expr ast.Expr) string {
	for {
		switch x := expr.(type) {
		case *ast.StarExpr:
			expr = x.X
		case *ast.ParenExpr:
			expr = x.X
		case *ast.IndexExpr:
			expr = x.X
		case *ast.IndexListExpr:
			expr = x.X
		case *ast.Ident:
			return x.Name
		default:
			return ""
		}
	}
}

// methodNamed finds a concrete method or interface method by name and
// returns its comments and the file declaring it.
func (d *typeDecl) methodNamed(name string) ([]*ast.CommentGroup, *ast.File, bool) {
	for _, m := range d.methods {
		if m.decl.Name.Name == name {
			return []*ast.CommentGroup{m.decl.Doc}, m.file, true
		}
	}
	if it, isIface := ast.Unparen(d.spec.Type).(*ast.InterfaceType); isIface && it.Methods != nil {
		for _, f := range it.Methods.List {
			for _, n := range f.Names {
				if n.Name == name {
					return []*ast.CommentGroup{f.Doc, f.Comment}, d.file, true
				}
			}
		}
	}
	return nil, nil, false
}

// fieldDocs returns the comment groups of the struct field at flattened
// index i.
func (d *typeDecl) fieldDocs(i int) []*ast.CommentGroup {
	st, ok := ast.Unparen(d.spec.Type).(*ast.StructType)
	if !ok || st.Fields == nil {
		return nil
	}
	n := 0
	for _, f := range st.Fields.List {
		count := len(f.Names)
		if count == 0 {
			count = 1
		}
		if i < n+count {
			return []*ast.CommentGroup{f.Doc, f.Comment}
		}
		n += count
	}
	return nil
}
