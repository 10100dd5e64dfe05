package reference

import (
	"go/ast"
	"go/token"
	"go/types"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ssa"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/parsers"
)

// Package is one loaded Go package. Files and Info may be nil for
// packages known only through export data.
type Package struct {
	Path  string
	Name  string
	Files []*ast.File
	Types *types.Package
	Info  *types.Info

	// Root marks packages of the current compilation unit, as opposed to
	// dependencies.
	Root bool

	index *declIndex
}

// HasSyntax reports whether the package was loaded from source.
func (p *Package) HasSyntax() bool {
	return len(p.Files) > 0
}

type cacheKey struct {
	backing Backing
	symbol  any
}

// Program is the symbol table shared by all references of one pass. It
// owns the per-(backing, symbol) reference cache and the overlay of
// annotations attached by code emission.
type Program struct {
	fset     *token.FileSet
	packages []*Package
	byPath   map[string]*Package
	parser   *parsers.Parser
	schemas  map[fqname.FqName]*Schema
	metadata MetadataSource
	log      logrus.FieldLogger

	ssaOnce sync.Once
	ssa     *ssa.Program

	mu      sync.Mutex
	cache   map[cacheKey]ClassRef
	overlay map[fqname.FqName][]AnnotationMetadata
}

// Option configures a Program.
type Option func(*Program)

// WithSchemas registers annotation schemas used to name positional
// arguments.
func WithSchemas(schemas ...Schema) Option {
	return func(p *Program) {
		for i := range schemas {
			s := schemas[i]
			p.schemas[s.Name] = &s
		}
	}
}

// WithMetadata sets the source of annotations for packages without syntax.
func WithMetadata(src MetadataSource) Option {
	return func(p *Program) { p.metadata = src }
}

// WithNamespaces sets the directive namespaces read from comments.
func WithNamespaces(namespaces ...string) Option {
	return func(p *Program) { p.parser = parsers.NewParser(namespaces...) }
}

// WithLogger sets the logger for diagnostics that do not fail a query.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Program) { p.log = log }
}

// NewProgram indexes pkgs. Packages reachable through imports but absent
// from pkgs are registered without syntax.
func NewProgram(fset *token.FileSet, pkgs []*Package, opts ...Option) *Program {
	p := &Program{
		fset:     fset,
		packages: pkgs,
		byPath:   make(map[string]*Package, len(pkgs)),
		parser:   parsers.NewParser(),
		schemas:  make(map[fqname.FqName]*Schema),
		log:      logrus.StandardLogger(),
		cache:    make(map[cacheKey]ClassRef),
		overlay:  make(map[fqname.FqName][]AnnotationMetadata),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, pkg := range pkgs {
		if len(pkg.Files) > 0 {
			pkg.index = buildIndex(pkg)
		}
		p.byPath[pkg.Path] = pkg
	}
	for _, pkg := range pkgs {
		if pkg.Types != nil {
			p.registerImports(pkg.Types)
		}
	}
	return p
}

func (p *Program) registerImports(tp *types.Package) {
	for _, imp := range tp.Imports() {
		if _, ok := p.byPath[imp.Path()]; ok {
			continue
		}
		p.byPath[imp.Path()] = &Package{Path: imp.Path(), Name: imp.Name(), Types: imp}
		p.registerImports(imp)
	}
}

// Fset returns the file set positions are relative to.
func (p *Program) Fset() *token.FileSet { return p.fset }

// Packages returns the loaded packages in load order.
func (p *Program) Packages() []*Package { return p.packages }

// Package returns the package with the given import path.
func (p *Program) Package(path string) (*Package, bool) {
	pkg, ok := p.byPath[path]
	return pkg, ok
}

// Schemas returns the registered annotation schemas.
func (p *Program) Schemas() []Schema {
	out := make([]Schema, 0, len(p.schemas))
	for _, s := range p.schemas {
		out = append(out, *s)
	}
	return out
}

// Class returns the declaration named fq in backing b.
func (p *Program) Class(fq fqname.FqName, b Backing) (ClassRef, error) {
	pkg, ok := p.byPath[fq.Pkg]
	if !ok {
		return nil, &ResolutionError{FqName: fq, Backing: b, Reason: "package not loaded"}
	}
	switch b {
	case Syntactic:
		if pkg.index == nil {
			return nil, &ResolutionError{FqName: fq, Backing: b, Reason: "package has no syntax"}
		}
		d := pkg.index.types[fq.Name]
		if d == nil {
			return nil, &ResolutionError{FqName: fq, Backing: b, Reason: "no such declaration"}
		}
		return p.syntaxClass(d), nil
	case Semantic, Lowered:
		obj := p.typeName(pkg, fq.Name)
		if obj == nil {
			return nil, &ResolutionError{FqName: fq, Backing: b, Reason: "no such declaration"}
		}
		return p.objectClass(obj, b)
	}
	return nil, &ResolutionError{FqName: fq, Backing: b, Reason: "unknown backing"}
}

// LookupClass is Class for callers that treat a missing declaration as an
// expected outcome.
func (p *Program) LookupClass(fq fqname.FqName, b Backing) (ClassRef, bool) {
	c, err := p.Class(fq, b)
	if err != nil {
		return nil, false
	}
	return c, true
}

// Classes returns the package-level declarations of the root packages in
// package, file and declaration order.
func (p *Program) Classes(b Backing) []ClassRef {
	var out []ClassRef
	for _, pkg := range p.packages {
		if !pkg.Root || pkg.index == nil {
			continue
		}
		for _, d := range pkg.index.topLevel {
			c, err := p.Class(fqname.New(pkg.Path, d.name), b)
			if err != nil {
				p.log.WithError(err).Debug("skipping declaration")
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// Attach records an annotation emitted for the declaration fq. Cached
// references to fq are evicted so that later queries observe it in every
// backing.
func (p *Program) Attach(fq fqname.FqName, md AnnotationMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.overlay[fq] = append(p.overlay[fq], md)
	for k, ref := range p.cache {
		if ref.FqName() == fq {
			delete(p.cache, k)
		}
	}
}

// Detach removes the annotation most recently attached to fq.
func (p *Program) Detach(fq fqname.FqName) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mds := p.overlay[fq]
	if len(mds) == 0 {
		return
	}
	if len(mds) == 1 {
		delete(p.overlay, fq)
	} else {
		p.overlay[fq] = mds[:len(mds)-1]
	}
	for k, ref := range p.cache {
		if ref.FqName() == fq {
			delete(p.cache, k)
		}
	}
}

// Attached returns the annotations attached to fq.
func (p *Program) Attached(fq fqname.FqName) []AnnotationMetadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AnnotationMetadata(nil), p.overlay[fq]...)
}

// ResetCache drops every cached reference. Called when a pass completes.
func (p *Program) ResetCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.cache)
}

func (p *Program) cached(key cacheKey, create func() ClassRef) ClassRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref, ok := p.cache[key]; ok {
		return ref
	}
	ref := create()
	p.cache[key] = ref
	return ref
}

func (p *Program) position(pos token.Pos) token.Position {
	return p.fset.Position(pos)
}

func (p *Program) schema(fq fqname.FqName) *Schema {
	return p.schemas[fq]
}

// typeName finds the object of a package-level or nested declaration.
func (p *Program) typeName(pkg *Package, name string) *types.TypeName {
	if pkg.Types == nil {
		return nil
	}
	if !strings.Contains(name, ".") {
		obj, _ := pkg.Types.Scope().Lookup(name).(*types.TypeName)
		if obj == nil || obj.IsAlias() {
			return nil
		}
		return obj
	}
	if pkg.index == nil {
		return nil
	}
	d := pkg.index.types[name]
	if d == nil {
		return nil
	}
	return pkg.index.objs[d]
}

// objectFqName names a type object, or reports false for local types
// that are not nested declarations.
func (p *Program) objectFqName(obj *types.TypeName) (fqname.FqName, bool) {
	if obj.Pkg() == nil {
		return fqname.FqName{}, false
	}
	if obj.Parent() == obj.Pkg().Scope() {
		return fqname.New(obj.Pkg().Path(), obj.Name()), true
	}
	if pkg, ok := p.byPath[obj.Pkg().Path()]; ok && pkg.index != nil {
		if d, ok := pkg.index.byObj[obj]; ok {
			return fqname.New(pkg.Path, d.name), true
		}
	}
	return fqname.FqName{}, false
}

// declOf returns the syntax of a type object, if loaded.
func (p *Program) declOf(obj *types.TypeName) *typeDecl {
	if obj.Pkg() == nil {
		return nil
	}
	pkg, ok := p.byPath[obj.Pkg().Path()]
	if !ok || pkg.index == nil {
		return nil
	}
	return pkg.index.byObj[obj]
}

// ssaProgram creates SSA packages for every loaded package on first use.
// Function bodies are not built: references only need members.
func (p *Program) ssaProgram() *ssa.Program {
	p.ssaOnce.Do(func() {
		prog := ssa.NewProgram(p.fset, 0)
		created := make(map[*types.Package]bool)
		for _, pkg := range p.packages {
			if pkg.Types == nil || created[pkg.Types] {
				continue
			}
			created[pkg.Types] = true
			if len(pkg.Files) > 0 && pkg.Info != nil {
				prog.CreatePackage(pkg.Types, pkg.Files, pkg.Info, true)
			} else {
				prog.CreatePackage(pkg.Types, nil, nil, true)
			}
		}
		for _, pkg := range p.byPath {
			if pkg.Types == nil || created[pkg.Types] {
				continue
			}
			created[pkg.Types] = true
			prog.CreatePackage(pkg.Types, nil, nil, true)
		}
		p.ssa = prog
	})
	return p.ssa
}
