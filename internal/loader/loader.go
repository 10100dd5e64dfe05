// Package loader loads Go packages into a reference.Program.
package loader

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"maps"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/packages"

	"github.com/Benny93/anvil-go/internal/reference"
)

// LoadMode is everything the three backings need.
const LoadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedImports |
	packages.NeedDeps |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedModule

// Config controls Load.
type Config struct {
	// Dir is the directory patterns are resolved in.
	Dir string
	// Patterns are go list package patterns. Defaults to ./...
	Patterns []string
	// Tests includes test packages.
	Tests bool
	// Env overrides the environment of the go command.
	Env []string
	Log logrus.FieldLogger
}

// Load loads the packages matching cfg.Patterns and their dependencies.
// Matched packages are roots; dependencies keep their syntax only when the
// loader produced it.
func Load(ctx context.Context, cfg Config) (*token.FileSet, []*reference.Package, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	fset := token.NewFileSet()
	pcfg := &packages.Config{
		Context: ctx,
		Mode:    LoadMode,
		Dir:     cfg.Dir,
		Env:     cfg.Env,
		Tests:   cfg.Tests,
		Fset:    fset,
		ParseFile: func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
			return parser.ParseFile(fset, filename, src, parser.ParseComments|parser.SkipObjectResolution)
		},
	}
	roots, err := packages.Load(pcfg, patterns...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading packages: %w", err)
	}

	var loadErrs []error
	packages.Visit(roots, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			loadErrs = append(loadErrs, e)
		}
	})
	if len(loadErrs) > 0 {
		return nil, nil, fmt.Errorf("loading packages: %w", errors.Join(loadErrs...))
	}

	isRoot := make(map[*packages.Package]bool, len(roots))
	for _, r := range roots {
		isRoot[r] = true
	}

	var out []*reference.Package
	seen := make(map[string]bool)
	packages.Visit(roots, nil, func(p *packages.Package) {
		if seen[p.ID] || p.Types == nil {
			return
		}
		seen[p.ID] = true
		pkg := &reference.Package{
			Path:  p.PkgPath,
			Name:  p.Name,
			Types: p.Types,
			Root:  isRoot[p],
		}
		if len(p.Syntax) > 0 && p.TypesInfo != nil {
			pkg.Files = p.Syntax
			pkg.Info = p.TypesInfo
		}
		out = append(out, pkg)
	})
	log.WithFields(logrus.Fields{
		"roots":    len(roots),
		"packages": len(out),
	}).Debug("packages loaded")
	return fset, out, nil
}

// NewInfo returns a types.Info recording everything the backings read.
func NewInfo() *types.Info {
	return &types.Info{
		Types:        make(map[ast.Expr]types.TypeAndValue),
		Defs:         make(map[*ast.Ident]types.Object),
		Uses:         make(map[*ast.Ident]types.Object),
		Implicits:    make(map[ast.Node]types.Object),
		Instances:    make(map[*ast.Ident]types.Instance),
		Scopes:       make(map[ast.Node]*types.Scope),
		Selections:   make(map[*ast.SelectorExpr]*types.Selection),
		FileVersions: make(map[*ast.File]string),
	}
}

// Sources maps an import path to its files, keyed by file name.
type Sources map[string]map[string]string

// FromSources parses and type-checks in-memory packages. Every package in
// srcs is a root; imports outside srcs are read from the standard library
// sources.
func FromSources(srcs Sources) (*token.FileSet, []*reference.Package, error) {
	l := &sourceLoader{
		fset:     token.NewFileSet(),
		srcs:     srcs,
		checked:  make(map[string]*reference.Package),
		visiting: make(map[string]bool),
	}
	l.fallback = importer.ForCompiler(l.fset, "source", nil)

	var out []*reference.Package
	for _, path := range slices.Sorted(maps.Keys(srcs)) {
		if _, err := l.check(path); err != nil {
			return nil, nil, err
		}
	}
	for _, path := range l.order {
		out = append(out, l.checked[path])
	}
	return l.fset, out, nil
}

type sourceLoader struct {
	fset     *token.FileSet
	srcs     Sources
	fallback types.Importer
	checked  map[string]*reference.Package
	visiting map[string]bool
	order    []string
}

func (l *sourceLoader) Import(path string) (*types.Package, error) {
	if _, ok := l.srcs[path]; ok {
		pkg, err := l.check(path)
		if err != nil {
			return nil, err
		}
		return pkg.Types, nil
	}
	return l.fallback.Import(path)
}

func (l *sourceLoader) check(path string) (*reference.Package, error) {
	if pkg, ok := l.checked[path]; ok {
		return pkg, nil
	}
	if l.visiting[path] {
		return nil, fmt.Errorf("import cycle through %s", path)
	}
	l.visiting[path] = true
	defer delete(l.visiting, path)

	files := l.srcs[path]
	var syntax []*ast.File
	for _, name := range slices.Sorted(maps.Keys(files)) {
		f, err := parser.ParseFile(l.fset, name, files[name], parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		syntax = append(syntax, f)
	}
	for _, f := range syntax {
		for _, imp := range f.Imports {
			dep, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			if _, local := l.srcs[dep]; local {
				if _, err := l.check(dep); err != nil {
					return nil, err
				}
			}
		}
	}

	info := NewInfo()
	var typeErrs []error
	conf := types.Config{
		Importer: l,
		Error:    func(err error) { typeErrs = append(typeErrs, err) },
	}
	tp, _ := conf.Check(path, l.fset, syntax, info)
	if len(typeErrs) > 0 {
		return nil, fmt.Errorf("type-checking %s: %w", path, errors.Join(typeErrs...))
	}

	pkg := &reference.Package{
		Path:  path,
		Name:  tp.Name(),
		Files: syntax,
		Types: tp,
		Info:  info,
		Root:  true,
	}
	l.checked[path] = pkg
	l.order = append(l.order, path)
	return pkg, nil
}

// ParseOnly parses in-memory packages without type checking. The result
// supports the syntax backing only.
func ParseOnly(srcs Sources) (*token.FileSet, []*reference.Package, error) {
	fset := token.NewFileSet()
	var out []*reference.Package
	for _, path := range slices.Sorted(maps.Keys(srcs)) {
		pkg := &reference.Package{Path: path, Root: true}
		files := srcs[path]
		for _, name := range slices.Sorted(maps.Keys(files)) {
			f, err := parser.ParseFile(fset, name, files[name], parser.ParseComments|parser.SkipObjectResolution)
			if err != nil {
				return nil, nil, fmt.Errorf("parsing %s: %w", name, err)
			}
			pkg.Name = f.Name.Name
			pkg.Files = append(pkg.Files, f)
		}
		out = append(out, pkg)
	}
	return fset, out, nil
}
