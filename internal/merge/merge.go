// Package merge computes the modules of a merge point: every module
// contributed to its scope, minus replaced and excluded ones, plus its
// predefined modules and the modules of contributed subcomponents.
package merge

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/reference"
	"github.com/Benny93/anvil-go/internal/scanner"
)

// EdgeKind classifies a relationship found while merging.
type EdgeKind string

const (
	// Contribution links a contributed module or interface to the scope.
	Contribution EdgeKind = "contribution"
	// Replacement links a replacing declaration to the replaced one.
	Replacement EdgeKind = "replacement"
	// Exclusion links the merge point to an excluded declaration.
	Exclusion EdgeKind = "exclusion"
	// Inclusion links the merge point to a predefined module.
	Inclusion EdgeKind = "inclusion"
	// SubcomponentModule links a contributed subcomponent to the module
	// generated for it.
	SubcomponentModule EdgeKind = "subcomponent-module"
)

// Edge is one relationship between declarations.
type Edge struct {
	Kind EdgeKind      `json:"kind"`
	From fqname.FqName `json:"from"`
	To   fqname.FqName `json:"to"`
}

// Result is the outcome of merging one merge point.
type Result struct {
	MergePoint reference.ClassRef
	Kind       *Kind
	Annotation reference.AnnotationRef
	Scope      reference.ClassRef

	// Modules is the final module list in discovery order.
	Modules []reference.ClassRef

	// Interfaces are the interfaces contributed to the scope.
	Interfaces []reference.ClassRef

	Replaced []reference.ClassRef
	Excluded []reference.ClassRef
	Edges    []Edge
}

// ModuleNames returns the qualified names of Modules.
func (r *Result) ModuleNames() []fqname.FqName {
	return reference.FqNames(r.Modules)
}

// Merger merges the merge points of one program.
type Merger struct {
	scanner *scanner.Scanner
	log     logrus.FieldLogger
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Merger) { m.log = log }
}

// New returns a merger discovering contributions with s.
func New(s *scanner.Scanner, opts ...Option) *Merger {
	m := &Merger{scanner: s, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Scanner returns the scanner contributions are discovered with.
func (m *Merger) Scanner() *scanner.Scanner { return m.scanner }

// mergeKind finds the merge annotation of decl.
func (m *Merger) mergeKind(decl reference.ClassRef) (*Kind, reference.AnnotationRef, error) {
	var (
		kind  *Kind
		found []reference.AnnotationRef
	)
	for _, a := range decl.Annotations() {
		k, ok := KindOf(a.FqName())
		if !ok {
			continue
		}
		if kind != nil && k != kind {
			m.log.WithFields(logrus.Fields{
				"merge_point": decl.FqName().String(),
				"kinds":       []string{kind.Name, k.Name},
			}).Warn("skipping declaration with more than one merge annotation")
			return nil, nil, ErrNotMergePoint
		}
		kind = k
		found = append(found, a)
	}
	switch len(found) {
	case 0:
		return nil, nil, ErrNotMergePoint
	case 1:
		return kind, found[0], nil
	default:
		return kind, found[0], &reference.ExpectedSingleAnnotationError{
			Declaration: decl.FqName(),
			Annotation:  kind.Merge,
			Count:       len(found),
			Pos:         decl.Pos(),
		}
	}
}

// Merge computes the modules of the merge point decl. It returns
// ErrNotMergePoint when decl carries no merge annotation, and a *Failure
// for any other error.
func (m *Merger) Merge(ctx context.Context, decl reference.ClassRef) (*Result, error) {
	kind, ann, err := m.mergeKind(decl)
	if errors.Is(err, ErrNotMergePoint) {
		return nil, err
	}
	mp := decl.FqName()
	fail := func(err error) error {
		f := &Failure{MergePoint: mp, Annotation: kind.Merge, Pos: decl.Pos(), Err: err}
		if ann != nil {
			f.Pos = ann.Pos()
		}
		return f
	}
	if err != nil {
		return nil, fail(err)
	}

	if decl.IsAnnotatedWith(kind.Native) {
		return nil, fail(&ConflictingAnnotationError{
			MergePoint: mp,
			Merge:      kind.Merge,
			Native:     kind.Native,
			Pos:        decl.Pos(),
		})
	}

	scopeRef, err := ann.Scope()
	if err != nil {
		return nil, fail(err)
	}
	scope := scopeRef.FqName()
	predefined, err := ann.ClassList(kind.ModulesArg)
	if err != nil {
		return nil, fail(err)
	}
	excludedList, err := ann.ExcludedClasses()
	if err != nil {
		return nil, fail(err)
	}
	excluded := reference.NewClassSet(excludedList...)

	if both := reference.NewClassSet(predefined...).Intersect(excluded); len(both) > 0 {
		return nil, fail(&ConflictingIncludeExcludeError{
			MergePoint: mp,
			Classes:    reference.FqNames(both),
			Pos:        decl.Pos(),
		})
	}

	log := m.log.WithFields(logrus.Fields{
		"merge_point": mp.String(),
		"scope":       scope.String(),
		"backing":     m.scanner.Backing().String(),
	})
	res := &Result{MergePoint: decl, Kind: kind, Annotation: ann, Scope: scopeRef}

	modules, err := m.contributedModules(ctx, log, res)
	if err != nil {
		return nil, fail(err)
	}

	for _, x := range excluded.Slice() {
		if err := checkScope(mp, x, scope, Excluded, decl.Pos()); err != nil {
			return nil, fail(err)
		}
		res.Excluded = append(res.Excluded, x)
		res.Edges = append(res.Edges, Edge{Kind: Exclusion, From: mp, To: x.FqName()})
	}

	replaced, err := m.replacedModules(ctx, res, modules, excluded)
	if err != nil {
		return nil, fail(err)
	}

	subModules, err := m.subcomponentModules(ctx, log, res)
	if err != nil {
		return nil, fail(err)
	}

	final := reference.NewClassSet()
	for _, c := range modules {
		if replaced.Contains(c) || excluded.Contains(c) {
			continue
		}
		final.Add(c)
	}
	for _, c := range predefined {
		final.Add(c)
		res.Edges = append(res.Edges, Edge{Kind: Inclusion, From: mp, To: c.FqName()})
	}
	for _, c := range subModules {
		final.Add(c)
	}
	res.Modules = final.Slice()
	res.Replaced = replaced.Slice()

	log.WithField("modules", len(res.Modules)).Debug("merged")
	return res, nil
}

// contributedModules scans the modules contributed to the scope. Interfaces
// are recorded on res.
func (m *Merger) contributedModules(ctx context.Context, log logrus.FieldLogger, res *Result) ([]reference.ClassRef, error) {
	scope := res.Scope.FqName()
	own := annotations.GeneratedModuleName(res.MergePoint.FqName())

	var modules []reference.ClassRef
	for c, err := range m.scanner.FindContributedClasses(ctx, annotations.MergeHintPrefix, annotations.ContributesTo, &scope) {
		if err != nil {
			return nil, err
		}
		fq := c.FqName()
		if annotations.IsGeneratedModule(fq) && fq != own {
			log.WithField("module", fq.String()).Debug("skipping module generated for another merge point")
			continue
		}
		if _, err := reference.FindSingleAnnotation(c, annotations.ContributesTo, &scope); err != nil {
			return nil, err
		}

		isModule := c.IsAnnotatedWith(annotations.DaggerModule) || c.IsAnnotatedWith(annotations.MergeModules)
		if !isModule && !c.IsInterface() {
			return nil, &InvalidContributionError{Contribution: fq, Pos: c.Pos()}
		}
		if v := c.Visibility(); v != reference.Public {
			return nil, &VisibilityError{Contribution: fq, Visibility: v, Pos: c.Pos()}
		}

		res.Edges = append(res.Edges, Edge{Kind: Contribution, From: fq, To: scope})
		if isModule {
			modules = append(modules, c)
		} else {
			res.Interfaces = append(res.Interfaces, c)
		}
	}
	return modules, nil
}

// replacedModules collects the declarations replaced by the surviving
// modules and by bindings contributed to the scope.
func (m *Merger) replacedModules(ctx context.Context, res *Result, modules []reference.ClassRef, excluded *reference.ClassSet) (*reference.ClassSet, error) {
	scope := res.Scope.FqName()
	replaced := reference.NewClassSet()

	add := func(replacer reference.ClassRef, ann reference.AnnotationRef, requireModule bool) error {
		targets, err := ann.ReplacedClasses()
		if err != nil {
			return err
		}
		for _, r := range targets {
			if requireModule && !isModuleLike(r) {
				return &InvalidReplacementError{Replacer: replacer.FqName(), Replaced: r.FqName(), Pos: replacer.Pos()}
			}
			if err := checkScope(replacer.FqName(), r, scope, Replaced, replacer.Pos()); err != nil {
				return err
			}
			replaced.Add(r)
			res.Edges = append(res.Edges, Edge{Kind: Replacement, From: replacer.FqName(), To: r.FqName()})
		}
		return nil
	}

	for _, c := range modules {
		if excluded.Contains(c) {
			continue
		}
		ann, err := reference.FindSingleAnnotation(c, annotations.ContributesTo, &scope)
		if err != nil {
			return nil, err
		}
		if err := add(c, ann, true); err != nil {
			return nil, err
		}
	}

	bindings := []struct {
		prefix     string
		annotation fqname.FqName
	}{
		{annotations.BindingHintPrefix, annotations.ContributesBinding},
		{annotations.MultibindingHintPrefix, annotations.ContributesMultibinding},
	}
	for _, b := range bindings {
		for c, err := range m.scanner.FindContributedClasses(ctx, b.prefix, b.annotation, &scope) {
			if err != nil {
				return nil, err
			}
			anns, err := reference.FindAnnotations(c.Annotations(), b.annotation, &scope)
			if err != nil {
				return nil, err
			}
			for _, ann := range anns {
				if err := add(c, ann, false); err != nil {
					return nil, err
				}
			}
		}
	}
	return replaced, nil
}

// subcomponentModules finds the modules generated for subcomponents
// contributed to the scope. Modules not generated yet are skipped.
func (m *Merger) subcomponentModules(ctx context.Context, log logrus.FieldLogger, res *Result) ([]reference.ClassRef, error) {
	scope := res.Scope.FqName()
	mp := res.MergePoint

	var out []reference.ClassRef
	for c, err := range m.scanner.FindContributedClasses(ctx, annotations.SubcomponentHintPrefix, annotations.ContributesSubcomponent, nil) {
		if err != nil {
			return nil, err
		}
		ann, err := reference.FindSingleAnnotation(c, annotations.ContributesSubcomponent, nil)
		if err != nil {
			return nil, err
		}
		parent, err := ann.ParentScope()
		if err != nil {
			return nil, err
		}
		if parent.FqName() != scope {
			continue
		}
		name := annotations.SubcomponentModuleName(c.FqName(), mp.FqName())
		module, ok := mp.Program().LookupClass(name, mp.Backing())
		if !ok {
			log.WithField("module", name.String()).Debug("subcomponent module not generated yet")
			continue
		}
		out = append(out, module)
		res.Edges = append(res.Edges, Edge{Kind: SubcomponentModule, From: c.FqName(), To: name})
	}
	return out, nil
}

func isModuleLike(c reference.ClassRef) bool {
	return c.IsAnnotatedWith(annotations.DaggerModule) ||
		c.IsAnnotatedWith(annotations.ContributesBinding) ||
		c.IsAnnotatedWith(annotations.ContributesMultibinding)
}

// contributionScopes returns the scopes target contributes to, in
// annotation order.
func contributionScopes(target reference.ClassRef) ([]fqname.FqName, error) {
	var out []fqname.FqName
	for _, ann := range target.Annotations() {
		var (
			s   reference.ClassRef
			err error
		)
		switch ann.FqName() {
		case annotations.ContributesTo, annotations.ContributesBinding, annotations.ContributesMultibinding:
			s, err = ann.Scope()
		case annotations.ContributesSubcomponent:
			s, err = ann.ParentScope()
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.FqName())
	}
	return out, nil
}

// checkScope verifies that target contributes to scope.
func checkScope(decl fqname.FqName, target reference.ClassRef, scope fqname.FqName, rel Relation, pos token.Position) error {
	scopes, err := contributionScopes(target)
	if err != nil {
		return fmt.Errorf("scope of %s: %w", target.FqName(), err)
	}
	if slices.Contains(scopes, scope) {
		return nil
	}
	mismatch := &ScopeMismatchError{
		Declaration: decl,
		Target:      target.FqName(),
		Relation:    rel,
		Expected:    scope,
		Pos:         pos,
	}
	if len(scopes) > 0 {
		mismatch.Actual = &scopes[0]
	}
	return mismatch
}
