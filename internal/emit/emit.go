// Package emit attaches the annotation generated for a merge result to its
// merge point.
package emit

import (
	"fmt"
	"strings"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/merge"
	"github.com/Benny93/anvil-go/internal/reference"
)

// Emitted is an annotation attached to a merge point.
type Emitted struct {
	// MergePoint is the merge point re-queried after the annotation was
	// attached, in the backing of the merge result.
	MergePoint reference.ClassRef
	Annotation reference.AnnotationRef
	Metadata   reference.AnnotationMetadata

	// Directive is the annotation in source form.
	Directive string
}

// Build returns the annotation generated for res without attaching it.
func Build(res *merge.Result) (reference.AnnotationMetadata, error) {
	kind := res.Kind
	mp := res.MergePoint.FqName()
	modules := res.ModuleNames()

	md := reference.AnnotationMetadata{Name: kind.Native}
	md.Args = append(md.Args, reference.ArgumentMetadata{
		Name:  kind.ModulesArg,
		Type:  "[]class",
		Text:  classListText(mp.Pkg, modules, packageNamer(res.MergePoint.Program())),
		Value: reference.ClassArrayValue(modules...),
	})
	if len(kind.CopiedArgs) == 0 {
		return md, nil
	}

	source, err := res.Annotation.Metadata()
	if err != nil {
		return reference.AnnotationMetadata{}, fmt.Errorf("reading %s on %s: %w", kind.Merge, mp, err)
	}
	for _, name := range kind.CopiedArgs {
		for _, arg := range source.Args {
			if arg.Name == name {
				md.Args = append(md.Args, arg)
			}
		}
	}
	return md, nil
}

// Apply attaches the annotation generated for res to its merge point.
// Later queries of the merge point observe the annotation in every backing.
// On error nothing stays attached.
func Apply(prog *reference.Program, res *merge.Result) (*Emitted, error) {
	md, err := Build(res)
	if err != nil {
		return nil, err
	}
	mp := res.MergePoint.FqName()
	if _, err := prog.Class(mp, res.MergePoint.Backing()); err != nil {
		return nil, fmt.Errorf("re-reading %s: %w", mp, err)
	}

	prog.Attach(mp, md)
	e, err := attached(prog, res, md)
	if err != nil {
		prog.Detach(mp)
		return nil, err
	}
	return e, nil
}

// attached re-queries the merge point of res for the annotation md.
func attached(prog *reference.Program, res *merge.Result, md reference.AnnotationMetadata) (*Emitted, error) {
	mp := res.MergePoint.FqName()
	decl, err := prog.Class(mp, res.MergePoint.Backing())
	if err != nil {
		return nil, fmt.Errorf("re-reading %s: %w", mp, err)
	}
	anns, err := reference.FindAnnotations(decl.Annotations(), md.Name, nil)
	if err != nil {
		return nil, err
	}
	if len(anns) == 0 {
		return nil, fmt.Errorf("%s: attached %s annotation not visible", mp, md.Name)
	}
	ann := anns[len(anns)-1]
	return &Emitted{
		MergePoint: decl,
		Annotation: ann,
		Metadata:   md,
		Directive:  ann.Directive(),
	}, nil
}

// ApplyAll applies results in order.
func ApplyAll(prog *reference.Program, results []*merge.Result) ([]*Emitted, error) {
	out := make([]*Emitted, 0, len(results))
	for _, res := range results {
		e, err := Apply(prog, res)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// classListText renders fqs as a directive array, qualifying names outside
// package pkg by the name of their package.
func classListText(pkg string, fqs []fqname.FqName, pkgName func(path string) string) string {
	parts := make([]string, len(fqs))
	for i, fq := range fqs {
		if fq.Pkg == pkg {
			parts[i] = fq.Name
		} else {
			parts[i] = pkgName(fq.Pkg) + "." + fq.Name
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func packageNamer(prog *reference.Program) func(string) string {
	return func(path string) string {
		if pkg, ok := prog.Package(path); ok && pkg.Name != "" {
			return pkg.Name
		}
		return fqname.New(path, "_").PackageName()
	}
}
