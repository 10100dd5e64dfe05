package reference

import (
	"go/ast"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// AnnotationClassMarker marks a declaration as an annotation type.
var AnnotationClassMarker = fqname.New("anvil", "annotation")

// Use-site targets of member annotations.
const (
	TargetField  = "field"
	TargetMethod = "method"
)

func classVisibility(fq fqname.FqName) Visibility {
	return visibilityOf(fq.Pkg, fq.ShortName(), strings.Contains(fq.Name, "."))
}

func memberVisibility(owner fqname.FqName, name string) Visibility {
	return visibilityOf(owner.Pkg, name, false)
}

// newAnnotation seals core into the annotation type of backing b.
func newAnnotation(b Backing, core *annotationCore) AnnotationRef {
	core.backing = b
	switch b {
	case Semantic:
		return &semanticAnnotation{core}
	case Lowered:
		return &loweredAnnotation{core}
	default:
		return &syntaxAnnotation{core}
	}
}

// directiveAnnotations reads the directives in groups. Argument names are
// resolved with resolve when first accessed.
func (p *Program) directiveAnnotations(declaring ClassRef, b Backing, target string, groups []*ast.CommentGroup, resolve symbolResolver) []AnnotationRef {
	var out []AnnotationRef
	for _, d := range p.parser.Directives(groups...) {
		schema := p.schema(d.FqName())
		core := &annotationCore{
			fq:        d.FqName(),
			declaring: declaring,
			target:    target,
			pos:       p.position(d.Pos),
		}
		core.load = func() ([]*Argument, error) {
			parsed, err := d.Args()
			if err != nil {
				return nil, err
			}
			return bindArguments(schema, parsed, resolve)
		}
		out = append(out, newAnnotation(b, core))
	}
	return out
}

// metadataAnnotations rebuilds annotations from resolved records.
func (p *Program) metadataAnnotations(declaring ClassRef, b Backing, mds []AnnotationMetadata) []AnnotationRef {
	out := make([]AnnotationRef, 0, len(mds))
	for _, md := range mds {
		core := &annotationCore{
			fq:        md.Name,
			declaring: declaring,
			target:    md.Target,
			pos:       declaring.Pos(),
		}
		core.load = func() ([]*Argument, error) {
			return argumentsFromMetadata(p, b, md), nil
		}
		out = append(out, newAnnotation(b, core))
	}
	return out
}

// attachedAnnotations returns the annotations emitted for c in this pass.
func (p *Program) attachedAnnotations(c ClassRef) []AnnotationRef {
	return p.metadataAnnotations(c, c.Backing(), p.Attached(c.FqName()))
}

// uniquePackageNamed resolves a qualifier the file does not import. A
// directive may name a package only its comments use, which Go would reject
// as an unused import, so such qualifiers match the one loaded package of
// that name.
func (p *Program) uniquePackageNamed(name string, b Backing) (*Package, error) {
	var found []*Package
	for _, pkg := range p.byPath {
		local := pkg.Name
		if local == "" {
			local = guessPackageName(pkg.Path)
		}
		if local == name {
			found = append(found, pkg)
		}
	}
	switch len(found) {
	case 0:
		return nil, &ResolutionError{FqName: fqname.New(name, ""), Backing: b, Reason: "undefined package qualifier"}
	case 1:
		return found[0], nil
	}
	paths := make([]string, len(found))
	for i, pkg := range found {
		paths[i] = pkg.Path
	}
	slices.Sort(paths)
	return nil, &ResolutionError{
		FqName:  fqname.New(name, ""),
		Backing: b,
		Reason:  "ambiguous package qualifier, import one of " + strings.Join(paths, ", "),
	}
}

var majorVersion = regexp.MustCompile(`^v[0-9]+$`)

// guessPackageName derives the conventional package name from an import
// path: the last element, skipping a major version suffix.
func guessPackageName(importPath string) string {
	base := path.Base(importPath)
	if majorVersion.MatchString(base) {
		if dir := path.Dir(importPath); dir != "." {
			base = path.Base(dir)
		}
	}
	base = strings.TrimPrefix(base, "go-")
	base = strings.TrimSuffix(base, ".go")
	return strings.NewReplacer("-", "_", ".", "_").Replace(base)
}
