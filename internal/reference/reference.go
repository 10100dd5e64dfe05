// Package reference provides a uniform view over Go declarations.
//
// Every declaration can be observed through three backings: the syntax
// tree (go/ast, before type checking), the type-checked objects (go/types)
// and the SSA form (golang.org/x/tools/go/ssa). Each reference kind is a
// sealed interface with one implementation per backing, so algorithms
// written against the interfaces behave identically whichever backing the
// caller holds. References are identified by their fully-qualified name:
// two references to one declaration obtained through different backings
// are Equal and index the same ClassSet entry.
//
// References are immutable snapshots. Derived properties are computed on
// first use and memoized; structural changes (for example an annotation
// attached by Program.Attach) are observed by querying the Program again.
package reference

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// Backing identifies the representation a reference wraps.
type Backing uint8

const (
	// Syntactic references wrap go/ast declarations.
	Syntactic Backing = iota
	// Semantic references wrap go/types objects.
	Semantic
	// Lowered references wrap SSA members.
	Lowered
)

// Backings lists every backing in lowering order.
var Backings = []Backing{Syntactic, Semantic, Lowered}

func (b Backing) String() string {
	switch b {
	case Syntactic:
		return "syntax"
	case Semantic:
		return "types"
	case Lowered:
		return "ssa"
	default:
		return fmt.Sprintf("backing(%d)", b)
	}
}

// ParseBacking parses the String form of a backing.
func ParseBacking(s string) (Backing, error) {
	switch strings.ToLower(s) {
	case "syntax", "syntactic", "ast":
		return Syntactic, nil
	case "types", "semantic":
		return Semantic, nil
	case "ssa", "lowered":
		return Lowered, nil
	default:
		return 0, fmt.Errorf("unknown backing %q (want syntax, types or ssa)", s)
	}
}

// Visibility of a declaration or member.
type Visibility uint8

const (
	Public Visibility = iota
	Internal
	Protected
	Private
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Internal:
		return "internal"
	case Protected:
		return "protected"
	default:
		return "private"
	}
}

// visibilityOf maps Go export rules onto Visibility. Nested declarations
// are private to their enclosing method; exported names under an internal
// path element are internal. Protected is never produced.
func visibilityOf(pkgPath, name string, nested bool) Visibility {
	if nested || !token.IsExported(name) {
		return Private
	}
	for _, el := range strings.Split(pkgPath, "/") {
		if el == "internal" {
			return Internal
		}
	}
	return Public
}

// ClassRef references a named type declaration.
type ClassRef interface {
	FqName() fqname.FqName
	ShortName() string
	Backing() Backing
	Program() *Program

	// Pos is the position of the declaration's name.
	Pos() token.Position

	Visibility() Visibility
	IsInterface() bool

	// IsObject reports a declaration with no state: an empty struct.
	IsObject() bool

	// IsAnnotationClass reports a declaration marked as an annotation type.
	IsAnnotationClass() bool

	IsGeneric() bool

	// EnclosingClass returns the declaration whose method body declares
	// this one, or nil at package level.
	EnclosingClass() ClassRef

	// EnclosingClassesWithSelf returns the enclosing chain, outermost first,
	// ending with the receiver.
	EnclosingClassesWithSelf() []ClassRef

	// InnerClasses returns declarations nested in this one's methods.
	InnerClasses() []ClassRef

	// CompanionObjects is always empty for Go declarations.
	CompanionObjects() []ClassRef

	DirectSupertypes() ([]TypeRef, error)
	AllSupertypes() ([]ClassRef, error)
	TypeParameters() ([]TypeParameterRef, error)
	Functions() ([]FunctionRef, error)
	Properties() ([]PropertyRef, error)
	Annotations() []AnnotationRef
	IsAnnotatedWith(name fqname.FqName) bool

	String() string

	classRef()
}

// FunctionRef references a method or an interface method.
type FunctionRef interface {
	FqName() fqname.FqName
	Name() string
	DeclaringClass() ClassRef
	Visibility() Visibility
	Pos() token.Position
	Annotations() []AnnotationRef

	// IsAbstract reports an interface method.
	IsAbstract() bool

	Parameters() ([]ParameterRef, error)
	Results() ([]TypeRef, error)

	// ReturnTypeOrNil returns the first result, or nil.
	ReturnTypeOrNil() TypeRef

	String() string

	functionRef()
}

// PropertyRef references a struct field.
type PropertyRef interface {
	FqName() fqname.FqName
	Name() string
	DeclaringClass() ClassRef
	Visibility() Visibility
	Pos() token.Position
	Annotations() []AnnotationRef
	Type() (TypeRef, error)
	TypeOrNil() TypeRef
	Tag() string
	IsEmbedded() bool

	String() string

	propertyRef()
}

// ParameterRef references a function parameter.
type ParameterRef interface {
	Name() string
	Type() (TypeRef, error)
	IsVariadic() bool
	DeclaringFunction() FunctionRef

	parameterRef()
}

// TypeRef references a type usage.
type TypeRef interface {
	// Class returns the referenced declaration, or nil for builtin,
	// composite, type parameter and unresolved types.
	Class() ClassRef

	// Arguments are the type arguments of an instantiated generic type or
	// the element types of a composite type.
	Arguments() []TypeRef

	// IsNullable reports a pointer type.
	IsNullable() bool

	// IsGenericType reports a type parameter usage.
	IsGenericType() bool

	// IsGenericClass reports an instantiated generic declaration.
	IsGenericClass() bool

	Backing() Backing
	String() string

	typeRef()
}

// TypeParameterRef references a declared type parameter.
type TypeParameterRef interface {
	Name() string

	// UpperBounds are the constraint's named bounds in declaration order.
	UpperBounds() []TypeRef

	String() string

	typeParameterRef()
}

// Equal reports whether a and b reference the same declaration.
func Equal(a, b ClassRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.FqName() == b.FqName()
}

// FqNames returns the qualified names of refs in order.
func FqNames(refs []ClassRef) []fqname.FqName {
	out := make([]fqname.FqName, len(refs))
	for i, r := range refs {
		out[i] = r.FqName()
	}
	return out
}

// Convert returns the reference to the same declaration in backing b.
func Convert(ref ClassRef, b Backing) (ClassRef, error) {
	if ref.Backing() == b {
		return ref, nil
	}
	return ref.Program().Class(ref.FqName(), b)
}

func isAnnotatedWith(anns []AnnotationRef, name fqname.FqName) bool {
	for _, a := range anns {
		if a.FqName() == name {
			return true
		}
	}
	return false
}

// allSupertypes walks direct supertypes breadth first.
func allSupertypes(c ClassRef) ([]ClassRef, error) {
	seen := NewClassSet()
	queue := []ClassRef{c}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		supers, err := cur.DirectSupertypes()
		if err != nil {
			return nil, err
		}
		for _, t := range supers {
			sc := t.Class()
			if sc == nil || Equal(sc, c) || !seen.Add(sc) {
				continue
			}
			queue = append(queue, sc)
		}
	}
	return seen.Slice(), nil
}

func enclosingWithSelf(c ClassRef) []ClassRef {
	chain := []ClassRef{c}
	for outer := c.EnclosingClass(); outer != nil; outer = outer.EnclosingClass() {
		chain = append([]ClassRef{outer}, chain...)
	}
	return chain
}
