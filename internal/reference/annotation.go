package reference

import (
	"errors"
	"fmt"
	"go/token"
	"strings"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// Well-known argument names read by the typed accessors.
const (
	ArgScope       = "scope"
	ArgParentScope = "parentScope"
	ArgExclude     = "exclude"
	ArgReplaces    = "replaces"
)

// AnnotationRef references one annotation instance on a declaration or
// member.
type AnnotationRef interface {
	FqName() fqname.FqName
	ShortName() string

	// DeclaringClass is the annotated declaration, or the declaration owning
	// the annotated member.
	DeclaringClass() ClassRef

	// UseSiteTarget is empty for declarations, "field" or "method" for
	// members.
	UseSiteTarget() string

	Backing() Backing
	Pos() token.Position

	Arguments() ([]*Argument, error)
	Argument(name string) (*Argument, bool, error)

	Scope() (ClassRef, error)
	ScopeOrNil() (ClassRef, error)
	ParentScope() (ClassRef, error)
	ExcludedClasses() ([]ClassRef, error)
	ReplacedClasses() ([]ClassRef, error)
	ClassList(name string) ([]ClassRef, error)
	BoolArg(name string, def bool) (bool, error)
	IntArg(name string, def int64) (int64, error)
	StringArg(name string, def string) (string, error)

	// Metadata resolves every argument into a backing-independent record.
	Metadata() (AnnotationMetadata, error)

	// Directive renders the annotation in source form.
	Directive() string

	annotationRef()
}

// ValueKind classifies an argument value.
type ValueKind uint8

const (
	ValueLiteral ValueKind = iota
	ValueClass
	ValueEnumEntry
	ValueArray
)

func (k ValueKind) String() string {
	switch k {
	case ValueLiteral:
		return "literal"
	case ValueClass:
		return "class"
	case ValueEnumEntry:
		return "enum entry"
	default:
		return "array"
	}
}

// EnumEntry is a constant of a named type used as an argument.
type EnumEntry struct {
	// Enum is the constant's named type, nil for untyped constants.
	Enum   ClassRef
	Name   string
	FqName fqname.FqName
}

// Value is a resolved argument value.
type Value struct {
	Kind    ValueKind
	Literal any
	Class   ClassRef
	Enum    EnumEntry
	Elems   []Value
}

// Classes flattens a class value or an array of class values.
func (v Value) Classes() ([]ClassRef, error) {
	switch v.Kind {
	case ValueClass:
		return []ClassRef{v.Class}, nil
	case ValueArray:
		var out []ClassRef
		for _, e := range v.Elems {
			cs, err := e.Classes()
			if err != nil {
				return nil, err
			}
			out = append(out, cs...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected class reference, got %s", v.Kind)
	}
}

// Argument is one named annotation argument. Its value is resolved on
// first access.
type Argument struct {
	name    string
	typ     string
	index   int
	text    string
	value   lazy[Value]
	resolve func() (Value, error)
}

func (a *Argument) Name() string { return a.name }

// Type is the parameter type declared by the annotation schema, or empty.
func (a *Argument) Type() string { return a.typ }

// Index is the position of the argument in the annotation body.
func (a *Argument) Index() int { return a.index }

// Text is the verbatim source of the value.
func (a *Argument) Text() string { return a.text }

// Value resolves the argument.
func (a *Argument) Value() (Value, error) {
	return a.value.get(a.resolve)
}

// Param declares one annotation parameter.
type Param struct {
	Name string
	Type string
}

// Schema declares the parameters of an annotation. Positional arguments
// bind to Params in order.
type Schema struct {
	Name   fqname.FqName
	Params []Param
}

func (s *Schema) param(name string) (Param, bool) {
	if s == nil {
		return Param{}, false
	}
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func (s *Schema) positional(i int) Param {
	if s != nil && i < len(s.Params) {
		return s.Params[i]
	}
	if i == 0 {
		return Param{Name: "value"}
	}
	return Param{Name: fmt.Sprintf("arg%d", i)}
}

// annotationCore implements AnnotationRef for every backing; the backing
// types differ in how arguments are loaded and resolved.
type annotationCore struct {
	fq        fqname.FqName
	declaring ClassRef
	target    string
	backing   Backing
	pos       token.Position
	args      lazy[[]*Argument]
	load      func() ([]*Argument, error)
}

func (a *annotationCore) FqName() fqname.FqName    { return a.fq }
func (a *annotationCore) ShortName() string        { return a.fq.ShortName() }
func (a *annotationCore) DeclaringClass() ClassRef { return a.declaring }
func (a *annotationCore) UseSiteTarget() string    { return a.target }
func (a *annotationCore) Backing() Backing         { return a.backing }
func (a *annotationCore) Pos() token.Position      { return a.pos }

func (a *annotationCore) Arguments() ([]*Argument, error) {
	args, err := a.args.get(a.load)
	if err != nil {
		return nil, a.wrap("", err)
	}
	return args, nil
}

func (a *annotationCore) Argument(name string) (*Argument, bool, error) {
	args, err := a.Arguments()
	if err != nil {
		return nil, false, err
	}
	for _, arg := range args {
		if arg.name == name {
			return arg, true, nil
		}
	}
	return nil, false, nil
}

func (a *annotationCore) value(name string) (Value, bool, error) {
	arg, ok, err := a.Argument(name)
	if err != nil || !ok {
		return Value{}, false, err
	}
	v, err := arg.Value()
	if err != nil {
		return Value{}, false, a.wrap(name, err)
	}
	return v, true, nil
}

func (a *annotationCore) classArg(name string, required bool) (ClassRef, error) {
	v, ok, err := a.value(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		if required {
			return nil, a.wrap(name, errors.New("missing required argument"))
		}
		return nil, nil
	}
	if v.Kind != ValueClass {
		return nil, a.wrap(name, fmt.Errorf("expected class reference, got %s", v.Kind))
	}
	return v.Class, nil
}

func (a *annotationCore) Scope() (ClassRef, error)       { return a.classArg(ArgScope, true) }
func (a *annotationCore) ScopeOrNil() (ClassRef, error)  { return a.classArg(ArgScope, false) }
func (a *annotationCore) ParentScope() (ClassRef, error) { return a.classArg(ArgParentScope, true) }

func (a *annotationCore) ExcludedClasses() ([]ClassRef, error) { return a.ClassList(ArgExclude) }
func (a *annotationCore) ReplacedClasses() ([]ClassRef, error) { return a.ClassList(ArgReplaces) }

func (a *annotationCore) ClassList(name string) ([]ClassRef, error) {
	v, ok, err := a.value(name)
	if err != nil || !ok {
		return nil, err
	}
	cs, err := v.Classes()
	if err != nil {
		return nil, a.wrap(name, err)
	}
	return cs, nil
}

func (a *annotationCore) BoolArg(name string, def bool) (bool, error) {
	v, ok, err := a.value(name)
	if err != nil || !ok {
		return def, err
	}
	b, isBool := v.Literal.(bool)
	if v.Kind != ValueLiteral || !isBool {
		return def, a.wrap(name, errors.New("expected boolean literal"))
	}
	return b, nil
}

func (a *annotationCore) IntArg(name string, def int64) (int64, error) {
	v, ok, err := a.value(name)
	if err != nil || !ok {
		return def, err
	}
	switch n := v.Literal.(type) {
	case int64:
		return n, nil
	case rune:
		return int64(n), nil
	}
	return def, a.wrap(name, errors.New("expected integer literal"))
}

func (a *annotationCore) StringArg(name string, def string) (string, error) {
	v, ok, err := a.value(name)
	if err != nil || !ok {
		return def, err
	}
	s, isString := v.Literal.(string)
	if v.Kind != ValueLiteral || !isString {
		return def, a.wrap(name, errors.New("expected string literal"))
	}
	return s, nil
}

func (a *annotationCore) Metadata() (AnnotationMetadata, error) {
	args, err := a.Arguments()
	if err != nil {
		return AnnotationMetadata{}, err
	}
	md := AnnotationMetadata{Name: a.fq, Target: a.target}
	for _, arg := range args {
		v, err := arg.Value()
		if err != nil {
			return AnnotationMetadata{}, a.wrap(arg.name, err)
		}
		vm, err := valueMetadata(v)
		if err != nil {
			return AnnotationMetadata{}, a.wrap(arg.name, err)
		}
		md.Args = append(md.Args, ArgumentMetadata{Name: arg.name, Type: arg.typ, Text: arg.text, Value: vm})
	}
	return md, nil
}

func (a *annotationCore) Directive() string {
	var b strings.Builder
	b.WriteString("//" + a.fq.Pkg + ":" + a.fq.Name)
	args, err := a.Arguments()
	if err != nil || len(args) == 0 {
		return b.String()
	}
	b.WriteByte('{')
	for i, arg := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.name + ": " + arg.text)
	}
	b.WriteByte('}')
	return b.String()
}

func (a *annotationCore) wrap(arg string, err error) error {
	var ae *AnnotationError
	if errors.As(err, &ae) {
		return err
	}
	return &AnnotationError{Annotation: a.fq, Declaration: a.declaring.FqName(), Argument: arg, Pos: a.pos, Err: err}
}

// FindAnnotations returns the annotations named name, restricted to those
// whose scope argument equals scope when scope is non-nil.
func FindAnnotations(anns []AnnotationRef, name fqname.FqName, scope *fqname.FqName) ([]AnnotationRef, error) {
	var out []AnnotationRef
	for _, a := range anns {
		if a.FqName() != name {
			continue
		}
		if scope != nil {
			s, err := a.ScopeOrNil()
			if err != nil {
				return nil, err
			}
			if s == nil || s.FqName() != *scope {
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// FindSingleAnnotation is FindAnnotations for annotations expected at most
// once. It returns nil when none matches.
func FindSingleAnnotation(decl ClassRef, name fqname.FqName, scope *fqname.FqName) (AnnotationRef, error) {
	found, err := FindAnnotations(decl.Annotations(), name, scope)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, &ExpectedSingleAnnotationError{
			Declaration: decl.FqName(),
			Annotation:  name,
			Count:       len(found),
			Pos:         decl.Pos(),
		}
	}
}
