package reference

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"strconv"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// AnnotationMetadata is a resolved, backing-independent annotation record.
// Class references are stored by qualified name. It is what the hint index
// persists and what Program.Attach records.
type AnnotationMetadata struct {
	Name   fqname.FqName      `msgpack:"name" json:"name"`
	Target string             `msgpack:"target,omitempty" json:"target,omitempty"`
	Args   []ArgumentMetadata `msgpack:"args,omitempty" json:"args,omitempty"`
}

// ArgumentMetadata is one resolved argument.
type ArgumentMetadata struct {
	Name  string        `msgpack:"name" json:"name"`
	Type  string        `msgpack:"type,omitempty" json:"type,omitempty"`
	Text  string        `msgpack:"text,omitempty" json:"text,omitempty"`
	Value ValueMetadata `msgpack:"value" json:"value"`
}

// ValueMetadata is a resolved value. Literals keep their Go source form.
type ValueMetadata struct {
	Kind    ValueKind       `msgpack:"kind" json:"kind"`
	LitKind string          `msgpack:"lit_kind,omitempty" json:"lit_kind,omitempty"`
	Lit     string          `msgpack:"lit,omitempty" json:"lit,omitempty"`
	Ref     fqname.FqName   `msgpack:"ref,omitempty" json:"ref,omitempty"`
	Enum    fqname.FqName   `msgpack:"enum,omitempty" json:"enum,omitempty"`
	Elems   []ValueMetadata `msgpack:"elems,omitempty" json:"elems,omitempty"`
}

// MetadataSource answers annotation metadata for declarations whose
// package was loaded without syntax.
type MetadataSource interface {
	AnnotationMetadata(fq fqname.FqName) ([]AnnotationMetadata, bool)
}

// ClassValue builds the metadata of a class reference.
func ClassValue(fq fqname.FqName) ValueMetadata {
	return ValueMetadata{Kind: ValueClass, Ref: fq}
}

// ClassArrayValue builds the metadata of an array of class references.
func ClassArrayValue(fqs ...fqname.FqName) ValueMetadata {
	v := ValueMetadata{Kind: ValueArray, Elems: make([]ValueMetadata, 0, len(fqs))}
	for _, fq := range fqs {
		v.Elems = append(v.Elems, ClassValue(fq))
	}
	return v
}

func valueMetadata(v Value) (ValueMetadata, error) {
	switch v.Kind {
	case ValueLiteral:
		kind, lit, err := encodeLiteral(v.Literal)
		if err != nil {
			return ValueMetadata{}, err
		}
		return ValueMetadata{Kind: ValueLiteral, LitKind: kind, Lit: lit}, nil
	case ValueClass:
		return ClassValue(v.Class.FqName()), nil
	case ValueEnumEntry:
		vm := ValueMetadata{Kind: ValueEnumEntry, Ref: v.Enum.FqName}
		if v.Enum.Enum != nil {
			vm.Enum = v.Enum.Enum.FqName()
		}
		return vm, nil
	case ValueArray:
		vm := ValueMetadata{Kind: ValueArray, Elems: make([]ValueMetadata, 0, len(v.Elems))}
		for _, e := range v.Elems {
			em, err := valueMetadata(e)
			if err != nil {
				return ValueMetadata{}, err
			}
			vm.Elems = append(vm.Elems, em)
		}
		return vm, nil
	}
	return ValueMetadata{}, fmt.Errorf("unknown value kind %d", v.Kind)
}

// valueFromMetadata resolves class references through p in backing b.
func valueFromMetadata(p *Program, b Backing, vm ValueMetadata) (Value, error) {
	switch vm.Kind {
	case ValueLiteral:
		lit, err := decodeLiteral(vm.LitKind, vm.Lit)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueLiteral, Literal: lit}, nil
	case ValueClass:
		c, err := p.Class(vm.Ref, b)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueClass, Class: c}, nil
	case ValueEnumEntry:
		entry := EnumEntry{Name: vm.Ref.ShortName(), FqName: vm.Ref}
		if !vm.Enum.IsZero() {
			c, err := p.Class(vm.Enum, b)
			if err != nil {
				return Value{}, err
			}
			entry.Enum = c
		}
		return Value{Kind: ValueEnumEntry, Enum: entry}, nil
	case ValueArray:
		v := Value{Kind: ValueArray, Elems: make([]Value, 0, len(vm.Elems))}
		for _, em := range vm.Elems {
			e, err := valueFromMetadata(p, b, em)
			if err != nil {
				return Value{}, err
			}
			v.Elems = append(v.Elems, e)
		}
		return v, nil
	}
	return Value{}, fmt.Errorf("unknown value kind %d", vm.Kind)
}

// argumentsFromMetadata builds lazily resolved arguments from md.
func argumentsFromMetadata(p *Program, b Backing, md AnnotationMetadata) []*Argument {
	args := make([]*Argument, 0, len(md.Args))
	for i, am := range md.Args {
		vm := am.Value
		args = append(args, &Argument{
			name:  am.Name,
			typ:   am.Type,
			index: i,
			text:  am.Text,
			resolve: func() (Value, error) {
				return valueFromMetadata(p, b, vm)
			},
		})
	}
	return args
}

func encodeLiteral(v any) (kind, lit string, err error) {
	switch x := v.(type) {
	case nil:
		return "NIL", "nil", nil
	case bool:
		return "BOOL", strconv.FormatBool(x), nil
	case string:
		return token.STRING.String(), strconv.Quote(x), nil
	case int64:
		return token.INT.String(), strconv.FormatInt(x, 10), nil
	case rune:
		return token.CHAR.String(), strconv.QuoteRune(x), nil
	case float64:
		return token.FLOAT.String(), strconv.FormatFloat(x, 'g', -1, 64), nil
	}
	return "", "", fmt.Errorf("unsupported literal %T", v)
}

func decodeLiteral(kind, lit string) (any, error) {
	switch kind {
	case "NIL":
		return nil, nil
	case "BOOL":
		return strconv.ParseBool(lit)
	case token.STRING.String():
		return literalValue(&ast.BasicLit{Kind: token.STRING, Value: lit})
	case token.INT.String():
		return literalValue(&ast.BasicLit{Kind: token.INT, Value: lit})
	case token.CHAR.String():
		return literalValue(&ast.BasicLit{Kind: token.CHAR, Value: lit})
	case token.FLOAT.String():
		return literalValue(&ast.BasicLit{Kind: token.FLOAT, Value: lit})
	}
	return nil, fmt.Errorf("unknown literal kind %q", kind)
}

// literalValue converts a basic literal into string, int64, rune or
// float64.
func literalValue(lit *ast.BasicLit) (any, error) {
	c := constant.MakeFromLiteral(lit.Value, lit.Kind, 0)
	if c.Kind() == constant.Unknown {
		return nil, fmt.Errorf("malformed literal %s", lit.Value)
	}
	switch lit.Kind {
	case token.STRING:
		return constant.StringVal(c), nil
	case token.INT:
		n, exact := constant.Int64Val(c)
		if !exact {
			return nil, fmt.Errorf("integer literal %s overflows int64", lit.Value)
		}
		return n, nil
	case token.CHAR:
		n, _ := constant.Int64Val(c)
		return rune(n), nil
	case token.FLOAT:
		f, _ := constant.Float64Val(c)
		return f, nil
	}
	return nil, errors.New("imaginary literals are not supported")
}
