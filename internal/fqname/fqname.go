// Package fqname provides fully-qualified names for Go declarations.
//
// A FqName is the identity of every reference in anvil-go: two references
// to the same declaration compare equal if and only if their FqNames do,
// whichever representation they were obtained from.
package fqname

import (
	"cmp"
	"fmt"
	"strings"
)

// FqName identifies a declaration by package path and dot-joined name.
//
// Nested declarations and members append their name to the enclosing one:
// "Outer.Inner", "Outer.Method", "Outer.Field".
type FqName struct {
	Pkg  string `msgpack:"pkg" json:"pkg"`
	Name string `msgpack:"name" json:"name"`
}

// New returns the FqName of name in package pkg.
func New(pkg, name string) FqName {
	return FqName{Pkg: pkg, Name: name}
}

// Parse splits "example.com/app/scopes.AppScope" into package and name.
//
// The name starts after the first dot following the last slash, so nested
// names such as "example.com/app.Outer.Inner" round-trip through String.
func Parse(s string) (FqName, error) {
	slash := strings.LastIndexByte(s, '/')
	dot := strings.IndexByte(s[slash+1:], '.')
	if dot < 0 {
		return FqName{}, fmt.Errorf("invalid qualified name %q: missing declaration name", s)
	}
	dot += slash + 1
	fq := FqName{Pkg: s[:dot], Name: s[dot+1:]}
	if fq.Pkg == "" || fq.Name == "" {
		return FqName{}, fmt.Errorf("invalid qualified name %q", s)
	}
	return fq, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// package-level names and tests.
func MustParse(s string) FqName {
	fq, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return fq
}

// IsZero reports whether fq is the zero value.
func (fq FqName) IsZero() bool {
	return fq.Pkg == "" && fq.Name == ""
}

// String returns "pkg.Name".
func (fq FqName) String() string {
	if fq.Pkg == "" {
		return fq.Name
	}
	return fq.Pkg + "." + fq.Name
}

// ShortName returns the last segment of the name.
func (fq FqName) ShortName() string {
	if i := strings.LastIndexByte(fq.Name, '.'); i >= 0 {
		return fq.Name[i+1:]
	}
	return fq.Name
}

// Segments returns the dot-separated parts of the name, outermost first.
func (fq FqName) Segments() []string {
	return strings.Split(fq.Name, ".")
}

// JoinedNames joins the name segments with sep.
func (fq FqName) JoinedNames(sep string) string {
	return strings.Join(fq.Segments(), sep)
}

// Nested returns the name of a declaration or member nested in fq.
func (fq FqName) Nested(name string) FqName {
	return FqName{Pkg: fq.Pkg, Name: fq.Name + "." + name}
}

// Parent returns the enclosing name and true, or the zero value and false
// for a top-level declaration.
func (fq FqName) Parent() (FqName, bool) {
	i := strings.LastIndexByte(fq.Name, '.')
	if i < 0 {
		return FqName{}, false
	}
	return FqName{Pkg: fq.Pkg, Name: fq.Name[:i]}, true
}

// PackageName returns the last element of the package path.
func (fq FqName) PackageName() string {
	return fq.Pkg[strings.LastIndexByte(fq.Pkg, '/')+1:]
}

// Compare orders names by package path, then by name.
func Compare(a, b FqName) int {
	if c := cmp.Compare(a.Pkg, b.Pkg); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}
