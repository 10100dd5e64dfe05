// Package parsers reads annotation directives from Go comments.
//
// A directive is a line comment of the form
//
//	//<namespace>:<name>
//	//<namespace>:<name>{key: value, positional, ...}
//
// attached to a type declaration, a struct field or a method. The optional
// body is a Go composite literal whose elements are the annotation
// arguments. The parser stays purely syntactic: identifiers in argument
// values are resolved later by the reference layer.
package parsers

import (
	"go/ast"
	"go/token"
	"regexp"
	"strings"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// DefaultNamespaces are the directive namespaces recognised when none are
// configured.
var DefaultNamespaces = []string{"anvil", "dagger"}

var directivePattern = regexp.MustCompile(`^//([a-z][a-z0-9]*):([A-Za-z][A-Za-z0-9]*)(\{.*\})?\s*$`)

// Directive is one parsed annotation comment.
type Directive struct {
	// Namespace is the part before the colon ("anvil").
	Namespace string

	// Name is the annotation name ("contributesTo").
	Name string

	// Body is the composite literal body including braces, or empty.
	Body string

	// Pos is the position of the comment.
	Pos token.Pos
}

// FqName returns the qualified annotation name, "<namespace>.<name>".
func (d Directive) FqName() fqname.FqName {
	return fqname.New(d.Namespace, d.Name)
}

// String renders the directive as written.
func (d Directive) String() string {
	return "//" + d.Namespace + ":" + d.Name + d.Body
}

// Parser recognises directives in a fixed set of namespaces.
type Parser struct {
	namespaces map[string]bool
}

// NewParser creates a parser for the given namespaces, or for
// DefaultNamespaces when none are given.
func NewParser(namespaces ...string) *Parser {
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}
	p := &Parser{namespaces: make(map[string]bool, len(namespaces))}
	for _, ns := range namespaces {
		p.namespaces[ns] = true
	}
	return p
}

// ParseComment parses a single comment. It returns false when the comment
// is not a directive in one of the parser's namespaces.
func (p *Parser) ParseComment(c *ast.Comment) (Directive, bool) {
	return p.ParseText(c.Text, c.Slash)
}

// ParseText parses the raw text of a line comment, including the slashes.
func (p *Parser) ParseText(text string, pos token.Pos) (Directive, bool) {
	m := directivePattern.FindStringSubmatch(strings.TrimRight(text, "\r"))
	if m == nil || !p.namespaces[m[1]] {
		return Directive{}, false
	}
	return Directive{Namespace: m[1], Name: m[2], Body: m[3], Pos: pos}, true
}

// Directives returns the directives of all groups in order. Nil groups are
// skipped so callers can pass Doc and Comment fields directly.
func (p *Parser) Directives(groups ...*ast.CommentGroup) []Directive {
	var out []Directive
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, c := range g.List {
			if d, ok := p.ParseComment(c); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

// HasDirective reports whether any group carries a directive named fq,
// without parsing arguments.
func (p *Parser) HasDirective(fq fqname.FqName, groups ...*ast.CommentGroup) bool {
	for _, d := range p.Directives(groups...) {
		if d.FqName() == fq {
			return true
		}
	}
	return false
}
