package reference

import (
	"errors"
	"fmt"
	"go/token"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// ResolutionError reports a qualified name with no declaration in a
// backing. It is expected while generated code has not been materialized
// and callers that can tolerate it use Program.LookupClass instead.
type ResolutionError struct {
	FqName  fqname.FqName
	Backing Backing
	Reason  string
	Pos     token.Position
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %s in %s backing", e.FqName, e.Backing)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Position returns the source anchor of the failed lookup, if any.
func (e *ResolutionError) Position() token.Position { return e.Pos }

// Code identifies the error kind in diagnostics.
func (e *ResolutionError) Code() string { return "resolution" }

// IsResolutionError reports whether err wraps a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// ExpectedSingleAnnotationError reports an annotation found more than once
// where at most one was expected.
type ExpectedSingleAnnotationError struct {
	Declaration fqname.FqName
	Annotation  fqname.FqName
	Count       int
	Pos         token.Position
}

func (e *ExpectedSingleAnnotationError) Error() string {
	return fmt.Sprintf("expected a single %s annotation on %s, found %d", e.Annotation, e.Declaration, e.Count)
}

// Position returns the declaration's position.
func (e *ExpectedSingleAnnotationError) Position() token.Position { return e.Pos }

// Code identifies the error kind in diagnostics.
func (e *ExpectedSingleAnnotationError) Code() string { return "single-annotation" }

// AnnotationError reports a malformed directive or argument.
type AnnotationError struct {
	Annotation  fqname.FqName
	Declaration fqname.FqName
	Argument    string
	Pos         token.Position
	Err         error
}

func (e *AnnotationError) Error() string {
	where := e.Annotation.String()
	if e.Argument != "" {
		where += " argument " + e.Argument
	}
	return fmt.Sprintf("%s on %s: %v", where, e.Declaration, e.Err)
}

func (e *AnnotationError) Unwrap() error { return e.Err }

// Position returns the directive's position.
func (e *AnnotationError) Position() token.Position { return e.Pos }

// Code identifies the error kind in diagnostics.
func (e *AnnotationError) Code() string { return "annotation" }

// ReferenceError reports a failure computing a property of a reference.
type ReferenceError struct {
	Declaration fqname.FqName
	Backing     Backing
	Pos         token.Position
	Err         error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Declaration, e.Backing, e.Err)
}

func (e *ReferenceError) Unwrap() error { return e.Err }

// Position returns the declaration's position.
func (e *ReferenceError) Position() token.Position { return e.Pos }

// Code identifies the error kind in diagnostics.
func (e *ReferenceError) Code() string { return "reference" }

func refError(c ClassRef, format string, args ...any) error {
	return &ReferenceError{
		Declaration: c.FqName(),
		Backing:     c.Backing(),
		Pos:         c.Pos(),
		Err:         fmt.Errorf(format, args...),
	}
}
