package merge

import (
	"errors"
	"fmt"
	"go/token"
	"strings"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/reference"
)

// ErrNotMergePoint is returned for declarations that carry no merge
// annotation, or more than one kind of it.
var ErrNotMergePoint = errors.New("not a merge point")

// Failure aborts the merge of one merge point. Pos anchors the merge
// annotation; Err names the offending declaration.
type Failure struct {
	MergePoint fqname.FqName
	Annotation fqname.FqName
	Pos        token.Position
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("merging %s (@%s): %v", f.MergePoint, f.Annotation.ShortName(), f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Position returns the merge annotation's position.
func (f *Failure) Position() token.Position { return f.Pos }

// Code is the code of the wrapped error, or "merge".
func (f *Failure) Code() string {
	var c interface{ Code() string }
	if errors.As(f.Err, &c) {
		return c.Code()
	}
	return "merge"
}

// ConflictingAnnotationError reports a merge point that already carries
// the annotation the merge would generate.
type ConflictingAnnotationError struct {
	MergePoint fqname.FqName
	Merge      fqname.FqName
	Native     fqname.FqName
	Pos        token.Position
}

func (e *ConflictingAnnotationError) Error() string {
	return fmt.Sprintf("when using @%s it's not allowed to annotate %s with @%s, the %s annotation is generated",
		e.Merge.ShortName(), e.MergePoint, e.Native.ShortName(), e.Native.Pkg)
}

func (e *ConflictingAnnotationError) Position() token.Position { return e.Pos }
func (e *ConflictingAnnotationError) Code() string             { return "conflicting-annotation" }

// InvalidContributionError reports a contributed declaration that is
// neither an interface nor a module.
type InvalidContributionError struct {
	Contribution fqname.FqName
	Pos          token.Position
}

func (e *InvalidContributionError) Error() string {
	return fmt.Sprintf("%s is annotated with @contributesTo, but is neither an interface nor a module; did you forget //dagger:module?", e.Contribution)
}

func (e *InvalidContributionError) Position() token.Position { return e.Pos }
func (e *InvalidContributionError) Code() string             { return "invalid-contribution" }

// VisibilityError reports a contributed module that is not public.
type VisibilityError struct {
	Contribution fqname.FqName
	Visibility   reference.Visibility
	Pos          token.Position
}

func (e *VisibilityError) Error() string {
	return fmt.Sprintf("%s is contributed to the graph, but the module is %s; only public modules are supported", e.Contribution, e.Visibility)
}

func (e *VisibilityError) Position() token.Position { return e.Pos }
func (e *VisibilityError) Code() string             { return "visibility" }

// Relation names why a declaration's scope was checked.
type Relation string

const (
	Excluded Relation = "exclude"
	Replaced Relation = "replace"
)

// ScopeMismatchError reports an excluded or replaced declaration whose
// contribution scope differs from the merge scope. Actual is nil when the
// declaration contributes to no scope at all.
type ScopeMismatchError struct {
	Declaration fqname.FqName
	Target      fqname.FqName
	Relation    Relation
	Expected    fqname.FqName
	Actual      *fqname.FqName
	Pos         token.Position
}

func (e *ScopeMismatchError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("could not determine the scope of the %sd class %s", e.Relation, e.Target)
	}
	return fmt.Sprintf("%s with scope %s wants to %s %s with scope %s; the %s must use the same scope",
		e.Declaration, e.Expected, e.Relation, e.Target, *e.Actual, relationNoun(e.Relation))
}

func (e *ScopeMismatchError) Position() token.Position { return e.Pos }
func (e *ScopeMismatchError) Code() string             { return "scope-mismatch" }

func relationNoun(r Relation) string {
	if r == Excluded {
		return "exclusion"
	}
	return "replacement"
}

// InvalidReplacementError reports a replaced declaration that is not
// module-like.
type InvalidReplacementError struct {
	Replacer fqname.FqName
	Replaced fqname.FqName
	Pos      token.Position
}

func (e *InvalidReplacementError) Error() string {
	return fmt.Sprintf("%s wants to replace %s, but the class being replaced is not a module", e.Replacer, e.Replaced)
}

func (e *InvalidReplacementError) Position() token.Position { return e.Pos }
func (e *InvalidReplacementError) Code() string             { return "invalid-replacement" }

// ConflictingIncludeExcludeError reports declarations both predefined and
// excluded by one merge point.
type ConflictingIncludeExcludeError struct {
	MergePoint fqname.FqName
	Classes    []fqname.FqName
	Pos        token.Position
}

func (e *ConflictingIncludeExcludeError) Error() string {
	names := make([]string, len(e.Classes))
	for i, c := range e.Classes {
		names[i] = c.String()
	}
	return fmt.Sprintf("%s includes and excludes modules at the same time: %s", e.MergePoint, strings.Join(names, ", "))
}

func (e *ConflictingIncludeExcludeError) Position() token.Position { return e.Pos }
func (e *ConflictingIncludeExcludeError) Code() string             { return "include-exclude" }
