// Package scanner finds the declarations contributed to a scope.
package scanner

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/reference"
)

// Index is a read-only hint index of a dependency.
type Index interface {
	ScanHints(ctx context.Context, prefix string) ([]*hint.Record, error)
}

// Scanner lists contributed declarations from the current compilation unit
// and from the hint indexes of its dependencies.
type Scanner struct {
	prog    *reference.Program
	backing reference.Backing
	indexes []Index
	log     logrus.FieldLogger

	once  sync.Once
	local []*hint.Record
	err   error
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithIndexes adds dependency hint indexes, scanned in order after the
// current compilation unit.
func WithIndexes(indexes ...Index) Option {
	return func(s *Scanner) { s.indexes = append(s.indexes, indexes...) }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scanner) { s.log = log }
}

// New returns a scanner resolving classes in backing b of prog.
func New(prog *reference.Program, b reference.Backing, opts ...Option) *Scanner {
	s := &Scanner{prog: prog, backing: b, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backing returns the backing scanned classes are resolved in.
func (s *Scanner) Backing() reference.Backing { return s.backing }

// Program returns the scanned program.
func (s *Scanner) Program() *reference.Program { return s.prog }

// Local returns the hint records of the current compilation unit. They are
// collected once per scanner.
func (s *Scanner) Local() ([]*hint.Record, error) {
	s.once.Do(func() {
		s.local, s.err = hint.Collect(s.prog, s.backing)
	})
	return s.local, s.err
}

// FindContributedClasses yields the classes indexed under prefix that carry
// annotation with a scope argument equal to scope. A nil scope matches any
// scope. Classes appear once, current compilation unit first, then each
// index in key order. Records whose class cannot be resolved are skipped.
//
// The sequence is lazy and may be iterated more than once; every iteration
// rescans the indexes. An error ends the iteration.
func (s *Scanner) FindContributedClasses(ctx context.Context, prefix string, annotation fqname.FqName, scope *fqname.FqName) iter.Seq2[reference.ClassRef, error] {
	return func(yield func(reference.ClassRef, error) bool) {
		seen := make(map[fqname.FqName]bool)

		emit := func(records []*hint.Record) bool {
			for _, r := range records {
				if r.Prefix != prefix || seen[r.FqName] {
					continue
				}
				seen[r.FqName] = true

				c, ok := s.prog.LookupClass(r.FqName, s.backing)
				if !ok {
					s.log.WithFields(logrus.Fields{
						"class":   r.FqName.String(),
						"backing": s.backing.String(),
					}).Debug("skipping unresolvable contribution")
					continue
				}
				found, err := reference.FindAnnotations(c.Annotations(), annotation, scope)
				if err != nil {
					yield(nil, err)
					return false
				}
				if len(found) == 0 {
					continue
				}
				if !yield(c, nil) {
					return false
				}
			}
			return true
		}

		local, err := s.Local()
		if err != nil {
			yield(nil, fmt.Errorf("collecting hints: %w", err))
			return
		}
		if !emit(local) {
			return
		}
		for _, idx := range s.indexes {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			records, err := idx.ScanHints(ctx, prefix)
			if err != nil {
				yield(nil, fmt.Errorf("scanning %s: %w", prefix, err))
				return
			}
			if !emit(records) {
				return
			}
		}
	}
}

// Collect drains seq, stopping at the first error.
func Collect(seq iter.Seq2[reference.ClassRef, error]) ([]reference.ClassRef, error) {
	var out []reference.ClassRef
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
