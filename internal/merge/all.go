package merge

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Benny93/anvil-go/internal/reference"
)

// IsMergePoint reports whether c carries a merge annotation.
func IsMergePoint(c reference.ClassRef) bool {
	for _, k := range Kinds {
		if c.IsAnnotatedWith(k.Merge) {
			return true
		}
	}
	return false
}

// FindMergePoints returns the merge points of the current compilation unit
// in declaration order, nested declarations after their enclosing one.
func FindMergePoints(prog *reference.Program, b reference.Backing) []reference.ClassRef {
	var out []reference.ClassRef
	var walk func(cs []reference.ClassRef)
	walk = func(cs []reference.ClassRef) {
		for _, c := range cs {
			if IsMergePoint(c) {
				out = append(out, c)
			}
			walk(c.InnerClasses())
		}
	}
	walk(prog.Classes(b))
	return out
}

// MergeAll merges decls on up to jobs goroutines, GOMAXPROCS when jobs is
// not positive. Results are in the order of decls; declarations that are
// not merge points are left out. The first failure cancels the others and
// is returned.
func MergeAll(ctx context.Context, m *Merger, decls []reference.ClassRef, jobs int) ([]*Result, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	results := make([]*Result, len(decls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(decls)))

	for i, decl := range decls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := m.Merge(gctx, decl)
			if errors.Is(err, ErrNotMergePoint) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
