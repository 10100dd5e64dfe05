package reference

import "github.com/Benny93/anvil-go/internal/fqname"

// ClassSet is an insertion-ordered set of class references keyed by
// qualified name. The first reference added for a name is kept.
type ClassSet struct {
	index map[fqname.FqName]int
	refs  []ClassRef
}

// NewClassSet returns a set holding refs in order, without duplicates.
func NewClassSet(refs ...ClassRef) *ClassSet {
	s := &ClassSet{index: make(map[fqname.FqName]int)}
	for _, r := range refs {
		s.Add(r)
	}
	return s
}

// Add inserts ref and reports whether it was absent.
func (s *ClassSet) Add(ref ClassRef) bool {
	fq := ref.FqName()
	if _, ok := s.index[fq]; ok {
		return false
	}
	s.index[fq] = len(s.refs)
	s.refs = append(s.refs, ref)
	return true
}

// Contains reports whether a reference to ref's declaration is present.
func (s *ClassSet) Contains(ref ClassRef) bool {
	return s.ContainsName(ref.FqName())
}

// ContainsName reports whether fq is present.
func (s *ClassSet) ContainsName(fq fqname.FqName) bool {
	_, ok := s.index[fq]
	return ok
}

// Len returns the number of references.
func (s *ClassSet) Len() int {
	return len(s.refs)
}

// Slice returns the references in insertion order.
func (s *ClassSet) Slice() []ClassRef {
	return append([]ClassRef(nil), s.refs...)
}

// Intersect returns the references of s also present in other, in the
// order of s.
func (s *ClassSet) Intersect(other *ClassSet) []ClassRef {
	var out []ClassRef
	for _, r := range s.refs {
		if other.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}
