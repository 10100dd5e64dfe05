// Package hint indexes contributed declarations.
//
// Every declaration carrying a contribution annotation produces one Record
// per annotation kind. Records are keyed by the kind's prefix and a hash of
// the declaration's qualified name, so that consumers in other compilation
// units can list every contribution of one kind with a single prefix scan
// instead of walking the declarations of their dependencies.
package hint

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/reference"
)

// Key returns the hint key of fq under prefix: the prefix, a dot and the
// 64-bit xxhash of the qualified name in hex.
func Key(prefix string, fq fqname.FqName) string {
	return fmt.Sprintf("%s.%016x", prefix, xxhash.Sum64String(fq.String()))
}

// HasPrefix reports whether key was produced under prefix.
func HasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix+".")
}

// Record is one indexed contribution. Annotations hold every annotation of
// the declaration so that the record can stand in for its syntax.
type Record struct {
	Key         string                         `msgpack:"key" json:"key"`
	Prefix      string                         `msgpack:"prefix" json:"prefix"`
	FqName      fqname.FqName                  `msgpack:"fq_name" json:"fq_name"`
	File        string                         `msgpack:"file,omitempty" json:"file,omitempty"`
	Annotations []reference.AnnotationMetadata `msgpack:"annotations,omitempty" json:"annotations,omitempty"`
}

// Encode serializes r.
func Encode(r *Record) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding hint %s: %w", r.Key, err)
	}
	return data, nil
}

// Decode deserializes a record written by Encode.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding hint: %w", err)
	}
	return &r, nil
}

// Collect produces the records of the root packages of prog, in declaration
// order. Nested declarations are visited after their enclosing one.
func Collect(prog *reference.Program, b reference.Backing) ([]*Record, error) {
	var out []*Record
	var visit func(c reference.ClassRef) error
	visit = func(c reference.ClassRef) error {
		records, err := ForClass(c)
		if err != nil {
			return err
		}
		out = append(out, records...)
		for _, inner := range c.InnerClasses() {
			if err := visit(inner); err != nil {
				return err
			}
		}
		return nil
	}
	for _, c := range prog.Classes(b) {
		if err := visit(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ForClass returns the records of one declaration, one per contribution
// annotation kind it carries.
func ForClass(c reference.ClassRef) ([]*Record, error) {
	anns := c.Annotations()
	var prefixes []string
	for _, name := range annotations.ContributionAnnotations {
		for _, a := range anns {
			if a.FqName() == name {
				prefixes = append(prefixes, annotations.HintPrefixes[name])
				break
			}
		}
	}
	if len(prefixes) == 0 {
		return nil, nil
	}

	mds := make([]reference.AnnotationMetadata, 0, len(anns))
	for _, a := range anns {
		md, err := a.Metadata()
		if err != nil {
			return nil, err
		}
		mds = append(mds, md)
	}

	out := make([]*Record, 0, len(prefixes))
	for _, prefix := range prefixes {
		out = append(out, &Record{
			Key:         Key(prefix, c.FqName()),
			Prefix:      prefix,
			FqName:      c.FqName(),
			File:        c.Pos().Filename,
			Annotations: mds,
		})
	}
	return out, nil
}
