package reference

import (
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/Benny93/anvil-go/internal/fqname"
)

// ssaMember finds the SSA type member of obj. Nested declarations have no
// package member and yield nil.
func (p *Program) ssaMember(obj *types.TypeName, fq fqname.FqName) (*ssa.Type, error) {
	prog := p.ssaProgram()
	pkg := prog.Package(obj.Pkg())
	if pkg == nil {
		return nil, &ResolutionError{FqName: fq, Backing: Lowered, Reason: "package not lowered"}
	}
	if obj.Parent() != obj.Pkg().Scope() {
		return nil, nil
	}
	member, ok := pkg.Members[obj.Name()].(*ssa.Type)
	if !ok {
		return nil, &ResolutionError{FqName: fq, Backing: Lowered, Reason: "no such member"}
	}
	return member, nil
}

type loweredClass struct {
	*typesClass
	member *ssa.Type
}

func (*loweredClass) classRef() {}

// Member returns the SSA type member, or nil for nested declarations.
func (c *loweredClass) Member() *ssa.Type { return c.member }

type loweredFunction struct {
	typesFunction
	fn *ssa.Function
}

func (*loweredFunction) functionRef() {}

// Function returns the SSA function of a concrete method, or nil for
// interface methods.
func (f *loweredFunction) Function() *ssa.Function { return f.fn }

type loweredProperty struct{ *typesProperty }

func (*loweredProperty) propertyRef() {}

type loweredAnnotation struct{ *annotationCore }

func (*loweredAnnotation) annotationRef() {}
