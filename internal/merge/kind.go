package merge

import (
	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/fqname"
)

// Kind describes one kind of merge point: the annotation requesting the
// merge and the annotation it generates.
type Kind struct {
	Name   string
	Merge  fqname.FqName
	Native fqname.FqName

	// ModulesArg holds both the predefined modules of the merge annotation
	// and the merged modules of the generated one.
	ModulesArg string

	// CopiedArgs are copied verbatim from the merge annotation.
	CopiedArgs []string
}

var (
	Component = &Kind{
		Name:       "component",
		Merge:      annotations.MergeComponent,
		Native:     annotations.DaggerComponent,
		ModulesArg: annotations.ArgModules,
		CopiedArgs: []string{annotations.ArgDependencies},
	}
	Subcomponent = &Kind{
		Name:       "subcomponent",
		Merge:      annotations.MergeSubcomponent,
		Native:     annotations.DaggerSubcomponent,
		ModulesArg: annotations.ArgModules,
	}
	Modules = &Kind{
		Name:       "modules",
		Merge:      annotations.MergeModules,
		Native:     annotations.DaggerModule,
		ModulesArg: annotations.ArgIncludes,
		CopiedArgs: []string{annotations.ArgSubcomponents},
	}
)

// Kinds lists every merge point kind.
var Kinds = []*Kind{Component, Subcomponent, Modules}

// KindOf returns the kind whose merge annotation is name.
func KindOf(name fqname.FqName) (*Kind, bool) {
	for _, k := range Kinds {
		if k.Merge == name {
			return k, true
		}
	}
	return nil, false
}

func (k *Kind) String() string { return k.Name }
