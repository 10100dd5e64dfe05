// Package annotations names the directives the merge engine reads and
// writes, declares their parameters, and derives the names of generated
// declarations.
package annotations

import (
	"strings"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/reference"
)

// Directive namespaces.
const (
	Anvil  = "anvil"
	Dagger = "dagger"
)

var (
	ContributesTo           = fqname.New(Anvil, "contributesTo")
	ContributesBinding      = fqname.New(Anvil, "contributesBinding")
	ContributesMultibinding = fqname.New(Anvil, "contributesMultibinding")
	ContributesSubcomponent = fqname.New(Anvil, "contributesSubcomponent")
	MergeComponent          = fqname.New(Anvil, "mergeComponent")
	MergeSubcomponent       = fqname.New(Anvil, "mergeSubcomponent")
	MergeModules            = fqname.New(Anvil, "mergeModules")
	MergeInterfaces         = fqname.New(Anvil, "mergeInterfaces")
	AnnotationMarker        = reference.AnnotationClassMarker
	DaggerComponent         = fqname.New(Dagger, "component")
	DaggerSubcomponent      = fqname.New(Dagger, "subcomponent")
	DaggerModule            = fqname.New(Dagger, "module")
)

// Argument names.
const (
	ArgScope           = reference.ArgScope
	ArgParentScope     = reference.ArgParentScope
	ArgExclude         = reference.ArgExclude
	ArgReplaces        = reference.ArgReplaces
	ArgModules         = "modules"
	ArgDependencies    = "dependencies"
	ArgIncludes        = "includes"
	ArgSubcomponents   = "subcomponents"
	ArgBoundType       = "boundType"
	ArgPriority        = "priority"
	ArgRank            = "rank"
	ArgIgnoreQualifier = "ignoreQualifier"
)

const (
	classType      = "class"
	classArrayType = "[]class"
)

// Schemas declares the parameters of every known directive, in positional
// order.
var Schemas = []reference.Schema{
	{Name: ContributesTo, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgReplaces, Type: classArrayType},
	}},
	{Name: ContributesBinding, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgBoundType, Type: classType},
		{Name: ArgReplaces, Type: classArrayType},
		{Name: ArgPriority, Type: "enum"},
		{Name: ArgIgnoreQualifier, Type: "bool"},
		{Name: ArgRank, Type: "int"},
	}},
	{Name: ContributesMultibinding, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgBoundType, Type: classType},
		{Name: ArgReplaces, Type: classArrayType},
		{Name: ArgIgnoreQualifier, Type: "bool"},
	}},
	{Name: ContributesSubcomponent, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgParentScope, Type: classType},
		{Name: ArgModules, Type: classArrayType},
		{Name: ArgExclude, Type: classArrayType},
		{Name: ArgReplaces, Type: classArrayType},
	}},
	{Name: MergeComponent, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgModules, Type: classArrayType},
		{Name: ArgDependencies, Type: classArrayType},
		{Name: ArgExclude, Type: classArrayType},
	}},
	{Name: MergeSubcomponent, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgModules, Type: classArrayType},
		{Name: ArgExclude, Type: classArrayType},
	}},
	{Name: MergeModules, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgIncludes, Type: classArrayType},
		{Name: ArgSubcomponents, Type: classArrayType},
		{Name: ArgExclude, Type: classArrayType},
	}},
	{Name: MergeInterfaces, Params: []reference.Param{
		{Name: ArgScope, Type: classType},
		{Name: ArgExclude, Type: classArrayType},
	}},
	{Name: DaggerComponent, Params: []reference.Param{
		{Name: ArgModules, Type: classArrayType},
		{Name: ArgDependencies, Type: classArrayType},
	}},
	{Name: DaggerSubcomponent, Params: []reference.Param{
		{Name: ArgModules, Type: classArrayType},
	}},
	{Name: DaggerModule, Params: []reference.Param{
		{Name: ArgIncludes, Type: classArrayType},
		{Name: ArgSubcomponents, Type: classArrayType},
	}},
	{Name: AnnotationMarker},
}

// Namespaces lists the directive namespaces known to the engine.
var Namespaces = []string{Anvil, Dagger}

// ProgramOptions configures a reference.Program for these directives.
func ProgramOptions() []reference.Option {
	return []reference.Option{
		reference.WithSchemas(Schemas...),
		reference.WithNamespaces(Namespaces...),
	}
}

// Hint prefixes index contributions by annotation kind.
const (
	HintPrefix             = "anvil.hint"
	MergeHintPrefix        = HintPrefix + ".merge"
	BindingHintPrefix      = HintPrefix + ".binding"
	MultibindingHintPrefix = HintPrefix + ".multibinding"
	SubcomponentHintPrefix = HintPrefix + ".subcomponent"
)

// HintPrefixes maps each contribution annotation to its hint prefix.
var HintPrefixes = map[fqname.FqName]string{
	ContributesTo:           MergeHintPrefix,
	ContributesBinding:      BindingHintPrefix,
	ContributesMultibinding: MultibindingHintPrefix,
	ContributesSubcomponent: SubcomponentHintPrefix,
}

// ContributionAnnotations lists the annotations that contribute to a scope,
// in hint prefix order.
var ContributionAnnotations = []fqname.FqName{
	ContributesTo,
	ContributesBinding,
	ContributesMultibinding,
	ContributesSubcomponent,
}

// AnnotationForPrefix is the inverse of HintPrefixes.
func AnnotationForPrefix(prefix string) (fqname.FqName, bool) {
	for fq, p := range HintPrefixes {
		if p == prefix {
			return fq, true
		}
	}
	return fqname.FqName{}, false
}

// GeneratedModulePackage is the reserved last element of the package that
// holds the modules generated for the merge points of its parent package.
const GeneratedModulePackage = "anvilmodule"

// GeneratedModulePrefix starts the name of every module generated for a
// merge point.
const GeneratedModulePrefix = "AnvilModule"

// GeneratedModuleName is the module generated for the merge point mp. It
// lives in the reserved package below mp's package; nested names are
// joined without separator.
func GeneratedModuleName(mp fqname.FqName) fqname.FqName {
	return fqname.New(mp.Pkg+"/"+GeneratedModulePackage, GeneratedModulePrefix+mp.JoinedNames(""))
}

// IsGeneratedModule reports a declaration in a reserved module package
// named like a generated merge point module. Declarations elsewhere are
// ordinary modules whatever their name.
func IsGeneratedModule(fq fqname.FqName) bool {
	return strings.HasSuffix(fq.Pkg, "/"+GeneratedModulePackage) && strings.HasPrefix(fq.Name, GeneratedModulePrefix)
}

// SubcomponentModuleName is the module generated for a contributed
// subcomponent under parent. It lives beside parent.
func SubcomponentModuleName(subcomponent, parent fqname.FqName) fqname.FqName {
	return fqname.New(parent.Pkg, parent.JoinedNames("")+"_"+subcomponent.JoinedNames("")+"SubcomponentModule")
}
