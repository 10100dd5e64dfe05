package merge

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/loader"
	"github.com/Benny93/anvil-go/internal/reference"
	"github.com/Benny93/anvil-go/internal/scanner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const appPkg = "example.com/app"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// setup loads an app package made of the given source and returns a merger
// for backing b.
func setup(t *testing.T, b reference.Backing, src string) (*Merger, *reference.Program) {
	t.Helper()
	return setupSources(t, b, loader.Sources{appPkg: {"app.go": src}})
}

func setupSources(t *testing.T, b reference.Backing, srcs loader.Sources) (*Merger, *reference.Program) {
	t.Helper()

	fset, pkgs, err := loader.FromSources(srcs)
	require.NoError(t, err)
	log := quietLogger()
	opts := append(annotations.ProgramOptions(), reference.WithLogger(log))
	prog := reference.NewProgram(fset, pkgs, opts...)
	return New(scanner.New(prog, b, scanner.WithLogger(log)), WithLogger(log)), prog
}

func class(t *testing.T, prog *reference.Program, b reference.Backing, name string) reference.ClassRef {
	t.Helper()
	c, err := prog.Class(fqname.New(appPkg, name), b)
	require.NoError(t, err)
	return c
}

func names(fqs ...string) []fqname.FqName {
	out := make([]fqname.FqName, len(fqs))
	for i, n := range fqs {
		out[i] = fqname.New(appPkg, n)
	}
	return out
}

// forEachBacking runs fn once per backing.
func forEachBacking(t *testing.T, fn func(t *testing.T, b reference.Backing)) {
	t.Helper()
	for _, b := range reference.Backings {
		t.Run(b.String(), func(t *testing.T) {
			t.Parallel()
			fn(t, b)
		})
	}
}

const replacementSrc = `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type A struct{}

//anvil:contributesTo{scope: AppScope, replaces: {A}}
//dagger:module
type B struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type C struct{}

//dagger:module
type D struct{}

//anvil:mergeComponent{scope: AppScope, modules: {D}}
type AppComponent interface{}
`

func TestMerger_Merge(t *testing.T) {
	t.Parallel()

	t.Run("Replacement", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, replacementSrc)

			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)

			if diff := cmp.Diff(names("B", "C", "D"), res.ModuleNames()); diff != "" {
				t.Errorf("modules mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, names("A"), reference.FqNames(res.Replaced))
			assert.Equal(t, Component, res.Kind)
			assert.Equal(t, fqname.New(appPkg, "AppScope"), res.Scope.FqName())
			assert.Contains(t, res.Edges, Edge{Kind: Replacement, From: names("B")[0], To: names("A")[0]})
			assert.Contains(t, res.Edges, Edge{Kind: Inclusion, From: names("AppComponent")[0], To: names("D")[0]})
			for _, mod := range res.Modules {
				assert.Equal(t, b, mod.Backing())
			}
		})
	})

	t.Run("Deterministic", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, replacementSrc)
			decl := class(t, prog, b, "AppComponent")

			first, err := m.Merge(t.Context(), decl)
			require.NoError(t, err)
			prog.ResetCache()
			second, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)

			assert.Empty(t, cmp.Diff(first.ModuleNames(), second.ModuleNames()))
		})
	})

	t.Run("SameAcrossBackings", func(t *testing.T) {
		t.Parallel()
		var results [][]fqname.FqName
		for _, b := range reference.Backings {
			m, prog := setup(t, b, replacementSrc)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			results = append(results, res.ModuleNames())
		}
		assert.Equal(t, results[0], results[1])
		assert.Equal(t, results[0], results[2])
	})

	t.Run("Exclusion", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type A struct{}

//anvil:contributesTo{scope: AppScope, replaces: {C}}
//dagger:module
type B struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type C struct{}

//anvil:mergeComponent{scope: AppScope, exclude: {A, B}}
type AppComponent interface{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)

			// B is excluded, so its replacement of C does not apply.
			assert.Equal(t, names("C"), res.ModuleNames())
			assert.Equal(t, names("A", "B"), reference.FqNames(res.Excluded))
			assert.Empty(t, res.Replaced)
		})
	})

	t.Run("PredefinedDeduplicated", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type A struct{}

//anvil:mergeModules{scope: AppScope, includes: {A}}
type AppModule struct{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppModule"))
			require.NoError(t, err)
			assert.Equal(t, names("A"), res.ModuleNames())
			assert.Equal(t, Modules, res.Kind)
		})
	})

	t.Run("OtherScopeIgnored", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}
type UserScope struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type A struct{}

//anvil:contributesTo{scope: UserScope}
//dagger:module
type U struct{}

//anvil:mergeSubcomponent{scope: UserScope}
type UserComponent interface{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "UserComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("U"), res.ModuleNames())
			assert.Equal(t, Subcomponent, res.Kind)
		})
	})

	t.Run("Interfaces", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
type Parts interface {
	Name() string
}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type Bindings interface{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("Bindings"), res.ModuleNames())
			assert.Equal(t, names("Parts"), reference.FqNames(res.Interfaces))
		})
	})

	t.Run("NestedMergedModules", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
//anvil:mergeModules{scope: AppScope}
type Aggregate struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("Aggregate"), res.ModuleNames())
		})
	})

	t.Run("SelfFilter", func(t *testing.T) {
		t.Parallel()
		generated := appPkg + "/anvilmodule"
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setupSources(t, b, loader.Sources{
				appPkg: {"app.go": `package app

type AppScope struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}

//anvil:mergeComponent{scope: AppScope}
type OtherComponent interface{}
`},
				generated: {"modules.go": `package anvilmodule

import "example.com/app"

//anvil:contributesTo{scope: app.AppScope}
//dagger:module
type AnvilModuleAppComponent struct{}

//anvil:contributesTo{scope: app.AppScope}
//dagger:module
type AnvilModuleOtherComponent struct{}

var _ app.AppScope
`},
			})
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, []fqname.FqName{fqname.New(generated, "AnvilModuleAppComponent")}, res.ModuleNames())

			res, err = m.Merge(t.Context(), class(t, prog, b, "OtherComponent"))
			require.NoError(t, err)
			assert.Equal(t, []fqname.FqName{fqname.New(generated, "AnvilModuleOtherComponent")}, res.ModuleNames())
		})
	})

	t.Run("GeneratedLookingNameOutsideReservedPackage", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type AnvilModuleCaching struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("AnvilModuleCaching"), res.ModuleNames())
		})
	})

	t.Run("BindingReplacement", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}
type OtherScope struct{}

type Service interface{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type DefaultServiceModule struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type C struct{}

//anvil:contributesBinding{scope: AppScope, boundType: Service, replaces: {DefaultServiceModule}}
type FakeService struct{}

//anvil:contributesMultibinding{scope: AppScope, replaces: {C}}
type Plugin struct{}

//anvil:contributesBinding{scope: OtherScope, replaces: {Unrelated}}
type Elsewhere struct{}

type Unrelated struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Empty(t, res.ModuleNames())
			assert.Equal(t, names("DefaultServiceModule", "C"), reference.FqNames(res.Replaced))
		})
	})

	t.Run("SubcomponentModules", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}
type ChildScope struct{}
type OtherScope struct{}

//anvil:contributesSubcomponent{scope: ChildScope, parentScope: AppScope}
type Child interface{}

//anvil:contributesSubcomponent{scope: ChildScope, parentScope: AppScope}
type NotGenerated interface{}

//anvil:contributesSubcomponent{scope: ChildScope, parentScope: OtherScope}
type Stranger interface{}

//dagger:module
type AppComponent_ChildSubcomponentModule struct{}

//dagger:module
type AppComponent_StrangerSubcomponentModule struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`)
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("AppComponent_ChildSubcomponentModule"), res.ModuleNames())
			assert.Contains(t, res.Edges, Edge{
				Kind: SubcomponentModule,
				From: names("Child")[0],
				To:   names("AppComponent_ChildSubcomponentModule")[0],
			})
		})
	})

	t.Run("ImportedScope", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setupSources(t, b, loader.Sources{
				"example.com/scopes": {"scopes.go": `package scopes

type AppScope struct{}
`},
				appPkg: {"app.go": `package app

import "example.com/scopes"

//anvil:contributesTo{scope: scopes.AppScope}
//dagger:module
type A struct{}

//anvil:mergeComponent{scope: scopes.AppScope}
type AppComponent interface{}

var _ scopes.AppScope
`},
			})
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("A"), res.ModuleNames())
			assert.Equal(t, fqname.New("example.com/scopes", "AppScope"), res.Scope.FqName())
		})
	})

	t.Run("DefinedOverNamedType", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}

type Base interface {
	Name() string
}

type Empty struct{}

//anvil:contributesTo{scope: AppScope}
type Parts Base

//anvil:contributesTo{scope: AppScope}
//dagger:module
type Module Empty

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`)
			parts := class(t, prog, b, "Parts")
			assert.True(t, parts.IsInterface())
			fns, err := parts.Functions()
			require.NoError(t, err)
			require.Len(t, fns, 1)
			assert.Equal(t, "Name", fns[0].Name())
			assert.True(t, class(t, prog, b, "Module").IsObject())

			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("Module"), res.ModuleNames())
			assert.Equal(t, names("Parts"), reference.FqNames(res.Interfaces))
		})
	})

	t.Run("AliasedScope", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setupSources(t, b, loader.Sources{
				"example.com/scopes": {"scopes.go": `package scopes

type RealScope struct{}
`},
				appPkg: {"app.go": `package app

import "example.com/scopes"

type AppScope = LocalScope

type LocalScope = scopes.RealScope

//anvil:contributesTo{scope: AppScope}
//dagger:module
type A struct{}

//anvil:contributesTo{scope: scopes.RealScope}
//dagger:module
type B struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`},
			})
			res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
			require.NoError(t, err)
			assert.Equal(t, names("A", "B"), res.ModuleNames())
			assert.Equal(t, fqname.New("example.com/scopes", "RealScope"), res.Scope.FqName())
		})
	})
}

func TestMerger_MergeNotMergePoint(t *testing.T) {
	t.Parallel()

	forEachBacking(t, func(t *testing.T, b reference.Backing) {
		m, prog := setup(t, b, `package app

type AppScope struct{}

type Plain struct{}

//anvil:mergeComponent{scope: AppScope}
//anvil:mergeModules{scope: AppScope}
type Both interface{}
`)
		_, err := m.Merge(t.Context(), class(t, prog, b, "Plain"))
		assert.ErrorIs(t, err, ErrNotMergePoint)

		_, err = m.Merge(t.Context(), class(t, prog, b, "Both"))
		assert.ErrorIs(t, err, ErrNotMergePoint)
	})
}

func TestMerger_MergeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		src   string
		check func(t *testing.T, err error)
	}{
		{
			name: "ConflictingIncludeExclude",
			src: `package app

type AppScope struct{}

//dagger:module
type X struct{}

//anvil:contributesTo{scope: AppScope}
type NotAModule struct{}

//anvil:mergeComponent{scope: AppScope, modules: {X}, exclude: {X}}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				// Raised before the invalid contribution is scanned.
				var target *ConflictingIncludeExcludeError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, names("X"), target.Classes)
				assert.Equal(t, names("AppComponent")[0], target.MergePoint)
			},
		},
		{
			name: "ConflictingAnnotation",
			src: `package app

type AppScope struct{}

//anvil:mergeComponent{scope: AppScope}
//dagger:component
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *ConflictingAnnotationError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, annotations.DaggerComponent, target.Native)
			},
		},
		{
			name: "InvalidContribution",
			src: `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
type NotAModule struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *InvalidContributionError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, names("NotAModule")[0], target.Contribution)
				assert.Equal(t, 6, target.Pos.Line)
			},
		},
		{
			name: "Visibility",
			src: `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type hiddenModule struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *VisibilityError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, names("hiddenModule")[0], target.Contribution)
				assert.Equal(t, reference.Private, target.Visibility)
			},
		},
		{
			name: "ExcludedWithOtherScope",
			src: `package app

type AppScope struct{}
type OtherScope struct{}

//anvil:contributesTo{scope: OtherScope}
//dagger:module
type X struct{}

//anvil:mergeComponent{scope: AppScope, exclude: {X}}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *ScopeMismatchError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, Excluded, target.Relation)
				assert.Equal(t, names("X")[0], target.Target)
				require.NotNil(t, target.Actual)
				assert.Equal(t, names("OtherScope")[0], *target.Actual)
			},
		},
		{
			name: "ExcludedWithoutScope",
			src: `package app

type AppScope struct{}

//dagger:module
type X struct{}

//anvil:mergeComponent{scope: AppScope, exclude: {X}}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *ScopeMismatchError
				require.ErrorAs(t, err, &target)
				assert.Nil(t, target.Actual)
				assert.Contains(t, target.Error(), "could not determine the scope")
			},
		},
		{
			name: "ReplacedWithOtherScope",
			src: `package app

type AppScope struct{}
type OtherScope struct{}

//anvil:contributesTo{scope: OtherScope}
//dagger:module
type X struct{}

//anvil:contributesTo{scope: AppScope, replaces: {X}}
//dagger:module
type B struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *ScopeMismatchError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, Replaced, target.Relation)
				assert.Equal(t, names("B")[0], target.Declaration)
			},
		},
		{
			name: "BindingReplacedWithOtherScope",
			src: `package app

type AppScope struct{}
type OtherScope struct{}

//anvil:contributesTo{scope: OtherScope}
//dagger:module
type X struct{}

//anvil:contributesBinding{scope: AppScope, replaces: {X}}
type Impl struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *ScopeMismatchError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, names("Impl")[0], target.Declaration)
			},
		},
		{
			name: "InvalidReplacement",
			src: `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
type Parts interface{}

//anvil:contributesTo{scope: AppScope, replaces: {Parts}}
//dagger:module
type B struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *InvalidReplacementError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, names("B")[0], target.Replacer)
				assert.Equal(t, names("Parts")[0], target.Replaced)
			},
		},
		{
			name: "MissingScope",
			src: `package app

//anvil:mergeComponent{}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *reference.AnnotationError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, reference.ArgScope, target.Argument)
			},
		},
		{
			name: "RepeatedMergeAnnotation",
			src: `package app

type AppScope struct{}

//anvil:mergeComponent{scope: AppScope}
//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`,
			check: func(t *testing.T, err error) {
				var target *reference.ExpectedSingleAnnotationError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, 2, target.Count)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			forEachBacking(t, func(t *testing.T, b reference.Backing) {
				m, prog := setup(t, b, tt.src)

				res, err := m.Merge(t.Context(), class(t, prog, b, "AppComponent"))
				require.Error(t, err)
				assert.Nil(t, res)

				var failure *Failure
				require.ErrorAs(t, err, &failure)
				assert.Equal(t, names("AppComponent")[0], failure.MergePoint)
				assert.Equal(t, annotations.MergeComponent, failure.Annotation)
				assert.Equal(t, "app.go", failure.Position().Filename)
				assert.NotEqual(t, "merge", failure.Code())

				tt.check(t, err)
			})
		})
	}
}
