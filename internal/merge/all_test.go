package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/anvil-go/internal/reference"
)

const multiSrc = `package app

type AppScope struct{}
type UserScope struct{}

//anvil:contributesTo{scope: AppScope}
//dagger:module
type A struct{}

//anvil:contributesTo{scope: UserScope}
//dagger:module
type U struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}

type Plain struct{}

//anvil:mergeSubcomponent{scope: UserScope}
type UserComponent interface{}

//anvil:mergeModules{scope: UserScope}
type UserModules struct{}
`

func TestFindMergePoints(t *testing.T) {
	t.Parallel()

	forEachBacking(t, func(t *testing.T, b reference.Backing) {
		_, prog := setup(t, b, multiSrc)

		points := FindMergePoints(prog, b)
		assert.Equal(t, names("AppComponent", "UserComponent", "UserModules"), reference.FqNames(points))
	})
}

func TestMergeAll(t *testing.T) {
	t.Parallel()

	t.Run("PreservesOrder", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, multiSrc)
			decls := append(FindMergePoints(prog, b), class(t, prog, b, "Plain"))

			results, err := MergeAll(t.Context(), m, decls, 2)
			require.NoError(t, err)
			require.Len(t, results, 3)

			assert.Equal(t, names("AppComponent")[0], results[0].MergePoint.FqName())
			assert.Equal(t, names("A"), results[0].ModuleNames())
			assert.Equal(t, names("U"), results[1].ModuleNames())
			assert.Equal(t, names("U"), results[2].ModuleNames())
			assert.Equal(t, Modules, results[2].Kind)
		})
	})

	t.Run("FailFast", func(t *testing.T) {
		t.Parallel()
		forEachBacking(t, func(t *testing.T, b reference.Backing) {
			m, prog := setup(t, b, `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
type NotAModule struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`)
			results, err := MergeAll(t.Context(), m, FindMergePoints(prog, b), 0)
			assert.Nil(t, results)

			var target *InvalidContributionError
			assert.ErrorAs(t, err, &target)
		})
	})

	t.Run("Canceled", func(t *testing.T) {
		t.Parallel()
		m, prog := setup(t, reference.Semantic, multiSrc)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := MergeAll(ctx, m, FindMergePoints(prog, reference.Semantic), 1)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		m, _ := setup(t, reference.Semantic, multiSrc)

		results, err := MergeAll(t.Context(), m, nil, 4)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}
