package ingestion

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/config"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/loader"
	"github.com/Benny93/anvil-go/internal/merge"
	"github.com/Benny93/anvil-go/internal/reference"
	"github.com/Benny93/anvil-go/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const appSrc = `package app

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

//anvil:contributesTo{scope: AppScope}
type Accessors interface{}

//anvil:mergeComponent{scope: AppScope, exclude: {C}}
type AppComponent interface{}
`

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func loadProgram(t *testing.T) *reference.Program {
	t.Helper()
	fset, pkgs, err := loader.FromSources(loader.Sources{"example.com/app": {"app.go": appSrc}})
	require.NoError(t, err)
	return reference.NewProgram(fset, pkgs, annotations.ProgramOptions()...)
}

func testOptions(t *testing.T, store storage.Backend) Options {
	t.Helper()
	return Options{Config: config.Default(t.TempDir()), Store: store, Log: quietLogger()}
}

func TestMergeProgram(t *testing.T) {
	t.Parallel()

	t.Run("MergesAndStores", func(t *testing.T) {
		t.Parallel()
		store := storage.NewMemoryBackend()
		var phases []string
		opts := testOptions(t, store)
		opts.Progress = func(phase string, progress float64) {
			if progress == 1.0 {
				phases = append(phases, phase)
			}
		}

		g, result, err := MergeProgram(t.Context(), loadProgram(t), opts)
		require.NoError(t, err)

		assert.Equal(t, []string{"Indexing hints", "Merging", "Emitting", "Loading to storage"}, phases)
		assert.Equal(t, 1, result.Packages)
		assert.Equal(t, 4, result.Hints)
		assert.Equal(t, 1, result.MergePoints)
		assert.Equal(t, 1, result.Modules)
		require.Len(t, result.Results, 1)
		assert.Equal(t, []fqname.FqName{fqname.New("example.com/app", "B")}, result.Results[0].ModuleNames())
		require.Len(t, result.Emitted, 1)
		assert.Equal(t, "//dagger:component{modules: {B}}", result.Emitted[0].Directive)

		stats, err := store.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Hints)
		assert.Equal(t, g.NodeCount(), stats.Nodes)
		assert.Equal(t, g.RelationshipCount(), stats.Relationships)
	})

	t.Run("ReplacesStaleHints", func(t *testing.T) {
		t.Parallel()
		store := storage.NewMemoryBackend()
		stale := &hint.Record{
			Key:    hint.Key(annotations.MergeHintPrefix, fqname.New("example.com/app", "Gone")),
			Prefix: annotations.MergeHintPrefix,
			FqName: fqname.New("example.com/app", "Gone"),
			File:   "app.go",
		}
		require.NoError(t, store.PutHints(t.Context(), []*hint.Record{stale}))

		_, _, err := MergeProgram(t.Context(), loadProgram(t), testOptions(t, store))
		require.NoError(t, err)

		records, err := store.GetHints(t.Context(), stale.FqName)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("WithoutStore", func(t *testing.T) {
		t.Parallel()
		g, result, err := MergeProgram(t.Context(), loadProgram(t), testOptions(t, nil))
		require.NoError(t, err)
		assert.Equal(t, 1, result.MergePoints)
		assert.Positive(t, g.NodeCount())
	})

	t.Run("MergeFailure", func(t *testing.T) {
		t.Parallel()
		fset, pkgs, err := loader.FromSources(loader.Sources{"example.com/app": {"app.go": `package app

type AppScope struct{}

//anvil:contributesTo{scope: AppScope}
type NotAModule struct{}

//anvil:mergeComponent{scope: AppScope}
type AppComponent interface{}
`}})
		require.NoError(t, err)
		prog := reference.NewProgram(fset, pkgs, annotations.ProgramOptions()...)

		_, _, err = MergeProgram(t.Context(), prog, testOptions(t, nil))
		var invalid *merge.InvalidContributionError
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestBuildGraph(t *testing.T) {
	t.Parallel()

	g, result, err := MergeProgram(t.Context(), loadProgram(t), testOptions(t, nil))
	require.NoError(t, err)
	assert.Equal(t, g.RelationshipCount(), result.Relationships)

	id := func(label graph.NodeLabel, name string) string {
		return graph.GenerateID(label, "example.com/app."+name)
	}
	mp := id(graph.NodeMergePoint, "AppComponent")
	scope := id(graph.NodeScope, "AppScope")

	node := g.GetNode(mp)
	require.NotNil(t, node)
	assert.Equal(t, "app.go", node.FilePath)
	assert.Equal(t, "public", node.Visibility)
	assert.Contains(t, node.Annotations, "//anvil:mergeComponent{scope: AppScope, exclude: {C}}")

	assert.NotNil(t, g.GetNode(scope))
	assert.NotNil(t, g.GetNode(id(graph.NodeInterface, "Accessors")))

	has := func(rel graph.RelType, from, to string) bool {
		return slices.ContainsFunc(g.GetOutgoing(from, rel), func(r *graph.GraphRelationship) bool {
			return r.Target == to
		})
	}
	assert.True(t, has(graph.RelMergesScope, mp, scope))
	assert.True(t, has(graph.RelMerges, mp, id(graph.NodeModule, "B")))
	assert.False(t, has(graph.RelMerges, mp, id(graph.NodeModule, "A")))
	assert.True(t, has(graph.RelReplaces, id(graph.NodeModule, "B"), id(graph.NodeModule, "A")))
	assert.True(t, has(graph.RelExcludes, mp, id(graph.NodeModule, "C")))
	assert.True(t, has(graph.RelContributesTo, id(graph.NodeModule, "A"), scope))
	assert.True(t, has(graph.RelContributesTo, id(graph.NodeInterface, "Accessors"), scope))
}

func TestRunPipeline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"go.mod":            "module example.com/app\n\ngo 1.22\n",
		"app.go":            appSrc,
		"scopes/scopes.go":  "package scopes\n\ntype Unused struct{}\n",
		"_scratch/draft.go": "package draft\n",
	})

	store := storage.NewBadgerBackend()
	require.NoError(t, store.Initialize(filepath.Join(dir, config.DefaultHintsPath), false))
	defer store.Close()

	cfg := config.Default(dir)
	cfg.Merge.Jobs = 2
	g, result, err := RunPipeline(t.Context(), Options{Config: cfg, Store: store, Log: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Files)
	assert.Equal(t, 2, result.Packages)
	assert.Equal(t, 1, result.MergePoints)
	assert.Positive(t, result.Duration)

	stored, err := store.LoadGraph(t.Context())
	require.NoError(t, err)
	assert.Equal(t, g.NodeCount(), stored.NodeCount())

	records, err := store.GetHints(t.Context(), fqname.New("example.com/app", "B"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, filepath.Join(dir, "app.go"), records[0].File)

	_, err = os.Stat(filepath.Join(dir, config.DefaultHintsPath))
	assert.NoError(t, err)
}

func TestRunPipeline_IgnoredPackages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"go.mod":           "module example.com/app\n\ngo 1.22\n",
		".gitignore":       "generated/\n",
		"app.go":           appSrc,
		"generated/bad.go": "package generated\n\nvar x int = \"broken\"\n",
	})

	_, result, err := RunPipeline(t.Context(), Options{Config: config.Default(dir), Log: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Packages)
	assert.Equal(t, 1, result.MergePoints)
}

func TestWalkedPatterns(t *testing.T) {
	t.Parallel()

	entries := []FileEntry{
		{RelPath: "app.go", Dir: "."},
		{RelPath: "lib/lib.go", Dir: "lib"},
		{RelPath: "lib/lib_test.go", Dir: "lib"},
		{RelPath: "only/only_test.go", Dir: "only"},
	}

	assert.Equal(t, []string{".", "./lib"}, walkedPatterns(entries, false))
	assert.Equal(t, []string{".", "./lib", "./only"}, walkedPatterns(entries, true))
	assert.Equal(t, []string{"./..."}, walkedPatterns(nil, false))
}
