package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/reference"
)

const mergePrefix = "anvil.hint.merge"

func record(prefix, fq, file string) *hint.Record {
	name := fqname.MustParse(fq)
	return &hint.Record{
		Key:    hint.Key(prefix, name),
		Prefix: prefix,
		FqName: name,
		File:   file,
		Annotations: []reference.AnnotationMetadata{{
			Name: fqname.New("anvil", "contributesTo"),
			Args: []reference.ArgumentMetadata{{
				Name:  "scope",
				Text:  "scopes.AppScope",
				Value: reference.ClassValue(fqname.MustParse("example.com/scopes.AppScope")),
			}},
		}},
	}
}

// backends returns a fresh instance of every implementation.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	b := NewBadgerBackend()
	require.NoError(t, b.Initialize(filepath.Join(t.TempDir(), "badger"), false))
	t.Cleanup(func() { b.Close() })

	return map[string]Backend{
		"Badger": b,
		"Memory": NewMemoryBackend(),
	}
}

func TestBackend_Hints(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			a := record(mergePrefix, "example.com/app.ModuleA", "a.go")
			b := record(mergePrefix, "example.com/app.ModuleB", "b.go")
			bind := record("anvil.hint.binding", "example.com/app.Impl", "a.go")
			require.NoError(t, backend.PutHints(ctx, []*hint.Record{a, b, bind}))

			t.Run("ScanByPrefix", func(t *testing.T) {
				records, err := backend.ScanHints(ctx, mergePrefix)
				require.NoError(t, err)
				require.Len(t, records, 2)
				names := []fqname.FqName{records[0].FqName, records[1].FqName}
				assert.ElementsMatch(t, []fqname.FqName{a.FqName, b.FqName}, names)
				assert.Less(t, records[0].Key, records[1].Key)
			})

			t.Run("PrefixIsNotSubstring", func(t *testing.T) {
				records, err := backend.ScanHints(ctx, "anvil.hint.merg")
				require.NoError(t, err)
				assert.Empty(t, records)
			})

			t.Run("RoundTripsAnnotations", func(t *testing.T) {
				records, err := backend.GetHints(ctx, a.FqName)
				require.NoError(t, err)
				require.Len(t, records, 1)
				assert.Equal(t, a.Annotations, records[0].Annotations)
			})

			t.Run("AnnotationMetadata", func(t *testing.T) {
				mds, ok := backend.AnnotationMetadata(bind.FqName)
				require.True(t, ok)
				require.Len(t, mds, 1)
				assert.Equal(t, "scope", mds[0].Args[0].Name)

				_, ok = backend.AnnotationMetadata(fqname.MustParse("example.com/app.Missing"))
				assert.False(t, ok)
			})

			t.Run("Stats", func(t *testing.T) {
				s, err := backend.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, 3, s.Hints)
				assert.Equal(t, 2, s.Files)
			})
		})
	}
}

func TestBackend_RemoveHintsByFile(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, backend.PutHints(ctx, []*hint.Record{
				record(mergePrefix, "example.com/app.ModuleA", "a.go"),
				record(mergePrefix, "example.com/app.ModuleB", "b.go"),
			}))

			removed, err := backend.RemoveHintsByFile(ctx, "a.go")
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			records, err := backend.ScanHints(ctx, mergePrefix)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "example.com/app.ModuleB", records[0].FqName.String())

			_, ok := backend.AnnotationMetadata(fqname.MustParse("example.com/app.ModuleA"))
			assert.False(t, ok)
		})
	}
}

func TestBackend_PutHintsReplaces(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, backend.PutHints(ctx, []*hint.Record{record(mergePrefix, "example.com/app.ModuleA", "old.go")}))
			require.NoError(t, backend.PutHints(ctx, []*hint.Record{record(mergePrefix, "example.com/app.ModuleA", "new.go")}))

			records, err := backend.ScanHints(ctx, mergePrefix)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "new.go", records[0].File)

			removed, err := backend.RemoveHintsByFile(ctx, "old.go")
			require.NoError(t, err)
			assert.Equal(t, 0, removed)
		})
	}
}

func TestBackend_Graph(t *testing.T) {
	t.Parallel()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			g := graph.NewContributionGraph()
			module := &graph.GraphNode{ID: graph.GenerateID(graph.NodeModule, "app.A"), Label: graph.NodeModule, Name: "app.A"}
			scope := &graph.GraphNode{ID: graph.GenerateID(graph.NodeScope, "app.Scope"), Label: graph.NodeScope, Name: "app.Scope"}
			g.AddNode(module)
			g.AddNode(scope)
			g.Connect(graph.RelContributesTo, module.ID, scope.ID, nil)

			require.NoError(t, backend.BulkLoad(ctx, g))

			node, err := backend.GetNode(ctx, module.ID)
			require.NoError(t, err)
			require.NotNil(t, node)
			assert.Equal(t, "app.A", node.Name)

			missing, err := backend.GetNode(ctx, "module:nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			scopes, err := backend.GetNodesByLabel(ctx, graph.NodeScope)
			require.NoError(t, err)
			require.Len(t, scopes, 1)

			loaded, err := backend.LoadGraph(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, loaded.NodeCount())
			assert.Equal(t, 1, loaded.RelationshipCount())

			// A second load replaces the first.
			require.NoError(t, backend.BulkLoad(ctx, graph.NewContributionGraph()))
			loaded, err = backend.LoadGraph(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, loaded.NodeCount())
		})
	}
}
