package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/config"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/storage"
)

func newWatchState(t *testing.T, root string, store storage.Backend) *watchState {
	t.Helper()
	s := &watchState{
		root:    root,
		matcher: newMatcher(nil),
		store:   store,
		hashes:  make(map[string]string),
		log:     quietLogger(),
	}
	require.NoError(t, s.snapshot())
	return s
}

func TestWatchState_ProcessChangedFiles(t *testing.T) {
	t.Parallel()

	t.Run("ContentChange", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"app.go": "package app"})
		s := newWatchState(t, dir, nil)
		path := filepath.Join(dir, "app.go")

		rerun, err := s.processChangedFiles(t.Context(), map[string]bool{path: true})
		require.NoError(t, err)
		assert.False(t, rerun, "unchanged content")

		writeTree(t, dir, map[string]string{"app.go": "package app\n\ntype A struct{}\n"})
		rerun, err = s.processChangedFiles(t.Context(), map[string]bool{path: true})
		require.NoError(t, err)
		assert.True(t, rerun)
	})

	t.Run("NewFile", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := newWatchState(t, dir, nil)
		writeTree(t, dir, map[string]string{"app.go": "package app"})

		rerun, err := s.processChangedFiles(t.Context(), map[string]bool{filepath.Join(dir, "app.go"): true})
		require.NoError(t, err)
		assert.True(t, rerun)
	})

	t.Run("DeletedFileDropsHints", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"app.go": "package app"})
		path := filepath.Join(dir, "app.go")

		store := storage.NewMemoryBackend()
		fq := fqname.New("example.com/app", "A")
		require.NoError(t, store.PutHints(t.Context(), []*hint.Record{{
			Key:    hint.Key(annotations.MergeHintPrefix, fq),
			Prefix: annotations.MergeHintPrefix,
			FqName: fq,
			File:   path,
		}}))

		s := newWatchState(t, dir, store)
		require.NoError(t, os.Remove(path))

		rerun, err := s.processChangedFiles(t.Context(), map[string]bool{path: true})
		require.NoError(t, err)
		assert.True(t, rerun)

		records, err := store.GetHints(t.Context(), fq)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("UnknownDeletedFile", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := newWatchState(t, dir, nil)

		rerun, err := s.processChangedFiles(t.Context(), map[string]bool{filepath.Join(dir, "gone.go"): true})
		require.NoError(t, err)
		assert.False(t, rerun)
	})
}

func TestWatchState_ShouldWatchFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newWatchState(t, dir, nil)

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"Source", "app/app.go", true},
		{"Test", "app/app_test.go", true},
		{"NotGo", "README.md", false},
		{"HintIndex", ".anvil/hints/app.go", false},
		{"Vendor", "vendor/dep/dep.go", false},
		{"Testdata", "app/testdata/fixture.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, s.shouldWatchFile(filepath.Join(dir, tt.path)))
		})
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"app/app.go": "package app"})

	cfg := config.Default(dir)
	cfg.Watch.Debounce = 20 * time.Millisecond
	opts := Options{Config: cfg, Log: quietLogger()}

	runs := make(chan struct{}, 8)
	run := func(context.Context) (*PipelineResult, error) {
		runs <- struct{}{}
		return &PipelineResult{}, nil
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, opts, func(*PipelineResult, error) {}, run)
	}()

	waitRun := func() {
		t.Helper()
		select {
		case <-runs:
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not run")
		}
	}

	waitRun()
	writeTree(t, dir, map[string]string{"app/app.go": "package app\n\ntype A struct{}\n"})
	waitRun()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
