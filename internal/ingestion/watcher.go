package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/sirupsen/logrus"

	"github.com/Benny93/anvil-go/internal/storage"
)

const defaultDebounce = 500 * time.Millisecond

// RunFunc runs the pipeline once.
type RunFunc func(ctx context.Context) (*PipelineResult, error)

// WatchRepo runs the pipeline, then runs it again after every batch of
// changes to the Go sources of the project. report receives the outcome of
// every run. Blocks until ctx is cancelled.
func WatchRepo(ctx context.Context, opts Options, report func(*PipelineResult, error)) error {
	return watch(ctx, opts, report, func(ctx context.Context) (*PipelineResult, error) {
		_, res, err := RunPipeline(ctx, opts)
		return res, err
	})
}

func watch(ctx context.Context, opts Options, report func(*PipelineResult, error), run RunFunc) error {
	root := opts.Config.Dir
	log := opts.logger()

	ignore, err := loadGitignore(root)
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable .gitignore")
	}
	state := &watchState{
		root:    root,
		matcher: newMatcher(ignore),
		store:   opts.Store,
		hashes:  make(map[string]string),
		log:     log,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := state.addDirs(watcher, root); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}
	if err := state.snapshot(); err != nil {
		return fmt.Errorf("hashing sources: %w", err)
	}

	report(run(ctx))

	debounce := opts.Config.Watch.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	changed := make(map[string]bool)
	batchTimer := time.NewTimer(debounce)
	batchTimer.Stop()
	defer batchTimer.Stop()

	log.WithField("dir", root).Info("watching for changes")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := state.addDirs(watcher, event.Name); err != nil {
						log.WithError(err).WithField("dir", event.Name).Warn("watching new directory")
					}
					continue
				}
			}
			if !state.shouldWatchFile(event.Name) {
				continue
			}
			changed[event.Name] = true
			batchTimer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			rerun, err := state.processChangedFiles(ctx, changed)
			changed = make(map[string]bool)
			if err != nil {
				log.WithError(err).Error("processing changes")
				continue
			}
			if rerun {
				report(run(ctx))
			}
		}
	}
}

// watchState tracks the content of the watched sources between runs.
type watchState struct {
	root    string
	matcher gitignore.Matcher
	store   storage.Backend
	hashes  map[string]string
	log     logrus.FieldLogger
}

// addDirs watches dir and every directory below it that is not ignored.
func (s *watchState) addDirs(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && shouldSkipDir(path, s.root, s.matcher) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// snapshot records the hashes of the current sources.
func (s *watchState) snapshot() error {
	entries, err := WalkRepo(s.root, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.hashes[e.Path] = e.SHA256
	}
	return nil
}

// processChangedFiles updates the hashes of the changed files and drops
// the stored hints of deleted ones. It reports whether any content changed.
func (s *watchState) processChangedFiles(ctx context.Context, changed map[string]bool) (bool, error) {
	rerun := false
	for path := range changed {
		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			continue
		}
		entry, err := readEntry(s.root, relPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if _, known := s.hashes[path]; !known {
				continue
			}
			delete(s.hashes, path)
			rerun = true
			if s.store == nil {
				continue
			}
			n, err := s.store.RemoveHintsByFile(ctx, path)
			if err != nil {
				return rerun, fmt.Errorf("removing hints of %s: %w", relPath, err)
			}
			s.log.WithFields(logrus.Fields{"file": relPath, "hints": n}).Debug("removed deleted file")
		case err != nil:
			s.log.WithError(err).WithField("file", relPath).Warn("reading changed file")
		case s.hashes[path] != entry.SHA256:
			s.hashes[path] = entry.SHA256
			rerun = true
			s.log.WithField("file", relPath).Debug("file changed")
		}
	}
	return rerun, nil
}

// shouldWatchFile checks if a changed path is a source of the project.
func (s *watchState) shouldWatchFile(path string) bool {
	relPath, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	if !isGoFile(filepath.Base(path)) {
		return false
	}
	return !s.matcher.Match(splitPath(relPath), false) && !ignoredParent(relPath, s.matcher)
}

// ignoredParent reports whether a directory above relPath is ignored.
func ignoredParent(relPath string, matcher gitignore.Matcher) bool {
	parts := splitPath(relPath)
	for i := 1; i < len(parts); i++ {
		if matcher.Match(parts[:i], true) {
			return true
		}
	}
	return false
}
