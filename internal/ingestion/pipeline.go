package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/config"
	"github.com/Benny93/anvil-go/internal/emit"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/loader"
	"github.com/Benny93/anvil-go/internal/merge"
	"github.com/Benny93/anvil-go/internal/reference"
	"github.com/Benny93/anvil-go/internal/scanner"
	"github.com/Benny93/anvil-go/internal/storage"
)

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	Files         int
	Packages      int
	Hints         int
	MergePoints   int
	Modules       int
	Relationships int
	Duration      time.Duration

	// Results are the merge results in merge point order.
	Results []*merge.Result

	// Emitted are the annotations attached to the merge points, one per
	// result.
	Emitted []*emit.Emitted
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// Options configures a pipeline run.
type Options struct {
	Config *config.Config

	// Store receives the hints and the contribution graph. Nothing is
	// stored when nil.
	Store storage.Backend

	Log      logrus.FieldLogger
	Progress ProgressCallback

	// Patterns overrides Config.Patterns when not empty.
	Patterns []string
}

func (o *Options) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}

func (o *Options) report(phase string, progress float64) {
	if o.Progress != nil {
		o.Progress(phase, progress)
	}
}

func (o *Options) patterns() []string {
	if len(o.Patterns) > 0 {
		return o.Patterns
	}
	return o.Config.Patterns
}

// Project is a loaded project together with the shared hint indexes of
// its dependencies. Close releases the indexes.
type Project struct {
	Program *reference.Program
	Indexes []scanner.Index
	Files   int

	shared []*storage.BadgerBackend
	log    logrus.FieldLogger
}

// Close closes the shared indexes.
func (p *Project) Close() {
	closeAll(p.shared, p.log)
}

// LoadProject walks the project and loads its packages. Declarations not
// annotated in source get their metadata from the shared indexes, then from
// opts.Store.
func LoadProject(ctx context.Context, opts Options) (*Project, error) {
	cfg := opts.Config
	log := opts.logger()

	opts.report("Walking files", 0.0)
	ignore, err := loadGitignore(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading .gitignore: %w", err)
	}
	entries, err := WalkRepo(cfg.Dir, ignore)
	if err != nil {
		return nil, fmt.Errorf("walking repo: %w", err)
	}
	opts.report("Walking files", 1.0)

	opts.report("Loading packages", 0.0)
	patterns := opts.patterns()
	if slices.Equal(patterns, []string{"./..."}) {
		patterns = walkedPatterns(entries, cfg.Tests)
	}
	fset, pkgs, err := loader.Load(ctx, loader.Config{
		Dir:      cfg.Dir,
		Patterns: patterns,
		Tests:    cfg.Tests,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}
	opts.report("Loading packages", 1.0)

	shared, err := OpenShared(cfg.SharedDirs())
	if err != nil {
		return nil, err
	}

	sources := make(metadataChain, 0, len(shared)+1)
	indexes := make([]scanner.Index, 0, len(shared))
	for _, s := range shared {
		sources = append(sources, s)
		indexes = append(indexes, s)
	}
	if opts.Store != nil {
		sources = append(sources, opts.Store)
	}

	prog := reference.NewProgram(fset, pkgs, append(annotations.ProgramOptions(),
		reference.WithMetadata(sources),
		reference.WithLogger(log),
	)...)
	return &Project{
		Program: prog,
		Indexes: indexes,
		Files:   len(entries),
		shared:  shared,
		log:     log,
	}, nil
}

// walkedPatterns turns the package directories found by the walker into
// load patterns, so that ignored directories are never loaded. It falls
// back to ./... when the walk found nothing.
func walkedPatterns(entries []FileEntry, tests bool) []string {
	if !tests {
		entries = slices.DeleteFunc(slices.Clone(entries), func(e FileEntry) bool {
			return strings.HasSuffix(e.RelPath, "_test.go")
		})
	}
	dirs := PackageDirs(entries)
	if len(dirs) == 0 {
		return []string{"./..."}
	}
	out := make([]string, len(dirs))
	for i, d := range dirs {
		if d == "." {
			out[i] = "."
		} else {
			out[i] = "./" + filepath.ToSlash(d)
		}
	}
	return out
}

// RunPipeline loads the packages of the project and merges every merge
// point in them.
func RunPipeline(ctx context.Context, opts Options) (*graph.ContributionGraph, *PipelineResult, error) {
	start := time.Now()
	log := opts.logger()

	p, err := LoadProject(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	defer p.Close()

	g, result, err := MergeProgram(ctx, p.Program, opts, p.Indexes...)
	if err != nil {
		return nil, nil, err
	}
	result.Files = p.Files
	result.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"files":        result.Files,
		"packages":     result.Packages,
		"merge_points": result.MergePoints,
		"duration":     result.Duration.Round(time.Millisecond).String(),
	}).Info("pipeline finished")
	return g, result, nil
}

// IndexHints collects the hints of the root packages of prog and, when
// opts.Store is set, replaces the stored hints of their files.
func IndexHints(ctx context.Context, prog *reference.Program, opts Options) ([]*hint.Record, error) {
	records, err := hint.Collect(prog, opts.Config.ParsedBacking())
	if err != nil {
		return nil, fmt.Errorf("collecting hints: %w", err)
	}
	if opts.Store != nil {
		if err := replaceHints(ctx, opts.Store, prog, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// MergeProgram indexes the contributions of the root packages of prog,
// merges their merge points, attaches the generated annotations and builds
// the contribution graph. indexes are the hint indexes of dependencies.
func MergeProgram(ctx context.Context, prog *reference.Program, opts Options, indexes ...scanner.Index) (*graph.ContributionGraph, *PipelineResult, error) {
	cfg := opts.Config
	log := opts.logger()
	b := cfg.ParsedBacking()
	result := &PipelineResult{}
	for _, pkg := range prog.Packages() {
		if pkg.Root {
			result.Packages++
		}
	}

	opts.report("Indexing hints", 0.0)
	records, err := IndexHints(ctx, prog, opts)
	if err != nil {
		return nil, nil, err
	}
	result.Hints = len(records)
	opts.report("Indexing hints", 1.0)

	opts.report("Merging", 0.0)
	s := scanner.New(prog, b, scanner.WithIndexes(indexes...), scanner.WithLogger(log))
	m := merge.New(s, merge.WithLogger(log))
	results, err := merge.MergeAll(ctx, m, merge.FindMergePoints(prog, b), cfg.Merge.Jobs)
	if err != nil {
		return nil, nil, err
	}
	result.Results = results
	result.MergePoints = len(results)
	for _, r := range results {
		result.Modules += len(r.Modules)
	}
	opts.report("Merging", 1.0)

	opts.report("Emitting", 0.0)
	emitted, err := emit.ApplyAll(prog, results)
	if err != nil {
		return nil, nil, fmt.Errorf("emitting: %w", err)
	}
	result.Emitted = emitted
	for _, e := range emitted {
		log.WithFields(logrus.Fields{
			"merge_point": e.MergePoint.FqName().String(),
			"backing":     b.String(),
		}).Debug(e.Directive)
	}
	opts.report("Emitting", 1.0)

	g := BuildGraph(results)
	result.Relationships = g.RelationshipCount()
	prog.ResetCache()

	if opts.Store != nil {
		opts.report("Loading to storage", 0.0)
		if err := opts.Store.BulkLoad(ctx, g); err != nil {
			return nil, nil, fmt.Errorf("bulk load: %w", err)
		}
		opts.report("Loading to storage", 1.0)
	}
	return g, result, nil
}

// replaceHints drops the stored hints of every root file before storing
// records, so that removed contributions disappear from the index.
func replaceHints(ctx context.Context, store storage.Backend, prog *reference.Program, records []*hint.Record) error {
	for _, file := range RootFiles(prog) {
		if _, err := store.RemoveHintsByFile(ctx, file); err != nil {
			return fmt.Errorf("removing hints of %s: %w", file, err)
		}
	}
	if err := store.PutHints(ctx, records); err != nil {
		return fmt.Errorf("storing hints: %w", err)
	}
	return nil
}

// RootFiles returns the file names of the root packages of prog.
func RootFiles(prog *reference.Program) []string {
	var out []string
	for _, pkg := range prog.Packages() {
		if !pkg.Root {
			continue
		}
		for _, f := range pkg.Files {
			if tf := prog.Fset().File(f.Pos()); tf != nil {
				out = append(out, tf.Name())
			}
		}
	}
	return out
}

// OpenShared opens the hint indexes in dirs read-only.
func OpenShared(dirs []string) ([]*storage.BadgerBackend, error) {
	out := make([]*storage.BadgerBackend, 0, len(dirs))
	for _, dir := range dirs {
		b := storage.NewBadgerBackend()
		if err := b.Initialize(dir, true); err != nil {
			for _, o := range out {
				_ = o.Close()
			}
			return nil, fmt.Errorf("opening shared index %s: %w", dir, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func closeAll(backends []*storage.BadgerBackend, log logrus.FieldLogger) {
	for _, b := range backends {
		if err := b.Close(); err != nil {
			log.WithError(err).Warn("closing shared index")
		}
	}
}

// metadataChain answers from the first source that knows a declaration.
type metadataChain []reference.MetadataSource

func (c metadataChain) AnnotationMetadata(fq fqname.FqName) ([]reference.AnnotationMetadata, bool) {
	for _, src := range c {
		if mds, ok := src.AnnotationMetadata(fq); ok {
			return mds, true
		}
	}
	return nil, false
}
