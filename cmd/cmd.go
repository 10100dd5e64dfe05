// Package cmd provides CLI command implementations for Anvil.
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/config"
	"github.com/Benny93/anvil-go/internal/diag"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/ingestion"
	"github.com/Benny93/anvil-go/internal/scanner"
	"github.com/Benny93/anvil-go/internal/storage"
	"github.com/Benny93/anvil-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ErrReported is returned when the diagnostics of a failure were already
// written to stderr.
var ErrReported = errors.New("failed with diagnostics")

// Globals are the flags shared by every command.
type Globals struct {
	Config  string           `type:"path" placeholder:"FILE" help:"Configuration file (default: <dir>/anvil.yaml)"`
	Dir     string           `short:"C" default:"." type:"path" help:"Project directory"`
	Verbose bool             `short:"v" help:"Enable verbose output"`
	Quiet   bool             `short:"q" help:"Suppress non-essential output"`
	Version kong.VersionFlag `help:"Show version information"`

	Stdin  io.Reader `kong:"-"`
	Stdout io.Writer `kong:"-"`
	Stderr io.Writer `kong:"-"`
}

// load reads the project configuration and builds the logger.
func (g *Globals) load() (*config.Config, *logrus.Logger, error) {
	dir, err := filepath.Abs(g.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("accessing %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", dir)
	}
	cfg, err := config.Load(dir, g.Config, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(g.Stderr, g.Verbose, g.Quiet), nil
}

// options builds pipeline options. Progress is reported on stderr unless
// quiet.
func (g *Globals) options(cfg *config.Config, log logrus.FieldLogger, store storage.Backend, patterns []string) ingestion.Options {
	opts := ingestion.Options{Config: cfg, Store: store, Log: log, Patterns: patterns}
	if !g.Quiet {
		opts.Progress = func(phase string, pct float64) {
			fmt.Fprintf(g.Stderr, "\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}
	return opts
}

// endProgress terminates the progress line.
func (g *Globals) endProgress() {
	if !g.Quiet {
		fmt.Fprint(g.Stderr, "\r\033[K")
	}
}

// report writes the diagnostics of err to stderr.
func (g *Globals) report(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	diag.Fprint(g.Stderr, err, !color.NoColor)
	return ErrReported
}

func (g *Globals) success(format string, args ...any) {
	if !g.Quiet {
		color.New(color.FgGreen).Fprintf(g.Stdout, format+"\n", args...)
	}
}

// MergeCmd merges every merge point of the project.
type MergeCmd struct {
	Patterns []string `arg:"" optional:"" help:"Package patterns (default: patterns of the configuration)"`
	DryRun   bool     `help:"Do not update the hint index"`
	JSON     bool     `help:"Print the results as JSON"`
}

type mergeOutput struct {
	MergePoint string   `json:"merge_point"`
	Kind       string   `json:"kind"`
	Scope      string   `json:"scope"`
	Modules    []string `json:"modules"`
	Directive  string   `json:"directive"`
}

// Run executes the merge command.
func (c *MergeCmd) Run(g *Globals) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}

	var store storage.Backend
	if !c.DryRun {
		b, err := openStore(cfg, false)
		if err != nil {
			return err
		}
		defer func() { _ = b.Close() }()
		store = b
	}

	ctx, cancel := signalContext()
	defer cancel()

	_, result, err := ingestion.RunPipeline(ctx, g.options(cfg, log, store, c.Patterns))
	g.endProgress()
	if err != nil {
		return g.report(err)
	}

	if c.JSON {
		out := make([]mergeOutput, len(result.Results))
		for i, r := range result.Results {
			out[i] = mergeOutput{
				MergePoint: r.MergePoint.FqName().String(),
				Kind:       r.Kind.Name,
				Scope:      r.Scope.FqName().String(),
				Modules:    fqStrings(r.ModuleNames()),
				Directive:  result.Emitted[i].Directive,
			}
		}
		return writeJSON(g.Stdout, out)
	}

	for _, e := range result.Emitted {
		fmt.Fprintf(g.Stdout, "%s: %s\n", e.MergePoint.FqName(), e.Directive)
	}
	g.success("✓ Merged %d merge point(s), %d module(s) in %.2fs", result.MergePoints, result.Modules, result.Duration.Seconds())
	return nil
}

// HintsCmd refreshes the hint index of the project.
type HintsCmd struct {
	Patterns []string `arg:"" optional:"" help:"Package patterns (default: patterns of the configuration)"`
}

// Run executes the hints command.
func (c *HintsCmd) Run(g *Globals) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	opts := g.options(cfg, log, store, c.Patterns)
	p, err := ingestion.LoadProject(ctx, opts)
	g.endProgress()
	if err != nil {
		return g.report(err)
	}
	defer p.Close()

	records, err := ingestion.IndexHints(ctx, p.Program, opts)
	if err != nil {
		return g.report(err)
	}
	if g.Verbose {
		for _, r := range records {
			fmt.Fprintf(g.Stdout, "%s %s\n", r.Prefix, r.FqName)
		}
	}
	g.success("✓ Indexed %d hint(s) into %s", len(records), cfg.HintsDir())
	return nil
}

// ScanCmd lists the declarations contributed to a scope.
type ScanCmd struct {
	Scope      string   `required:"" help:"Qualified scope name, e.g. example.com/app/scopes.AppScope"`
	Annotation string   `default:"anvil.contributesTo" help:"Contribution annotation"`
	Patterns   []string `arg:"" optional:"" help:"Package patterns (default: patterns of the configuration)"`
}

// Run executes the scan command.
func (c *ScanCmd) Run(g *Globals) error {
	scope, err := fqname.Parse(c.Scope)
	if err != nil {
		return fmt.Errorf("parsing scope: %w", err)
	}
	annotation, err := fqname.Parse(c.Annotation)
	if err != nil {
		return fmt.Errorf("parsing annotation: %w", err)
	}
	prefix, ok := annotations.HintPrefixes[annotation]
	if !ok {
		return fmt.Errorf("%s is not a contribution annotation", annotation)
	}

	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	p, err := ingestion.LoadProject(ctx, g.options(cfg, log, nil, c.Patterns))
	g.endProgress()
	if err != nil {
		return g.report(err)
	}
	defer p.Close()

	s := scanner.New(p.Program, cfg.ParsedBacking(), scanner.WithIndexes(p.Indexes...), scanner.WithLogger(log))
	n := 0
	for class, err := range s.FindContributedClasses(ctx, prefix, annotation, &scope) {
		if err != nil {
			return g.report(err)
		}
		n++
		pos := class.Pos()
		if pos.IsValid() {
			fmt.Fprintf(g.Stdout, "%s\t%s\n", class.FqName(), pos)
		} else {
			fmt.Fprintln(g.Stdout, class.FqName())
		}
	}
	if n == 0 {
		fmt.Fprintln(g.Stdout, "No contributions found")
	}
	return nil
}

// GraphCmd prints the contribution graph of the project.
type GraphCmd struct {
	Patterns []string `arg:"" optional:"" help:"Package patterns (default: patterns of the configuration)"`
	Focus    string   `help:"Only print declarations reachable from this qualified name"`
	Depth    int      `default:"1" help:"Hops to follow from --focus"`
	Reverse  bool     `help:"Follow edges pointing at --focus instead of away from it"`
	JSON     bool     `help:"Print nodes and relationships as JSON"`
}

// Run executes the graph command.
func (c *GraphCmd) Run(g *Globals) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	cg, _, err := ingestion.RunPipeline(ctx, g.options(cfg, log, nil, c.Patterns))
	g.endProgress()
	if err != nil {
		return g.report(err)
	}

	nodes := slices.Collect(cg.Nodes())
	if c.Focus != "" {
		if nodes, err = c.focus(cg); err != nil {
			return err
		}
	}

	if c.JSON {
		out := struct {
			Nodes         []*graph.GraphNode         `json:"nodes"`
			Relationships []*graph.GraphRelationship `json:"relationships"`
		}{Nodes: nodes}
		keep := make(map[string]bool, len(nodes))
		for _, n := range nodes {
			keep[n.ID] = true
		}
		for r := range cg.Relationships() {
			if keep[r.Source] && keep[r.Target] {
				out.Relationships = append(out.Relationships, r)
			}
		}
		return writeJSON(g.Stdout, out)
	}

	for _, n := range nodes {
		fmt.Fprintf(g.Stdout, "%s (%s)", n.Name, n.Label)
		if by := cg.GetIncoming(n.ID, graph.RelReplaces); len(by) > 0 {
			names := make([]string, len(by))
			for i, rel := range by {
				names[i] = rel.Source
				if src := cg.GetNode(rel.Source); src != nil {
					names[i] = src.Name
				}
			}
			fmt.Fprintf(g.Stdout, " [replaced by %s]", strings.Join(names, ", "))
		} else if cg.HasIncoming(n.ID, graph.RelExcludes) {
			fmt.Fprint(g.Stdout, " [excluded]")
		}
		fmt.Fprintln(g.Stdout)
		for _, rel := range cg.GetOutgoing(n.ID) {
			target := rel.Target
			if t := cg.GetNode(rel.Target); t != nil {
				target = t.Name
			}
			fmt.Fprintf(g.Stdout, "  -%s-> %s\n", rel.Type, target)
		}
	}
	if c.Focus == "" && !g.Quiet {
		stats := cg.Stats()
		fmt.Fprintf(g.Stdout, "\n%d node(s), %d relationship(s)\n", stats["nodes"], stats["relationships"])
	}
	return nil
}

// focus returns the nodes named by --focus followed by the nodes reachable
// from them.
func (c *GraphCmd) focus(cg *graph.ContributionGraph) ([]*graph.GraphNode, error) {
	start := cg.FindByName(c.Focus)
	if len(start) == 0 {
		return nil, fmt.Errorf("no declaration named %s in the contribution graph", c.Focus)
	}
	direction := graph.Outgoing
	if c.Reverse {
		direction = graph.Incoming
	}

	seen := make(map[string]bool)
	var out []*graph.GraphNode
	add := func(n *graph.GraphNode) {
		if !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	for _, n := range start {
		add(n)
	}
	for _, n := range start {
		for _, reached := range cg.Traverse(n.ID, c.Depth, direction) {
			add(reached)
		}
	}
	return out, nil
}

// WatchCmd merges the project again whenever its sources change.
type WatchCmd struct{}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fmt.Fprintln(g.Stdout, "## Watch Mode")
	fmt.Fprintf(g.Stdout, "Watching %s for changes (Ctrl+C to stop)\n\n", cfg.Dir)

	ctx, cancel := signalContext()
	defer cancel()

	opts := ingestion.Options{Config: cfg, Store: store, Log: log}
	err = ingestion.WatchRepo(ctx, opts, func(result *ingestion.PipelineResult, err error) {
		if err != nil {
			diag.Fprint(g.Stderr, err, !color.NoColor)
			return
		}
		for _, e := range result.Emitted {
			fmt.Fprintf(g.Stdout, "%s: %s\n", e.MergePoint.FqName(), e.Directive)
		}
		g.success("✓ Merged %d merge point(s) in %.2fs", result.MergePoints, result.Duration.Seconds())
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(g.Stdout, "Watch mode stopped.")
	return nil
}

// MCPCmd starts the MCP server.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	mergeFn := func(ctx context.Context, patterns []string) (*ingestion.PipelineResult, error) {
		_, result, err := ingestion.RunPipeline(ctx, ingestion.Options{
			Config:   cfg,
			Store:    store,
			Log:      log,
			Patterns: patterns,
		})
		return result, err
	}
	server := mcp.NewServer(store, mergeFn, Version)

	ctx, cancel := signalContext()
	defer cancel()

	// stdout carries JSON-RPC only
	err = server.Run(ctx, g.Stdin, g.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// StatusCmd shows the hint index status of the project.
type StatusCmd struct{}

// Run executes the status command.
func (c *StatusCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	cg, err := store.LoadGraph(context.Background())
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}

	fmt.Fprintf(g.Stdout, "Index status for %s\n", cfg.Dir)
	fmt.Fprintf(g.Stdout, "  Module:         %s\n", cfg.Module)
	fmt.Fprintf(g.Stdout, "  Index:          %s\n", cfg.HintsDir())
	fmt.Fprintf(g.Stdout, "  Hints:          %d\n", stats.Hints)
	fmt.Fprintf(g.Stdout, "  Files:          %d\n", stats.Files)
	fmt.Fprintf(g.Stdout, "  Merge points:   %d\n", cg.CountNodesByLabel(graph.NodeMergePoint))
	fmt.Fprintf(g.Stdout, "  Nodes:          %d\n", stats.Nodes)
	fmt.Fprintf(g.Stdout, "  Relationships:  %d\n", stats.Relationships)
	return nil
}

// CleanCmd deletes the hint index of the project.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}

	dir := cfg.HintsDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s. Nothing to clean", dir)
	}

	if !c.Force {
		fmt.Fprintf(g.Stdout, "Delete index at %s? [y/N] ", dir)
		response, _ := bufio.NewReader(g.Stdin).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(g.Stdout, "Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}

	g.success("Deleted %s", dir)
	return nil
}

// Helper functions

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() (<-chan os.Signal, func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan, func() { signal.Stop(sigChan) }
}

// signalContext returns a context cancelled on the first interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs, stop := osSignalChannel()
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		stop()
		cancel()
	}
}

// openStore opens the hint index of the project. A read-only open requires
// an existing index.
func openStore(cfg *config.Config, readOnly bool) (*storage.BadgerBackend, error) {
	dir := cfg.HintsDir()
	if readOnly {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("no index found at %s. Run 'anvil-go merge' first", dir)
		}
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dir, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

func fqStrings(fqs []fqname.FqName) []string {
	out := make([]string, len(fqs))
	for i, fq := range fqs {
		out[i] = fq.String()
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals `embed:""`

	// Commands
	Merge  MergeCmd  `cmd:"" help:"Merge every merge point and update the hint index"`
	Hints  HintsCmd  `cmd:"" help:"Refresh the hint index without merging"`
	Scan   ScanCmd   `cmd:"" help:"List the declarations contributed to a scope"`
	Graph  GraphCmd  `cmd:"" help:"Print the contribution graph"`
	Watch  WatchCmd  `cmd:"" help:"Watch mode with live re-merging"`
	MCP    MCPCmd    `cmd:"" help:"Start MCP server (stdio transport)"`
	Status StatusCmd `cmd:"" help:"Show hint index status for the project"`
	Clean  CleanCmd  `cmd:"" help:"Delete the hint index of the project"`
}

// NewCLI creates a new CLI instance reading from stdin and writing to
// stdout and stderr.
func NewCLI() *CLI {
	return &CLI{Globals: Globals{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("anvil-go"),
		kong.Description("Contribution merging for Go dependency injection"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Writers(c.Stdout, c.Stderr),
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		parser.FatalIfErrorf(err)
	}

	return kongCtx.Run(&c.Globals)
}
