// Package mcp provides the MCP (Model Context Protocol) server for Anvil.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/diag"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/ingestion"
	"github.com/Benny93/anvil-go/internal/reference"
	"github.com/Benny93/anvil-go/internal/storage"
)

// Server represents the MCP server.
type Server struct {
	storage StorageBackend
	merge   MergeFunc
	server  *mcp.Server
}

// StorageBackend is the part of storage.Backend the server reads.
type StorageBackend interface {
	ScanHints(ctx context.Context, prefix string) ([]*hint.Record, error)
	LoadGraph(ctx context.Context) (*graph.ContributionGraph, error)
}

var _ StorageBackend = storage.Backend(nil)

// MergeFunc runs a merge pass over patterns, the configured ones when
// empty.
type MergeFunc func(ctx context.Context, patterns []string) (*ingestion.PipelineResult, error)

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server. merge may be nil, in which case the
// anvil_merge tool reports an error.
func NewServer(storage StorageBackend, merge MergeFunc, version string) *Server {
	s := &Server{
		storage: storage,
		merge:   merge,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "anvil-go",
		Version: version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "anvil_merge",
			Description: "Merge every merge point of the project and return the generated component and module annotations.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"patterns": {
						Type:        "array",
						Items:       &jsonschema.Schema{Type: "string"},
						Description: "Package patterns to load, the configured ones when omitted",
					},
				},
			},
		},
		{
			Name:        "anvil_contributions",
			Description: "List the declarations contributed to a scope, as recorded in the hint index.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"scope":      {Type: "string", Description: "Qualified name of the scope, e.g. example.com/app/scopes.AppScope"},
					"annotation": {Type: "string", Description: "Contribution annotation, anvil.contributesTo when omitted"},
				},
				Required: []string{"scope"},
			},
		},
		{
			Name:        "anvil_hints",
			Description: "List the records of the hint index.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"prefix": {Type: "string", Description: "Hint prefix, every prefix when omitted"},
				},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "anvil://merge-points",
			Name:        "Merge Points",
			Description: "Merge points of the last merge pass with their scope and merged modules",
			MimeType:    "text/markdown",
		},
		{
			URI:         "anvil://schemas",
			Name:        "Annotation Schemas",
			Description: "Parameters of every known directive",
			MimeType:    "text/markdown",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "anvil_merge":
		var patterns []string
		if raw, ok := args["patterns"].([]any); ok {
			for _, p := range raw {
				if str, ok := p.(string); ok {
					patterns = append(patterns, str)
				}
			}
		}
		return s.handleMerge(ctx, patterns)
	case "anvil_contributions":
		scope, _ := args["scope"].(string)
		annotation, _ := args["annotation"].(string)
		return handleContributions(ctx, s.storage, scope, annotation)
	case "anvil_hints":
		prefix, _ := args["prefix"].(string)
		return handleHints(ctx, s.storage, prefix)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "anvil://merge-points":
		return getMergePoints(ctx, s.storage)
	case "anvil://schemas":
		return getSchemas(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves MCP over stdin and stdout until the client disconnects or
// ctx is cancelled.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}
	return s.server.Run(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(stdin),
		Writer: nopWriteCloser{stdout},
	})
}

// Connect serves one session on t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Tool Handlers

func (s *Server) handleMerge(ctx context.Context, patterns []string) (string, error) {
	if s.merge == nil {
		return "", fmt.Errorf("merging is not available")
	}
	result, err := s.merge(ctx, patterns)
	if err != nil {
		var sb strings.Builder
		diag.Fprint(&sb, err, false)
		return "", fmt.Errorf("merge failed:\n%s", sb.String())
	}

	var sb strings.Builder
	sb.WriteString("## Merge Result\n\n")
	if len(result.Emitted) == 0 {
		sb.WriteString("No merge points found.\n")
		return sb.String(), nil
	}
	for i, e := range result.Emitted {
		res := result.Results[i]
		fmt.Fprintf(&sb, "### %s\n\n", e.MergePoint.FqName())
		fmt.Fprintf(&sb, "- Scope: `%s`\n", res.Scope.FqName())
		fmt.Fprintf(&sb, "- Generated: `%s`\n", e.Directive)
		for _, m := range res.Modules {
			fmt.Fprintf(&sb, "  - %s\n", m.FqName())
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%d merge point(s), %d module(s), %d hint(s)\n", result.MergePoints, result.Modules, result.Hints)
	return sb.String(), nil
}

func handleContributions(ctx context.Context, storage StorageBackend, scope, annotation string) (string, error) {
	if scope == "" {
		return "No scope provided", nil
	}
	scopeFq, err := fqname.Parse(scope)
	if err != nil {
		return "", err
	}
	annFq := annotations.ContributesTo
	if annotation != "" {
		if annFq, err = fqname.Parse(annotation); err != nil {
			return "", err
		}
	}
	prefix, ok := annotations.HintPrefixes[annFq]
	if !ok {
		return "", fmt.Errorf("%s is not a contribution annotation", annFq)
	}

	records, err := storage.ScanHints(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("scanning hints: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Contributions to %s (@%s)\n\n", scopeFq, annFq)
	count := 0
	for _, r := range records {
		if !contributesTo(r, annFq, scopeFq) {
			continue
		}
		count++
		fmt.Fprintf(&sb, "- %s", r.FqName)
		if r.File != "" {
			fmt.Fprintf(&sb, " (%s)", r.File)
		}
		sb.WriteString("\n")
	}
	if count == 0 {
		sb.WriteString("No contributions found.\n")
	}
	return sb.String(), nil
}

// contributesTo reports whether r carries annotation with scope as its
// scope argument.
func contributesTo(r *hint.Record, annotation, scope fqname.FqName) bool {
	for _, md := range r.Annotations {
		if md.Name != annotation {
			continue
		}
		for _, arg := range md.Args {
			if arg.Name == reference.ArgScope && arg.Value.Kind == reference.ValueClass && arg.Value.Ref == scope {
				return true
			}
		}
	}
	return false
}

func handleHints(ctx context.Context, storage StorageBackend, prefix string) (string, error) {
	prefixes := []string{prefix}
	if _, ok := annotations.AnnotationForPrefix(prefix); prefix != "" && !ok {
		return "", fmt.Errorf("unknown hint prefix: %s", prefix)
	}
	if prefix == "" {
		prefixes = prefixes[:0]
		for _, ann := range annotations.ContributionAnnotations {
			prefixes = append(prefixes, annotations.HintPrefixes[ann])
		}
	}

	var sb strings.Builder
	sb.WriteString("## Hint Index\n\n")
	total := 0
	for _, p := range prefixes {
		records, err := storage.ScanHints(ctx, p)
		if err != nil {
			return "", fmt.Errorf("scanning %s: %w", p, err)
		}
		if len(records) == 0 {
			continue
		}
		ann, _ := annotations.AnnotationForPrefix(p)
		fmt.Fprintf(&sb, "### %s (%s)\n\n", p, ann)
		for _, r := range records {
			fmt.Fprintf(&sb, "- `%s` %s\n", r.Key, r.FqName)
		}
		sb.WriteString("\n")
		total += len(records)
	}
	fmt.Fprintf(&sb, "%d record(s)\n", total)
	return sb.String(), nil
}

// Resource Handlers

func getMergePoints(ctx context.Context, storage StorageBackend) (string, error) {
	g, err := storage.LoadGraph(ctx)
	if err != nil {
		return "", fmt.Errorf("loading graph: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Merge Points\n\n")
	mps := g.GetNodesByLabel(graph.NodeMergePoint)
	if len(mps) == 0 {
		sb.WriteString("No merge points recorded. Run `anvil-go merge` first.\n")
		return sb.String(), nil
	}
	for _, mp := range mps {
		fmt.Fprintf(&sb, "## %s\n\n", mp.Name)
		if mp.FilePath != "" {
			fmt.Fprintf(&sb, "- Location: %s:%d\n", mp.FilePath, mp.Line)
		}
		for _, rel := range g.GetOutgoing(mp.ID, graph.RelMergesScope) {
			if scope := g.GetNode(rel.Target); scope != nil {
				fmt.Fprintf(&sb, "- Scope: %s\n", scope.Name)
			}
		}
		merged := g.GetOutgoing(mp.ID, graph.RelMerges)
		slices.SortFunc(merged, func(a, b *graph.GraphRelationship) int {
			return mergeIndex(a) - mergeIndex(b)
		})
		sb.WriteString("- Modules:\n")
		for _, rel := range merged {
			if m := g.GetNode(rel.Target); m != nil {
				fmt.Fprintf(&sb, "  - %s\n", m.Name)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// mergeIndex reads the module position stored on a merges relationship.
// Graphs read back from JSON hold numbers as float64.
func mergeIndex(rel *graph.GraphRelationship) int {
	switch v := rel.Properties["index"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func getSchemas() string {
	var sb strings.Builder
	sb.WriteString("# Annotation Schemas\n\n")
	sb.WriteString("| Directive | Parameters |\n")
	sb.WriteString("|-----------|------------|\n")
	for _, s := range annotations.Schemas {
		params := make([]string, len(s.Params))
		for i, p := range s.Params {
			params[i] = fmt.Sprintf("`%s %s`", p.Name, p.Type)
		}
		fmt.Fprintf(&sb, "| `//%s:%s` | %s |\n", s.Name.Pkg, s.Name.Name, strings.Join(params, ", "))
	}
	return sb.String()
}

// Helper functions

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

// registerTools registers tools with the MCP server.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return textResult("invalid arguments: "+err.Error(), true), nil
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				return textResult(err.Error(), true), nil
			}
			return textResult(text, false), nil
		})
	}
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: res.MimeType, Text: text}},
			}, nil
		})
	}
}
