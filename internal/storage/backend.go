// Package storage provides the storage backend interface for Anvil.
//
// A backend persists two things: the hint index of contributed
// declarations, which other compilation units scan to discover
// contributions, and the contribution graph of the last merge pass.
package storage

import (
	"context"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/reference"
)

// Stats summarizes the contents of a backend.
type Stats struct {
	Hints         int
	Files         int
	Nodes         int
	Relationships int
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	reference.MetadataSource

	// Lifecycle methods

	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Hint index

	// PutHints stores records, replacing records with the same key and
	// qualified name.
	PutHints(ctx context.Context, records []*hint.Record) error

	// ScanHints returns the records under prefix in key order.
	ScanHints(ctx context.Context, prefix string) ([]*hint.Record, error)

	// GetHints returns the records of one declaration.
	GetHints(ctx context.Context, fq fqname.FqName) ([]*hint.Record, error)

	// RemoveHintsByFile deletes the records produced from one file.
	// Returns the number of records removed.
	RemoveHintsByFile(ctx context.Context, filePath string) (int, error)

	// Contribution graph

	// BulkLoad replaces the stored graph with the contents of g.
	BulkLoad(ctx context.Context, g *graph.ContributionGraph) error

	// LoadGraph reads the stored graph.
	LoadGraph(ctx context.Context) (*graph.ContributionGraph, error)

	// GetNode returns a single node by ID, or nil if not found.
	GetNode(ctx context.Context, nodeID string) (*graph.GraphNode, error)

	// GetNodesByLabel returns all nodes with the given label.
	GetNodesByLabel(ctx context.Context, label graph.NodeLabel) ([]*graph.GraphNode, error)

	// Maintenance

	// Stats returns record counts.
	Stats(ctx context.Context) (Stats, error)
}
