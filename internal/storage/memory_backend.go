package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/hint"
	"github.com/Benny93/anvil-go/internal/reference"
)

type hintID struct {
	key string
	fq  fqname.FqName
}

// MemoryBackend is an in-memory implementation of Backend for testing.
type MemoryBackend struct {
	mu    sync.RWMutex
	hints map[hintID]*hint.Record
	graph *graph.ContributionGraph
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		hints: make(map[hintID]*hint.Record),
		graph: graph.NewContributionGraph(),
	}
}

// Initialize implements Backend.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}

// PutHints implements Backend.
func (m *MemoryBackend) PutHints(ctx context.Context, records []*hint.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		m.hints[hintID{r.Key, r.FqName}] = r
	}
	return nil
}

// ScanHints implements Backend.
func (m *MemoryBackend) ScanHints(ctx context.Context, prefix string) ([]*hint.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*hint.Record
	for _, r := range m.hints {
		if hint.HasPrefix(r.Key, prefix) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

// GetHints implements Backend.
func (m *MemoryBackend) GetHints(ctx context.Context, fq fqname.FqName) ([]*hint.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hintsOf(fq), nil
}

func (m *MemoryBackend) hintsOf(fq fqname.FqName) []*hint.Record {
	var out []*hint.Record
	for id, r := range m.hints {
		if id.fq == fq {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

// AnnotationMetadata implements reference.MetadataSource.
func (m *MemoryBackend) AnnotationMetadata(fq fqname.FqName) ([]reference.AnnotationMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.hintsOf(fq)
	if len(records) == 0 {
		return nil, false
	}
	return records[0].Annotations, true
}

// RemoveHintsByFile implements Backend.
func (m *MemoryBackend) RemoveHintsByFile(ctx context.Context, filePath string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, r := range m.hints {
		if r.File == filePath {
			delete(m.hints, id)
			count++
		}
	}
	return count, nil
}

// BulkLoad implements Backend.
func (m *MemoryBackend) BulkLoad(ctx context.Context, g *graph.ContributionGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.graph = graph.NewContributionGraph()
	for node := range g.Nodes() {
		m.graph.AddNode(node)
	}
	for rel := range g.Relationships() {
		m.graph.AddRelationship(rel)
	}
	return nil
}

// LoadGraph implements Backend.
func (m *MemoryBackend) LoadGraph(ctx context.Context) (*graph.ContributionGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph, nil
}

// GetNode implements Backend.
func (m *MemoryBackend) GetNode(ctx context.Context, nodeID string) (*graph.GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.GetNode(nodeID), nil
}

// GetNodesByLabel implements Backend.
func (m *MemoryBackend) GetNodesByLabel(ctx context.Context, label graph.NodeLabel) ([]*graph.GraphNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.GetNodesByLabel(label), nil
}

// Stats implements Backend.
func (m *MemoryBackend) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make(map[string]bool)
	for _, r := range m.hints {
		files[r.File] = true
	}
	return Stats{
		Hints:         len(m.hints),
		Files:         len(files),
		Nodes:         m.graph.NodeCount(),
		Relationships: m.graph.RelationshipCount(),
	}, nil
}

func sortRecords(records []*hint.Record) {
	slices.SortFunc(records, func(a, b *hint.Record) int {
		return cmp.Or(strings.Compare(a.Key, b.Key), fqname.Compare(a.FqName, b.FqName))
	})
}
