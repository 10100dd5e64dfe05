// Package graph provides the in-memory contribution graph for Anvil.
//
// It provides a lightweight, map-backed graph that stores GraphNode and
// GraphRelationship instances with O(1) lookups by ID. Secondary indexes
// on label and adjacency lists keep queries proportional to the result set
// rather than the total graph size.
package graph

import (
	"cmp"
	"iter"
	"maps"
	"slices"
	"sync"
)

// Traversal directions.
const (
	Outgoing = "outgoing"
	Incoming = "incoming"
)

// ContributionGraph is an in-memory directed graph of contributed
// declarations, the scopes they contribute to and the merge points that
// collect them.
//
// Nodes are keyed by their ID string; relationships are keyed likewise.
//
// All query methods are backed by secondary indexes so that lookups by
// label or adjacency are O(result) rather than O(graph).
// Results are sorted by ID.
type ContributionGraph struct {
	mu            sync.RWMutex
	nodes         map[string]*GraphNode
	relationships map[string]*GraphRelationship

	byLabel  map[NodeLabel]map[string]*GraphNode
	outgoing map[string]map[string]*GraphRelationship
	incoming map[string]map[string]*GraphRelationship
}

// NewContributionGraph creates a new empty graph.
func NewContributionGraph() *ContributionGraph {
	return &ContributionGraph{
		nodes:         make(map[string]*GraphNode),
		relationships: make(map[string]*GraphRelationship),
		byLabel:       make(map[NodeLabel]map[string]*GraphNode),
		outgoing:      make(map[string]map[string]*GraphRelationship),
		incoming:      make(map[string]map[string]*GraphRelationship),
	}
}

// NodeCount returns the number of nodes without list materialization.
func (g *ContributionGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RelationshipCount returns the number of relationships without list materialization.
func (g *ContributionGraph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relationships)
}

// CountNodesByLabel returns the count of nodes with the given label.
func (g *ContributionGraph) CountNodesByLabel(label NodeLabel) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byLabel[label])
}

// Nodes yields a snapshot of all nodes in ID order.
func (g *ContributionGraph) Nodes() iter.Seq[*GraphNode] {
	g.mu.RLock()
	nodes := sortedNodes(g.nodes)
	g.mu.RUnlock()
	return slices.Values(nodes)
}

// Relationships yields a snapshot of all relationships in ID order.
func (g *ContributionGraph) Relationships() iter.Seq[*GraphRelationship] {
	g.mu.RLock()
	rels := sortedRels(g.relationships)
	g.mu.RUnlock()
	return slices.Values(rels)
}

// AddNode adds a node to the graph, replacing any existing node with the same ID.
// If the node's label differs from an existing node, the old label index is updated.
// Annotations of an existing node are kept when the new node carries none.
func (g *ContributionGraph) AddNode(node *GraphNode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.nodes[node.ID]; ok {
		if old.Label != node.Label {
			delete(g.byLabel[old.Label], node.ID)
		}
		if len(node.Annotations) == 0 {
			node.Annotations = old.Annotations
		}
	}

	g.nodes[node.ID] = node

	if g.byLabel[node.Label] == nil {
		g.byLabel[node.Label] = make(map[string]*GraphNode)
	}
	g.byLabel[node.Label][node.ID] = node
}

// GetNode returns the node with the given ID, or nil if it does not exist.
func (g *ContributionGraph) GetNode(nodeID string) *GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[nodeID]
}

// FindByName returns the nodes of a qualified name under any label.
func (g *ContributionGraph) FindByName(name string) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*GraphNode
	for _, node := range g.nodes {
		if node.Name == name {
			out = append(out, node)
		}
	}
	slices.SortFunc(out, func(a, b *GraphNode) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// AddRelationship adds a relationship to the graph, replacing any existing relationship with the same ID.
func (g *ContributionGraph) AddRelationship(rel *GraphRelationship) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.relationships[rel.ID]; ok {
		delete(g.outgoing[old.Source], rel.ID)
		delete(g.incoming[old.Target], rel.ID)
	}

	g.relationships[rel.ID] = rel

	if g.outgoing[rel.Source] == nil {
		g.outgoing[rel.Source] = make(map[string]*GraphRelationship)
	}
	g.outgoing[rel.Source][rel.ID] = rel

	if g.incoming[rel.Target] == nil {
		g.incoming[rel.Target] = make(map[string]*GraphRelationship)
	}
	g.incoming[rel.Target][rel.ID] = rel
}

// Connect adds a relationship of relType between two node IDs.
func (g *ContributionGraph) Connect(relType RelType, source, target string, props map[string]any) {
	g.AddRelationship(&GraphRelationship{
		ID:         RelationshipID(relType, source, target),
		Type:       relType,
		Source:     source,
		Target:     target,
		Properties: props,
	})
}

// GetNodesByLabel returns all nodes with the given label.
func (g *ContributionGraph) GetNodesByLabel(label NodeLabel) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedNodes(g.byLabel[label])
}

// GetOutgoing returns relationships originating from the given node ID.
// If relType is provided, only relationships of that type are returned.
func (g *ContributionGraph) GetOutgoing(nodeID string, relType ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterRels(g.outgoing[nodeID], relType)
}

// GetIncoming returns relationships targeting the given node ID.
// If relType is provided, only relationships of that type are returned.
func (g *ContributionGraph) GetIncoming(nodeID string, relType ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterRels(g.incoming[nodeID], relType)
}

// HasIncoming returns true if the node has any incoming relationship of the given type.
func (g *ContributionGraph) HasIncoming(nodeID string, relType RelType) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, rel := range g.incoming[nodeID] {
		if rel.Type == relType {
			return true
		}
	}
	return false
}

// Traverse walks relationships breadth first from startID, up to depth
// hops, in the given direction. The start node is not included.
func (g *ContributionGraph) Traverse(startID string, depth int, direction string, relType ...RelType) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adjacency := g.outgoing
	if direction == Incoming {
		adjacency = g.incoming
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}
	var out []*GraphNode
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, rel := range filterRels(adjacency[id], relType) {
				other := rel.Target
				if direction == Incoming {
					other = rel.Source
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				if node, ok := g.nodes[other]; ok {
					out = append(out, node)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return out
}

// Stats returns a summary of graph size.
func (g *ContributionGraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := map[string]int{
		"nodes":         len(g.nodes),
		"relationships": len(g.relationships),
	}
	for label, nodes := range g.byLabel {
		if len(nodes) > 0 {
			stats[string(label)] = len(nodes)
		}
	}
	return stats
}

func filterRels(rels map[string]*GraphRelationship, relType []RelType) []*GraphRelationship {
	all := sortedRels(rels)
	if len(relType) == 0 || relType[0] == "" {
		return all
	}
	out := all[:0]
	for _, rel := range all {
		if rel.Type == relType[0] {
			out = append(out, rel)
		}
	}
	return out
}

func sortedNodes(m map[string]*GraphNode) []*GraphNode {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b *GraphNode) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func sortedRels(m map[string]*GraphRelationship) []*GraphRelationship {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b *GraphRelationship) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
