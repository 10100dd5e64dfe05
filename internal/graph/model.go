// Package graph provides the contribution graph data model for Anvil.
//
// It defines the node and relationship types that represent the entities
// of a merge (scopes, modules, interfaces, bindings, subcomponents and
// merge points) and the edges between them (contributes to, replaces,
// excludes, merges).
package graph

// NodeLabel represents the type of a graph node.
type NodeLabel string

const (
	NodeScope        NodeLabel = "scope"
	NodeModule       NodeLabel = "module"
	NodeInterface    NodeLabel = "interface"
	NodeBinding      NodeLabel = "binding"
	NodeMultibinding NodeLabel = "multibinding"
	NodeSubcomponent NodeLabel = "subcomponent"
	NodeMergePoint   NodeLabel = "merge_point"
)

// RelType represents the type of relationship between graph nodes.
type RelType string

const (
	RelContributesTo RelType = "contributes_to"
	RelReplaces      RelType = "replaces"
	RelExcludes      RelType = "excludes"
	RelIncludes      RelType = "includes"
	RelMerges        RelType = "merges"
	RelMergesScope   RelType = "merges_scope"
	RelParentScope   RelType = "parent_scope"
)

// GraphNode represents a node in the contribution graph.
type GraphNode struct {
	// ID is the unique identifier for the node.
	// Format: {label}:{qualified_name}
	ID string `json:"id"`

	// Label is the type of the node.
	Label NodeLabel `json:"label"`

	// Name is the qualified name of the declaration.
	Name string `json:"name"`

	// Package is the import path of the declaration.
	Package string `json:"package"`

	// FilePath is the path to the file containing this declaration.
	FilePath string `json:"file_path,omitempty"`

	// Line is the line of the declaration's name.
	Line int `json:"line,omitempty"`

	// Visibility is the declaration's visibility.
	Visibility string `json:"visibility,omitempty"`

	// Annotations holds the directives of the declaration in source form.
	Annotations []string `json:"annotations,omitempty"`

	// Properties holds additional metadata.
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphRelationship represents a directed edge in the contribution graph.
type GraphRelationship struct {
	// ID is the unique identifier for the relationship.
	ID string `json:"id"`

	// Type is the type of relationship.
	Type RelType `json:"type"`

	// Source is the ID of the source node.
	Source string `json:"source"`

	// Target is the ID of the target node.
	Target string `json:"target"`

	// Properties holds additional metadata (e.g., annotation, scope).
	Properties map[string]any `json:"properties,omitempty"`
}

// GenerateID creates a deterministic node ID from label and qualified name.
// Format: {label}:{qualified_name}
func GenerateID(label NodeLabel, name string) string {
	return string(label) + ":" + name
}

// RelationshipID creates a deterministic relationship ID.
// Format: {type}:{source}->{target}
func RelationshipID(relType RelType, source, target string) string {
	return string(relType) + ":" + source + "->" + target
}
