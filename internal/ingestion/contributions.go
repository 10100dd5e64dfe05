package ingestion

import (
	"github.com/Benny93/anvil-go/internal/annotations"
	"github.com/Benny93/anvil-go/internal/fqname"
	"github.com/Benny93/anvil-go/internal/graph"
	"github.com/Benny93/anvil-go/internal/merge"
	"github.com/Benny93/anvil-go/internal/reference"
)

var edgeRelTypes = map[merge.EdgeKind]graph.RelType{
	merge.Contribution:       graph.RelContributesTo,
	merge.Replacement:        graph.RelReplaces,
	merge.Exclusion:          graph.RelExcludes,
	merge.Inclusion:          graph.RelIncludes,
	merge.SubcomponentModule: graph.RelParentScope,
}

// BuildGraph builds the contribution graph of results. Every merge point
// is linked to its scope and to each module of its final list; the edges
// found while merging become relationships of the matching type.
func BuildGraph(results []*merge.Result) *graph.ContributionGraph {
	b := &graphBuilder{g: graph.NewContributionGraph(), ids: make(map[fqname.FqName]string)}
	for _, res := range results {
		b.add(res)
	}
	return b.g
}

type graphBuilder struct {
	g   *graph.ContributionGraph
	ids map[fqname.FqName]string
}

func (b *graphBuilder) add(res *merge.Result) {
	mp := b.node(res.MergePoint, graph.NodeMergePoint)
	scope := b.node(res.Scope, graph.NodeScope)
	b.g.Connect(graph.RelMergesScope, mp, scope, map[string]any{"kind": res.Kind.Name})

	for _, c := range res.Modules {
		b.node(c, labelOf(c))
	}
	for _, c := range res.Interfaces {
		b.node(c, graph.NodeInterface)
	}
	for _, c := range res.Replaced {
		b.node(c, labelOf(c))
	}
	for _, c := range res.Excluded {
		b.node(c, labelOf(c))
	}

	prog := res.MergePoint.Program()
	backing := res.MergePoint.Backing()
	for _, e := range res.Edges {
		from := b.lookup(prog, backing, e.From)
		to := b.lookup(prog, backing, e.To)
		b.g.Connect(edgeRelTypes[e.Kind], from, to, map[string]any{"merge_point": res.MergePoint.FqName().String()})
	}
	for i, c := range res.Modules {
		b.g.Connect(graph.RelMerges, mp, b.ids[c.FqName()], map[string]any{"index": i})
	}
}

// node adds c under label unless it is already known, and returns its ID.
func (b *graphBuilder) node(c reference.ClassRef, label graph.NodeLabel) string {
	fq := c.FqName()
	if id, ok := b.ids[fq]; ok {
		return id
	}
	id := graph.GenerateID(label, fq.String())
	b.ids[fq] = id

	pos := c.Pos()
	anns := c.Annotations()
	directives := make([]string, 0, len(anns))
	for _, a := range anns {
		directives = append(directives, a.Directive())
	}
	b.g.AddNode(&graph.GraphNode{
		ID:          id,
		Label:       label,
		Name:        fq.String(),
		Package:     fq.Pkg,
		FilePath:    pos.Filename,
		Line:        pos.Line,
		Visibility:  c.Visibility().String(),
		Annotations: directives,
	})
	return id
}

// lookup returns the ID of fq, resolving declarations that are only named
// by an edge. Unresolvable names get a bare node.
func (b *graphBuilder) lookup(prog *reference.Program, backing reference.Backing, fq fqname.FqName) string {
	if id, ok := b.ids[fq]; ok {
		return id
	}
	if c, ok := prog.LookupClass(fq, backing); ok {
		return b.node(c, labelOf(c))
	}
	id := graph.GenerateID(graph.NodeModule, fq.String())
	b.ids[fq] = id
	b.g.AddNode(&graph.GraphNode{ID: id, Label: graph.NodeModule, Name: fq.String(), Package: fq.Pkg})
	return id
}

func labelOf(c reference.ClassRef) graph.NodeLabel {
	switch {
	case merge.IsMergePoint(c):
		return graph.NodeMergePoint
	case c.IsAnnotatedWith(annotations.ContributesSubcomponent):
		return graph.NodeSubcomponent
	case c.IsAnnotatedWith(annotations.ContributesBinding):
		return graph.NodeBinding
	case c.IsAnnotatedWith(annotations.ContributesMultibinding):
		return graph.NodeMultibinding
	case c.IsInterface():
		return graph.NodeInterface
	default:
		return graph.NodeModule
	}
}
