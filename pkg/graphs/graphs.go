// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphs holds the graph samples used to train and evaluate the learned graph edit distance:
// the in-memory data model, loaders (a generic JSON-lines format and a synthetic "letters" generator),
// the padding/collation into batch tensors, and train.Dataset implementations for siamese pairs and
// for single graphs.
package graphs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Graph is one labeled, undirected graph with per-node features.
type Graph struct {
	// Label is the class of the graph.
	Label int `json:"label"`

	// Nodes holds one feature vector per node. All vectors must have the same length.
	Nodes [][]float32 `json:"nodes"`

	// Edges lists undirected edges as pairs of node indices.
	Edges [][2]int `json:"edges"`
}

// NumNodes returns the true number of nodes of the graph.
func (g *Graph) NumNodes() int { return len(g.Nodes) }

// FeatureDim returns the dimension of the node features, or 0 for an empty graph.
func (g *Graph) FeatureDim() int {
	if len(g.Nodes) == 0 {
		return 0
	}
	return len(g.Nodes[0])
}

// String implements fmt.Stringer.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph(label=%d, #nodes=%d, #edges=%d)", g.Label, len(g.Nodes), len(g.Edges))
}

// Validate checks that the graph has at least one node, consistent feature dimensions and edges
// pointing to existing nodes.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return errors.Errorf("%s has no nodes: graphs with true size 0 are not valid inputs", g)
	}
	dim := len(g.Nodes[0])
	for ii, node := range g.Nodes {
		if len(node) != dim {
			return errors.Errorf("%s: node #%d has %d features, but node #0 has %d", g, ii, len(node), dim)
		}
	}
	for ii, e := range g.Edges {
		if e[0] < 0 || e[0] >= len(g.Nodes) || e[1] < 0 || e[1] >= len(g.Nodes) {
			return errors.Errorf("%s: edge #%d (%d, %d) points to a non-existent node", g, ii, e[0], e[1])
		}
	}
	return nil
}

// Degrees returns the number of distinct neighbors of each node. Self-loops are ignored.
func (g *Graph) Degrees() []int {
	degrees := make([]int, len(g.Nodes))
	n := len(g.Nodes)
	seen := make([]bool, n*n)
	for _, e := range g.Edges {
		u, v := e[0], e[1]
		if u == v || seen[u*n+v] {
			continue
		}
		seen[u*n+v], seen[v*n+u] = true, true
		degrees[u]++
		degrees[v]++
	}
	return degrees
}

// ValidateAll validates every graph of the collection, and that they all share the same feature dimension.
func ValidateAll(collection []*Graph) error {
	dim := -1
	for ii, g := range collection {
		if err := g.Validate(); err != nil {
			return errors.WithMessagef(err, "graph #%d", ii)
		}
		if dim < 0 {
			dim = g.FeatureDim()
		} else if g.FeatureDim() != dim {
			return errors.Errorf("graph #%d has feature dimension %d, but previous graphs have %d", ii, g.FeatureDim(), dim)
		}
	}
	return nil
}

// NumClasses returns 1 + the largest label in the collection.
func NumClasses(collection []*Graph) int {
	maxLabel := -1
	for _, g := range collection {
		maxLabel = max(maxLabel, g.Label)
	}
	return maxLabel + 1
}
