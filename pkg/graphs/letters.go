// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"math/rand/v2"
)

// LetterNames are the classes of the synthetic letters dataset, in label order.
var LetterNames = []string{"A", "E", "F", "H", "I", "K", "L", "M", "N", "T", "V", "W", "X", "Y", "Z"}

type letterPrototype struct {
	points [][2]float32
	edges  [][2]int
}

// letterPrototypes are drawn on a 4x4 canvas, one per entry of LetterNames.
var letterPrototypes = []letterPrototype{
	{[][2]float32{{0, 0}, {1, 2}, {2, 4}, {3, 2}, {4, 0}}, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {1, 3}}},         // A
	{[][2]float32{{4, 4}, {0, 4}, {0, 2}, {3, 2}, {0, 0}, {4, 0}}, [][2]int{{0, 1}, {1, 2}, {2, 3}, {2, 4}, {4, 5}}}, // E
	{[][2]float32{{4, 4}, {0, 4}, {0, 2}, {3, 2}, {0, 0}}, [][2]int{{0, 1}, {1, 2}, {2, 3}, {2, 4}}},                 // F
	{[][2]float32{{0, 4}, {0, 2}, {0, 0}, {4, 4}, {4, 2}, {4, 0}}, [][2]int{{0, 1}, {1, 2}, {3, 4}, {4, 5}, {1, 4}}}, // H
	{[][2]float32{{2, 4}, {2, 2}, {2, 0}}, [][2]int{{0, 1}, {1, 2}}},                                                 // I
	{[][2]float32{{0, 4}, {0, 2}, {0, 0}, {4, 4}, {4, 0}}, [][2]int{{0, 1}, {1, 2}, {1, 3}, {1, 4}}},                 // K
	{[][2]float32{{0, 4}, {0, 0}, {4, 0}}, [][2]int{{0, 1}, {1, 2}}},                                                 // L
	{[][2]float32{{0, 0}, {0, 4}, {2, 2}, {4, 4}, {4, 0}}, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}}},                 // M
	{[][2]float32{{0, 0}, {0, 4}, {4, 0}, {4, 4}}, [][2]int{{0, 1}, {1, 2}, {2, 3}}},                                 // N
	{[][2]float32{{0, 4}, {2, 4}, {4, 4}, {2, 0}}, [][2]int{{0, 1}, {1, 2}, {1, 3}}},                                 // T
	{[][2]float32{{0, 4}, {2, 0}, {4, 4}}, [][2]int{{0, 1}, {1, 2}}},                                                 // V
	{[][2]float32{{0, 4}, {1, 0}, {2, 2}, {3, 0}, {4, 4}}, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}}},                 // W
	{[][2]float32{{0, 4}, {2, 2}, {4, 0}, {0, 0}, {4, 4}}, [][2]int{{0, 1}, {1, 2}, {3, 1}, {1, 4}}},                 // X
	{[][2]float32{{0, 4}, {2, 2}, {4, 4}, {2, 0}}, [][2]int{{0, 1}, {1, 2}, {1, 3}}},                                 // Y
	{[][2]float32{{0, 4}, {4, 4}, {0, 0}, {4, 0}}, [][2]int{{0, 1}, {1, 2}, {2, 3}}},                                 // Z
}

// LettersConfig configures the synthetic letters generator.
type LettersConfig struct {
	// PerClass is the number of graphs generated for each letter.
	PerClass int

	// Distortion is the standard deviation of the Gaussian noise added to each node coordinate.
	Distortion float64

	// SplitProb is the probability of splitting one random edge with an extra node, which varies the graph sizes.
	SplitProb float64

	// Seed of the random number generator: the same config always generates the same graphs.
	Seed uint64
}

// DefaultLettersConfig returns a medium distortion configuration.
func DefaultLettersConfig() LettersConfig {
	return LettersConfig{PerClass: 50, Distortion: 0.25, SplitProb: 0.3, Seed: 42}
}

// Letters generates distorted letter drawings: each node has its 2D coordinates (scaled to [0, 1]) as features.
// Graphs are ordered by class, PerClass graphs for each label.
func Letters(config LettersConfig) []*Graph {
	rng := rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15))
	collection := make([]*Graph, 0, config.PerClass*len(letterPrototypes))
	for label, proto := range letterPrototypes {
		for range config.PerClass {
			collection = append(collection, distortLetter(rng, label, proto, config))
		}
	}
	return collection
}

func distortLetter(rng *rand.Rand, label int, proto letterPrototype, config LettersConfig) *Graph {
	points := make([][2]float32, len(proto.points), len(proto.points)+1)
	copy(points, proto.points)
	edges := make([][2]int, len(proto.edges), len(proto.edges)+1)
	copy(edges, proto.edges)
	if config.SplitProb > 0 && rng.Float64() < config.SplitProb {
		edgeIdx := rng.IntN(len(edges))
		u, v := edges[edgeIdx][0], edges[edgeIdx][1]
		w := len(points)
		points = append(points, [2]float32{(points[u][0] + points[v][0]) / 2, (points[u][1] + points[v][1]) / 2})
		edges[edgeIdx] = [2]int{u, w}
		edges = append(edges, [2]int{w, v})
	}
	g := &Graph{Label: label, Nodes: make([][]float32, len(points)), Edges: edges}
	for ii, p := range points {
		x := float64(p[0]) + rng.NormFloat64()*config.Distortion
		y := float64(p[1]) + rng.NormFloat64()*config.Distortion
		g.Nodes[ii] = []float32{float32(x / 4), float32(y / 4)}
	}
	return g
}

// LetterSplits generates train, validation and test splits with independent seeds derived from seed.
func LetterSplits(trainPerClass, validPerClass, testPerClass int, distortion float64, seed uint64) *Splits {
	config := DefaultLettersConfig()
	config.Distortion = distortion
	generate := func(perClass int, seedOffset uint64) []*Graph {
		c := config
		c.PerClass = perClass
		c.Seed = seed + seedOffset
		return Letters(c)
	}
	return &Splits{
		Train: generate(trainPerClass, 0),
		Valid: generate(validPerClass, 1),
		Test:  generate(testPerClass, 2),
	}
}
