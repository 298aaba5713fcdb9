package main

import (
	"math/rand"
	"slices"
	"time"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

type InputData struct {
	Size int  `validate:"gte=0,lte=100000"`
	Seed *int // Optional
}

type OutputData struct {
	Result      []int64
	Measurement struct {
		GraphGeneratingTimeMicroseconds int64
		ComputeTimeMicroseconds         int64
	}
}

func main() {
	function.Handle(handler, harness.WithValidation())
}

// inspired by https://github.com/spcl/serverless-benchmarks/blob/master/benchmarks/500.scientific/503.graph-bfs/python/function.py

func handler(input InputData, _ *harness.Context) (OutputData, error) {
	seed := time.Now().UnixNano()
	if input.Seed != nil {
		seed = int64(*input.Seed)
	}
	rng := rand.New(rand.NewSource(seed))

	startGraph := time.Now()
	graph := generateBarabasiAlbert(rng, input.Size, 10)
	graphDuration := time.Since(startGraph).Microseconds()

	startBFS := time.Now()
	result := bfs(graph, 0)
	bfsDuration := time.Since(startBFS).Microseconds()

	output := OutputData{
		Result: result,
	}
	output.Measurement.GraphGeneratingTimeMicroseconds = graphDuration
	output.Measurement.ComputeTimeMicroseconds = bfsDuration
	return output, nil
}

// generateBarabasiAlbert creates a scale-free graph using a simple preferential attachment model
func generateBarabasiAlbert(rng *rand.Rand, n, m int) *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()

	if n <= 0 || m <= 0 {
		return g
	}
	if m > n {
		m = n
	}

	// Initial fully-connected core of m nodes
	for i := 0; i < m; i++ {
		g.AddNode(simple.Node(i))
		for j := 0; j < i; j++ {
			g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
		}
	}

	// Preferential attachment
	for i := m; i < n; i++ {
		targets := preferentialTargets(rng, g, m)

		newNode := simple.Node(i)
		g.AddNode(newNode)
		for _, t := range targets {
			g.SetEdge(g.NewEdge(newNode, simple.Node(t)))
		}
	}

	return g
}

func preferentialTargets(rng *rand.Rand, g *simple.UndirectedGraph, m int) []int64 {
	var targets []int64
	seen := make(map[int64]bool)

	// node ids are dense, walk them in order so a seed reproduces the graph
	var pool []int64
	distinct := 0

	for id := int64(0); id < int64(g.Nodes().Len()); id++ {
		degree := g.From(id).Len()
		if degree > 0 {
			distinct++
		}
		for i := 0; i < degree; i++ {
			pool = append(pool, id)
		}
	}
	if m > distinct {
		m = distinct
	}

	for len(targets) < m {
		candidate := pool[rng.Intn(len(pool))]
		if !seen[candidate] {
			seen[candidate] = true
			targets = append(targets, candidate)
		}
	}

	return targets
}

func bfs(g *simple.UndirectedGraph, start int64) []int64 {
	if g.Node(start) == nil {
		return []int64{}
	}

	visited := make(map[int64]bool)
	var result []int64
	var queue []int64

	queue = append(queue, start)
	visited[start] = true

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		result = append(result, curr)

		for _, n := range sortedNeighbors(g, curr) {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}

	return result
}

func sortedNeighbors(g *simple.UndirectedGraph, id int64) []int64 {
	it := g.From(id)
	ids := make([]int64, 0, it.Len())
	for it.Next() {
		ids = append(ids, it.Node().ID())
	}
	slices.Sort(ids)
	return ids
}
