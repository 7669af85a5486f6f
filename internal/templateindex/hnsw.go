package templateindex

import (
	"container/heap"
	"math"
	"math/rand/v2"
	"sort"

	"bomatch/internal/vecmath"
)

// hnswNode is one template in the graph. Vectors are stored normalized so
// distance is 1 - dot product.
type hnswNode struct {
	id        int
	vector    []float32
	level     int
	neighbors [][]int
}

// hnswGraph is a build-once HNSW graph keyed by template position. It is only
// read after construction, so it needs no locking.
type hnswGraph struct {
	cfg        HNSWConfig
	levelMult  float64
	nodes      map[int]*hnswNode
	entryPoint int
	maxLevel   int
	rng        *rand.Rand
}

func newHNSWGraph(cfg HNSWConfig, seed uint64) *hnswGraph {
	return &hnswGraph{
		cfg:        cfg,
		levelMult:  1.0 / math.Log(float64(cfg.M)),
		nodes:      make(map[int]*hnswNode),
		entryPoint: -1,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (g *hnswGraph) size() int {
	return len(g.nodes)
}

// add inserts a normalized vector.
func (g *hnswGraph) add(id int, vec []float32) {
	level := g.randomLevel()
	node := &hnswNode{
		id:        id,
		vector:    vec,
		level:     level,
		neighbors: make([][]int, level+1),
	}
	for i := range node.neighbors {
		node.neighbors[i] = make([]int, 0, g.cfg.M)
	}
	g.nodes[id] = node

	if g.entryPoint < 0 {
		g.entryPoint = id
		g.maxLevel = level
		return
	}

	ep := g.entryPoint
	epLevel := g.nodes[ep].level
	for l := epLevel; l > level; l-- {
		ep = g.greedyClosest(vec, ep, l)
	}

	for l := min(level, epLevel); l >= 0; l-- {
		candidates := g.searchLayer(vec, ep, g.cfg.EfConstruction, l)
		node.neighbors[l] = g.selectNeighbors(vec, candidates, g.cfg.M)

		for _, nid := range node.neighbors[l] {
			neighbor := g.nodes[nid]
			if len(neighbor.neighbors) <= l {
				continue
			}
			linked := make([]int, 0, len(neighbor.neighbors[l])+1)
			linked = append(linked, neighbor.neighbors[l]...)
			linked = append(linked, id)
			if len(linked) > g.cfg.M {
				linked = g.selectNeighbors(neighbor.vector, linked, g.cfg.M)
			}
			neighbor.neighbors[l] = linked
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > g.maxLevel {
		g.entryPoint = id
		g.maxLevel = level
	}
}

// search returns up to ef node ids ordered by ascending distance.
func (g *hnswGraph) search(query []float32, ef int) []int {
	if g.entryPoint < 0 {
		return nil
	}
	ep := g.entryPoint
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedyClosest(query, ep, l)
	}
	return g.searchLayer(query, ep, ef, 0)
}

func (g *hnswGraph) distance(query []float32, id int) float64 {
	return 1.0 - vecmath.DotProduct(query, g.nodes[id].vector)
}

func (g *hnswGraph) greedyClosest(query []float32, entry int, level int) int {
	current := entry
	currentDist := g.distance(query, current)
	for {
		changed := false
		for _, nid := range g.nodes[current].neighbors[level] {
			if d := g.distance(query, nid); d < currentDist {
				current = nid
				currentDist = d
				changed = true
			}
		}
		if !changed {
			return current
		}
	}
}

func (g *hnswGraph) searchLayer(query []float32, entry int, ef int, level int) []int {
	visited := map[int]bool{entry: true}

	candidates := &distHeap{}
	results := &distHeap{max: true}

	entryDist := g.distance(query, entry)
	heap.Push(candidates, distItem{id: entry, dist: entryDist})
	heap.Push(results, distItem{id: entry, dist: entryDist})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)
		if results.Len() >= ef && closest.dist > results.items[0].dist {
			break
		}

		node := g.nodes[closest.id]
		if len(node.neighbors) <= level {
			continue
		}
		for _, nid := range node.neighbors[level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true

			d := g.distance(query, nid)
			if results.Len() < ef || d < results.items[0].dist {
				heap.Push(candidates, distItem{id: nid, dist: d})
				heap.Push(results, distItem{id: nid, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]int, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).id
	}
	return out
}

func (g *hnswGraph) selectNeighbors(query []float32, candidates []int, m int) []int {
	if len(candidates) <= m {
		return candidates
	}
	items := make([]distItem, len(candidates))
	for i, id := range candidates {
		items[i] = distItem{id: id, dist: g.distance(query, id)}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return items[i].id < items[j].id
	})
	out := make([]int, m)
	for i := range out {
		out[i] = items[i].id
	}
	return out
}

func (g *hnswGraph) randomLevel() int {
	// 1-Float64 is in (0, 1], keeping the log finite.
	return int(-math.Log(1-g.rng.Float64()) * g.levelMult)
}

type distItem struct {
	id   int
	dist float64
}

// distHeap is a min-heap on distance, or a max-heap when max is set.
type distHeap struct {
	items []distItem
	max   bool
}

func (h *distHeap) Len() int { return len(h.items) }
func (h *distHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].dist > h.items[j].dist
	}
	return h.items[i].dist < h.items[j].dist
}
func (h *distHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *distHeap) Push(x any)   { h.items = append(h.items, x.(distItem)) }
func (h *distHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}
