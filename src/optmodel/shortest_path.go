package optmodel

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/dnaeon/go-priorityqueue.v1"
)

type Arc struct {
	From, To int
}

// Grid is a Rows x Cols lattice with arcs pointing east and south. Node
// (i, j) has index i*Cols+j; paths run from node 0 to the last node.
type Grid struct {
	Rows, Cols int
}

func (g Grid) NumNodes() int {
	return g.Rows * g.Cols
}

func (g Grid) Source() int {
	return 0
}

func (g Grid) Target() int {
	return g.NumNodes() - 1
}

func (g Grid) NumArcs() int {
	return g.Rows*(g.Cols-1) + (g.Rows-1)*g.Cols
}

// Arcs lists the arcs in variable order: for every row, its east arcs
// followed by the south arcs leaving it (none on the last row).
func (g Grid) Arcs() []Arc {
	arcs := make([]Arc, 0, g.NumArcs())
	for i := range g.Rows {
		for j := range g.Cols - 1 {
			v := i*g.Cols + j
			arcs = append(arcs, Arc{From: v, To: v + 1})
		}
		if i == g.Rows-1 {
			continue
		}
		for j := range g.Cols {
			v := i*g.Cols + j
			arcs = append(arcs, Arc{From: v, To: v + g.Cols})
		}
	}
	return arcs
}

func (g Grid) validate() error {
	if g.Rows < 1 || g.Cols < 1 || g.NumNodes() < 2 {
		return errors.Errorf("grid %dx%d has no path", g.Rows, g.Cols)
	}
	return nil
}

// ShortestPath solves the grid shortest path problem without an external
// solver. Non-negative costs use Dijkstra, anything else Bellman-Ford.
type ShortestPath struct {
	grid Grid
	arcs []Arc
	out  [][]int
}

func NewShortestPath(grid Grid) (*ShortestPath, error) {
	if err := grid.validate(); err != nil {
		return nil, err
	}
	sp := &ShortestPath{
		grid: grid,
		arcs: grid.Arcs(),
		out:  make([][]int, grid.NumNodes()),
	}
	for a, arc := range sp.arcs {
		sp.out[arc.From] = append(sp.out[arc.From], a)
	}
	return sp, nil
}

func (sp *ShortestPath) Sense() Sense {
	return Minimize
}

func (sp *ShortestPath) NumVars() int {
	return len(sp.arcs)
}

// Clone returns sp itself: Solve keeps all of its state on the stack.
func (sp *ShortestPath) Clone() Model {
	return sp
}

func (sp *ShortestPath) Solve(cost []float64) (*Solution, error) {
	if err := checkCost(sp, cost); err != nil {
		return nil, err
	}

	nonNegative := true
	for _, c := range cost {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errors.Wrapf(ErrSolver, "cost is not finite: %v", c)
		}
		if c < 0 {
			nonNegative = false
		}
	}

	var pred []int
	var err error
	if nonNegative {
		pred = sp.dijkstra(cost)
	} else {
		pred, err = sp.bellmanFord(cost)
		if err != nil {
			return nil, err
		}
	}
	return sp.tracePath(cost, pred)
}

func (sp *ShortestPath) initLabels() (dist []float64, pred []int) {
	n := sp.grid.NumNodes()
	dist = make([]float64, n)
	pred = make([]int, n)
	for i := range n {
		dist[i] = math.Inf(1)
		pred[i] = -1
	}
	dist[sp.grid.Source()] = 0
	return
}

func (sp *ShortestPath) dijkstra(cost []float64) []int {
	dist, pred := sp.initLabels()
	done := make([]bool, len(dist))
	pq := priorityqueue.New[int, float64](priorityqueue.MinHeap)
	pq.Put(sp.grid.Source(), 0)

	for pq.Len() > 0 {
		item := pq.Get()
		u := item.Value
		if done[u] {
			continue
		}
		done[u] = true

		for _, a := range sp.out[u] {
			v := sp.arcs[a].To
			if done[v] {
				continue
			}
			d := dist[u] + cost[a]
			if d >= dist[v] {
				continue
			}
			queued := !math.IsInf(dist[v], 1)
			dist[v] = d
			pred[v] = a
			if queued {
				pq.Update(v, d)
			} else {
				pq.Put(v, d)
			}
		}
	}
	return pred
}

func (sp *ShortestPath) bellmanFord(cost []float64) ([]int, error) {
	dist, pred := sp.initLabels()
	n := len(dist)
	inQueue := make([]bool, n)
	relaxed := make([]int, n)

	q := newQueue[int]()
	q.Push(sp.grid.Source())
	inQueue[sp.grid.Source()] = true

	for q.Size() > 0 {
		u := q.Pop()
		inQueue[u] = false
		for _, a := range sp.out[u] {
			v := sp.arcs[a].To
			d := dist[u] + cost[a]
			if d >= dist[v] {
				continue
			}
			dist[v] = d
			pred[v] = a
			relaxed[v]++
			if relaxed[v] >= n {
				return nil, errors.Wrap(ErrSolver, "negative cycle")
			}
			if !inQueue[v] {
				q.Push(v)
				inQueue[v] = true
			}
		}
	}
	return pred, nil
}

func (sp *ShortestPath) tracePath(cost []float64, pred []int) (*Solution, error) {
	x := mat.NewVecDense(len(sp.arcs), nil)
	obj := 0.0
	for v := sp.grid.Target(); v != sp.grid.Source(); {
		a := pred[v]
		if a < 0 {
			return nil, errors.Wrapf(ErrSolver, "node %d is unreachable", sp.grid.Target())
		}
		x.SetVec(a, 1)
		obj += cost[a]
		v = sp.arcs[a].From
	}
	return &Solution{Vars: x, Objective: obj}, nil
}
