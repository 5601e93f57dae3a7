package loss

import (
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

// setModel optimizes over a fixed list of feasible points.
type setModel struct {
	sense    optmodel.Sense
	feasible [][]float64
	solves   *atomic.Int32
}

func newSetModel(sense optmodel.Sense, feasible ...[]float64) *setModel {
	return &setModel{sense: sense, feasible: feasible, solves: new(atomic.Int32)}
}

func (m *setModel) Sense() optmodel.Sense { return m.sense }
func (m *setModel) NumVars() int          { return len(m.feasible[0]) }

func (m *setModel) Clone() optmodel.Model {
	c := *m
	return &c
}

func (m *setModel) Solve(cost []float64) (*optmodel.Solution, error) {
	m.solves.Add(1)
	if len(cost) != m.NumVars() {
		return nil, errors.Wrap(optmodel.ErrSolver, "bad cost")
	}
	best, bestObj := -1, 0.0
	for i, x := range m.feasible {
		obj := 0.0
		for j := range x {
			obj += cost[j] * x[j]
		}
		if best < 0 || m.sense.Orient(obj) < m.sense.Orient(bestObj) {
			best, bestObj = i, obj
		}
	}
	return &optmodel.Solution{
		Vars:      mat.NewVecDense(m.NumVars(), append([]float64(nil), m.feasible[best]...)),
		Objective: bestObj,
	}, nil
}

// seed is a SolutionSource backed by a plain matrix.
type seed struct {
	sols *mat.Dense
}

func (s seed) Solutions() *mat.Dense { return s.sols }

func seedOf(rows, cols int, data ...float64) seed {
	return seed{sols: mat.NewDense(rows, cols, data)}
}

func testConfig(ratio float64) Config {
	return Config{Processes: 1, SolveRatio: ratio, Rand: rand.New(rand.NewSource(1))}
}

// knapsack3 is every subset of three items with weights 2, 3, 4 that fits in
// a capacity of 5.
func knapsack3(sense optmodel.Sense) *setModel {
	return newSetModel(sense,
		[]float64{0, 0, 0},
		[]float64{1, 0, 0},
		[]float64{0, 1, 0},
		[]float64{0, 0, 1},
		[]float64{1, 1, 0},
	)
}

// numericGrad estimates d(f)/d(pred) by central differences.
func numericGrad(f func(pred *mat.Dense) float64, pred *mat.Dense) *mat.Dense {
	const h = 1e-6
	r, c := pred.Dims()
	grad := mat.NewDense(r, c, nil)
	x := mat.DenseCopyOf(pred)
	for i := range r {
		for j := range c {
			v := x.At(i, j)
			x.Set(i, j, v+h)
			up := f(x)
			x.Set(i, j, v-h)
			down := f(x)
			x.Set(i, j, v)
			grad.Set(i, j, (up-down)/(2*h))
		}
	}
	return grad
}

func maxAbsDiff(a, b *mat.Dense) float64 {
	var d mat.Dense
	d.Sub(a, b)
	m := 0.0
	r, c := d.Dims()
	for i := range r {
		for j := range c {
			m = math.Max(m, math.Abs(d.At(i, j)))
		}
	}
	return m
}
