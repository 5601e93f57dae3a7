package optmodel

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const eps = 1e-8

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

// LinearProgram is a mixed integer linear program without its objective:
//
//	opt  c^T x
//	s.t. RowLower <= Rows x <= RowUpper
//	     ColLower <= x <= ColUpper
//	     x_j integer where Integer[j]
//
// Infinite bounds are written as math.Inf.
type LinearProgram struct {
	Sense    Sense
	ColLower []float64
	ColUpper []float64
	Integer  []bool
	Rows     *mat.Dense
	RowLower []float64
	RowUpper []float64
}

// LPSolver solves a LinearProgram for a given objective. Implementations must
// not keep references to lp or cost after returning.
type LPSolver interface {
	SolveLP(lp *LinearProgram, cost []float64) (*Solution, error)
}

func (lp *LinearProgram) NumCols() int {
	return len(lp.ColLower)
}

func (lp *LinearProgram) NumRows() int {
	return len(lp.RowLower)
}

func (lp *LinearProgram) Clone() *LinearProgram {
	c := &LinearProgram{
		Sense:    lp.Sense,
		ColLower: slices.Clone(lp.ColLower),
		ColUpper: slices.Clone(lp.ColUpper),
		Integer:  slices.Clone(lp.Integer),
		RowLower: slices.Clone(lp.RowLower),
		RowUpper: slices.Clone(lp.RowUpper),
	}
	if lp.Rows != nil {
		c.Rows = mat.DenseCopyOf(lp.Rows)
	}
	return c
}

// Validate checks that the program's slices agree on sizes.
func (lp *LinearProgram) Validate() error {
	n := lp.NumCols()
	if n == 0 {
		return errors.New("linear program has no columns")
	}
	if len(lp.ColUpper) != n || len(lp.Integer) != n {
		return errors.Errorf("column bounds and integrality must have %d entries", n)
	}
	if len(lp.RowUpper) != lp.NumRows() {
		return errors.Errorf("row bounds differ in length: %d and %d", len(lp.RowLower), len(lp.RowUpper))
	}
	if lp.NumRows() == 0 {
		return nil
	}
	if lp.Rows == nil {
		return errors.New("row bounds given without constraint rows")
	}
	r, c := lp.Rows.Dims()
	if r != lp.NumRows() || c != n {
		return errors.Errorf("constraint matrix is %dx%d, want %dx%d", r, c, lp.NumRows(), n)
	}
	return nil
}

// Objective evaluates cost·x.
func Objective(cost []float64, x *mat.VecDense) float64 {
	return mat.Dot(mat.NewVecDense(len(cost), cost), x)
}

// LinearModel is a Model backed by a LinearProgram and an LPSolver.
type LinearModel struct {
	lp     *LinearProgram
	solver LPSolver
}

func NewLinearModel(lp *LinearProgram, solver LPSolver) (*LinearModel, error) {
	if err := lp.Validate(); err != nil {
		return nil, err
	}
	if solver == nil {
		return nil, errors.New("linear model needs a solver")
	}
	return &LinearModel{lp: lp, solver: solver}, nil
}

func (m *LinearModel) Sense() Sense {
	return m.lp.Sense
}

func (m *LinearModel) NumVars() int {
	return m.lp.NumCols()
}

// Program returns the model's constraints. Callers must not modify it.
func (m *LinearModel) Program() *LinearProgram {
	return m.lp
}

func (m *LinearModel) Solve(cost []float64) (*Solution, error) {
	if err := checkCost(m, cost); err != nil {
		return nil, err
	}
	return m.solver.SolveLP(m.lp, cost)
}

func (m *LinearModel) Clone() Model {
	return &LinearModel{lp: m.lp.Clone(), solver: m.solver}
}

// NewKnapsack builds a multi-dimensional 0/1 knapsack: maximize c·x subject to
// weights x <= capacity. weights has one row per dimension and one column per item.
func NewKnapsack(weights *mat.Dense, capacity []float64, solver LPSolver) (*LinearModel, error) {
	dims, items := weights.Dims()
	if dims != len(capacity) {
		return nil, errors.Errorf("knapsack has %d weight rows but %d capacities", dims, len(capacity))
	}

	lp := &LinearProgram{
		Sense:    Maximize,
		ColLower: make([]float64, items),
		ColUpper: make([]float64, items),
		Integer:  make([]bool, items),
		Rows:     mat.DenseCopyOf(weights),
		RowLower: make([]float64, dims),
		RowUpper: slices.Clone(capacity),
	}
	for j := range items {
		lp.ColUpper[j] = 1
		lp.Integer[j] = true
	}
	for i := range dims {
		lp.RowLower[i] = math.Inf(-1)
	}
	return NewLinearModel(lp, solver)
}

// NewShortestPathLP formulates the grid shortest path as a unit flow from the
// top-left to the bottom-right node. The incidence matrix is totally
// unimodular, so the relaxation has integral optima.
func NewShortestPathLP(grid Grid, solver LPSolver) (*LinearModel, error) {
	if err := grid.validate(); err != nil {
		return nil, err
	}
	arcs := grid.Arcs()
	nodes := grid.NumNodes()

	lp := &LinearProgram{
		Sense:    Minimize,
		ColLower: make([]float64, len(arcs)),
		ColUpper: make([]float64, len(arcs)),
		Integer:  make([]bool, len(arcs)),
		Rows:     mat.NewDense(nodes, len(arcs), nil),
		RowLower: make([]float64, nodes),
		RowUpper: make([]float64, nodes),
	}
	for j, a := range arcs {
		lp.ColUpper[j] = 1
		lp.Rows.Set(a.From, j, 1)
		lp.Rows.Set(a.To, j, -1)
	}
	lp.RowLower[grid.Source()], lp.RowUpper[grid.Source()] = 1, 1
	lp.RowLower[grid.Target()], lp.RowUpper[grid.Target()] = -1, -1
	return NewLinearModel(lp, solver)
}
