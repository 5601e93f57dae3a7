// Package highsolver solves optmodel linear programs with HiGHS.
package highsolver

import (
	"math"
	"slices"

	"github.com/lanl/highs"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

// Solver is stateless; every call builds a fresh HiGHS model, so one Solver
// may be shared by models on different goroutines.
type Solver struct{}

func New() *Solver {
	return &Solver{}
}

func (s *Solver) SolveLP(lp *optmodel.LinearProgram, cost []float64) (*optmodel.Solution, error) {
	return runHighsSolver(lp, defModel(lp, cost), cost)
}

func defModel(lp *optmodel.LinearProgram, cost []float64) *highs.Model {
	m := &highs.Model{
		Maximize: lp.Sense == optmodel.Maximize,
		ColCosts: slices.Clone(cost),
		ColLower: slices.Clone(lp.ColLower),
		ColUpper: slices.Clone(lp.ColUpper),
		VarTypes: make([]highs.VariableType, lp.NumCols()),
	}
	for j, integer := range lp.Integer {
		if integer {
			m.VarTypes[j] = highs.IntegerType
		} else {
			m.VarTypes[j] = highs.ContinuousType
		}
	}
	for i := range lp.NumRows() {
		m.AddDenseRow(lp.RowLower[i], lp.Rows.RawRowView(i), lp.RowUpper[i])
	}
	return m
}

func runHighsSolver(lp *optmodel.LinearProgram, m *highs.Model, cost []float64) (*optmodel.Solution, error) {
	solution, err := m.Solve()
	if err != nil {
		return nil, errors.Wrapf(optmodel.ErrSolver, "highs: %v", err)
	}
	if solution.Status != highs.Optimal {
		return nil, errors.Wrapf(optmodel.ErrSolver, "highs status: %v", solution.Status.String())
	}

	x := mat.NewVecDense(lp.NumCols(), slices.Clone(solution.ColumnPrimal[:lp.NumCols()]))
	for j, integer := range lp.Integer {
		if integer {
			x.SetVec(j, math.Round(x.AtVec(j)))
		}
	}
	return &optmodel.Solution{
		Vars:      x,
		Objective: optmodel.Objective(cost, x),
	}, nil
}
