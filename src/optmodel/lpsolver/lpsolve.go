// Package lpsolver solves optmodel linear programs with lp_solve.
package lpsolver

import (
	"math"

	"github.com/draffensperger/golp"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

// Solver builds a new lp_solve problem per call and is safe to share.
type Solver struct{}

func New() *Solver {
	return &Solver{}
}

func (s *Solver) SolveLP(lp *optmodel.LinearProgram, cost []float64) (*optmodel.Solution, error) {
	prob, err := defProb(lp, cost)
	if err != nil {
		return nil, err
	}
	return runMIPSolver(lp, prob, cost)
}

func defProb(lp *optmodel.LinearProgram, cost []float64) (*golp.LP, error) {
	prob := golp.NewLP(0, lp.NumCols())
	prob.SetObjFn(cost)
	if lp.Sense == optmodel.Maximize {
		prob.SetMaximize()
	}

	for j := range lp.NumCols() {
		prob.SetBounds(j, lp.ColLower[j], lp.ColUpper[j])
		prob.SetInt(j, lp.Integer[j])
	}

	for i := range lp.NumRows() {
		row := lp.Rows.RawRowView(i)
		lb, ub := lp.RowLower[i], lp.RowUpper[i]

		var err error
		switch {
		case lb == ub:
			err = prob.AddConstraint(row, golp.EQ, ub)
		case math.IsInf(lb, -1) && math.IsInf(ub, 1):
			continue
		case math.IsInf(lb, -1):
			err = prob.AddConstraint(row, golp.LE, ub)
		case math.IsInf(ub, 1):
			err = prob.AddConstraint(row, golp.GE, lb)
		default:
			if err = prob.AddConstraint(row, golp.GE, lb); err == nil {
				err = prob.AddConstraint(row, golp.LE, ub)
			}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "adding row %d", i)
		}
	}
	return prob, nil
}

func runMIPSolver(lp *optmodel.LinearProgram, prob *golp.LP, cost []float64) (*optmodel.Solution, error) {
	if status := prob.Solve(); status != golp.OPTIMAL {
		return nil, errors.Wrapf(optmodel.ErrSolver, "lp_solve status: %v", status)
	}

	x := mat.NewVecDense(lp.NumCols(), prob.Variables())
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
