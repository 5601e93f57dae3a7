package main

import (
	"github.com/pkg/errors"

	"predict_then_optimize/src/optmodel"
	"predict_then_optimize/src/optmodel/highsolver"
	"predict_then_optimize/src/optmodel/lpsolver"
)

type modelFlags struct {
	kind     string
	instPath string
	backend  string
}

func newLPSolver(backend string) (optmodel.LPSolver, error) {
	switch backend {
	case "highs":
		return highsolver.New(), nil
	case "lpsolve":
		return lpsolver.New(), nil
	}
	return nil, errors.Errorf("unknown backend %q (want highs or lpsolve)", backend)
}

// buildModel loads the instance named by the flags. Grid instances are solved
// in Go unless a backend is forced with --lp.
func (f *modelFlags) buildModel(forceLP bool) (optmodel.Model, error) {
	switch f.kind {
	case "knapsack":
		solver, err := newLPSolver(f.backend)
		if err != nil {
			return nil, err
		}
		return optmodel.LoadKnapsack(f.instPath, solver)
	case "grid":
		grid, err := optmodel.LoadGrid(f.instPath)
		if err != nil {
			return nil, err
		}
		if !forceLP {
			return optmodel.NewShortestPath(grid)
		}
		solver, err := newLPSolver(f.backend)
		if err != nil {
			return nil, err
		}
		return optmodel.NewShortestPathLP(grid, solver)
	}
	return nil, errors.Errorf("unknown model %q (want knapsack or grid)", f.kind)
}
