// Package dataset holds training samples for predict-then-optimize losses:
// true costs with their optimal solutions and objectives.
package dataset

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/dispatch"
	"predict_then_optimize/src/optmodel"
)

type Dataset struct {
	features   *mat.Dense
	costs      *mat.Dense
	solutions  *mat.Dense
	objectives *mat.VecDense
}

// New solves every row of costs once to record its optimal solution and
// objective. features may be nil; otherwise it needs one row per cost.
func New(ctx context.Context, model optmodel.Model, costs, features *mat.Dense, processes int) (*Dataset, error) {
	if costs == nil || costs.IsEmpty() {
		return nil, errors.New("dataset needs at least one cost vector")
	}
	n, _ := costs.Dims()
	if features != nil {
		if r, _ := features.Dims(); r != n {
			return nil, errors.Errorf("%d feature rows for %d cost rows", r, n)
		}
		features = mat.DenseCopyOf(features)
	}

	workers, err := dispatch.New(model, processes)
	if err != nil {
		return nil, err
	}
	workers.Start()
	defer workers.Stop()

	sols, objs, err := workers.SolveBatch(ctx, costs)
	if err != nil {
		return nil, errors.Wrap(err, "solving true costs")
	}
	slog.Debug("Dataset solved", "samples", n, "vars", model.NumVars())

	return &Dataset{
		features:   features,
		costs:      mat.DenseCopyOf(costs),
		solutions:  sols,
		objectives: objs,
	}, nil
}

func (d *Dataset) Len() int {
	n, _ := d.costs.Dims()
	return n
}

func (d *Dataset) Costs() *mat.Dense {
	return d.costs
}

// Solutions returns the optimal solution of every sample, one per row.
func (d *Dataset) Solutions() *mat.Dense {
	return d.solutions
}

func (d *Dataset) Objectives() *mat.VecDense {
	return d.objectives
}

// Features returns nil when the dataset was built without features.
func (d *Dataset) Features() *mat.Dense {
	return d.features
}

type Batch struct {
	Features   *mat.Dense
	Costs      *mat.Dense
	Solutions  *mat.Dense
	Objectives *mat.VecDense
}

// Batch gathers the given samples into fresh matrices.
func (d *Dataset) Batch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, errors.New("empty batch")
	}
	n := d.Len()
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, errors.Errorf("sample %d out of range [0, %d)", i, n)
		}
	}

	b := &Batch{
		Costs:      gatherRows(d.costs, indices),
		Solutions:  gatherRows(d.solutions, indices),
		Objectives: mat.NewVecDense(len(indices), nil),
	}
	if d.features != nil {
		b.Features = gatherRows(d.features, indices)
	}
	for k, i := range indices {
		b.Objectives.SetVec(k, d.objectives.AtVec(i))
	}
	return b, nil
}

func gatherRows(m *mat.Dense, indices []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(indices), c, nil)
	for k, i := range indices {
		out.SetRow(k, m.RawRowView(i))
	}
	return out
}
