package loss

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/dispatch"
	"predict_then_optimize/src/optmodel"
)

// Regret is the normalized regret of acting on predicted costs:
//
//	sum_i |c_i·w(cp_i) - z*_i| / sum_i |z*_i|
//
// where w(cp_i) is the oracle's solution for the prediction.
func Regret(ctx context.Context, model optmodel.Model, pred, trueCost *mat.Dense, trueObjs *mat.VecDense, processes int) (float64, error) {
	if pred == nil || trueCost == nil || trueObjs == nil {
		return 0, errors.Wrap(ErrInvalidArgument, "nil batch")
	}
	n, d := pred.Dims()
	if r, c := trueCost.Dims(); r != n || c != d || trueObjs.Len() != n {
		return 0, errors.Wrap(ErrInvalidState, "batch dimensions differ")
	}

	workers, err := dispatch.New(model, processes)
	if err != nil {
		return 0, err
	}
	workers.Start()
	defer workers.Stop()

	sols, _, err := workers.SolveBatch(ctx, pred)
	if err != nil {
		return 0, err
	}

	regret, optSum := 0.0, 0.0
	for i := range n {
		regret += math.Abs(mat.Dot(trueCost.RowView(i), sols.RowView(i)) - trueObjs.AtVec(i))
		optSum += math.Abs(trueObjs.AtVec(i))
	}
	return regret / (optSum + 1e-7), nil
}
