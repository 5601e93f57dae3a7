package loss

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

// SPOPlus is the convex surrogate of the smart predict-then-optimize loss.
// For predicted cost cp, true cost c, true solution w* and true objective z*,
// it solves once for q = 2cp - c and returns
//
//	sense * (-(q·w_q) + 2 cp·w* - z*)
//
// with subgradient 2 sense (w* - w_q).
type SPOPlus struct {
	*module
}

// NewSPOPlus builds the loss. data seeds the solution pool and may be nil only
// when the solve ratio is 1, since skipped solves are answered from the pool.
func NewSPOPlus(model optmodel.Model, data SolutionSource, cfg Config) (*SPOPlus, error) {
	m, err := newModule(model, data, cfg, cfg.SolveRatio < 1)
	if err != nil {
		return nil, err
	}
	return &SPOPlus{m}, nil
}

func (l *SPOPlus) Forward(ctx context.Context, pred, trueCost, trueSols *mat.Dense, trueObjs *mat.VecDense, reduction Reduction) (*Output, error) {
	if _, err := ParseReduction(string(reduction)); err != nil {
		return nil, err
	}
	n, err := l.checkBatch(pred, trueCost, trueSols)
	if err != nil {
		return nil, err
	}
	if trueObjs == nil || trueObjs.Len() != n {
		return nil, errors.Wrapf(ErrInvalidState, "need %d true objectives", n)
	}

	var q mat.Dense
	q.Scale(2, pred)
	q.Sub(&q, trueCost)

	res, err := l.solveOrLookup(ctx, &q)
	if err != nil {
		return nil, err
	}

	sense := l.model.Sense()
	samples := make([]float64, n)
	grads := mat.NewDense(n, l.model.NumVars(), nil)
	for i := range n {
		wStar := trueSols.RowView(i)
		samples[i] = sense.Orient(-res.objs.AtVec(i) + 2*mat.Dot(pred.RowView(i), wStar) - trueObjs.AtVec(i))

		g := grads.RowView(i).(*mat.VecDense)
		g.SubVec(wStar, res.sols.RowView(i))
		g.ScaleVec(2*float64(sense), g)
	}
	return staticOutput(reduction, samples, grads), nil
}
