package loss

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

// BlackBox differentiates through the oracle by interpolation: the backward
// pass perturbs the predicted cost along the incoming solution gradient,
// solves again, and uses the difference of the two solutions scaled by the
// smoothing parameter lambda.
type BlackBox struct {
	*module
	lambda float64
}

// NewBlackBox builds the layer. data may be nil only when the solve ratio is 1.
func NewBlackBox(model optmodel.Model, lambda float64, data SolutionSource, cfg Config) (*BlackBox, error) {
	if !(lambda > 0) || math.IsInf(lambda, 1) {
		return nil, errors.Wrapf(ErrInvalidArgument, "smoothing parameter must be positive, got %v", lambda)
	}
	m, err := newModule(model, data, cfg, cfg.SolveRatio < 1)
	if err != nil {
		return nil, err
	}
	return &BlackBox{module: m, lambda: lambda}, nil
}

func (b *BlackBox) Lambda() float64 {
	return b.lambda
}

// Decision holds the solutions for a batch of predicted costs.
type Decision struct {
	layer     *BlackBox
	pred      *mat.Dense
	Solutions *mat.Dense
}

// Solve maps predicted costs to solutions, one oracle call per row.
func (b *BlackBox) Solve(ctx context.Context, pred *mat.Dense) (*Decision, error) {
	if _, err := b.checkBatch(pred); err != nil {
		return nil, err
	}
	res, err := b.solveOrLookup(ctx, pred)
	if err != nil {
		return nil, err
	}
	return &Decision{
		layer:     b,
		pred:      mat.DenseCopyOf(pred),
		Solutions: res.sols,
	}, nil
}

// Backward turns dL/d(solutions) into dL/d(predicted costs). It costs one
// more oracle call per row.
func (d *Decision) Backward(ctx context.Context, gradSols *mat.Dense) (*mat.Dense, error) {
	b := d.layer
	if _, err := b.checkBatch(d.pred, gradSols); err != nil {
		return nil, err
	}
	sense := float64(b.model.Sense())

	var perturbed mat.Dense
	perturbed.Scale(sense*b.lambda, gradSols)
	perturbed.Add(d.pred, &perturbed)

	res, err := b.solveOrLookup(ctx, &perturbed)
	if err != nil {
		return nil, err
	}

	var grad mat.Dense
	grad.Sub(res.sols, d.Solutions)
	grad.Scale(sense/b.lambda, &grad)
	return &grad, nil
}

// Forward evaluates the oriented objective of the predicted decision under the
// true cost, sense * c·w(cp). Its gradient goes through Decision.Backward, so
// backward passes call the oracle.
func (b *BlackBox) Forward(ctx context.Context, pred, trueCost *mat.Dense, reduction Reduction) (*Output, error) {
	if _, err := ParseReduction(string(reduction)); err != nil {
		return nil, err
	}
	n, err := b.checkBatch(pred, trueCost)
	if err != nil {
		return nil, err
	}
	dec, err := b.Solve(ctx, pred)
	if err != nil {
		return nil, err
	}

	sense := b.model.Sense()
	samples := make([]float64, n)
	for i := range n {
		samples[i] = sense.Orient(mat.Dot(trueCost.RowView(i), dec.Solutions.RowView(i)))
	}
	trueCost = mat.DenseCopyOf(trueCost)

	return &Output{
		reduction: reduction,
		samples:   samples,
		backward: func(weights []float64) (*mat.Dense, error) {
			var gradSols mat.Dense
			gradSols.Apply(func(i, _ int, v float64) float64 {
				return weights[i] * sense.Orient(v)
			}, trueCost)
			return dec.Backward(ctx, &gradSols)
		},
	}, nil
}
