package loss

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Reduction selects how per-sample losses are combined.
type Reduction string

const (
	Mean Reduction = "mean"
	Sum  Reduction = "sum"
	None Reduction = "none"
)

func ParseReduction(s string) (Reduction, error) {
	switch r := Reduction(s); r {
	case Mean, Sum, None:
		return r, nil
	}
	return "", errors.Wrapf(ErrInvalidArgument, "no reduction %q", s)
}

// Output is the result of a forward pass: one loss per sample plus a way to
// push gradients back to the predicted costs.
type Output struct {
	reduction Reduction
	samples   []float64
	// backward receives one weight per sample and returns
	// sum_i weights[i] * d(samples[i])/d(pred).
	backward func(weights []float64) (*mat.Dense, error)
}

// staticOutput builds an Output whose per-sample gradients are already known.
// Row i of grads is d(samples[i])/d(pred row i).
func staticOutput(reduction Reduction, samples []float64, grads *mat.Dense) *Output {
	return &Output{
		reduction: reduction,
		samples:   samples,
		backward: func(weights []float64) (*mat.Dense, error) {
			var g mat.Dense
			g.Apply(func(i, _ int, v float64) float64 { return weights[i] * v }, grads)
			return &g, nil
		},
	}
}

func (o *Output) Reduction() Reduction {
	return o.reduction
}

func (o *Output) Len() int {
	return len(o.samples)
}

// Samples returns the unreduced per-sample losses.
func (o *Output) Samples() []float64 {
	return append([]float64(nil), o.samples...)
}

// Values returns the reduced loss: N values for None, a single value otherwise.
func (o *Output) Values() []float64 {
	if o.reduction == None {
		return o.Samples()
	}
	return []float64{o.Value()}
}

// Value returns the scalar loss. It panics for None, which has no scalar.
func (o *Output) Value() float64 {
	total := 0.0
	for _, v := range o.samples {
		total += v
	}
	switch o.reduction {
	case Mean:
		return total / float64(len(o.samples))
	case Sum:
		return total
	}
	panic("loss: Value called on an unreduced output")
}

// Backward returns d(Value)/d(pred).
func (o *Output) Backward() (*mat.Dense, error) {
	if o.reduction == None {
		return nil, errors.Wrap(ErrInvalidArgument, "unreduced output needs an upstream gradient")
	}
	return o.BackwardWith([]float64{1})
}

// BackwardWith propagates an upstream gradient: one value per sample for None,
// a single value otherwise.
func (o *Output) BackwardWith(upstream []float64) (*mat.Dense, error) {
	n := len(o.samples)
	weights := make([]float64, n)
	switch o.reduction {
	case None:
		if len(upstream) != n {
			return nil, errors.Wrapf(ErrInvalidArgument, "upstream gradient has %d entries, want %d", len(upstream), n)
		}
		copy(weights, upstream)
	case Sum, Mean:
		if len(upstream) != 1 {
			return nil, errors.Wrapf(ErrInvalidArgument, "upstream gradient has %d entries, want 1", len(upstream))
		}
		w := upstream[0]
		if o.reduction == Mean {
			w /= float64(n)
		}
		for i := range weights {
			weights[i] = w
		}
	}
	return o.backward(weights)
}
