package loss

import (
	"context"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

// rankLoss computes one sample's loss from the objectives of every pooled
// solution under the predicted and the true cost. It writes d(loss)/d(predObj)
// into coef, which starts zeroed.
type rankLoss func(sense optmodel.Sense, predObj, trueObj, coef []float64) float64

// ltr is the learning-to-rank skeleton shared by the listwise, pairwise and
// pointwise losses.
type ltr struct {
	*module
	rank rankLoss
}

func newLTR(model optmodel.Model, data SolutionSource, cfg Config, rank rankLoss) (*ltr, error) {
	m, err := newModule(model, data, cfg, true)
	if err != nil {
		return nil, err
	}
	return &ltr{module: m, rank: rank}, nil
}

// Forward scores every pooled solution against the predicted and the true
// costs and ranks them. The oracle runs on the predicted costs first when the
// solve ratio allows it, and its answers join the pool.
func (l *ltr) Forward(ctx context.Context, pred, trueCost *mat.Dense, reduction Reduction) (*Output, error) {
	if _, err := ParseReduction(string(reduction)); err != nil {
		return nil, err
	}
	n, err := l.checkBatch(pred, trueCost)
	if err != nil {
		return nil, err
	}
	if _, err := l.solveIntoPool(ctx, pred); err != nil {
		return nil, err
	}
	sols, err := l.poolMatrix()
	if err != nil {
		return nil, err
	}
	k, _ := sols.Dims()

	var predObj, trueObj mat.Dense
	predObj.Mul(pred, sols.T())
	trueObj.Mul(trueCost, sols.T())

	sense := l.model.Sense()
	samples := make([]float64, n)
	coef := mat.NewDense(n, k, nil)
	for i := range n {
		samples[i] = l.rank(sense, predObj.RawRowView(i), trueObj.RawRowView(i), coef.RawRowView(i))
	}

	var grads mat.Dense
	grads.Mul(coef, sols)
	return staticOutput(reduction, samples, &grads), nil
}

// ListwiseLTR is the cross-entropy between the softmax of the pooled
// objectives under the true cost and under the predicted cost.
type ListwiseLTR struct {
	*ltr
}

func NewListwiseLTR(model optmodel.Model, data SolutionSource, cfg Config) (*ListwiseLTR, error) {
	l, err := newLTR(model, data, cfg, listwise)
	if err != nil {
		return nil, err
	}
	return &ListwiseLTR{l}, nil
}

func listwise(sense optmodel.Sense, predObj, trueObj, coef []float64) float64 {
	z := make([]float64, len(predObj))
	t := make([]float64, len(trueObj))
	for j := range predObj {
		z[j] = -sense.Orient(predObj[j])
		t[j] = -sense.Orient(trueObj[j])
	}
	logP := logSoftmax(z)
	q := softmax(t)

	loss := 0.0
	for j := range z {
		loss -= q[j] * logP[j]
		coef[j] = -float64(sense) * (math.Exp(logP[j]) - q[j])
	}
	return loss
}

// PairwiseLTR penalizes every pooled solution whose predicted objective beats
// the solution that is best under the true cost.
type PairwiseLTR struct {
	*ltr
}

func NewPairwiseLTR(model optmodel.Model, data SolutionSource, cfg Config) (*PairwiseLTR, error) {
	l, err := newLTR(model, data, cfg, pairwise)
	if err != nil {
		return nil, err
	}
	return &PairwiseLTR{l}, nil
}

// pairwise ranks the pool by oriented true objective with a stable sort and
// keeps the lowest index of every distinct objective. The best kept solution
// is paired with each other kept one; the loss is the mean hinge violation.
func pairwise(sense optmodel.Sense, predObj, trueObj, coef []float64) float64 {
	order := make([]int, len(trueObj))
	for j := range order {
		order[j] = j
	}
	slices.SortStableFunc(order, func(a, b int) bool {
		return sense.Orient(trueObj[a]) < sense.Orient(trueObj[b])
	})

	kept := []int{order[0]}
	for _, j := range order[1:] {
		if trueObj[j] != trueObj[kept[len(kept)-1]] {
			kept = append(kept, j)
		}
	}
	if len(kept) < 2 {
		return 0
	}

	best := kept[0]
	pairs := float64(len(kept) - 1)
	loss := 0.0
	for _, j := range kept[1:] {
		diff := sense.Orient(predObj[best] - predObj[j])
		if diff <= 0 {
			continue
		}
		loss += diff
		coef[best] += float64(sense) / pairs
		coef[j] -= float64(sense) / pairs
	}
	return loss / pairs
}

// PointwiseLTR is the squared error between the pooled objectives under the
// true and the predicted cost.
type PointwiseLTR struct {
	*ltr
}

func NewPointwiseLTR(model optmodel.Model, data SolutionSource, cfg Config) (*PointwiseLTR, error) {
	l, err := newLTR(model, data, cfg, pointwise)
	if err != nil {
		return nil, err
	}
	return &PointwiseLTR{l}, nil
}

func pointwise(_ optmodel.Sense, predObj, trueObj, coef []float64) float64 {
	loss := 0.0
	for j := range predObj {
		diff := trueObj[j] - predObj[j]
		loss += diff * diff
		coef[j] = -2 * diff
	}
	return loss
}

func softmax(x []float64) []float64 {
	out := logSoftmax(x)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	return out
}

// logSoftmax shifts by the maximum before exponentiating.
func logSoftmax(x []float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	m := x[0]
	for _, v := range x[1:] {
		m = math.Max(m, v)
	}
	sum := 0.0
	for _, v := range x {
		sum += math.Exp(v - m)
	}
	lse := m + math.Log(sum)

	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - lse
	}
	return out
}
