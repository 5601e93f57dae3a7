package loss

import (
	"context"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/dataset"
	"predict_then_optimize/src/optmodel"
)

func randomCosts(rng *rand.Rand, rows, cols int) *mat.Dense {
	c := mat.NewDense(rows, cols, nil)
	for i := range rows {
		for j := range cols {
			c.Set(i, j, rng.Float64()*10)
		}
	}
	return c
}

func TestNewSPOPlus_Data(t *testing.T) {
	model := knapsack3(optmodel.Maximize)

	l, err := NewSPOPlus(model, nil, testConfig(1))
	require.NoError(t, err)
	assert.Equal(t, 0, l.PoolLen())
	l.Close()

	_, err = NewSPOPlus(model, nil, testConfig(0.5))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSPOPlus_KnownValue(t *testing.T) {
	model := newSetModel(optmodel.Minimize, []float64{1, 0}, []float64{0, 1})
	l, err := NewSPOPlus(model, nil, testConfig(1))
	require.NoError(t, err)
	defer l.Close()

	// q = 2cp - c = [5, 0] picks [0, 1]; 2 cp·w* = 6 and z* = 1.
	out, err := l.Forward(context.Background(),
		mat.NewDense(1, 2, []float64{3, 1}),
		mat.NewDense(1, 2, []float64{1, 2}),
		mat.NewDense(1, 2, []float64{1, 0}),
		mat.NewVecDense(1, []float64{1}),
		Sum)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, out.Value(), 1e-12)

	grad, err := out.Backward()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, -2}, grad.RawRowView(0))
	assert.Equal(t, 1, l.PoolLen())
}

func TestSPOPlus_ZeroAtTruthAndNonNegative(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(5))

	for _, sense := range []optmodel.Sense{optmodel.Minimize, optmodel.Maximize} {
		t.Run(sense.String(), func(t *testing.T) {
			model := knapsack3(sense)
			truth := randomCosts(rng, 6, 3)
			ds, err := dataset.New(ctx, model, truth, nil, 2)
			require.NoError(t, err)

			l, err := NewSPOPlus(model, ds, testConfig(1))
			require.NoError(t, err)
			defer l.Close()

			out, err := l.Forward(ctx, truth, truth, ds.Solutions(), ds.Objectives(), None)
			require.NoError(t, err)
			for _, v := range out.Samples() {
				assert.InDelta(t, 0.0, v, 1e-9)
			}

			for range 10 {
				var pred mat.Dense
				pred.Sub(randomCosts(rng, 6, 3), mat.NewDense(6, 3, []float64{
					5, 5, 5, 5, 5, 5, 5, 5, 5,
					5, 5, 5, 5, 5, 5, 5, 5, 5,
				}))
				out, err := l.Forward(ctx, &pred, truth, ds.Solutions(), ds.Objectives(), None)
				require.NoError(t, err)
				for _, v := range out.Samples() {
					assert.GreaterOrEqual(t, v, -1e-9)
				}
			}
		})
	}
}

func TestSPOPlus_LookupWithoutSolving(t *testing.T) {
	ctx := context.Background()
	model := knapsack3(optmodel.Maximize)
	truth := randomCosts(rand.New(rand.NewSource(9)), 4, 3)
	ds, err := dataset.New(ctx, model, truth, nil, 1)
	require.NoError(t, err)
	solved := model.solves.Load()

	l, err := NewSPOPlus(model, ds, testConfig(0))
	require.NoError(t, err)
	defer l.Close()

	out, err := l.Forward(ctx, truth, truth, ds.Solutions(), ds.Objectives(), Mean)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Value(), 1e-9)
	assert.Equal(t, solved, model.solves.Load())
	assert.Equal(t, 4, l.PoolLen())
}

func TestSPOPlus_BadBatch(t *testing.T) {
	model := newSetModel(optmodel.Minimize, []float64{1, 0}, []float64{0, 1})
	l, err := NewSPOPlus(model, nil, testConfig(1))
	require.NoError(t, err)
	defer l.Close()
	c := mat.NewDense(1, 2, []float64{1, 2})

	_, err = l.Forward(context.Background(), c, c, c, nil, Mean)
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = l.Forward(context.Background(), c, c, nil, mat.NewVecDense(1, nil), Mean)
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = l.Forward(context.Background(), c, c, c, mat.NewVecDense(1, nil), "")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
