package dispatch

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

// pickOne chooses the single cheapest variable. It sleeps a little on every
// call so that parallel rows finish out of order.
type pickOne struct {
	n      int
	jitter time.Duration
	clones *atomic.Int32
	closed *atomic.Int32
	solves *atomic.Int32
}

func newPickOne(n int) *pickOne {
	return &pickOne{
		n:      n,
		jitter: time.Millisecond,
		clones: new(atomic.Int32),
		closed: new(atomic.Int32),
		solves: new(atomic.Int32),
	}
}

func (m *pickOne) Sense() optmodel.Sense { return optmodel.Minimize }
func (m *pickOne) NumVars() int          { return m.n }

func (m *pickOne) Solve(cost []float64) (*optmodel.Solution, error) {
	m.solves.Add(1)
	if m.jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(m.jitter))))
	}
	best := 0
	for j, c := range cost {
		if math.IsNaN(c) {
			return nil, errors.Wrap(optmodel.ErrSolver, "nan cost")
		}
		if c < cost[best] {
			best = j
		}
	}
	x := mat.NewVecDense(m.n, nil)
	x.SetVec(best, 1)
	return &optmodel.Solution{Vars: x, Objective: cost[best]}, nil
}

func (m *pickOne) Clone() optmodel.Model {
	m.clones.Add(1)
	c := *m
	return &c
}

func (m *pickOne) Close() error {
	m.closed.Add(1)
	return nil
}

func randomCosts(rows, cols int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	costs := mat.NewDense(rows, cols, nil)
	for i := range rows {
		for j := range cols {
			costs.Set(i, j, rng.Float64())
		}
	}
	return costs
}

func TestResolveWorkers(t *testing.T) {
	w, err := ResolveWorkers(3)
	require.NoError(t, err)
	assert.Equal(t, 3, w)

	w, err = ResolveWorkers(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, w, 1)

	_, err = ResolveWorkers(-1)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestNew_NilModel(t *testing.T) {
	_, err := New(nil, 1)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSolveBatch_NotStarted(t *testing.T) {
	p, err := New(newPickOne(3), 2)
	require.NoError(t, err)
	_, _, err = p.SolveBatch(context.Background(), randomCosts(2, 3, 1))
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestSolveBatch_OrderIndependentOfWorkers(t *testing.T) {
	costs := randomCosts(37, 5, 42)
	ctx := context.Background()

	var ref *mat.Dense
	var refObjs *mat.VecDense
	for _, procs := range []int{1, 4, 0} {
		p, err := New(newPickOne(5), procs)
		require.NoError(t, err)
		p.Start()

		sols, objs, err := p.SolveBatch(ctx, costs)
		p.Stop()
		require.NoError(t, err, "procs=%d", procs)

		for i := range 37 {
			row := costs.RawRowView(i)
			best := 0
			for j := range row {
				if row[j] < row[best] {
					best = j
				}
			}
			assert.Equal(t, 1.0, sols.At(i, best), "procs=%d row %d", procs, i)
			assert.Equal(t, row[best], objs.AtVec(i))
		}
		if ref == nil {
			ref, refObjs = sols, objs
			continue
		}
		assert.True(t, mat.Equal(ref, sols), "procs=%d", procs)
		assert.True(t, mat.Equal(refObjs, objs), "procs=%d", procs)
	}
}

func TestSolveBatch_EmptyAndWrongWidth(t *testing.T) {
	p, err := New(newPickOne(3), 2)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	sols, objs, err := p.SolveBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, sols.IsEmpty())
	assert.Equal(t, 0, objs.Len())

	_, _, err = p.SolveBatch(context.Background(), randomCosts(2, 4, 1))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSolveBatch_FailingRow(t *testing.T) {
	for _, procs := range []int{1, 3} {
		p, err := New(newPickOne(2), procs)
		require.NoError(t, err)
		p.Start()

		costs := randomCosts(6, 2, 3)
		costs.Set(4, 1, math.NaN())
		_, _, err = p.SolveBatch(context.Background(), costs)
		p.Stop()

		require.Error(t, err)
		assert.True(t, errors.Is(err, optmodel.ErrSolver))
		assert.Contains(t, err.Error(), "row 4")
	}
}

func TestSolveBatch_Cancelled(t *testing.T) {
	p, err := New(newPickOne(2), 2)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = p.SolveBatch(ctx, randomCosts(8, 2, 5))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStartStop_Replicas(t *testing.T) {
	model := newPickOne(2)
	p, err := New(model, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Workers())
	assert.Same(t, model, p.Model())

	p.Start()
	p.Start()
	assert.Equal(t, int32(3), model.clones.Load())

	p.Stop()
	p.Stop()
	assert.Equal(t, int32(3), model.closed.Load())

	// A single worker solves on the original model and never clones it.
	single := newPickOne(2)
	p, err = New(single, 1)
	require.NoError(t, err)
	p.Start()
	_, _, err = p.SolveBatch(context.Background(), randomCosts(4, 2, 9))
	require.NoError(t, err)
	p.Stop()
	assert.Equal(t, int32(0), single.clones.Load())
	assert.Equal(t, int32(0), single.closed.Load())
	assert.Equal(t, int32(4), single.solves.Load())
}
