// Package dispatch solves batches of cost vectors, fanning rows out over a
// fixed set of model replicas. Results always come back in input row order.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotStarted      = errors.New("worker pool is not started")
)

// ResolveWorkers maps a process count to a worker count: 0 means one worker
// per CPU, negative counts are rejected.
func ResolveWorkers(processes int) (int, error) {
	switch {
	case processes < 0:
		return 0, errors.Wrapf(ErrInvalidArgument, "processes must be >= 0, got %d", processes)
	case processes == 0:
		return runtime.NumCPU(), nil
	default:
		return processes, nil
	}
}

// Pool owns one model replica per worker between Start and Stop. SolveBatch
// must not be called concurrently on the same Pool.
type Pool struct {
	model    optmodel.Model
	workers  int
	replicas chan optmodel.Model
	started  bool
}

func New(model optmodel.Model, processes int) (*Pool, error) {
	if model == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil model")
	}
	workers, err := ResolveWorkers(processes)
	if err != nil {
		return nil, err
	}
	return &Pool{model: model, workers: workers}, nil
}

func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) Model() optmodel.Model {
	return p.model
}

// Start clones the model once per worker. A single-worker pool solves on the
// model it was given. Starting a started pool is a no-op.
func (p *Pool) Start() {
	if p.started {
		return
	}
	if p.workers > 1 {
		p.replicas = make(chan optmodel.Model, p.workers)
		for range p.workers {
			p.replicas <- p.model.Clone()
		}
	}
	p.started = true
}

// Stop releases the replicas, closing those that implement io.Closer.
func (p *Pool) Stop() {
	if !p.started {
		return
	}
	if p.replicas != nil {
		close(p.replicas)
		for m := range p.replicas {
			if c, ok := m.(io.Closer); ok && m != p.model {
				c.Close()
			}
		}
		p.replicas = nil
	}
	p.started = false
}

// SolveBatch solves every row of costs. Row i of the returned solutions and
// entry i of the objectives belong to row i of costs. The first failing row
// fails the whole batch.
func (p *Pool) SolveBatch(ctx context.Context, costs *mat.Dense) (*mat.Dense, *mat.VecDense, error) {
	if !p.started {
		return nil, nil, ErrNotStarted
	}
	numVars := p.model.NumVars()
	if costs == nil || costs.IsEmpty() {
		return &mat.Dense{}, &mat.VecDense{}, nil
	}
	n, c := costs.Dims()
	if c != numVars {
		return nil, nil, errors.Wrapf(ErrInvalidArgument, "costs have %d columns, model has %d variables", c, numVars)
	}

	sols := mat.NewDense(n, numVars, nil)
	objs := mat.NewVecDense(n, nil)
	t := time.Now()

	var err error
	if p.workers == 1 || n == 1 {
		err = p.solveRange(ctx, p.model, costs, 0, n, sols, objs)
	} else {
		err = p.solveParallel(ctx, costs, sols, objs)
	}
	if err != nil {
		return nil, nil, err
	}

	slog.Debug("Batch solved", "rows", n, "workers", p.workers, "elapsed", time.Since(t))
	return sols, objs, nil
}

func (p *Pool) solveParallel(ctx context.Context, costs, sols *mat.Dense, objs *mat.VecDense) error {
	n, _ := costs.Dims()
	chunks := min(p.workers, n)
	chunkSize := (n + chunks - 1) / chunks

	cp := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(p.workers)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		cp.Go(func(ctx context.Context) error {
			var m optmodel.Model
			select {
			case m = <-p.replicas:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { p.replicas <- m }()
			return p.solveRange(ctx, m, costs, start, end, sols, objs)
		})
	}
	return firstCause(ctx, cp.Wait())
}

// firstCause picks the error that failed the batch out of those collected by
// the pool. Siblings stopped by the pool's own cancellation only report
// context.Canceled, which hides the failing row.
func firstCause(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, context.Canceled) {
			return e
		}
	}
	return err
}

// solveRange solves rows [start, end). Different ranges write disjoint rows
// of sols and objs, so ranges may run concurrently.
func (p *Pool) solveRange(ctx context.Context, m optmodel.Model, costs *mat.Dense, start, end int, sols *mat.Dense, objs *mat.VecDense) error {
	numVars := m.NumVars()
	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sol, err := m.Solve(costs.RawRowView(i))
		if err != nil {
			return errors.Wrapf(err, "solving row %d", i)
		}
		if sol.Vars.Len() != numVars {
			return errors.Wrapf(optmodel.ErrSolver, "row %d: solution has %d variables, want %d", i, sol.Vars.Len(), numVars)
		}
		for j := range numVars {
			sols.Set(i, j, sol.Vars.AtVec(j))
		}
		objs.SetVec(i, sol.Objective)
	}
	return nil
}
