// Package loss implements losses that train a cost predictor through a
// discrete optimization oracle: SPO+, differentiable black-box (DBB) and
// listwise, pairwise and pointwise learning to rank.
//
// Every loss keeps a solution pool seeded from the training data and grows it
// with the oracle's answers for predicted costs. Whether a forward pass calls
// the oracle at all is decided once per call by the solve ratio.
package loss

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/dispatch"
	"predict_then_optimize/src/optmodel"
	"predict_then_optimize/src/solpool"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
)

// SolutionSource supplies the known optimal solutions of the training data,
// one row per sample. dataset.Dataset implements it.
type SolutionSource interface {
	Solutions() *mat.Dense
}

type Config struct {
	// Processes is the number of solver workers: 1 solves sequentially, 0
	// uses one worker per CPU.
	Processes int
	// SolveRatio is the probability that a forward pass calls the oracle.
	SolveRatio float64
	// Rand drives the solve-ratio draw. Nil seeds a source from the clock.
	Rand *rand.Rand
	// Pool, when set, is shared with other losses built on the same data. It
	// is seeded only while empty. Losses sharing a pool must not run forward
	// passes concurrently.
	Pool *solpool.Pool
}

func DefaultConfig() Config {
	return Config{Processes: 1, SolveRatio: 1}
}

// module is the state shared by every loss: the oracle, its workers and the
// solution pool.
type module struct {
	model      optmodel.Model
	workers    *dispatch.Pool
	pool       *solpool.Pool
	solveRatio float64
	rng        *rand.Rand
}

func newModule(model optmodel.Model, data SolutionSource, cfg Config, requireData bool) (*module, error) {
	if model == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil optimization model")
	}
	if math.IsNaN(cfg.SolveRatio) || cfg.SolveRatio < 0 || cfg.SolveRatio > 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "solve ratio %v is outside [0, 1]", cfg.SolveRatio)
	}
	if cfg.Processes < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "processes must be >= 0, got %d", cfg.Processes)
	}

	pool := cfg.Pool
	if pool == nil {
		pool = solpool.New(model.NumVars())
	} else if pool.NumVars() != model.NumVars() {
		return nil, errors.Wrapf(ErrInvalidArgument, "shared pool holds %d variables, model has %d", pool.NumVars(), model.NumVars())
	}
	if data == nil {
		if requireData {
			return nil, errors.Wrap(ErrInvalidArgument, "dataset does not provide solutions")
		}
	} else if pool.Len() == 0 {
		if err := pool.Seed(data.Solutions()); err != nil {
			return nil, errors.Wrap(ErrInvalidArgument, err.Error())
		}
	}

	workers, err := dispatch.New(model, cfg.Processes)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	workers.Start()

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &module{
		model:      model,
		workers:    workers,
		pool:       pool,
		solveRatio: cfg.SolveRatio,
		rng:        rng,
	}, nil
}

// Close stops the solver workers.
func (m *module) Close() {
	m.workers.Stop()
}

// PoolLen reports the number of pooled solutions, duplicates included.
func (m *module) PoolLen() int {
	return m.pool.Len()
}

func (m *module) Sense() optmodel.Sense {
	return m.model.Sense()
}

// shouldSolve draws once against the solve ratio: 0 never solves, 1 always does.
func (m *module) shouldSolve() bool {
	return m.rng.Float64() < m.solveRatio
}

// solveIntoPool runs the oracle on costs when the draw allows it and appends
// the answers to the pool. It reports whether the oracle ran.
func (m *module) solveIntoPool(ctx context.Context, costs *mat.Dense) (bool, error) {
	if !m.shouldSolve() {
		return false, nil
	}
	if _, err := m.solveBatch(ctx, costs); err != nil {
		return false, err
	}
	return true, nil
}

func (m *module) solveBatch(ctx context.Context, costs *mat.Dense) (*batchResult, error) {
	sols, objs, err := m.workers.SolveBatch(ctx, costs)
	if err != nil {
		return nil, err
	}
	before := m.pool.Len()
	if err := m.pool.Extend(sols); err != nil {
		return nil, err
	}
	slog.Debug("Solution pool extended", "before", before, "after", m.pool.Len())
	return &batchResult{sols: sols, objs: objs}, nil
}

type batchResult struct {
	sols *mat.Dense
	objs *mat.VecDense
}

// solveOrLookup answers every row of costs from the oracle when the draw
// allows it and from the best pooled solution otherwise.
func (m *module) solveOrLookup(ctx context.Context, costs *mat.Dense) (*batchResult, error) {
	if m.shouldSolve() {
		return m.solveBatch(ctx, costs)
	}
	if m.pool.Len() == 0 {
		return nil, errors.Wrap(ErrInvalidState, solpool.ErrEmpty.Error())
	}
	sols, objs, err := m.pool.BestBatch(costs, m.model.Sense())
	if err != nil {
		return nil, err
	}
	return &batchResult{sols: sols, objs: objs}, nil
}

// poolMatrix returns the pool or ErrInvalidState when it is empty.
func (m *module) poolMatrix() (*mat.Dense, error) {
	sols := m.pool.AsMatrix()
	if sols == nil {
		return nil, errors.Wrap(ErrInvalidState, "solution pool is empty; was the dataset seeded with solutions?")
	}
	return sols, nil
}

// checkBatch verifies that every matrix has the same rows and the model's
// number of columns.
func (m *module) checkBatch(pred *mat.Dense, others ...*mat.Dense) (int, error) {
	if pred == nil || pred.IsEmpty() {
		return 0, errors.Wrap(ErrInvalidState, "empty batch of predicted costs")
	}
	n, d := pred.Dims()
	if d != m.model.NumVars() {
		return 0, errors.Wrapf(ErrInvalidState, "predicted costs have %d columns, model has %d variables", d, m.model.NumVars())
	}
	for _, o := range others {
		if o == nil || o.IsEmpty() {
			return 0, errors.Wrap(ErrInvalidState, "missing batch matrix")
		}
		if r, c := o.Dims(); r != n || c != d {
			return 0, errors.Wrapf(ErrInvalidState, "batch is %dx%d, predicted costs are %dx%d", r, c, n, d)
		}
	}
	return n, nil
}
