// Package solpool keeps every solution seen during training. The pool only
// grows: rows are appended, never removed or deduplicated.
//
// A Pool is not safe for concurrent use.
package solpool

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/optmodel"
)

var ErrEmpty = errors.New("solution pool is empty")

type Pool struct {
	numVars int
	rows    int
	data    []float64
}

func New(numVars int) *Pool {
	return &Pool{numVars: numVars}
}

func (p *Pool) Len() int {
	return p.rows
}

func (p *Pool) NumVars() int {
	return p.numVars
}

// Seed appends the initial solutions. It is Extend under another name so the
// construction site reads as what it is.
func (p *Pool) Seed(sols *mat.Dense) error {
	return p.Extend(sols)
}

// Extend appends every row of sols, duplicates included.
func (p *Pool) Extend(sols *mat.Dense) error {
	if sols == nil || sols.IsEmpty() {
		return nil
	}
	r, c := sols.Dims()
	if c != p.numVars {
		return errors.Errorf("solutions have %d columns, pool holds %d variables", c, p.numVars)
	}
	for i := range r {
		p.data = append(p.data, sols.RawRowView(i)...)
	}
	p.rows += r
	return nil
}

// AsMatrix returns the pool as a rows x vars matrix, or nil when empty. The
// matrix shares storage with the pool but stays valid after later appends,
// since existing rows are never written again. Callers must not modify it.
func (p *Pool) AsMatrix() *mat.Dense {
	if p.rows == 0 {
		return nil
	}
	return mat.NewDense(p.rows, p.numVars, p.data[:p.rows*p.numVars:p.rows*p.numVars])
}

// Best returns the pooled solution with the best objective for cost under the
// given sense. Ties go to the earliest row.
func (p *Pool) Best(cost []float64, sense optmodel.Sense) (*optmodel.Solution, error) {
	if p.rows == 0 {
		return nil, ErrEmpty
	}
	if len(cost) != p.numVars {
		return nil, errors.Errorf("cost has %d entries, pool holds %d variables", len(cost), p.numVars)
	}

	c := mat.NewVecDense(p.numVars, cost)
	best, bestObj := -1, 0.0
	for i := range p.rows {
		obj := mat.Dot(c, p.row(i))
		if best < 0 || sense.Orient(obj) < sense.Orient(bestObj) {
			best, bestObj = i, obj
		}
	}

	x := mat.NewVecDense(p.numVars, nil)
	x.CopyVec(p.row(best))
	return &optmodel.Solution{Vars: x, Objective: bestObj}, nil
}

// BestBatch applies Best to every row of costs.
func (p *Pool) BestBatch(costs *mat.Dense, sense optmodel.Sense) (*mat.Dense, *mat.VecDense, error) {
	n, _ := costs.Dims()
	sols := mat.NewDense(n, p.numVars, nil)
	objs := mat.NewVecDense(n, nil)
	for i := range n {
		sol, err := p.Best(costs.RawRowView(i), sense)
		if err != nil {
			return nil, nil, err
		}
		sols.SetRow(i, sol.Vars.RawVector().Data)
		objs.SetVec(i, sol.Objective)
	}
	return sols, objs, nil
}

func (p *Pool) row(i int) *mat.VecDense {
	return mat.NewVecDense(p.numVars, p.data[i*p.numVars:(i+1)*p.numVars])
}
