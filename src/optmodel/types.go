// Package optmodel wraps combinatorial optimization models behind a single
// cost-in, solution-out contract. Constraints are fixed when a model is built;
// only the objective coefficients change from one Solve call to the next.
package optmodel

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSolver is returned, wrapped, when a model cannot produce a feasible
// solution for a cost vector.
var ErrSolver = errors.New("solver error")

// Sense is the orientation of the objective: +1 to minimize, -1 to maximize.
type Sense int

const (
	Minimize Sense = 1
	Maximize Sense = -1
)

// Orient multiplies v by the sense so that smaller is always better.
func (s Sense) Orient(v float64) float64 {
	return float64(s) * v
}

func (s Sense) String() string {
	if s == Maximize {
		return "maximize"
	}
	return "minimize"
}

type Solution struct {
	Vars      *mat.VecDense
	Objective float64
}

// Model is an optimization model with fixed constraints. A Model is used by
// one goroutine at a time; Clone returns a replica for another goroutine.
type Model interface {
	Sense() Sense
	NumVars() int
	Solve(cost []float64) (*Solution, error)
	Clone() Model
}

func (sol *Solution) String() string {
	s := new(strings.Builder)
	s.WriteString(fmt.Sprintf("Objective: %f\n", sol.Objective))
	s.WriteString("Selected variables: [ ")
	for i := 0; i < sol.Vars.Len(); i++ {
		if v := sol.Vars.AtVec(i); v > eps || v < -eps {
			s.WriteString(fmt.Sprint(i))
			s.WriteString(" ")
		}
	}
	s.WriteString("]")
	return s.String()
}

func checkCost(m Model, cost []float64) error {
	if len(cost) != m.NumVars() {
		return errors.Wrapf(ErrSolver, "cost has %d entries, model has %d variables", len(cost), m.NumVars())
	}
	return nil
}
