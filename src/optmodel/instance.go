package optmodel

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type parseStep func(scanner *bufio.Scanner) error

// runSteps runs the parse steps in order and stops at the first error.
func runSteps(scanner *bufio.Scanner, steps ...parseStep) error {
	for _, step := range steps {
		if err := step(scanner); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func nextFields(scanner *bufio.Scanner, what string) ([]string, error) {
	for scanner.Scan() {
		line := strings.Fields(scanner.Text())
		if len(line) > 0 {
			return line, nil
		}
	}
	return nil, errors.Errorf("unexpected end of file while reading %s", what)
}

func parseInts(line []string, want int, what string) ([]int, error) {
	if len(line) < want {
		return nil, errors.Errorf("%s: want %d values, got %d", what, want, len(line))
	}
	vals := make([]int, want)
	for i := range want {
		v, err := strconv.Atoi(line[i])
		if err != nil {
			return nil, errors.Wrapf(err, "error while parsing %s", what)
		}
		vals[i] = v
	}
	return vals, nil
}

func parseFloats(line []string, want int, what string) ([]float64, error) {
	if len(line) != want {
		return nil, errors.Errorf("%s: want %d values, got %d", what, want, len(line))
	}
	vals := make([]float64, want)
	for i, tok := range line {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "error while parsing %s", what)
		}
		vals[i] = v
	}
	return vals, nil
}

type knapsackInstance struct {
	items, dims int
	capacity    []float64
	weights     *mat.Dense
}

func (inst *knapsackInstance) parseFirstLine(scanner *bufio.Scanner) error {
	line, err := nextFields(scanner, "first line")
	if err != nil {
		return err
	}
	vals, err := parseInts(line, 2, "first line")
	if err != nil {
		return err
	}
	inst.items, inst.dims = vals[0], vals[1]
	if inst.items <= 0 || inst.dims <= 0 {
		return errors.Errorf("knapsack needs positive sizes, got %d items and %d dimensions", inst.items, inst.dims)
	}
	inst.weights = mat.NewDense(inst.dims, inst.items, nil)
	return nil
}

func (inst *knapsackInstance) parseCapacities(scanner *bufio.Scanner) error {
	line, err := nextFields(scanner, "capacities")
	if err != nil {
		return err
	}
	inst.capacity, err = parseFloats(line, inst.dims, "capacities")
	return err
}

func (inst *knapsackInstance) parseWeights(scanner *bufio.Scanner) error {
	for i := range inst.dims {
		line, err := nextFields(scanner, "weights")
		if err != nil {
			return err
		}
		row, err := parseFloats(line, inst.items, "weights of dimension "+strconv.Itoa(i))
		if err != nil {
			return err
		}
		inst.weights.SetRow(i, row)
	}
	return nil
}

// LoadKnapsack reads a knapsack instance:
//
//	items dims
//	capacity_1 ... capacity_dims
//	w_11 ... w_1items
//	...
func LoadKnapsack(filename string, solver LPSolver) (*LinearModel, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	inst := new(knapsackInstance)
	scanner := bufio.NewScanner(file)
	err = runSteps(scanner,
		inst.parseFirstLine,
		inst.parseCapacities,
		inst.parseWeights,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "instance %q", filename)
	}
	return NewKnapsack(inst.weights, inst.capacity, solver)
}

// LoadGrid reads a grid size written as "rows cols".
func LoadGrid(filename string) (Grid, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Grid{}, err
	}
	defer file.Close()

	var grid Grid
	scanner := bufio.NewScanner(file)
	err = runSteps(scanner, func(scanner *bufio.Scanner) error {
		line, err := nextFields(scanner, "grid size")
		if err != nil {
			return err
		}
		vals, err := parseInts(line, 2, "grid size")
		if err != nil {
			return err
		}
		grid = Grid{Rows: vals[0], Cols: vals[1]}
		return grid.validate()
	})
	if err != nil {
		return Grid{}, errors.Wrapf(err, "instance %q", filename)
	}
	return grid, nil
}
