//go:build solvers

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInputs(t *testing.T) (grid, truth, pred string) {
	t.Helper()
	dir := t.TempDir()
	grid = filepath.Join(dir, "grid.txt")
	truth = filepath.Join(dir, "true.txt")
	pred = filepath.Join(dir, "pred.txt")
	require.NoError(t, os.WriteFile(grid, []byte("2 2\n"), 0o644))
	require.NoError(t, os.WriteFile(truth, []byte("2 4\n1 5 1 1\n1 -5 1 1\n"), 0o644))
	require.NoError(t, os.WriteFile(pred, []byte("2 4\n1 5 1 1\n1 5 1 1\n"), 0o644))
	return grid, truth, pred
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSolveCommand(t *testing.T) {
	grid, truth, _ := writeInputs(t)
	out, err := run(t, "solve", "--log-level", "error", "--inst", grid, "--costs", truth, "--procs", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Row 0:\nObjective: 2.000000\nSelected variables: [ 0 2 ]")
	assert.Contains(t, out, "Row 1:\nObjective: -4.000000\nSelected variables: [ 1 3 ]")
}

func TestEvaluateCommand(t *testing.T) {
	grid, truth, pred := writeInputs(t)
	for _, name := range []string{"spo+", "dbb", "listwise", "pairwise", "pointwise"} {
		t.Run(name, func(t *testing.T) {
			out, err := run(t, "evaluate", "--log-level", "error",
				"--inst", grid, "--true", truth, "--pred", pred,
				"--loss", name, "--reduction", "sum")
			require.NoError(t, err)
			assert.Contains(t, out, "Loss ("+name+", sum)")
			assert.Contains(t, out, "Gradient norm:")
			// Row 1 loses 6 against optimal objectives of 2 and -4.
			assert.Contains(t, out, "Normalized regret: 1.000000")
		})
	}

	_, err := run(t, "evaluate", "--log-level", "error",
		"--inst", grid, "--true", truth, "--pred", pred, "--loss", "hinge")
	assert.Error(t, err)
}
