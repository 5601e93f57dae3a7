package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/dataset"
	"predict_then_optimize/src/dispatch"
	"predict_then_optimize/src/optmodel"
)

var (
	solveModel     modelFlags
	solveCostsPath string
	solveProcs     int
	solveForceLP   bool
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve every row of a cost matrix",
	Long:  `Loads an instance and a cost matrix and prints the optimal solution and objective of each row.`,
	RunE:  runSolve,
}

func addModelFlags(cmd *cobra.Command, f *modelFlags, forceLP *bool) {
	cmd.Flags().StringVar(&f.kind, "model", "grid", "Model: knapsack, grid")
	cmd.Flags().StringVar(&f.instPath, "inst", "", "Instance file path (required)")
	cmd.Flags().StringVar(&f.backend, "backend", "highs", "MIP backend: highs, lpsolve")
	cmd.Flags().BoolVar(forceLP, "lp", false, "Solve grid instances through the MIP backend")
	cmd.MarkFlagRequired("inst")
}

func init() {
	addModelFlags(solveCmd, &solveModel, &solveForceLP)
	solveCmd.Flags().StringVar(&solveCostsPath, "costs", "", "Cost matrix path (required)")
	solveCmd.Flags().IntVar(&solveProcs, "procs", 1, "Solver workers, 0 for one per CPU")

	solveCmd.MarkFlagRequired("costs")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	model, err := solveModel.buildModel(solveForceLP)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}
	costs, err := dataset.LoadMatrix(solveCostsPath)
	if err != nil {
		return fmt.Errorf("failed to load costs: %w", err)
	}

	workers, err := dispatch.New(model, solveProcs)
	if err != nil {
		return err
	}
	workers.Start()
	defer workers.Stop()

	slog.Info("Solving", "model", solveModel.kind, "sense", model.Sense(), "workers", workers.Workers())
	start := time.Now()
	sols, objs, err := workers.SolveBatch(cmd.Context(), costs)
	if err != nil {
		return err
	}
	slog.Info("Solved", "rows", objs.Len(), "elapsed", time.Since(start))

	out := cmd.OutOrStdout()
	for i := range objs.Len() {
		sol := &optmodel.Solution{
			Vars:      mat.VecDenseCopyOf(sols.RowView(i)),
			Objective: objs.AtVec(i),
		}
		fmt.Fprintf(out, "Row %d:\n%v\n", i, sol)
	}
	return nil
}
