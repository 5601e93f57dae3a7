package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"predict_then_optimize/src/dataset"
	"predict_then_optimize/src/loss"
	"predict_then_optimize/src/optmodel"
)

var (
	evalModel      modelFlags
	evalForceLP    bool
	evalTruePath   string
	evalPredPath   string
	evalLoss       string
	evalReduction  string
	evalSolveRatio float64
	evalSeed       int64
	evalLambda     float64
	evalProcs      int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a loss of predicted costs against true costs",
	Long: `Builds a dataset from the true costs, evaluates the chosen loss on the
predicted costs and prints the loss, the gradient norm and the normalized regret.`,
	RunE: runEvaluate,
}

func init() {
	addModelFlags(evaluateCmd, &evalModel, &evalForceLP)
	evaluateCmd.Flags().StringVar(&evalTruePath, "true", "", "True cost matrix path (required)")
	evaluateCmd.Flags().StringVar(&evalPredPath, "pred", "", "Predicted cost matrix path (required)")
	evaluateCmd.Flags().StringVar(&evalLoss, "loss", "spo+", "Loss: spo+, dbb, listwise, pairwise, pointwise")
	evaluateCmd.Flags().StringVar(&evalReduction, "reduction", "mean", "Reduction: mean, sum, none")
	evaluateCmd.Flags().Float64Var(&evalSolveRatio, "solve-ratio", 1, "Probability of calling the solver in a forward pass")
	evaluateCmd.Flags().Int64Var(&evalSeed, "seed", 135, "Random seed for the solve-ratio draw")
	evaluateCmd.Flags().Float64Var(&evalLambda, "lambda", 10, "Smoothing parameter of the black-box loss")
	evaluateCmd.Flags().IntVar(&evalProcs, "procs", 1, "Solver workers, 0 for one per CPU")

	evaluateCmd.MarkFlagRequired("true")
	evaluateCmd.MarkFlagRequired("pred")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reduction, err := loss.ParseReduction(evalReduction)
	if err != nil {
		return err
	}
	model, err := evalModel.buildModel(evalForceLP)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}
	trueCost, err := dataset.LoadMatrix(evalTruePath)
	if err != nil {
		return fmt.Errorf("failed to load true costs: %w", err)
	}
	pred, err := dataset.LoadMatrix(evalPredPath)
	if err != nil {
		return fmt.Errorf("failed to load predicted costs: %w", err)
	}

	data, err := dataset.New(ctx, model, trueCost, nil, evalProcs)
	if err != nil {
		return err
	}
	slog.Info("Dataset ready", "samples", data.Len(), "vars", model.NumVars())

	cfg := loss.Config{
		Processes:  evalProcs,
		SolveRatio: evalSolveRatio,
		Rand:       rand.New(rand.NewSource(evalSeed)),
	}
	out, release, err := evaluateLoss(ctx, model, data, cfg, pred, reduction)
	if err != nil {
		return err
	}
	defer release()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Loss (%s, %s): %v\n", evalLoss, reduction, out.Values())

	upstream := []float64{1}
	if reduction == loss.None {
		upstream = make([]float64, out.Len())
		for i := range upstream {
			upstream[i] = 1
		}
	}
	grad, err := out.BackwardWith(upstream)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Gradient norm: %f\n", mat.Norm(grad, 2))

	regret, err := loss.Regret(ctx, model, pred, data.Costs(), data.Objectives(), evalProcs)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Normalized regret: %f\n", regret)
	return nil
}

// evaluateLoss runs the forward pass. The returned release func stops the
// loss's solver workers; call it after the last backward pass.
func evaluateLoss(ctx context.Context, model optmodel.Model, data *dataset.Dataset, cfg loss.Config, pred *mat.Dense, reduction loss.Reduction) (*loss.Output, func(), error) {
	if evalLoss == "spo+" {
		l, err := loss.NewSPOPlus(model, data, cfg)
		if err != nil {
			return nil, nil, err
		}
		out, err := l.Forward(ctx, pred, data.Costs(), data.Solutions(), data.Objectives(), reduction)
		if err != nil {
			l.Close()
			return nil, nil, err
		}
		return out, l.Close, nil
	}

	var fn interface {
		Close()
		Forward(context.Context, *mat.Dense, *mat.Dense, loss.Reduction) (*loss.Output, error)
	}
	var err error
	switch evalLoss {
	case "dbb":
		fn, err = loss.NewBlackBox(model, evalLambda, data, cfg)
	case "listwise":
		fn, err = loss.NewListwiseLTR(model, data, cfg)
	case "pairwise":
		fn, err = loss.NewPairwiseLTR(model, data, cfg)
	case "pointwise":
		fn, err = loss.NewPointwiseLTR(model, data, cfg)
	default:
		return nil, nil, errors.Errorf("unknown loss %q", evalLoss)
	}
	if err != nil {
		return nil, nil, err
	}
	out, err := fn.Forward(ctx, pred, data.Costs(), reduction)
	if err != nil {
		fn.Close()
		return nil, nil, err
	}
	return out, fn.Close, nil
}
