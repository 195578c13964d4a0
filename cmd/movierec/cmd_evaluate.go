package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/evaluate"
)

func newEvaluateCommand(root *rootOptions) *cobra.Command {
	var folds int
	cmd := &cobra.Command{
		Use:   "evaluate [model...]",
		Short: "Run offline evaluation and publish metrics",
		Long: `Split the ratings into train / test partitions, fit each named model
(all models when none are given) on the train partition and score it on
the test partition. Every run is published as a new metrics version.

With --folds k the ratings are split into k user-stratified folds instead;
the per-fold and mean metrics are printed and nothing is published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("folds") && folds < 2 {
				return core.NewDomainError(core.ModuleEvaluate, core.ErrorCodeInvalidInput,
					fmt.Sprintf("evaluate: --folds must be >= 2, got %d", folds))
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), root.refit)
			if err != nil {
				return err
			}
			defer a.close()

			names := args
			if len(names) == 0 {
				names = a.svc.Models()
			}
			if folds > 0 {
				out := make([]*evaluate.CrossValidation, 0, len(names))
				for _, name := range names {
					cv, err := a.svc.CrossValidate(ctx, name, folds)
					if err != nil {
						return err
					}
					out = append(out, cv)
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			out := make([]core.MetricsRecord, 0, len(names))
			for _, name := range names {
				rec, err := a.svc.Evaluate(ctx, name)
				if err != nil {
					return err
				}
				out = append(out, rec)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&folds, "folds", 0, "Run k-fold cross validation instead of a single split (k >= 2)")
	return cmd
}

func newMetricsCommand(root *rootOptions) *cobra.Command {
	var history, all bool
	cmd := &cobra.Command{
		Use:   "metrics [model]",
		Short: "Show the active metrics record of a model",
		Long: `Show the active metrics record of a model, every version of it with
--history, or the active record of every evaluated model side by side
with --all.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), root.refit)
			if err != nil {
				return err
			}
			defer a.close()

			switch {
			case all:
				recs, err := a.svc.CompareMetrics(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), recs)
			case history:
				recs, err := a.svc.History(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			rec, err := a.svc.GetMetrics(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Show every metrics version instead of the active one")
	cmd.Flags().BoolVar(&all, "all", false, "Compare the active metrics of every model")
	cmd.MarkFlagsMutuallyExclusive("history", "all")
	return cmd
}
