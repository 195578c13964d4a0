package main

import (
	"time"

	"github.com/spf13/cobra"
)

type fitResult struct {
	Model    string    `json:"model"`
	Version  int       `json:"version"`
	FittedAt time.Time `json:"fittedAt"`
}

func newFitCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fit [model...]",
		Short: "Fit models and persist the artifacts",
		Long: `Fit the named models (all models when none are given) on the configured
data source and persist the published artifacts to the artifact store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.close()

			names := args
			if len(names) == 0 {
				if _, err := a.svc.FitAll(ctx); err != nil {
					return err
				}
				names = a.svc.Models()
			} else {
				for _, name := range names {
					if _, err := a.svc.Fit(ctx, name); err != nil {
						return err
					}
				}
			}

			out := make([]fitResult, 0, len(names))
			for _, name := range names {
				if _, err := a.svc.Persist(ctx, name); err != nil {
					return err
				}
				p, _ := a.svc.Registry().Current(name)
				out = append(out, fitResult{Model: p.Name, Version: p.Version, FittedAt: p.FittedAt})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
