package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/service"
)

// withModel 装配服务并确保 name 已发布，然后执行 fn
func withModel(cmd *cobra.Command, root *rootOptions, name string, fn func(ctx context.Context, a *app) error) error {
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
	if err := a.ensure(ctx, name); err != nil {
		return err
	}
	return fn(ctx, a)
}

func newRecommendCommand(root *rootOptions) *cobra.Command {
	var req struct {
		user    int64
		model   string
		n       int
		exclude []int64
	}
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend top-N movies for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withModel(cmd, root, req.model, func(ctx context.Context, a *app) error {
				recs, err := a.svc.Recommend(ctx, service.RecommendRequest{
					UserID:  req.user,
					Model:   req.model,
					N:       req.n,
					Exclude: req.exclude,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().Int64VarP(&req.user, "user", "u", 0, "User ID")
	cmd.Flags().StringVarP(&req.model, "model", "m", model.NameHybrid, "Model name")
	cmd.Flags().IntVarP(&req.n, "n", "n", 10, "Number of recommendations")
	cmd.Flags().Int64SliceVar(&req.exclude, "exclude", nil, "Movie IDs to exclude")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSimilarCommand(root *rootOptions) *cobra.Command {
	var (
		item int64
		name string
		n    int
	)
	cmd := &cobra.Command{
		Use:   "similar",
		Short: "List the movies most similar to a movie",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withModel(cmd, root, name, func(ctx context.Context, a *app) error {
				sims, err := a.svc.SimilarTo(ctx, item, name, n)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), sims)
			})
		},
	}
	cmd.Flags().Int64VarP(&item, "item", "i", 0, "Movie ID")
	cmd.Flags().StringVarP(&name, "model", "m", model.NameHybrid, "Model name")
	cmd.Flags().IntVarP(&n, "n", "n", 10, "Number of similar movies")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

type similarUser struct {
	UserID int64   `json:"userId"`
	Score  float64 `json:"similarity"`
}

func newSimilarUsersCommand(root *rootOptions) *cobra.Command {
	var (
		user int64
		name string
		n    int
	)
	cmd := &cobra.Command{
		Use:   "similar-users",
		Short: "List the users whose tastes are closest to a user",
		Long: `List the nearest neighbours of a user as computed by the user-based
model. The hybrid model answers with its user-based component; other
models do not support this query.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withModel(cmd, root, name, func(ctx context.Context, a *app) error {
				sims, err := a.svc.SimilarUsers(ctx, user, name, n)
				if err != nil {
					return err
				}
				out := make([]similarUser, len(sims))
				for k, sim := range sims {
					out[k] = similarUser{UserID: sim.ItemID, Score: sim.Score}
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().Int64VarP(&user, "user", "u", 0, "User ID")
	cmd.Flags().StringVarP(&name, "model", "m", model.NameUser, "Model name (user or hybrid)")
	cmd.Flags().IntVarP(&n, "n", "n", 10, "Number of similar users")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

type prediction struct {
	UserID int64   `json:"userId"`
	ItemID int64   `json:"movieId"`
	Model  string  `json:"model"`
	Score  float64 `json:"score"`
}

func newPredictCommand(root *rootOptions) *cobra.Command {
	var (
		user, item int64
		name       string
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the rating a user would give a movie",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withModel(cmd, root, name, func(ctx context.Context, a *app) error {
				score, err := a.svc.Predict(ctx, user, item, name)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), prediction{UserID: user, ItemID: item, Model: name, Score: score})
			})
		},
	}
	cmd.Flags().Int64VarP(&user, "user", "u", 0, "User ID")
	cmd.Flags().Int64VarP(&item, "item", "i", 0, "Movie ID")
	cmd.Flags().StringVarP(&name, "model", "m", model.NameHybrid, "Model name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func newExplainCommand(root *rootOptions) *cobra.Command {
	var user, item int64
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Break a hybrid prediction down into its components",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withModel(cmd, root, model.NameHybrid, func(ctx context.Context, a *app) error {
				exp, err := a.svc.Explain(ctx, user, item)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), exp)
			})
		},
	}
	cmd.Flags().Int64VarP(&user, "user", "u", 0, "User ID")
	cmd.Flags().Int64VarP(&item, "item", "i", 0, "Movie ID")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}
