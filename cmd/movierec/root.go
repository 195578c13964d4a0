package main

import (
	"github.com/spf13/cobra"

	"github.com/rushteam/movierec/config"
)

var version = "dev"

// rootOptions 是所有子命令共享的全局参数
type rootOptions struct {
	configPath string
	logLevel   string
	refit      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "movierec",
		Short: "movierec - movie recommendation engine",
		Long: `movierec trains content-based, item-based, user-based and hybrid
recommendation models over a MovieLens style dataset, answers
recommendation / similarity / prediction queries and runs offline
evaluation.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config (defaults are used when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (trace, debug, info, warn, error, disabled)")
	cmd.PersistentFlags().BoolVar(&opts.refit, "refit", false, "Always fit models instead of restoring persisted artifacts")

	cmd.AddCommand(newFitCommand(opts))
	cmd.AddCommand(newEvaluateCommand(opts))
	cmd.AddCommand(newMetricsCommand(opts))
	cmd.AddCommand(newRecommendCommand(opts))
	cmd.AddCommand(newSimilarCommand(opts))
	cmd.AddCommand(newSimilarUsersCommand(opts))
	cmd.AddCommand(newPredictCommand(opts))
	cmd.AddCommand(newExplainCommand(opts))

	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func execute() error {
	return newRootCommand().Execute()
}
