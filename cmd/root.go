package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/signalnine/autoprep/internal/logging"
)

var (
	cfgFile     string
	logLevel    string
	logJSON     bool
	metricsAddr string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "autoprep",
		Short:        "Search preprocessing pipelines and hyperparameters for a classifier",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "autoprep.yaml", "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log JSON records to stderr")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during a run")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newRescoreCmd())
	root.AddCommand(newWorkerCmd())
	return root
}

func newLogger() (*slog.Logger, error) {
	logger, err := logging.New(logging.Config{Level: logLevel, JSON: logJSON})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
