package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/autoprep/internal/config"
	"github.com/signalnine/autoprep/internal/report"
)

var (
	flagFormat string
	flagDB     string
	flagRunID  string
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Summarize a stored run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if flagDB != "" {
				return report.GenerateFromDB(cmd.Context(), flagDB, flagRunID, flagFormat, out)
			}
			runDir := ""
			if len(args) > 0 {
				runDir = args[0]
			} else {
				dir, err := resultsDir()
				if err != nil {
					return err
				}
				runDir = filepath.Join(dir, "latest")
			}
			resolved, err := filepath.EvalSymlinks(runDir)
			if err != nil {
				return fmt.Errorf("resolving run dir: %w", err)
			}
			return report.Generate(resolved, flagFormat, out)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	cmd.Flags().StringVar(&flagDB, "db", "", "read the run from this SQLite history database")
	cmd.Flags().StringVar(&flagRunID, "run", "", "run id to read with --db (default: most recent)")
	return cmd
}

// resultsDir is the configured results directory, "results" without a
// config file.
func resultsDir() (string, error) {
	if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
		return "results", nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	return cfg.Results.Dir, nil
}
