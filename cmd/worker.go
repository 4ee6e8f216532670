package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/autoprep/internal/isolate"
	"github.com/signalnine/autoprep/internal/objective"
)

func newWorkerCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve one isolated evaluation",
		Long:   "Read one request, run the registered function and report its result. Without --channel the request arrives on stdin and the result is written to file descriptor 3.",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newLogger(); err != nil {
				return err
			}
			if channel != "" {
				return isolate.ServeChannel(cmd.Context(), objective.Registry(), channel)
			}
			return isolate.ServeProcess(cmd.Context(), objective.Registry())
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "directory holding request.json; result.json is written there")
	return cmd
}
