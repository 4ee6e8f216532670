package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/autoprep/internal/config"
	"github.com/signalnine/autoprep/internal/pipeline"
	"github.com/signalnine/autoprep/internal/space"
)

func newListCmd() *cobra.Command {
	var grid bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operators, algorithms and the configured search space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, algorithm, err := listTarget()
			if err != nil {
				return err
			}
			writeCatalog(cmd.OutOrStdout(), proto, algorithm, grid)
			return nil
		},
	}
	cmd.Flags().BoolVar(&grid, "grid", false, "print every pipeline configuration")
	return cmd
}

// listTarget returns the prototype and algorithm of the config file, or the
// default prototype and no algorithm when there is no config file.
func listTarget() (space.Prototype, string, error) {
	if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
		return pipeline.DefaultPrototype(), "", nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, "", err
	}
	return cfg.Prototype, cfg.Algorithm, nil
}

func writeCatalog(w io.Writer, proto space.Prototype, algorithm string, grid bool) {
	fmt.Fprintln(w, "Operators:")
	for _, op := range pipeline.Operators() {
		fmt.Fprintf(w, "  - %s%s\n", op, formatParams(pipeline.ParamSpace(op)))
	}
	fmt.Fprintln(w, "\nAlgorithms:")
	for _, name := range pipeline.Algorithms() {
		as := pipeline.AlgorithmSpace(name)
		fmt.Fprintf(w, "  - %s%s [%d configurations]\n", name, formatParams(as.Domains[0].Options[0].Params), as.Size())
	}

	fmt.Fprintln(w, "\nPrototype:")
	for _, op := range proto {
		fmt.Fprintf(w, "  %s: %s\n", op.Name, strings.Join(op.Operators, ", "))
	}
	ps := pipeline.PipelineSpace(proto)
	fmt.Fprintf(w, "\nPipeline space: %d configurations\n", ps.Size())
	if algorithm != "" {
		as := pipeline.AlgorithmSpace(algorithm)
		fmt.Fprintf(w, "Algorithm space (%s): %d configurations\n", algorithm, as.Size())
		fmt.Fprintf(w, "Joint space: %d configurations\n", space.Joint(ps, as).Size())
	}

	if grid {
		fmt.Fprintln(w, "\nPipeline grid:")
		for _, c := range ps.Enumerate() {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}
}

func formatParams(params []space.Param) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, len(params))
	for i, p := range params {
		vals := make([]string, len(p.Values))
		for j, v := range p.Values {
			vals[j] = fmt.Sprint(v)
		}
		parts[i] = p.Name + ": " + strings.Join(vals, "|")
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
