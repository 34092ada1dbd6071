package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/signalnine/nilmbench/internal/result"
)

var (
	flagFrom int
	flagTo   int
)

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <device> <model> <type> <experiment> <iteration>",
		Short: "Print the report row and predictions of one iteration",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			iteration, err := strconv.Atoi(args[4])
			if err != nil || iteration < 0 {
				return fmt.Errorf("invalid iteration %q", args[4])
			}
			key := result.Key{Device: args[0], Model: args[1], ExperimentType: args[2], Experiment: args[3]}
			store := result.NewStore(afero.NewOsFs(), cfg.Root)

			rows, err := store.ReadReport(key)
			if err != nil {
				return err
			}
			row, err := result.RowForIteration(rows, iteration)
			if err != nil {
				return err
			}
			samples, err := store.ReadPredictions(key, iteration)
			if err != nil {
				return err
			}
			return printIteration(key, row, result.Slice(samples, flagFrom, flagTo))
		},
	}
	cmd.Flags().IntVar(&flagFrom, "from", 0, "first prediction index")
	cmd.Flags().IntVar(&flagTo, "to", 0, "end prediction index (0 = end of file)")
	return cmd
}

func printIteration(key result.Key, row result.Row, samples []result.Sample) error {
	fmt.Printf("%s\n", key)
	names := make([]string, 0, len(row.Metrics))
	for name := range row.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %.4f\n", name, row.Metrics[name])
	}
	fmt.Printf("  %-10s %d\n  %-10s %s\n\n", result.ColEpochs, row.Epochs, result.ColHparams, row.Hparams)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUND\tPREDS")
	for _, s := range samples {
		fmt.Fprintf(tw, "%g\t%g\n", s.Ground, s.Pred)
	}
	return tw.Flush()
}
