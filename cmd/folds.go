package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/nilmbench/internal/descriptor"
	"github.com/signalnine/nilmbench/internal/folds"
)

func newFoldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folds [device...]",
		Short: "Print the folds derived from each device's descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			devices := cfg.Devices
			if len(args) > 0 {
				devices = args
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tSOURCE\tFOLD\tTEST\tTRAIN")
			for _, device := range devices {
				desc, err := descriptor.Load(cfg.TrainDir, cfg.ExperimentType, device)
				if err != nil {
					return err
				}
				fs, err := folds.Make(desc.Range.Start, desc.Range.End, cfg.Folds, cfg.DropLast)
				if err != nil {
					return fmt.Errorf("%s: %w", device, err)
				}
				for _, f := range fs {
					train := make([]string, len(f.Train))
					for i, r := range f.Train {
						train[i] = r.String()
					}
					fmt.Fprintf(tw, "%s\t%s/%d\t%d\t%s\t%s\n",
						device, desc.TrainSet, desc.TrainHouse, f.Index+1, f.Test, strings.Join(train, " + "))
				}
			}
			return tw.Flush()
		},
	}
}
