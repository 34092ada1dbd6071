package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show run history, or the folds of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cat, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			defer cat.Close()

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if len(args) == 1 {
				folds, err := cat.Folds(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "DEVICE\tMODEL\tWINDOW\tFOLD\tTEST\tSTATUS\tEPOCHS\tERROR")
				for _, f := range folds {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%d\t%s\n",
						f.Device, f.Model, f.Window, f.Index, f.Test, f.Status, f.Epochs, f.Error)
				}
				return tw.Flush()
			}

			runs, err := cat.ListRuns(limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tFOLDS\tFAILED\tEVALUATIONS\tTRAINER")
			fmt.Fprintln(tw, strings.Repeat("-", 100))
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Folds, r.FailedFolds, r.Evaluations, r.TrainerRev)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list (0 = all)")
	return cmd
}
