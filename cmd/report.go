package cmd

import (
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/signalnine/nilmbench/internal/report"
	"github.com/signalnine/nilmbench/internal/result"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [root]",
		Short: "Summarize reports across folds",
		RunE: func(cmd *cobra.Command, args []string) error {
			var root string
			if len(args) > 0 {
				root = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				root = cfg.Root
			}
			return report.Generate(result.NewStore(afero.NewOsFs(), root), flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
