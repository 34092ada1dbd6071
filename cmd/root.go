package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nilmbench",
		Short: "Cross-validated training and evaluation of NILM disaggregation models",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "nilmbench.yaml", "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newFoldsCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newRunsCmd())
	return root
}
