package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/nilmbench/internal/model"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List devices, models, windows and data sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Println("Devices:")
			for _, d := range cfg.Devices {
				fmt.Printf("  - %s\n", d)
			}
			fmt.Println("\nModels:")
			for _, s := range cfg.Models {
				fmt.Printf("  - %s (%d hyperparameter sets)\n", s.Kind, len(s.Hparams))
				for _, hp := range s.Hparams {
					js, err := model.Marshal(hp)
					if err != nil {
						return err
					}
					fmt.Printf("      %s\n", js)
				}
			}
			fmt.Printf("\nWindows: %v\n", cfg.Windows)
			fmt.Println("\nData sources:")
			for _, ds := range cfg.Datasources {
				fmt.Printf("  - %s (%s)\n", ds.Name, ds.Driver)
			}
			return nil
		},
	}
}
