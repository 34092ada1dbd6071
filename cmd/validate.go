package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/nilmbench/internal/datasource"
	"github.com/signalnine/nilmbench/internal/descriptor"
	"github.com/signalnine/nilmbench/internal/folds"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check config, descriptors, fold parameters and data sources without training",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Config %s: ok\n", cfgFile)

			sources := datasource.NewRegistry(cfg.Datasources, os.Getenv)
			defer sources.Close()

			var problems []error
			for _, device := range cfg.Devices {
				desc, err := descriptor.Load(cfg.TrainDir, cfg.ExperimentType, device)
				if err != nil {
					problems = append(problems, err)
					fmt.Printf("  %s: FAIL %v\n", device, err)
					continue
				}
				fs, err := folds.Make(desc.Range.Start, desc.Range.End, cfg.Folds, cfg.DropLast)
				if err != nil {
					problems = append(problems, fmt.Errorf("%s: %w", device, err))
					fmt.Printf("  %s: FAIL %v\n", device, err)
					continue
				}
				if _, err := sources.Open(context.Background(), desc.TrainSet); err != nil {
					problems = append(problems, fmt.Errorf("%s: %w", device, err))
					fmt.Printf("  %s: FAIL %v\n", device, err)
					continue
				}
				fmt.Printf("  %s: ok (%s house %d, %s, %d folds)\n", device, desc.TrainSet, desc.TrainHouse, desc.Range, len(fs))
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d problems found: %w", len(problems), errors.Join(problems...))
			}
			return nil
		},
	}
}
