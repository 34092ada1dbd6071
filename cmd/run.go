package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/signalnine/nilmbench/internal/datasource"
	"github.com/signalnine/nilmbench/internal/gitops"
	"github.com/signalnine/nilmbench/internal/metrics"
	"github.com/signalnine/nilmbench/internal/model"
	"github.com/signalnine/nilmbench/internal/report"
	"github.com/signalnine/nilmbench/internal/result"
	"github.com/signalnine/nilmbench/internal/runner"
)

var (
	flagDevice   string
	flagModel    string
	flagWindow   string
	flagFolds    int
	flagClean    bool
	flagParallel int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train and evaluate the experiment grid",
		RunE:  runExperiments,
	}
	cmd.Flags().StringVar(&flagDevice, "device", "", "comma-separated devices to run")
	cmd.Flags().StringVar(&flagModel, "model", "", "comma-separated model kinds to run")
	cmd.Flags().StringVar(&flagWindow, "window", "", "comma-separated window sizes to run")
	cmd.Flags().IntVar(&flagFolds, "folds", 0, "override fold count")
	cmd.Flags().BoolVar(&flagClean, "clean", false, "remove the results tree before running")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "devices to run concurrently")
	return cmd
}

func runExperiments(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagFolds > 0 {
		cfg.Folds = flagFolds
	}
	if flagClean {
		cfg.Clean = true
	}
	cfg.Devices = filterDevices(cfg.Devices, flagDevice)
	cfg.Models = filterModels(cfg.Models, flagModel)
	if cfg.Windows, err = filterWindows(cfg.Windows, flagWindow); err != nil {
		return err
	}
	if len(cfg.Devices) == 0 || len(cfg.Models) == 0 || len(cfg.Windows) == 0 {
		return fmt.Errorf("filters left nothing to run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Printf("warning: metrics server: %v", err)
			}
		}()
	}

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	notifier := newNotifier(ctx, cfg)
	defer notifier.Close()

	sources := datasource.NewRegistry(cfg.Datasources, os.Getenv)
	defer sources.Close()

	var rev string
	if cfg.Trainer.RepoDir != "" {
		if rev, err = gitops.Revision(cfg.Trainer.RepoDir); err != nil {
			log.Printf("warning: trainer revision: %v", err)
		}
	}

	fs := afero.NewOsFs()
	d := runner.NewDriver(*cfg, runner.Deps{
		Fs:         fs,
		Trainer:    newTrainer(cfg),
		Opener:     sources,
		Catalog:    cat,
		Notifier:   notifier,
		TrainerRev: rev,
	})
	d.Parallel = flagParallel
	if err := d.Run(ctx); err != nil {
		return err
	}

	fmt.Println("\n--- Results ---")
	return report.Generate(result.NewStore(fs, cfg.Root), "table", os.Stdout)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func filterDevices(devices []string, filter string) []string {
	want := splitList(filter)
	if len(want) == 0 {
		return devices
	}
	var filtered []string
	for _, d := range devices {
		for _, w := range want {
			if d == w {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

// filterModels matches kinds case-insensitively.
func filterModels(specs []model.Spec, filter string) []model.Spec {
	want := splitList(filter)
	if len(want) == 0 {
		return specs
	}
	var filtered []model.Spec
	for _, s := range specs {
		for _, w := range want {
			if strings.EqualFold(string(s.Kind), w) {
				filtered = append(filtered, s)
				break
			}
		}
	}
	return filtered
}

// filterWindows keeps the configured windows named by the filter. Windows
// that are not in the config are an error rather than silently added.
func filterWindows(windows []int, filter string) ([]int, error) {
	want := splitList(filter)
	if len(want) == 0 {
		return windows, nil
	}
	var filtered []int
	for _, w := range want {
		n, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("invalid window %q", w)
		}
		found := false
		for _, c := range windows {
			if c == n {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("window %d is not configured", n)
		}
		filtered = append(filtered, n)
	}
	return filtered, nil
}
