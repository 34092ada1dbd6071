package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/signalnine/nilmbench/internal/api"
	"github.com/signalnine/nilmbench/internal/result"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports, predictions and run history over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.API.Addr
			}
			cat, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			defer cat.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.New(api.Options{Addr: addr, Origins: cfg.API.Origins}, result.NewStore(afero.NewOsFs(), cfg.Root), cat)
			fmt.Printf("Serving results of %s on %s\n", cfg.Root, addr)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
