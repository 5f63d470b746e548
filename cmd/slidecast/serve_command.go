package main

import (
	"github.com/spf13/cobra"

	"slidecast/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP render service",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := ctx.logger("slidecast-api")
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			log.Info("starting slidecast API", "version", app.Version)

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	return cmd
}
