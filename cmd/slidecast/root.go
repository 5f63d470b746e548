package main

import (
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"slidecast/internal/app"
	"slidecast/internal/config"
	"slidecast/internal/pkg/logger"
)

type commandContext struct {
	envFile *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		if c.envFile != nil && *c.envFile != "" {
			if err := godotenv.Load(*c.envFile); err != nil {
				c.configErr = err
				return
			}
		} else {
			_ = godotenv.Load()
		}
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(service string) (*logger.Logger, config.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, cfg, err
	}
	return app.NewLogger(cfg, service), cfg, nil
}

func newRootCommand() *cobra.Command {
	var envFile string
	ctx := &commandContext{envFile: &envFile}

	rootCmd := &cobra.Command{
		Use:           "slidecast",
		Short:         "Render slideshows of captioned images to mp4",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of ./.env")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newProbeCommand(ctx))

	return rootCmd
}
