package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	enginerenderer "slidecast/internal/worker/renderer"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the configured ffmpeg runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			engine, err := enginerenderer.NewFFmpeg(cfg.FFmpegCommand, cfg.OverlayFont)
			if err != nil {
				return err
			}

			probeCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			version, err := engine.Version(probeCtx)
			if err != nil {
				return fmt.Errorf("engine probe: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Engine: %s\n", version)
			fmt.Fprintf(out, "Font:   %s\n", cfg.OverlayFont)
			return nil
		},
	}
}
