package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	v1 "slidecast/internal/contracts/render/v1"
	"slidecast/internal/app"
	"slidecast/internal/pkg/logger"
	"slidecast/internal/worker/processor"
)

const captionPreviewChars = 40

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var requestFile string
	var outputFile string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a request file to an mp4 without the HTTP service",
		Long: "Render reads a request in the POST /render body format from a JSON or YAML file,\n" +
			"renders it with the configured ffmpeg and writes the video to --output.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			req, err := readRequestFile(requestFile)
			if err != nil {
				return err
			}
			nreq, err := processor.Normalize(req, processor.Limits{MaxSlides: cfg.MaxSlides})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, summarizeRequest(nreq))
			if dryRun {
				return nil
			}

			// Logs go to stderr so stdout stays readable.
			log := logger.New(logger.Config{
				Level:       cfg.LogLevel,
				Format:      "auto",
				Output:      os.Stderr,
				ServiceName: "slidecast-cli",
			})

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(runCtx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Shutdown.Shutdown()

			start := time.Now()
			size, err := renderToFile(runCtx, a.Processor, nreq, outputFile)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Wrote %s (%s, %s of video) in %s\n",
				outputFile,
				humanize.Bytes(uint64(size)),
				formatSeconds(nreq.TotalDuration()),
				time.Since(start).Round(100*time.Millisecond),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestFile, "file", "f", "", "Request file (JSON or YAML)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "slideshow.mp4", "Where to write the video")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and summarize the request without rendering")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readRequestFile decodes path as YAML. JSON files decode the same way.
func readRequestFile(path string) (v1.RenderRequest, error) {
	var req v1.RenderRequest
	b, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read request: %w", err)
	}
	if err := yaml.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("parse request %s: %w", filepath.Base(path), err)
	}
	return req, nil
}

type renderer interface {
	Render(ctx context.Context, req processor.NormalizedRequest) (*processor.Output, error)
}

// renderToFile streams the result into a temporary file next to path and
// renames it into place, so a failed render never leaves a partial video.
func renderToFile(ctx context.Context, r renderer, req processor.NormalizedRequest, path string) (int64, error) {
	result, err := r.Render(ctx, req)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.partial")
	if err != nil {
		result.Close(ctx, err)
		return 0, fmt.Errorf("create output: %w", err)
	}
	tmpName := tmp.Name()

	n, err := result.Stream(ctx, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("write output: %w", err)
	}
	return n, nil
}

func summarizeRequest(req processor.NormalizedRequest) string {
	rows := make([][]string, 0, len(req.Slides))
	for _, s := range req.Slides {
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			s.ImageURL,
			formatSeconds(s.DurationSec),
			captionPreview(s.Text),
		})
	}
	table := renderTable(
		[]string{"#", "Image", "Duration", "Caption"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	)
	return fmt.Sprintf("%dx%d @ %d fps, %d slides, %s\n%s",
		req.Width, req.Height, req.FPS, len(req.Slides), formatSeconds(req.TotalDuration()), table)
}

func captionPreview(text string) string {
	text = strings.Join(strings.Fields(processor.SanitizeCaption(text)), " ")
	if text == "" {
		return "-"
	}
	runes := []rune(text)
	if len(runes) > captionPreviewChars {
		return string(runes[:captionPreviewChars-1]) + "…"
	}
	return text
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', -1, 64) + "s"
}
