package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"slidecast/internal/pkg/errors"
	"slidecast/internal/worker/renderer"
)

const manifestName = "concat.txt"

// RendererAdapter maps slide artifacts onto engine invocations.
type RendererAdapter struct {
	client        renderer.Client
	concurrency   int
	clipTimeout   time.Duration
	concatTimeout time.Duration
}

func NewRendererAdapter(client renderer.Client, concurrency int, clipTimeout, concatTimeout time.Duration) *RendererAdapter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RendererAdapter{
		client:        client,
		concurrency:   concurrency,
		clipTimeout:   clipTimeout,
		concatTimeout: concatTimeout,
	}
}

// RenderClips runs one engine invocation per slide, at most concurrency at a
// time, starting slides in ascending index order. After the first failure no
// further slide is started and the failure is returned once running clips
// have stopped. onStart is called as each slide begins.
func (ra *RendererAdapter) RenderClips(ctx context.Context, ws *Workspace, req NormalizedRequest, arts []SlideArtifact, onStart func(index int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ra.concurrency)

	for i := range arts {
		if gctx.Err() != nil {
			break
		}
		art := &arts[i]
		slide := req.Slides[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if onStart != nil {
				onStart(slide.Index)
			}
			clipPath := filepath.Join(ws.ClipsDir, slideFileName("clip", slide.Index, ".mp4"))
			err := ra.withTimeout(gctx, ra.clipTimeout, func(cctx context.Context) error {
				return ra.client.RenderClip(cctx, renderer.ClipSpec{
					ImagePath:   art.ImagePath,
					TextPath:    art.TextPath,
					OutputPath:  clipPath,
					DurationSec: slide.DurationSec,
					Width:       req.Width,
					Height:      req.Height,
					FPS:         req.FPS,
				})
			})
			if err != nil {
				return stageError(ctx, err, errors.CodeEncode, "render.encode",
					fmt.Sprintf("failed to encode clip for slide %d", slide.Index)).WithField("slide", slide.Index)
			}
			art.ClipPath = clipPath
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !errors.IsCode(err, errors.CodeCanceled) {
			return errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "render.encode", "render canceled")
		}
		return err
	}
	return nil
}

// Concat writes the manifest in ascending slide order and joins the clips
// into outputPath with a stream copy.
func (ra *RendererAdapter) Concat(ctx context.Context, ws *Workspace, arts []SlideArtifact, outputPath string) error {
	manifest, err := WriteManifest(ws.Root, arts)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeConcat, "render.concat", "failed to write concat manifest")
	}

	err = ra.withTimeout(ctx, ra.concatTimeout, func(cctx context.Context) error {
		return ra.client.Concat(cctx, renderer.ConcatSpec{ManifestPath: manifest, OutputPath: outputPath})
	})
	if err != nil {
		return stageError(ctx, err, errors.CodeConcat, "render.concat", "failed to concatenate clips")
	}
	return nil
}

// WriteManifest writes concat.txt listing every clip sorted by Index.
func WriteManifest(dir string, arts []SlideArtifact) (string, error) {
	ordered := append([]SlideArtifact(nil), arts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var b strings.Builder
	for _, a := range ordered {
		if a.ClipPath == "" {
			return "", fmt.Errorf("slide %d has no clip", a.Index)
		}
		b.WriteString("file ")
		b.WriteString(quoteManifestPath(a.ClipPath))
		b.WriteString("\n")
	}

	path := filepath.Join(dir, manifestName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// quoteManifestPath quotes for the concat demuxer: single quotes, with
// embedded quotes written as '\''.
func quoteManifestPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

func (ra *RendererAdapter) withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(cctx)
	if err != nil && cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("timed out after %s: %w", d, err)
	}
	return err
}

// stageError codes err as the stage failure unless the job context itself
// was canceled.
func stageError(jobCtx context.Context, err error, code errors.Code, op, msg string) *errors.Error {
	if jobCtx.Err() != nil {
		return errors.WrapWithCode(err, errors.CodeCanceled, op, "render canceled")
	}
	return errors.WrapWithCode(err, code, op, msg)
}
