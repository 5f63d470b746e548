package renderer

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Client is the media encoding engine as seen by the render pipeline.
type Client interface {
	// RenderClip turns one still image plus its caption file into a clip.
	RenderClip(ctx context.Context, spec ClipSpec) error
	// Concat joins the clips listed in a manifest without re-encoding.
	Concat(ctx context.Context, spec ConcatSpec) error
}

// ClipSpec describes one per-slide engine invocation.
type ClipSpec struct {
	ImagePath   string
	TextPath    string
	OutputPath  string
	DurationSec float64
	Width       int
	Height      int
	FPS         int
}

// ConcatSpec describes the final join.
type ConcatSpec struct {
	ManifestPath string
	OutputPath   string
}

// CommandRunner executes a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Overlay styling. Caption sits 60px above the bottom edge on a
// semi-opaque box.
const (
	overlayX           = 50
	overlayBottom      = 60
	overlayFontSize    = 36
	overlayLineSpacing = 8
	overlayBoxColor    = "black@0.45"
	overlayBoxBorder   = 15

	stderrTailBytes = 2048
)

// FFmpeg drives the ffmpeg binary with argument lists; nothing is ever
// passed through a shell.
type FFmpeg struct {
	argv []string
	font string
	run  CommandRunner
}

// NewFFmpeg parses command (e.g. "ffmpeg" or "nice -n 10 /opt/ffmpeg/bin/ffmpeg")
// into an argv prefix.
func NewFFmpeg(command, fontPath string) (*FFmpeg, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("ffmpeg command empty")
	}
	return &FFmpeg{argv: argv, font: fontPath, run: defaultCommandRunner}, nil
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (f *FFmpeg) WithCommandRunner(r CommandRunner) *FFmpeg {
	if r != nil {
		f.run = r
	}
	return f
}

func (f *FFmpeg) RenderClip(ctx context.Context, spec ClipSpec) error {
	return f.exec(ctx, f.ClipArgs(spec))
}

func (f *FFmpeg) Concat(ctx context.Context, spec ConcatSpec) error {
	return f.exec(ctx, ConcatArgs(spec))
}

// Version runs `ffmpeg -version` and returns its first line.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	args := append(append([]string{}, f.argv[1:]...), "-hide_banner", "-version")
	out, err := f.run(ctx, f.argv[0], args...)
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line, nil
}

// ClipArgs builds the arguments (after the binary) for one slide: loop the
// image for the slide duration, scale into the frame keeping aspect ratio,
// pad to center, draw the caption file and encode H.264/yuv420p.
func (f *FFmpeg) ClipArgs(spec ClipSpec) []string {
	vf := strings.Join([]string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", spec.Width, spec.Height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", spec.Width, spec.Height),
		f.drawtext(spec.TextPath),
	}, ",")

	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-loop", "1",
		"-t", strconv.FormatFloat(spec.DurationSec, 'f', -1, 64),
		"-i", spec.ImagePath,
		"-vf", vf,
		"-r", strconv.Itoa(spec.FPS),
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-preset", "veryfast",
		spec.OutputPath,
	}
}

// ConcatArgs builds the stream-copy concat invocation.
func ConcatArgs(spec ConcatSpec) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", spec.ManifestPath,
		"-c", "copy",
		spec.OutputPath,
	}
}

func (f *FFmpeg) drawtext(textPath string) string {
	opts := []string{}
	if f.font != "" {
		opts = append(opts, "fontfile="+filterValue(f.font))
	}
	opts = append(opts,
		"textfile="+filterValue(textPath),
		fmt.Sprintf("x=%d", overlayX),
		fmt.Sprintf("y=H-th-%d", overlayBottom),
		fmt.Sprintf("fontsize=%d", overlayFontSize),
		"fontcolor=white",
		fmt.Sprintf("line_spacing=%d", overlayLineSpacing),
		"box=1",
		"boxcolor="+overlayBoxColor,
		fmt.Sprintf("boxborderw=%d", overlayBoxBorder),
	)
	return "drawtext=" + strings.Join(opts, ":")
}

// filterValue escapes a path for use as a filter option inside -vf: first
// for the option parser, then for the filtergraph parser.
func filterValue(v string) string {
	opt := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(v)
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`).Replace(opt)
}

func (f *FFmpeg) exec(ctx context.Context, args []string) error {
	full := append(append([]string{}, f.argv[1:]...), args...)
	out, err := f.run(ctx, f.argv[0], full...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		if tail := stderrTail(out); tail != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, tail)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func stderrTail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > stderrTailBytes {
		s = "..." + s[len(s)-stderrTailBytes:]
	}
	return s
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
