package processor

import (
	"fmt"
	"math"
	"strings"

	v1 "slidecast/internal/contracts/render/v1"
	"slidecast/internal/pkg/errors"
)

// Render defaults and bounds.
const (
	DefaultWidth       = 1920
	DefaultHeight      = 1080
	DefaultFPS         = 30
	DefaultDurationSec = 8
	MinDurationSec     = 4
	MaxDurationSec     = 15

	MaxDimension = 7680
	MaxFPS       = 120
)

// Limits bounds a request beyond its shape.
type Limits struct {
	MaxSlides int
}

// Normalize validates req and applies defaults. It touches neither the
// filesystem nor the network.
func Normalize(req v1.RenderRequest, lim Limits) (NormalizedRequest, error) {
	if len(req.Slides) == 0 {
		return NormalizedRequest{}, errors.ValidationField("slides", v1.ErrSlidesRequired)
	}
	if lim.MaxSlides > 0 && len(req.Slides) > lim.MaxSlides {
		return NormalizedRequest{}, errors.ValidationField("slides",
			fmt.Sprintf("at most %d slides allowed, got %d", lim.MaxSlides, len(req.Slides)))
	}

	out := NormalizedRequest{
		Width:  orDefault(req.Width, DefaultWidth),
		Height: orDefault(req.Height, DefaultHeight),
		FPS:    orDefault(req.FPS, DefaultFPS),
		Slides: make([]NormalizedSlide, 0, len(req.Slides)),
	}
	if out.Width > MaxDimension {
		return NormalizedRequest{}, errors.ValidationField("width", fmt.Sprintf("width must be at most %d", MaxDimension))
	}
	if out.Height > MaxDimension {
		return NormalizedRequest{}, errors.ValidationField("height", fmt.Sprintf("height must be at most %d", MaxDimension))
	}
	if out.FPS > MaxFPS {
		return NormalizedRequest{}, errors.ValidationField("fps", fmt.Sprintf("fps must be at most %d", MaxFPS))
	}

	for i, s := range req.Slides {
		url := strings.TrimSpace(s.ImageURL)
		if url == "" {
			field := fmt.Sprintf("slides[%d].imageUrl", i)
			return NormalizedRequest{}, errors.ValidationField(field, field+" required")
		}
		out.Slides = append(out.Slides, NormalizedSlide{
			Index:       i + 1,
			ImageURL:    url,
			Text:        s.Text,
			DurationSec: ClampDuration(s.DurationSec),
		})
	}

	return out, nil
}

// ClampDuration returns max(4, min(15, d or 8)). Nil, zero and NaN count as
// absent.
func ClampDuration(d *float64) float64 {
	v := float64(DefaultDurationSec)
	if d != nil && *d != 0 && !math.IsNaN(*d) {
		v = *d
	}
	return math.Max(MinDurationSec, math.Min(MaxDurationSec, v))
}

// orDefault treats zero and negative values as absent.
func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
