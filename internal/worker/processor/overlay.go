package processor

import (
	"os"
	"path/filepath"
	"strings"

	"slidecast/internal/pkg/errors"
)

// MaxCaptionChars keeps captions readable on a single frame.
const MaxCaptionChars = 250

// SanitizeCaption truncates to MaxCaptionChars characters and drops carriage
// returns; drawtext counts lines on \n only and renders \r as a glyph.
func SanitizeCaption(text string) string {
	return strings.ReplaceAll(truncateRunes(text, MaxCaptionChars), "\r", "")
}

// PrepareOverlays writes text_NNN.txt into the workspace root for every slide.
// The engine reads captions from these files so caption content never has
// to be escaped into filter arguments.
func PrepareOverlays(ws *Workspace, slides []NormalizedSlide, arts []SlideArtifact) error {
	for i, s := range slides {
		path := filepath.Join(ws.Root, slideFileName("text", s.Index, ".txt"))
		if err := os.WriteFile(path, []byte(SanitizeCaption(s.Text)), 0o644); err != nil {
			return errors.WrapWithCode(err, errors.CodeOverlay, "render.overlay", "failed to write caption file").
				WithField("slide", s.Index)
		}
		arts[i].TextPath = path
	}
	return nil
}
