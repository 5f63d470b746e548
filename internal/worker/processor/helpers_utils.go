package processor

import (
	"fmt"
	"unicode/utf8"
)

// slideFileName names per-slide files, e.g. slideFileName("clip", 7, ".mp4")
// is "clip_007.mp4". Zero padding keeps directory listings readable; the
// pipeline itself orders by SlideArtifact.Index, never by name.
func slideFileName(prefix string, index int, ext string) string {
	return fmt.Sprintf("%s_%03d%s", prefix, index, ext)
}

// truncateRunes cuts s to at most n characters without splitting a
// multi-byte character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
