package util

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// maxNameLen caps names derived from ids before they reach a path or argv.
const maxNameLen = 80

// NewJobID returns a short random job id, already safe for use in paths.
func NewJobID() string {
	return SafeName(uuid.NewString()[:8])
}

// SafeName collapses every run of characters outside [A-Za-z0-9_.-] into a
// single underscore and caps the length.
func SafeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	if s == "" || s == "." || s == ".." {
		return "job"
	}
	return s
}
