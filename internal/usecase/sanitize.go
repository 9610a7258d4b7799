package usecase

import (
	"regexp"
	"strings"
)

const maxFilenameLen = 80

var (
	reservedChars  = regexp.MustCompile(`[<>:"/\\|?*()'’]`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// SafeFilename cleans a portal item title for use as a file or folder
// name: reserved characters become underscores, whitespace runs collapse
// to a single underscore, and the result is capped at 80 characters.
func SafeFilename(title string) string {
	name := reservedChars.ReplaceAllString(title, "_")
	name = whitespaceRuns.ReplaceAllString(strings.TrimSpace(name), "_")

	runes := []rune(name)
	if len(runes) > maxFilenameLen {
		runes = runes[:maxFilenameLen]
	}
	return string(runes)
}
