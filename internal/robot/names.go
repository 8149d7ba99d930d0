package robot

import (
	"regexp"
	"strings"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9._-]+`)
	dashRuns     = regexp.MustCompile(`-{2,}`)
)

// Slug reduces a robot name or label to a token that is safe in file names
// and remote paths.
func Slug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = nonSlugChars.ReplaceAllString(value, "-")
	value = strings.Trim(dashRuns.ReplaceAllString(value, "-"), "-")
	if value == "" {
		return "ot2"
	}
	return value
}
