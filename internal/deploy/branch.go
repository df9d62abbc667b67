package deploy

import (
	"regexp"
	"strings"
)

// maxBranchLen is the longest branch name accepted by the provider's ref API.
const maxBranchLen = 250

var (
	invalidBranchChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	repeatedDots       = regexp.MustCompile(`\.{2,}`)
	repeatedDashes     = regexp.MustCompile(`-{2,}`)
)

// SanitizeBranch normalizes a requested deployment name into a valid git
// branch name: characters outside [A-Za-z0-9._-] become dashes, runs of dots
// or dashes collapse, leading and trailing separators are trimmed, and the
// result is capped at 250 characters. Sanitizing an already-sanitized name
// returns it unchanged. Returns an empty string when nothing usable remains.
func SanitizeBranch(name string) string {
	s := invalidBranchChars.ReplaceAllString(name, "-")
	s = repeatedDots.ReplaceAllString(s, ".")
	s = repeatedDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, ".-")

	if len(s) > maxBranchLen {
		s = s[:maxBranchLen]
		s = strings.Trim(s, ".-")
	}
	return s
}
