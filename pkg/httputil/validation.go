package httputil

import (
	"regexp"
	"strings"
)

// Path segments (tenant, record id, data CID) become parts of storage keys,
// so they may not contain separators or control characters.
var segmentRegex = regexp.MustCompile(`^[^/\\\x00-\x1f]{1,512}$`)

// ValidateSegment checks a value used as one path segment of a storage key.
func ValidateSegment(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return segmentRegex.MatchString(s)
}

// IsEmpty checks if a string is empty after trimming whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
