package schema

import (
	"regexp"
	"strings"
)

var separators = regexp.MustCompile(`[\s\-]+`)

// SnakeCase normalizes a raw column header: lower case, trimmed, with runs
// of whitespace and hyphens collapsed to one underscore.
func SnakeCase(name string) string {
	return separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
}
