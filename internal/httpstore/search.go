package httpstore

import (
	"strconv"
	"strings"
)

// parseRipgrepOutput parses `rg --line-number --no-heading` output lines of
// the form "path:line:text" into Match values. Malformed lines are skipped.
func parseRipgrepOutput(out string) []Match {
	var matches []Match
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		lineNo, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		matches = append(matches, Match{Path: parts[0], Line: lineNo, Text: parts[2]})
	}
	return matches
}
