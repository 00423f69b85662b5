package mongoback

import (
	"regexp"
	"strings"
)

// Stats maps a statistic tag key (rsync_number_of_files, ...) to its
// value as a canonical decimal string.
type Stats map[string]string

// Summary lines look like "Number of files: 1,234 (reg: 1,000, dir: 234)".
// Only the first number after the colon is captured. Decimal values
// (the timing lines) are not counters and are skipped.
var statsLineRe = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*?):\s+([0-9][0-9,]*)(\.[0-9]+)?`)

// ParseRsyncStats extracts the transfer counters from rsync --stats
// summary output. The label is lower-cased and space-joined with
// underscores to form a stable key, commas inside numbers are stripped.
// Unrecognized lines are skipped, not an error.
func ParseRsyncStats(output string) Stats {
	stats := make(Stats)
	for _, line := range strings.Split(output, "\n") {
		m := statsLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || m[3] != "" {
			continue
		}
		key := StatsPrefix + strings.ReplaceAll(strings.ToLower(m[1]), " ", "_")
		stats[key] = strings.ReplaceAll(m[2], ",", "")
	}
	return stats
}
