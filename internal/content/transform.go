// Package content adapts task text for a destination platform.
package content

import (
	"strings"

	"crosspost/internal/domain"
)

const (
	// DefaultLimit applies to platforms missing from the limits table.
	DefaultLimit = 10000

	ellipsis = "..."
)

// limits is the maximum post length per platform, in characters.
var limits = map[string]int{
	"twitter":   280,
	"x":         280,
	"instagram": 2200,
	"facebook":  63206,
	"telegram":  4096,
	"linkedin":  3000,
	"threads":   500,
}

// Limit returns the maximum post length for platformID.
func Limit(platformID string) int {
	if n, ok := limits[domain.NormalizePlatform(platformID)]; ok {
		return n
	}
	return DefaultLimit
}

// Transform applies task-level edits and truncates to the platform limit.
//
// Order: prefix line, suffix line, blank line + space-joined hashtags.
// A truncated result ends with "..." and is never longer than Limit(platformID).
func Transform(text, platformID string, tr *domain.Transformations) string {
	out := text
	if tr != nil {
		if tr.AddPrefix != "" {
			out = tr.AddPrefix + "\n" + out
		}
		if tr.AddSuffix != "" {
			out = out + "\n" + tr.AddSuffix
		}
		if tags := cleanHashtags(tr.AddHashtags); len(tags) > 0 {
			out = out + "\n\n" + strings.Join(tags, " ")
		}
	}
	return Truncate(out, Limit(platformID))
}

// Truncate cuts s to at most limit characters, replacing the tail with "..." when it cuts.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		return string(r[:limit])
	}
	return string(r[:limit-len(ellipsis)]) + ellipsis
}

func cleanHashtags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}
