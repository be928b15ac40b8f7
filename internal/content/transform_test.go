package content

import (
	"strings"
	"testing"
	"unicode/utf8"

	"crosspost/internal/domain"
)

func TestTransformOrder(t *testing.T) {
	t.Parallel()
	tr := &domain.Transformations{
		AddPrefix:   "NEW",
		AddSuffix:   "via crosspost",
		AddHashtags: []string{"#go", " ", "#dev"},
	}
	got := Transform("hello", "telegram", tr)
	want := "NEW\nhello\nvia crosspost\n\n#go #dev"
	if got != want {
		t.Fatalf("Transform = %q, want %q", got, want)
	}
}

func TestTransformNilTransformations(t *testing.T) {
	t.Parallel()
	if got := Transform("plain", "twitter", nil); got != "plain" {
		t.Fatalf("Transform = %q, want %q", got, "plain")
	}
}

func TestTransformTruncatesToPlatformLimit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		platform string
		limit    int
	}{
		{platform: "twitter", limit: 280},
		{platform: "instagram", limit: 2200},
		{platform: "facebook", limit: 63206},
		{platform: "telegram", limit: 4096},
		{platform: "linkedin", limit: 3000},
		{platform: "threads", limit: 500},
		{platform: "mastodon", limit: DefaultLimit},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.platform, func(t *testing.T) {
			t.Parallel()
			if got := Limit(tt.platform); got != tt.limit {
				t.Fatalf("Limit(%q) = %d, want %d", tt.platform, got, tt.limit)
			}
			for _, n := range []int{tt.limit - 1, tt.limit, tt.limit + 1, tt.limit * 2} {
				out := Transform(strings.Repeat("a", n), tt.platform, &domain.Transformations{AddHashtags: []string{"#x"}})
				if c := utf8.RuneCountInString(out); c > tt.limit {
					t.Fatalf("len(out) = %d for input %d, exceeds %d", c, n, tt.limit)
				}
			}
		})
	}
}

func TestTruncateEllipsis(t *testing.T) {
	t.Parallel()
	got := Truncate(strings.Repeat("b", 300), 280)
	if utf8.RuneCountInString(got) != 280 {
		t.Fatalf("len = %d, want 280", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got[len(got)-5:])
	}
	if Truncate("short", 280) != "short" {
		t.Fatal("short input must be unchanged")
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("é", 281)
	got := Truncate(in, 280)
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a multi-byte character")
	}
	if c := utf8.RuneCountInString(got); c != 280 {
		t.Fatalf("rune count = %d, want 280", c)
	}
}

func TestLimitNormalizesPlatform(t *testing.T) {
	t.Parallel()
	if Limit("  Twitter ") != 280 {
		t.Fatal("expected case/space-insensitive lookup")
	}
}
