package matching

import (
	"strings"
	"testing"
)

func TestBuildQueries(t *testing.T) {
	t.Run("plain track ordering", func(t *testing.T) {
		queries := BuildQueries("Midnight City", "M83", "Hurry Up, We're Dreaming")
		want := []string{
			"M83 Midnight City",
			"Midnight City M83",
			"Midnight City",
		}
		if len(queries) != len(want) {
			t.Fatalf("expected %d queries, got %d: %v", len(want), len(queries), queries)
		}
		for i, q := range want {
			if queries[i] != q {
				t.Errorf("query %d: expected %q, got %q", i, q, queries[i])
			}
		}
	})

	t.Run("parenthetical variant inserted", func(t *testing.T) {
		queries := BuildQueries("Sunflower (feat. Swae Lee)", "Post Malone", "")
		if queries[0] != "Post Malone Sunflower (feat. Swae Lee)" {
			t.Errorf("first query should be most specific, got %q", queries[0])
		}
		if queries[1] != "Post Malone Sunflower" {
			t.Errorf("second query should strip parentheticals, got %q", queries[1])
		}
	})

	t.Run("the is skipped in artist word", func(t *testing.T) {
		queries := BuildQueries("Yesterday", "The Beatles", "")
		found := false
		for _, q := range queries {
			if q == "Yesterday Beatles" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected title-plus-Beatles variant, got %v", queries)
		}
	})

	t.Run("album embedded in title", func(t *testing.T) {
		queries := BuildQueries("Discovery - One More Time", "Daft Punk", "Discovery")
		found := false
		for _, q := range queries {
			if q == "Daft Punk One More Time" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected album-stripped variant, got %v", queries)
		}
	})

	t.Run("deduplicates", func(t *testing.T) {
		queries := BuildQueries("Solo", "Solo", "")
		seen := make(map[string]bool)
		for _, q := range queries {
			key := strings.ToLower(q)
			if seen[key] {
				t.Errorf("duplicate query %q in %v", q, queries)
			}
			seen[key] = true
		}
	})

	t.Run("never empty", func(t *testing.T) {
		queries := BuildQueries("", "M83", "")
		if len(queries) == 0 {
			t.Fatal("expected at least one query")
		}
		for _, q := range queries {
			if strings.TrimSpace(q) == "" {
				t.Error("queries must be non-empty after trimming")
			}
		}
	})
}
