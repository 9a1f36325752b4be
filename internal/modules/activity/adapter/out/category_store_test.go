package out

import (
	"context"
	"testing"
	"time"
)

func TestCachedCategoryStore(t *testing.T) {
	t.Parallel()
	overrides := map[string]string{"github.com": "work", "example.org": "reading"}
	store := NewCachedCategoryStore(overrides, 8, time.Hour)
	overrides["example.org"] = "mutated"

	cases := map[string]string{
		"gist.github.com":     "work",
		"en.wikipedia.org":    "reference",
		"blog.example.org":    "reading",
		"mail.google.com":     "communication",
		"unknown.example.net": "other",
	}
	for host, want := range cases {
		got, err := store.Category(context.Background(), host)
		if err != nil {
			t.Fatalf("category %s: %v", host, err)
		}
		if got != want {
			t.Fatalf("category %s = %q, want %q", host, got, want)
		}
	}
	if store.Len() != len(cases) {
		t.Fatalf("cached %d entries, want %d", store.Len(), len(cases))
	}
}
