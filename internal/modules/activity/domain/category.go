package domain

import "strings"

const CategoryOther = "other"

var defaultCategories = map[string]string{
	"github.com":        "development",
	"gitlab.com":        "development",
	"stackoverflow.com": "development",
	"leetcode.com":      "development",
	"go.dev":            "development",
	"youtube.com":       "entertainment",
	"netflix.com":       "entertainment",
	"twitch.tv":         "entertainment",
	"twitter.com":       "social",
	"x.com":             "social",
	"facebook.com":      "social",
	"instagram.com":     "social",
	"reddit.com":        "social",
	"linkedin.com":      "social",
	"mail.google.com":   "communication",
	"slack.com":         "communication",
	"docs.google.com":   "productivity",
	"notion.so":         "productivity",
	"wikipedia.org":     "reference",
}

// CategoryFor resolves a domain against overrides first, then the built-in
// table, matching the domain itself or any parent suffix.
func CategoryFor(domain string, overrides map[string]string) string {
	for host := domain; host != ""; {
		if c, ok := overrides[host]; ok {
			return c
		}
		if c, ok := defaultCategories[host]; ok {
			return c
		}
		_, parent, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = parent
	}
	return CategoryOther
}
