package hostname

import "testing"

func TestFromURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.Example.com/path?q=1": "example.com",
		"http://docs.go.dev:8080/ref":      "docs.go.dev",
		"https://localhost/":               "localhost",
	}
	for raw, want := range cases {
		got, ok := FromURL(raw)
		if !ok || got != want {
			t.Fatalf("FromURL(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	for _, raw := range []string{"chrome://extensions", "about:blank", "file:///tmp/x", "", "https://"} {
		if got, ok := FromURL(raw); ok {
			t.Fatalf("FromURL(%q) unexpectedly tracked as %q", raw, got)
		}
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if !Valid("a.b-c.io") {
		t.Fatalf("expected valid")
	}
	for _, bad := range []string{"", "-a.com", "a..com", "UPPER.com", "sp ace.com"} {
		if Valid(bad) {
			t.Fatalf("%q should be invalid", bad)
		}
	}
}
