package envfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveCandidates_IncludesCWD(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd: %v", err)
	}

	candidates := resolveCandidates()
	want := filepath.Clean(filepath.Join(cwd, ".env"))

	found := false
	for _, c := range candidates {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Errorf("resolveCandidates() = %v, want to include %q", candidates, want)
	}
}

func TestResolveCandidates_NoDuplicates(t *testing.T) {
	candidates := resolveCandidates()
	seen := map[string]bool{}
	for _, c := range candidates {
		if seen[c] {
			t.Errorf("duplicate candidate path %q", c)
		}
		seen[c] = true
	}
}

func TestPath_NotFoundMentionsSearchedList(t *testing.T) {
	// In the test binary's working directory there is no .env, so Path()
	// should fall back to the "(not found; ...)" description.
	if _, err := os.Stat(filepath.Join(mustCWD(t), ".env")); err == nil {
		t.Skip(".env exists in test working directory; skipping not-found assertion")
	}
	got := Path()
	if !strings.HasPrefix(got, "(not found; searched") {
		t.Errorf("Path() = %q, want the \"(not found; searched ...)\" description", got)
	}
}

func mustCWD(t *testing.T) string {
	t.Helper()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd: %v", err)
	}
	return cwd
}
