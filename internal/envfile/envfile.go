// Package envfile loads an optional .env file before CLI flags are parsed,
// so credentials forwarded into downstream child environments (see
// internal/childenv) can be supplied via .env in local development.
package envfile

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Load searches for a .env file and loads it into the process environment.
//
// Search order (stops at the first file found):
//  1. Directory of the running executable — stable once installed.
//  2. Current working directory — fallback for `go run ./cmd/clustermux`.
//
// If no .env is found anywhere, the process continues with whatever
// environment it already inherited.
func Load() {
	candidates := resolveCandidates()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				log.Printf("[clustermux] failed to load .env from %s: %v", p, err)
			} else {
				log.Printf("[clustermux] loaded .env from %s", p)
			}
			return
		}
	}
	log.Printf("[clustermux] no .env file found (searched: %v), using system environment variables", candidates)
}

func resolveCandidates() []string {
	var candidates []string
	seen := map[string]bool{}

	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}

	if exe, err := os.Executable(); err == nil {
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		add(filepath.Join(filepath.Dir(exe), ".env"))
	}

	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, ".env"))
	}

	return candidates
}

// Path returns a human-readable description of where .env would be loaded
// from, for startup log messages.
func Path() string {
	for _, p := range resolveCandidates() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fmt.Sprintf("(not found; searched %v)", resolveCandidates())
}
