// Package childenv builds the environment variable set passed to every
// downstream child process, per the router's external downstream contract.
package childenv

import (
	"os"
	"strings"
)

// overridden lists the keys this package sets itself; any pre-existing
// entry for one of these in the inherited environment is dropped before the
// canonical value is appended, so the child never sees two conflicting
// entries for the same key.
var overridden = []string{
	"AZURE_TOKEN_CREDENTIALS",
	"IDENTITY_ENDPOINT",
	"IDENTITY_HEADER",
	"AZURE_CLIENT_ID",
}

// Build returns the environment (as "KEY=VALUE" strings, the shape
// os/exec.Cmd.Env expects) for a child spawned with the given mapping
// identity. identity may be empty.
func Build(identity string) []string {
	env := filterOut(os.Environ(), overridden)

	if v, ok := os.LookupEnv("AZURE_TOKEN_CREDENTIALS"); ok && v != "" {
		env = append(env, "AZURE_TOKEN_CREDENTIALS="+v)
	} else {
		env = append(env, "AZURE_TOKEN_CREDENTIALS=managedidentitycredential")
	}

	if v, ok := os.LookupEnv("IDENTITY_ENDPOINT"); ok && v != "" {
		env = append(env, "IDENTITY_ENDPOINT="+v)
	}
	if v, ok := os.LookupEnv("IDENTITY_HEADER"); ok && v != "" {
		env = append(env, "IDENTITY_HEADER="+v)
	}

	if identity != "" {
		env = append(env, "AZURE_CLIENT_ID="+identity)
	}

	return env
}

func filterOut(env []string, keys []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		drop := false
		for _, key := range keys {
			if k == key {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, kv)
		}
	}
	return out
}
