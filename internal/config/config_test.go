package config

import "testing"

func TestParseMapping(t *testing.T) {
	cases := []struct {
		name         string
		in           string
		wantURL      string
		wantIdentity string
		wantErr      bool
	}{
		{"url with equals-laden identity", "https://c.example=/sub/rg/id=with=equals", "https://c.example", "/sub/rg/id=with=equals", false},
		{"bare url", "https://c.example", "https://c.example", "", false},
		{"empty url", "=/some", "", "", true},
		{"empty string", "", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := parseMapping(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseMapping(%q): expected error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMapping(%q): unexpected error: %v", tc.in, err)
			}
			if m.URL != tc.wantURL || m.Identity != tc.wantIdentity {
				t.Errorf("parseMapping(%q) = %+v, want URL=%q Identity=%q", tc.in, m, tc.wantURL, tc.wantIdentity)
			}
		})
	}
}

func TestParse_RequiresAtLeastOneMapping(t *testing.T) {
	if _, err := Parse([]string{}); err == nil {
		t.Fatal("expected error when no --mapping is given")
	}
}

func TestParse_DefaultsAndReadOnlyNegation(t *testing.T) {
	cfg, err := Parse([]string{"--mapping", "https://c1.example"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.ReadOnly {
		t.Error("expected ReadOnly default true")
	}
	if len(cfg.Mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(cfg.Mappings))
	}

	cfg, err = Parse([]string{"--mapping", "https://c1.example", "--no-read-only"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ReadOnly {
		t.Error("--no-read-only should override the default")
	}
}

func TestParse_RepeatableMappings(t *testing.T) {
	cfg, err := Parse([]string{
		"--mapping", "https://c1.example=id1",
		"--mapping", "https://c2.example=id2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(cfg.Mappings))
	}
}

func TestParse_InvalidLogLevel(t *testing.T) {
	_, err := Parse([]string{"--mapping", "https://c1.example", "--log-level", "trace"})
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestParse_TimingDefaults(t *testing.T) {
	cfg, err := Parse([]string{"--mapping", "https://c1.example"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PingInterval.Seconds() != 60 {
		t.Errorf("PingInterval = %v, want 60s", cfg.PingInterval)
	}
	if cfg.PingTimeout.Seconds() != 10 {
		t.Errorf("PingTimeout = %v, want 10s", cfg.PingTimeout)
	}
	if cfg.MaxReconnectBackoff.Seconds() != 300 {
		t.Errorf("MaxReconnectBackoff = %v, want 300s", cfg.MaxReconnectBackoff)
	}
}
