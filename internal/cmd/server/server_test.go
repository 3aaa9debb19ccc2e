package server

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GracePeriod != 2*time.Minute {
		t.Fatalf("GracePeriod = %v, want %v", cfg.GracePeriod, 2*time.Minute)
	}
	if cfg.AbandonmentWindow != 5*time.Minute {
		t.Fatalf("AbandonmentWindow = %v, want %v", cfg.AbandonmentWindow, 5*time.Minute)
	}
}

func TestParseConfigFlagsOverrideEnvDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-http-addr", ":9090",
		"-db-path", "",
		"-vote-timeout", "45s",
	})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.DBPath != "" {
		t.Fatalf("DBPath = %q, want empty", cfg.DBPath)
	}
	if cfg.VoteTimeout != 45*time.Second {
		t.Fatalf("VoteTimeout = %v, want %v", cfg.VoteTimeout, 45*time.Second)
	}
}

func TestParseConfigEnvOverride(t *testing.T) {
	t.Setenv("TILEHALL_HTTP_ADDR", ":7000")
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":7000")
	}
}
