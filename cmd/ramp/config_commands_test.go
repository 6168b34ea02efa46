package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "--config", target, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	_, err = runCommand(t, "--config", target, "config", "init")
	if err == nil {
		t.Fatal("expected second init without --force to fail")
	}

	out, err = runCommand(t, "--config", target, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[pipeline]") {
		t.Fatalf("show output missing pipeline section: %q", out)
	}
}

func TestReviewResolveRejectsBadResolution(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	_, err := runCommand(t, "--config", target,
		"review", "resolve", "some-id", "--resolution", "cancelled")
	if err == nil || !strings.Contains(err.Error(), "resolution must be") {
		t.Fatalf("expected resolution validation error, got %v", err)
	}
}
