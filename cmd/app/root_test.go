package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != Version {
		t.Errorf("output = %q", out.String())
	}
}

func TestProbeFailsWithoutServer(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOG_DIR", "-")

	rootCmd.SetArgs([]string{"probe", "--url", "ws://127.0.0.1:1/", "--timeout", "1s"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected probe to fail when nothing is listening")
	}
}
