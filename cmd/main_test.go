package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/config"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", " debug ", "info"); got != "debug" {
		t.Fatalf("unexpected value %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestDeviceFlagsApply(t *testing.T) {
	cfg := config.Default()
	(&deviceFlags{}).apply(cfg)
	if cfg.Device.Port != "COM3" || cfg.Device.BaudRate != 9600 {
		t.Fatalf("empty flags must keep config, got %+v", cfg.Device)
	}
	(&deviceFlags{port: "/dev/ttyUSB0", baud: 57600}).apply(cfg)
	if cfg.Device.Port != "/dev/ttyUSB0" || cfg.Device.BaudRate != 57600 {
		t.Fatalf("flags not applied: %+v", cfg.Device)
	}
}

func TestStudentCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.sqlite")
	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
		return out.String()
	}

	if out := run("student", "add", "--roll", "CS-07", "--name", "Grace", "--class", "CS101"); !strings.Contains(out, "added student 1 (CS-07)") {
		t.Fatalf("unexpected add output %q", out)
	}
	out := run("student", "list")
	if !strings.Contains(out, "CS-07") || !strings.Contains(out, "Grace") || !strings.Contains(out, "CS101") {
		t.Fatalf("list should show the student, got %q", out)
	}
	if out := run("student", "list", "--registered"); strings.Contains(out, "CS-07") {
		t.Fatalf("student without a fingerprint listed as registered: %q", out)
	}
}
