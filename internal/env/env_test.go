package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetters(t *testing.T) {
	t.Setenv("FPATTEND_TEST_STR", "  COM7 ")
	t.Setenv("FPATTEND_TEST_INT", "115200")
	t.Setenv("FPATTEND_TEST_BAD_INT", "fast")
	t.Setenv("FPATTEND_TEST_DUR", "250ms")
	t.Setenv("FPATTEND_TEST_MS", "5000")
	t.Setenv("FPATTEND_TEST_BOOL", "Yes")

	if got := String("FPATTEND_TEST_STR", "COM3"); got != "COM7" {
		t.Fatalf("String = %q", got)
	}
	if got := String("FPATTEND_TEST_UNSET", "COM3"); got != "COM3" {
		t.Fatalf("String fallback = %q", got)
	}
	if got := Int("FPATTEND_TEST_INT", 9600); got != 115200 {
		t.Fatalf("Int = %d", got)
	}
	if got := Int("FPATTEND_TEST_BAD_INT", 9600); got != 9600 {
		t.Fatalf("Int fallback = %d", got)
	}
	if got := Duration("FPATTEND_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("Duration = %v", got)
	}
	if got := Duration("FPATTEND_TEST_MS", time.Second); got != 5*time.Second {
		t.Fatalf("Duration from ms = %v", got)
	}
	if !Bool("FPATTEND_TEST_BOOL", false) {
		t.Fatalf("Bool should parse yes")
	}
	if !Bool("FPATTEND_TEST_UNSET", true) {
		t.Fatalf("Bool fallback lost")
	}
}

func TestLoadDoesNotOverrideProcessEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("FPATTEND_TEST_DOTENV=file\nFPATTEND_TEST_KEEP=file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("FPATTEND_TEST_KEEP", "process")
	t.Cleanup(func() { os.Unsetenv("FPATTEND_TEST_DOTENV") })

	if err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("FPATTEND_TEST_DOTENV"); got != "file" {
		t.Fatalf("dotenv value not loaded: %q", got)
	}
	if got := os.Getenv("FPATTEND_TEST_KEEP"); got != "process" {
		t.Fatalf("process env overridden: %q", got)
	}
	if LoadedPath() != path {
		t.Fatalf("loaded path = %q", LoadedPath())
	}
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("missing file should fail")
	}
}
