package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("Load returned %v, want nil", err)
	}
}

func TestLoad_ParsesAndPreservesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport VB_TEST_A=\"hello\"\nVB_TEST_B='world'\nVB_TEST_C=plain\nVB_TEST_EXISTING=fromfile\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("VB_TEST_EXISTING", "fromenv")
	for _, k := range []string{"VB_TEST_A", "VB_TEST_B", "VB_TEST_C"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("VB_TEST_A"); got != "hello" {
		t.Fatalf("VB_TEST_A = %q, want hello", got)
	}
	if got := os.Getenv("VB_TEST_B"); got != "world" {
		t.Fatalf("VB_TEST_B = %q, want world", got)
	}
	if got := os.Getenv("VB_TEST_C"); got != "plain" {
		t.Fatalf("VB_TEST_C = %q, want plain", got)
	}
	if got := os.Getenv("VB_TEST_EXISTING"); got != "fromenv" {
		t.Fatalf("VB_TEST_EXISTING = %q, existing env must win", got)
	}
}
