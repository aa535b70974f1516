package signal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRaiseAndCheckAndClear(t *testing.T) {
	echoDir := t.TempDir()

	if CheckAndClear(echoDir) {
		t.Fatal("expected no dirty signal before Raise")
	}

	Raise(echoDir)
	if !CheckAndClear(echoDir) {
		t.Fatal("expected dirty signal to be set after Raise")
	}
	if CheckAndClear(echoDir) {
		t.Fatal("expected signal to be cleared after first CheckAndClear")
	}
}

func TestPathUnderClaudeEchoes(t *testing.T) {
	echoDir := filepath.Join(t.TempDir(), "project", ".claude", "echoes")
	p := Path(echoDir)
	if filepath.Base(p) == "" {
		t.Fatalf("expected non-empty signal file name, got %q", p)
	}
	if _, err := os.Stat(filepath.Dir(p)); err == nil {
		t.Fatalf("signal dir should not pre-exist before Raise")
	}
}
