package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMemoryFile(t *testing.T, dir, role, body string) {
	t.Helper()
	roleDir := filepath.Join(dir, role)
	if err := os.MkdirAll(roleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(roleDir, memoryFileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverAndParse(t *testing.T) {
	dir := t.TempDir()
	writeMemoryFile(t, dir, "backend", `## Etched — internal/store/db.go (2026-01-05)
Always open sqlite with _busy_timeout or concurrent writers fail with SQLITE_BUSY.

## Observations — cmd/echo-search/main.go (2026-02-10)
Cobra root command needs Execute() called from main, not Run().
`)

	entries, err := DiscoverAndParse(dir)
	if err != nil {
		t.Fatalf("DiscoverAndParse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].Layer != "etched" || entries[0].Role != "backend" {
		t.Errorf("entry 0: got layer=%s role=%s", entries[0].Layer, entries[0].Role)
	}
	if entries[0].Source != "internal/store/db.go" {
		t.Errorf("entry 0: got source=%q", entries[0].Source)
	}
	if entries[1].Layer != "observations" {
		t.Errorf("entry 1: expected observations, got %s", entries[1].Layer)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", entries[0].ID, entries[1].ID)
	}
}

func TestDiscoverAndParseIgnoresNonMemoryFiles(t *testing.T) {
	dir := t.TempDir()
	roleDir := filepath.Join(dir, "frontend")
	if err := os.MkdirAll(roleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(roleDir, "README.md"), []byte("## Etched — x (2026-01-01)\nbody\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := DiscoverAndParse(dir)
	if err != nil {
		t.Fatalf("DiscoverAndParse: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries from non-MEMORY.md file, got %d", len(entries))
	}
}

func TestDiscoverAndParseMissingEchoDir(t *testing.T) {
	entries, err := DiscoverAndParse(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for missing echo dir, got %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %v", entries)
	}
}

func TestDeriveIDStable(t *testing.T) {
	a := deriveID("/tmp/x/MEMORY.md", 4)
	b := deriveID("/tmp/x/MEMORY.md", 4)
	c := deriveID("/tmp/x/MEMORY.md", 5)
	if a != b {
		t.Errorf("expected deriveID to be deterministic, got %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("expected different line numbers to derive different ids")
	}
	if len(a) != 16 {
		t.Errorf("expected 16-char id, got %d chars", len(a))
	}
}
