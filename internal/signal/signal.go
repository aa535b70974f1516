// Package signal implements the dirty-signal sentinel file contract of
// spec.md §4.10/§6.5 (C10 Hook interface). Four bash hooks outside this
// repo's scope (annotate-hook, on-session-stop, enforce-teams,
// arc-batch-stop-hook) write to this sentinel after editing MEMORY.md
// files or promoting entries; echo-search checks and clears it before
// every echo_search/echo_details tool call.
package signal

import (
	"os"
	"path/filepath"
	"strings"
)

// signalSuffix is the path suffix ECHO_DIR is expected to end with.
// project_root = ECHO_DIR with this suffix stripped.
const signalSuffix = ".claude/echoes"

// Path derives the dirty-signal sentinel file path from an ECHO_DIR.
// Grounded on server.py's _signal_path: strips the ".claude/echoes"
// suffix from the normalized echo dir to find the project root, falling
// back to walking up two directories if the suffix doesn't match.
func Path(echoDir string) string {
	if echoDir == "" {
		return ""
	}
	normalized := filepath.Clean(echoDir)
	slashed := filepath.ToSlash(normalized)
	var projectRoot string
	if strings.HasSuffix(slashed, signalSuffix) {
		trimmed := strings.TrimSuffix(slashed, signalSuffix)
		projectRoot = filepath.FromSlash(strings.TrimRight(trimmed, "/"))
	} else {
		projectRoot = filepath.Dir(filepath.Dir(normalized))
	}
	if projectRoot == "" {
		return ""
	}
	return filepath.Join(projectRoot, "tmp", ".rune-signals", ".echo-dirty")
}

// CheckAndClear reports whether the dirty signal is present for the
// given ECHO_DIR, removing the sentinel file if so (check-and-unlink
// semantics per spec.md §4.10). Never returns an error: a missing or
// unreadable sentinel is simply "not dirty".
func CheckAndClear(echoDir string) bool {
	path := Path(echoDir)
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_ = os.Remove(path)
	return true
}

// Raise writes the dirty-signal sentinel, creating its parent directory
// if needed. Used by the Promoter (C6) after rewriting a MEMORY.md file,
// so the next search call picks up the promoted entry. Non-fatal on
// failure — a dropped signal write just delays the next reindex.
func Raise(echoDir string) {
	path := Path(echoDir)
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, []byte("dirty"), 0o644)
}
