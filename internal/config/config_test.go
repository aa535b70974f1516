package config

import (
	"path/filepath"
	"testing"
)

func TestValidatePathRejectsForbidden(t *testing.T) {
	if err := ValidatePath("/etc/passwd"); err == nil {
		t.Error("expected /etc/passwd to be rejected")
	}
	if err := ValidatePath("/usr/local/lib"); err == nil {
		t.Error("expected /usr path to be rejected")
	}
}

func TestValidatePathAllowsProjectDir(t *testing.T) {
	dir := t.TempDir()
	if err := ValidatePath(filepath.Join(dir, ".claude", "echoes")); err != nil {
		t.Errorf("expected project-local path to validate, got %v", err)
	}
}

func TestValidatePathEmpty(t *testing.T) {
	if err := ValidatePath(""); err != nil {
		t.Errorf("expected empty path to be a no-op, got %v", err)
	}
}

func TestValidateStartupRequiresEnv(t *testing.T) {
	t.Setenv("ECHO_DIR", "")
	t.Setenv("DB_PATH", "")
	if err := ValidateStartup(); err == nil {
		t.Error("expected error when ECHO_DIR/DB_PATH are unset")
	}

	dir := t.TempDir()
	t.Setenv("ECHO_DIR", filepath.Join(dir, ".claude", "echoes"))
	t.Setenv("DB_PATH", filepath.Join(dir, ".claude", "echo.db"))
	if err := ValidateStartup(); err != nil {
		t.Errorf("expected valid startup config to pass, got %v", err)
	}
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	sum := w.Relevance + w.Importance + w.Recency + w.Proximity + w.Frequency
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("expected default weights to sum to ~1.0, got %v", sum)
	}
}
