// Package config resolves echo-search's environment and YAML configuration:
// required ECHO_DIR/DB_PATH env vars, per-factor scoring weight overrides,
// and the optional talisman.yml feature-toggle file. Loads from
// env > YAML file (talisman.yml) > built-in defaults, per spec.md §4.8.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vinhnxv/echo-search/internal/logx"
)

// forbiddenPrefixes are realpath prefixes ECHO_DIR/DB_PATH must never
// resolve under. Grounded on server.py's top-level validation block.
var forbiddenPrefixes = []string{"/etc", "/usr", "/bin", "/sbin", "/var/run", "/proc", "/sys"}

// EchoDir returns the ECHO_DIR environment variable, unvalidated.
func EchoDir() string {
	return os.Getenv("ECHO_DIR")
}

// DBPath returns the DB_PATH environment variable, unvalidated.
func DBPath() string {
	return os.Getenv("DB_PATH")
}

// ClaudeConfigDir returns CLAUDE_CONFIG_DIR, defaulting to ~/.claude.
func ClaudeConfigDir() string {
	if v := os.Getenv("CLAUDE_CONFIG_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

// ValidatePath rejects paths that resolve under a forbidden system
// directory. Called at startup against ECHO_DIR and the DB_PATH's parent.
func ValidatePath(path string) error {
	if path == "" {
		return nil
	}
	real, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(real); err == nil {
		real = resolved
	}
	for _, forbidden := range forbiddenPrefixes {
		if real == forbidden || strings.HasPrefix(real, forbidden+string(filepath.Separator)) {
			return fmt.Errorf("path %q resolves under forbidden directory %q", path, forbidden)
		}
	}
	return nil
}

// ValidateStartup validates ECHO_DIR and DB_PATH are both set and safe.
// Fatal per spec.md §7's "Config-fatal" error taxonomy row.
func ValidateStartup() error {
	echoDir := EchoDir()
	dbPath := DBPath()
	if echoDir == "" {
		return fmt.Errorf("ECHO_DIR environment variable not set")
	}
	if dbPath == "" {
		return fmt.Errorf("DB_PATH environment variable not set")
	}
	if err := ValidatePath(echoDir); err != nil {
		return err
	}
	if err := ValidatePath(filepath.Dir(dbPath)); err != nil {
		return err
	}
	return nil
}

// Weights holds the five composite-score factor weights. Defaults and
// env var names grounded on server.py's _load_scoring_weights.
type Weights struct {
	Relevance  float64
	Importance float64
	Recency    float64
	Proximity  float64
	Frequency  float64
}

// DefaultWeights returns the spec's built-in default weight split.
func DefaultWeights() Weights {
	return Weights{
		Relevance:  0.30,
		Importance: 0.30,
		Recency:    0.20,
		Proximity:  0.10,
		Frequency:  0.10,
	}
}

var scoringWeights = loadScoringWeights()

// ScoringWeights returns the weights loaded once at process startup from
// ECHO_WEIGHT_{RELEVANCE,IMPORTANCE,RECENCY,PROXIMITY,FREQUENCY}.
func ScoringWeights() Weights {
	return scoringWeights
}

func loadScoringWeights() Weights {
	defaults := DefaultWeights()

	envFloat := func(name string, def float64) float64 {
		raw := os.Getenv(name)
		if raw == "" {
			return def
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			logx.Warnf("invalid %s=%q, using default %.2f", name, raw, def)
			return def
		}
		return v
	}

	w := Weights{
		Relevance:  envFloat("ECHO_WEIGHT_RELEVANCE", defaults.Relevance),
		Importance: envFloat("ECHO_WEIGHT_IMPORTANCE", defaults.Importance),
		Recency:    envFloat("ECHO_WEIGHT_RECENCY", defaults.Recency),
		Proximity:  envFloat("ECHO_WEIGHT_PROXIMITY", defaults.Proximity),
		Frequency:  envFloat("ECHO_WEIGHT_FREQUENCY", defaults.Frequency),
	}

	sum := w.Relevance + w.Importance + w.Recency + w.Proximity + w.Frequency
	if sum <= 0 {
		logx.Warnf("scoring weights sum to %.4f, falling back to full defaults", sum)
		return defaults
	}
	if sum < 0.999999 || sum > 1.000001 {
		w.Relevance /= sum
		w.Importance /= sum
		w.Recency /= sum
		w.Proximity /= sum
		w.Frequency /= sum
	}
	return w
}
