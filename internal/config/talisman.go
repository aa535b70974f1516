package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/vinhnxv/echo-search/internal/logx"
)

// DecompositionConfig toggles query-decomposition via an external subprocess.
type DecompositionConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RerankingConfig toggles LLM reranking via an external subprocess.
type RerankingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Threshold     int     `yaml:"threshold"`
	MaxCandidates int     `yaml:"max_candidates"`
	TimeoutSec    float64 `yaml:"timeout_seconds"`
}

// RetryConfig toggles failed-match retry injection.
type RetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SemanticGroupsConfig toggles semantic-group result expansion.
type SemanticGroupsConfig struct {
	ExpansionEnabled bool    `yaml:"expansion_enabled"`
	Discount         float64 `yaml:"discount"`
	MaxExpansion     int     `yaml:"max_expansion"`
}

// echoesSection is the "echoes:" top-level key of talisman.yml.
type echoesSection struct {
	Decomposition  DecompositionConfig  `yaml:"decomposition"`
	Reranking      RerankingConfig      `yaml:"reranking"`
	Retry          RetryConfig          `yaml:"retry"`
	SemanticGroups SemanticGroupsConfig `yaml:"semantic_groups"`
}

type talismanFile struct {
	Echoes echoesSection `yaml:"echoes"`
}

// Talisman is the resolved, defaulted view of talisman.yml's echoes section.
type Talisman struct {
	Decomposition  DecompositionConfig
	Reranking      RerankingConfig
	Retry          RetryConfig
	SemanticGroups SemanticGroupsConfig
}

func defaultTalisman() Talisman {
	return Talisman{
		Reranking: RerankingConfig{
			Threshold:     25,
			MaxCandidates: 40,
			TimeoutSec:    4.0,
		},
		SemanticGroups: SemanticGroupsConfig{
			Discount:     0.7,
			MaxExpansion: 5,
		},
	}
}

// snapshot is the atomically-swapped immutable config view, per spec.md §9's
// "global-mutable substitution" design note: readers never take a lock.
type snapshot struct {
	path   string
	mtime  time.Time
	config Talisman
}

var current atomic.Pointer[snapshot]

func init() {
	s := &snapshot{config: defaultTalisman()}
	current.Store(s)
}

// talismanPaths returns the search path for talisman.yml: project-level
// (derived from ECHO_DIR, which is <project>/.claude/echoes) first, then
// CLAUDE_CONFIG_DIR/talisman.yml. Grounded on server.py's _load_talisman.
func talismanPaths() []string {
	var paths []string
	if dir := EchoDir(); dir != "" {
		claudeDir := filepath.Dir(strings.TrimRight(dir, string(filepath.Separator)))
		paths = append(paths, filepath.Join(claudeDir, "talisman.yml"))
	}
	paths = append(paths, filepath.Join(ClaudeConfigDir(), "talisman.yml"))
	return paths
}

// LoadTalisman returns the current talisman.yml configuration, re-reading
// it if its mtime has changed since the last load. Returns built-in
// defaults (all enrichment stages disabled) if no talisman.yml is found
// or it fails to parse — matching server.py's "lazy import, empty dict on
// any failure" behavior.
func LoadTalisman() Talisman {
	for _, path := range talismanPaths() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		snap := current.Load()
		if snap.path == path && snap.mtime.Equal(info.ModTime()) {
			return snap.config
		}
		cfg, err := readTalisman(path)
		if err != nil {
			logx.Warnf("talisman.yml at %s: %v", path, err)
			continue
		}
		current.Store(&snapshot{path: path, mtime: info.ModTime(), config: cfg})
		return cfg
	}
	return defaultTalisman()
}

func readTalisman(path string) (Talisman, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Talisman{}, err
	}
	var f talismanFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Talisman{}, err
	}
	cfg := defaultTalisman()
	cfg.Decomposition = f.Echoes.Decomposition
	if f.Echoes.Reranking.Threshold > 0 {
		cfg.Reranking.Threshold = f.Echoes.Reranking.Threshold
	}
	if f.Echoes.Reranking.MaxCandidates > 0 {
		cfg.Reranking.MaxCandidates = f.Echoes.Reranking.MaxCandidates
	}
	if f.Echoes.Reranking.TimeoutSec > 0 {
		cfg.Reranking.TimeoutSec = f.Echoes.Reranking.TimeoutSec
	}
	cfg.Reranking.Enabled = f.Echoes.Reranking.Enabled
	cfg.Retry = f.Echoes.Retry
	cfg.SemanticGroups.ExpansionEnabled = f.Echoes.SemanticGroups.ExpansionEnabled
	cfg.SemanticGroups.Discount = clamp(f.Echoes.SemanticGroups.Discount, 0.0, 1.0, cfg.SemanticGroups.Discount)
	if f.Echoes.SemanticGroups.MaxExpansion > 0 {
		cfg.SemanticGroups.MaxExpansion = clampInt(f.Echoes.SemanticGroups.MaxExpansion, 1, 50)
	}
	return cfg, nil
}

func clamp(v, lo, hi, def float64) float64 {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WatchTalisman starts an fsnotify watch on the directory containing
// talisman.yml and refreshes the atomically-swapped snapshot on write
// events, so concurrent readers never block on a reload. Adapted from
// the teacher's internal/watcher vault-watching pattern, repurposed here
// for a single config file rather than a tree of markdown files. Best
// effort: a failure to establish the watch just leaves the per-call
// mtime poll in LoadTalisman as the (slower) fallback path.
func WatchTalisman() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logx.Warnf("talisman watch disabled: %v", err)
		return
	}
	for _, path := range talismanPaths() {
		dir := filepath.Dir(path)
		if err := w.Add(dir); err == nil {
			break
		}
	}
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != "talisman.yml" {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					LoadTalisman()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}
