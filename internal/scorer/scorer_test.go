package scorer

import (
	"testing"
	"time"

	"github.com/vinhnxv/echo-search/internal/config"
	"github.com/vinhnxv/echo-search/internal/store"
)

func TestBuildFTSQuery(t *testing.T) {
	got := BuildFTSQuery("the SQLite busy timeout and the retry logic")
	want := "sqlite OR busy OR timeout OR retry OR logic"
	if got != want {
		t.Errorf("BuildFTSQuery() = %q, want %q", got, want)
	}
}

func TestBuildFTSQueryAllStopwordsFallsBack(t *testing.T) {
	got := BuildFTSQuery("the it is")
	if got == "" {
		t.Error("expected a fallback query instead of empty string")
	}
}

func TestBuildFTSQueryEmpty(t *testing.T) {
	if got := BuildFTSQuery("a"); got != "" {
		t.Errorf("expected empty result for single short token, got %q", got)
	}
}

func TestExtractEvidencePaths(t *testing.T) {
	content := "See `internal/store/db.go` and also `cmd/echo-search/main.go` for details."
	paths := ExtractEvidencePaths(content, "role:backend")
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
	if paths[0] != "internal/store/db.go" {
		t.Errorf("unexpected first path: %q", paths[0])
	}
}

func TestExtractEvidencePathsSkipsBareFilenames(t *testing.T) {
	content := "See `internal/store/db.go` but also `config.yml` which isn't a path."
	paths := ExtractEvidencePaths(content, "role:backend")
	if len(paths) != 1 || paths[0] != "internal/store/db.go" {
		t.Fatalf("expected bare filename config.yml excluded, got %v", paths)
	}
}

func TestExtractEvidencePathsFromSource(t *testing.T) {
	paths := ExtractEvidencePaths("no backtick paths here", "internal/mcp/server.go")
	if len(paths) != 1 || paths[0] != "internal/mcp/server.go" {
		t.Fatalf("expected source-derived path, got %v", paths)
	}
}

func TestScoreImportance(t *testing.T) {
	cases := map[string]float64{
		"etched":       1.0,
		"notes":        0.8,
		"inscribed":    0.6,
		"observations": 0.4,
		"traced":       0.3,
		"unknown":      0.3,
	}
	for layer, want := range cases {
		if got := ScoreImportance(layer); got != want {
			t.Errorf("ScoreImportance(%q) = %v, want %v", layer, got, want)
		}
	}
}

func TestScoreRecency(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	if got := ScoreRecency("", now); got != 0.0 {
		t.Errorf("expected 0.0 for empty date, got %v", got)
	}
	if got := ScoreRecency("not-a-date", now); got != 0.0 {
		t.Errorf("expected 0.0 for malformed date, got %v", got)
	}
	fresh := ScoreRecency(now.Format("2006-01-02T15:04:05Z"), now)
	if fresh != 1.0 {
		t.Errorf("expected recency 1.0 for same-day entry, got %v", fresh)
	}
	old := ScoreRecency(now.Add(-30*24*time.Hour).Format("2006-01-02T15:04:05Z"), now)
	if old < 0.49 || old > 0.51 {
		t.Errorf("expected ~0.5 recency at 30-day half life, got %v", old)
	}
}

func TestComputeFileProximity(t *testing.T) {
	if got := ComputeFileProximity([]string{"internal/store/db.go"}, []string{"internal/store/db.go"}); got != 1.0 {
		t.Errorf("exact match: got %v, want 1.0", got)
	}
	if got := ComputeFileProximity([]string{"internal/store/db.go"}, []string{"internal/store/entries.go"}); got != 0.8 {
		t.Errorf("same dir: got %v, want 0.8", got)
	}
	// One shared part out of three, evaluated in float64 like the scorer
	// does (an untyped constant expression would be exact 1/3 instead).
	shared, depth := 1.0, 3.0
	if got := ComputeFileProximity([]string{"internal/store/db.go"}, []string{"internal/mcp/server.go"}); got != 0.2+0.4*(shared/depth) {
		t.Errorf("shared prefix: got %v", got)
	}
	if got := ComputeFileProximity([]string{"internal/store/db.go"}, []string{"cmd/echo-search/main.go"}); got != 0.0 {
		t.Errorf("no relation: got %v, want 0.0", got)
	}
	if got := ComputeFileProximity(nil, []string{"x"}); got != 0.0 {
		t.Errorf("empty evidence: got %v, want 0.0", got)
	}
}

func TestComputeComposite(t *testing.T) {
	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	results := []store.Result{
		{ID: "a", Score: -5.0, Layer: "etched", Date: now, ContentPreview: "`internal/x/a.go`"},
		{ID: "b", Score: -1.0, Layer: "observations", Date: now, ContentPreview: "`internal/x/b.go`"},
	}
	scored := ComputeComposite(results, config.DefaultWeights(), map[string]int{"a": 5}, []string{"internal/x/a.go"})
	if scored[0].ID != "a" {
		t.Fatalf("expected a to rank first given relevance+importance+proximity+frequency edge, got %+v", scored)
	}
}

func TestComputeCompositeSingleResultFullRelevance(t *testing.T) {
	results := []store.Result{{ID: "a", Score: -3.5, Layer: "notes"}}
	w := config.DefaultWeights()
	scored := ComputeComposite(results, w, nil, nil)
	if len(scored) != 1 {
		t.Fatalf("expected 1 result, got %d", len(scored))
	}
	// No date, context files or access counts: only relevance and
	// importance contribute, and relevance must be the full 1.0.
	if want := w.Relevance*1.0 + w.Importance*ScoreImportance("notes"); scored[0].CompositeScore != want {
		t.Errorf("expected composite %v (relevance 1.0), got %v", want, scored[0].CompositeScore)
	}
}

func TestComputeTokenFingerprintStableUnderReorderAndCase(t *testing.T) {
	a := ComputeTokenFingerprint("SQLite Busy Timeout")
	b := ComputeTokenFingerprint("busy timeout sqlite")
	if a != b {
		t.Errorf("expected fingerprints to match regardless of order/case: %q vs %q", a, b)
	}
	c := ComputeTokenFingerprint("something else entirely")
	if a == c {
		t.Errorf("expected distinct fingerprints for distinct queries")
	}
}
