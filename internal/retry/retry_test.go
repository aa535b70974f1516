package retry

import (
	"testing"

	"github.com/vinhnxv/echo-search/internal/config"
	"github.com/vinhnxv/echo-search/internal/store"
)

func seedEntry(t *testing.T, db *store.DB, id string) {
	t.Helper()
	if _, err := db.RebuildIndex([]store.Entry{
		{ID: id, Role: "backend", Layer: "traced", Content: "flaky retry logic for websocket reconnect", FilePath: "/x/MEMORY.md"},
	}); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
}

func TestRecordFailureAndInject(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	seedEntry(t, db, "e1")

	if err := RecordFailure(db, Fingerprint("websocket reconnect"), []string{"e1"}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	// A later search for the same normalized query, with no fresh matches,
	// should pick e1 back up as a retry candidate.
	injected, err := Inject(db, "reconnect websocket", nil, config.DefaultWeights(), nil)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if len(injected) != 1 || injected[0].ID != "e1" {
		t.Fatalf("expected e1 injected as retry candidate, got %+v", injected)
	}
	if !injected[0].RetrySource {
		t.Errorf("expected RetrySource=true on injected result")
	}
	if injected[0].Score != syntheticRetryScore {
		t.Errorf("expected synthetic bm25 score %v, got %v", syntheticRetryScore, injected[0].Score)
	}
	if injected[0].CompositeScore < 0.0 || injected[0].CompositeScore > 1.0 {
		t.Errorf("expected composite score in [0,1], got %v", injected[0].CompositeScore)
	}
}

func TestInjectSkipsAlreadyMatched(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	seedEntry(t, db, "e1")

	if err := RecordFailure(db, Fingerprint("websocket reconnect"), []string{"e1"}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	fresh := []store.Result{{ID: "e1", CompositeScore: 0.9}}
	injected, err := Inject(db, "websocket reconnect", fresh, config.DefaultWeights(), nil)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if len(injected) != 1 {
		t.Fatalf("expected e1 not duplicated, got %+v", injected)
	}
}

func TestRecordOutcomeClearsFailure(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	seedEntry(t, db, "e1")

	fp := Fingerprint("websocket reconnect")
	if err := RecordFailure(db, fp, []string{"e1"}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := RecordOutcome(db, fp, []string{"e1"}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	injected, err := Inject(db, "websocket reconnect", nil, config.DefaultWeights(), nil)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if len(injected) != 0 {
		t.Fatalf("expected no retry candidates after outcome reset, got %+v", injected)
	}
}

func TestFingerprintEmptyForStopwordsOnly(t *testing.T) {
	if got := Fingerprint("the a an"); got != "" {
		t.Errorf("expected empty fingerprint for all-stopword query, got %q", got)
	}
}
