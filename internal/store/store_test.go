package store

import (
	"fmt"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedEntries(t *testing.T, db *DB) []Entry {
	t.Helper()
	entries := []Entry{
		{ID: "e1", Role: "backend", Layer: "etched", Date: "2026-01-01T00:00:00Z", Source: "internal/store/db.go", Content: "sqlite busy timeout prevents SQLITE_BUSY errors", Tags: "sqlite", LineNumber: 3, FilePath: "/echoes/backend/MEMORY.md"},
		{ID: "e2", Role: "backend", Layer: "observations", Date: "2026-02-01T00:00:00Z", Source: "internal/mcp/server.go", Content: "cobra root command needs explicit Execute call", Tags: "cobra", LineNumber: 9, FilePath: "/echoes/backend/MEMORY.md"},
	}
	if _, err := db.RebuildIndex(entries); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	return entries
}

func TestRebuildIndexAndSearch(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	results, err := db.SearchEntries("sqlite", 10, "", "")
	if err != nil {
		t.Fatalf("SearchEntries: %v", err)
	}
	if len(results) != 1 || results[0].ID != "e1" {
		t.Fatalf("expected e1, got %+v", results)
	}
}

func TestSearchEntriesFilters(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	results, err := db.SearchEntries("cobra OR sqlite", 10, "observations", "")
	if err != nil {
		t.Fatalf("SearchEntries: %v", err)
	}
	if len(results) != 1 || results[0].ID != "e2" {
		t.Fatalf("expected only e2 under layer filter, got %+v", results)
	}
}

func TestSearchEntriesEmptyQuery(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)
	results, err := db.SearchEntries("", 10, "", "")
	if err != nil {
		t.Fatalf("SearchEntries: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results for empty query, got %+v", results)
	}
}

func TestGetDetailsCapsAt100(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	details, err := db.GetDetails([]string{"e1", "e2", "missing"})
	if err != nil {
		t.Fatalf("GetDetails: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 matched details, got %d", len(details))
	}

	// Only the first 100 ids are looked up: e2 at position 120 is dropped.
	ids := []string{"e1"}
	for len(ids) < 120 {
		ids = append(ids, fmt.Sprintf("missing-%d", len(ids)))
	}
	ids = append(ids, "e2")
	details, err = db.GetDetails(ids)
	if err != nil {
		t.Fatalf("GetDetails over cap: %v", err)
	}
	if len(details) != 1 || details[0].ID != "e1" {
		t.Fatalf("expected only e1 within the 100-id cap, got %+v", details)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalEntries != 2 {
		t.Errorf("expected 2 total entries, got %d", stats.TotalEntries)
	}
	if stats.ByLayer["etched"] != 1 || stats.ByLayer["observations"] != 1 {
		t.Errorf("unexpected layer breakdown: %+v", stats.ByLayer)
	}
	if stats.LastIndexed == "" {
		t.Errorf("expected last_indexed to be set after RebuildIndex")
	}
}

func TestRecordAccessAndGetAccessCounts(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	if err := db.RecordAccess([]string{"e1", "e1", "e2"}, "sqlite busy"); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	counts, err := db.GetAccessCounts([]string{"e1", "e2"})
	if err != nil {
		t.Fatalf("GetAccessCounts: %v", err)
	}
	if counts["e1"] != 2 {
		t.Errorf("expected e1 access count 2, got %d", counts["e1"])
	}
	if counts["e2"] != 1 {
		t.Errorf("expected e2 access count 1, got %d", counts["e2"])
	}
}

func TestUpsertGroupMembershipsAndExpansion(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	n, err := db.UpsertGroupMemberships("grp_1", []string{"e1", "e2"}, []float64{0.9, 0.8})
	if err != nil {
		t.Fatalf("UpsertGroupMemberships: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows written, got %d", n)
	}

	groupIDs, err := db.GroupIDsForEntries([]string{"e1"})
	if err != nil {
		t.Fatalf("GroupIDsForEntries: %v", err)
	}
	if len(groupIDs) != 1 || groupIDs[0] != "grp_1" {
		t.Fatalf("expected [grp_1], got %v", groupIDs)
	}

	members, err := db.GroupMembers(groupIDs, []string{"e1"})
	if err != nil {
		t.Fatalf("GroupMembers: %v", err)
	}
	if len(members) != 1 || members[0].ID != "e2" {
		t.Fatalf("expected only e2 excluding e1, got %+v", members)
	}

	// No exclusions at all must not produce invalid SQL.
	all, err := db.GroupMembers(groupIDs, nil)
	if err != nil {
		t.Fatalf("GroupMembers with nil excludeIDs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both members back, got %+v", all)
	}
}

func TestSearchFailureLifecycle(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	if err := db.RecordSearchFailure("e1", "fp1"); err != nil {
		t.Fatalf("RecordSearchFailure: %v", err)
	}
	candidates, err := db.GetRetryEntries("fp1", nil)
	if err != nil {
		t.Fatalf("GetRetryEntries: %v", err)
	}
	if len(candidates) != 1 || candidates[0].EntryID != "e1" {
		t.Fatalf("expected retry candidate e1, got %+v", candidates)
	}

	if err := db.ResetFailureOnMatch("e1", "fp1"); err != nil {
		t.Fatalf("ResetFailureOnMatch: %v", err)
	}
	candidates, err = db.GetRetryEntries("fp1", nil)
	if err != nil {
		t.Fatalf("GetRetryEntries after reset: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no retry candidates after reset, got %+v", candidates)
	}
}

func TestSearchFailureExhaustsAfterMaxRetries(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	for i := 0; i < FailureMaxRetries+2; i++ {
		if err := db.RecordSearchFailure("e1", "fp1"); err != nil {
			t.Fatalf("RecordSearchFailure iteration %d: %v", i, err)
		}
	}
	var retryCount int
	if err := db.Conn().QueryRow(`SELECT retry_count FROM echo_search_failures WHERE entry_id = 'e1'`).Scan(&retryCount); err != nil {
		t.Fatalf("query retry_count: %v", err)
	}
	if retryCount != FailureMaxRetries {
		t.Errorf("expected retry_count capped at %d, got %d", FailureMaxRetries, retryCount)
	}
}

func TestCleanupAgedFailures(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	old := time.Now().UTC().Add(-40 * 24 * time.Hour).Format(timeLayout)
	if _, err := db.Conn().Exec(
		`INSERT INTO echo_search_failures (entry_id, token_fingerprint, retry_count, first_failed_at) VALUES (?, ?, 0, ?)`,
		"e1", "stale", old,
	); err != nil {
		t.Fatalf("seed stale failure: %v", err)
	}

	n, err := db.CleanupAgedFailures()
	if err != nil {
		t.Fatalf("CleanupAgedFailures: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row cleaned up, got %d", n)
	}
}

func TestObservationsEntries(t *testing.T) {
	db := openTestDB(t)
	seedEntries(t, db)

	candidates, err := db.ObservationsEntries()
	if err != nil {
		t.Fatalf("ObservationsEntries: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "e2" {
		t.Fatalf("expected only e2, got %+v", candidates)
	}
}

func TestIntegrityCheck(t *testing.T) {
	db := openTestDB(t)
	if err := db.IntegrityCheck(); err != nil {
		t.Fatalf("IntegrityCheck: %v", err)
	}
}
