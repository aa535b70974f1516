// Package retry tracks queries that matched nothing useful and re-injects
// their previously-associated entries into later searches that share the
// same token fingerprint (C5). Grounded on server.py's search-failure
// bookkeeping and spec.md §4.5.
package retry

import (
	"github.com/vinhnxv/echo-search/internal/config"
	"github.com/vinhnxv/echo-search/internal/scorer"
	"github.com/vinhnxv/echo-search/internal/store"
)

// syntheticRetryScore is the synthetic raw BM25 score assigned to
// retry-injected rows before composite scoring. Inject scores the retry
// rows as a batch of their own, in which every row carries this same
// score, so each of them gets relevance 1.0.
const syntheticRetryScore = -1.2

// RecordOutcome updates failure tracking for a completed search: entries
// that matched fresh (in matchedIDs) have their failure record for this
// fingerprint cleared, everything else tracked under the fingerprint
// stays untouched by this call — failures are only recorded when the
// caller decides the search was unproductive (see RecordFailure).
func RecordOutcome(db *store.DB, fingerprint string, matchedIDs []string) error {
	if fingerprint == "" {
		return nil
	}
	for _, id := range matchedIDs {
		if err := db.ResetFailureOnMatch(id, fingerprint); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure tracks a query fingerprint against a candidate entry set
// a caller has judged unproductive (e.g. zero results, or a result set
// the user re-searched immediately after). Grounded on server.py's
// behavior of tracking failures per (entry, fingerprint) pair rather
// than per bare query, so a retry only fires once the same entry has
// repeatedly failed to satisfy the same normalized query.
func RecordFailure(db *store.DB, fingerprint string, candidateIDs []string) error {
	if fingerprint == "" {
		return nil
	}
	for _, id := range candidateIDs {
		if err := db.RecordSearchFailure(id, fingerprint); err != nil {
			return err
		}
	}
	return nil
}

// Inject fetches retry-eligible entries for query's fingerprint, runs
// them through the same five-factor composite scoring as everything
// else (seeded with the synthetic BM25 floor instead of a real bm25()
// value), and appends them to matched — deduping by entry ID against
// what's already present, since a genuine fresh match always wins that
// dedup regardless of how its composite compares to the retry row's.
func Inject(db *store.DB, query string, matched []store.Result, weights config.Weights, contextFiles []string) ([]store.Result, error) {
	fingerprint := scorer.ComputeTokenFingerprint(query)
	if fingerprint == "" {
		return matched, nil
	}

	matchedIDs := make([]string, len(matched))
	present := make(map[string]bool, len(matched))
	for i, r := range matched {
		matchedIDs[i] = r.ID
		present[r.ID] = true
	}

	candidates, err := db.GetRetryEntries(fingerprint, matchedIDs)
	if err != nil {
		return matched, err
	}

	var injected []store.Result
	for _, c := range candidates {
		if present[c.EntryID] {
			continue
		}
		present[c.EntryID] = true
		injected = append(injected, store.Result{
			ID:             c.EntryID,
			Source:         c.Source,
			Layer:          c.Layer,
			Role:           c.Role,
			Date:           c.Date,
			ContentPreview: c.ContentPreview,
			LineNumber:     c.LineNumber,
			Tags:           c.Tags,
			Score:          syntheticRetryScore,
			RetrySource:    true,
		})
	}
	if len(injected) == 0 {
		return matched, nil
	}

	injectedIDs := make([]string, len(injected))
	for i, r := range injected {
		injectedIDs[i] = r.ID
	}
	accessCounts, err := db.GetAccessCounts(injectedIDs)
	if err != nil {
		return matched, err
	}
	injected = scorer.ComputeComposite(injected, weights, accessCounts, contextFiles)

	return append(matched, injected...), nil
}

// Fingerprint exposes scorer.ComputeTokenFingerprint under the retry
// package so pipeline code needs only one import for failure bookkeeping.
func Fingerprint(query string) string {
	return scorer.ComputeTokenFingerprint(query)
}

// Cleanup removes failure rows older than store.FailureMaxAgeDays,
// called unconditionally at reindex time per spec.md §9.
func Cleanup(db *store.DB) (int64, error) {
	return db.CleanupAgedFailures()
}
