package store

import "time"

const (
	// FailureMaxRetries caps retry_count before an entry is considered exhausted.
	FailureMaxRetries = 3
	// FailureMaxAgeDays bounds how long a failure record stays eligible for retry.
	FailureMaxAgeDays = 30
)

// RecordSearchFailure inserts a new failure row for (entryID, fingerprint)
// or increments its retry_count, up to FailureMaxRetries. Ages from the
// first failure, not the last retry, matching server.py's EDGE-018 note.
func (db *DB) RecordSearchFailure(entryID, fingerprint string) error {
	if entryID == "" || fingerprint == "" {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	var id string
	var retryCount int
	err := db.conn.QueryRow(
		`SELECT id, retry_count FROM echo_search_failures WHERE entry_id = ? AND token_fingerprint = ?`,
		entryID, fingerprint,
	).Scan(&id, &retryCount)
	switch {
	case err != nil:
		_, err = db.conn.Exec(
			`INSERT INTO echo_search_failures (entry_id, token_fingerprint, retry_count, first_failed_at, last_retried_at)
			 VALUES (?, ?, 0, ?, NULL)`,
			entryID, fingerprint, now,
		)
		return err
	case retryCount < FailureMaxRetries:
		_, err = db.conn.Exec(
			`UPDATE echo_search_failures SET retry_count = retry_count + 1, last_retried_at = ? WHERE id = ?`,
			now, id,
		)
		return err
	default:
		return nil // exhausted, leave as-is
	}
}

// ResetFailureOnMatch removes the failure record for an entry+fingerprint
// pair once it has been successfully matched again (EDGE-017).
func (db *DB) ResetFailureOnMatch(entryID, fingerprint string) error {
	if entryID == "" || fingerprint == "" {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`DELETE FROM echo_search_failures WHERE entry_id = ? AND token_fingerprint = ?`,
		entryID, fingerprint,
	)
	return err
}

// RetryCandidate is a failure-table row joined against its echo entry,
// ready to be scored and merged into primary search results.
type RetryCandidate struct {
	EntryID        string
	Source         string
	Layer          string
	Role           string
	Date           string
	ContentPreview string
	LineNumber     int
	Tags           string
	RetryCount     int
}

// GetRetryEntries returns failure-tracked entries eligible for retry:
// matching fingerprint, under FailureMaxRetries, and failed within
// FailureMaxAgeDays. matchedIDs are excluded to avoid duplicates.
func (db *DB) GetRetryEntries(fingerprint string, matchedIDs []string) ([]RetryCandidate, error) {
	if fingerprint == "" {
		return nil, nil
	}
	cutoff := time.Now().UTC().Add(-FailureMaxAgeDays * 24 * time.Hour).Format(timeLayout)

	sqlStr := `SELECT f.entry_id, e.source, e.layer, e.role, e.date,
			substr(e.content, 1, 200) AS content_preview,
			e.line_number, e.tags, f.retry_count
		FROM echo_search_failures f
		JOIN echo_entries e ON e.id = f.entry_id
		WHERE f.token_fingerprint = ? AND f.retry_count < ? AND f.first_failed_at >= ?`
	args := []any{fingerprint, FailureMaxRetries, cutoff}
	if len(matchedIDs) > 0 {
		sqlStr += ` AND f.entry_id NOT IN (` + inClause(len(matchedIDs)) + `)`
		for _, id := range matchedIDs {
			args = append(args, id)
		}
	}

	rows, err := db.conn.Query(sqlStr, args...)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var out []RetryCandidate
	for rows.Next() {
		var c RetryCandidate
		if err := rows.Scan(&c.EntryID, &c.Source, &c.Layer, &c.Role, &c.Date, &c.ContentPreview, &c.LineNumber, &c.Tags, &c.RetryCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CleanupAgedFailures removes failure rows older than FailureMaxAgeDays.
// Called unconditionally at reindex time and probabilistically (1%) per
// search call, matching server.py's cleanup_aged_failures.
func (db *DB) CleanupAgedFailures() (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cutoff := time.Now().UTC().Add(-FailureMaxAgeDays * 24 * time.Hour).Format(timeLayout)
	res, err := db.conn.Exec(`DELETE FROM echo_search_failures WHERE first_failed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
