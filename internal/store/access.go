package store

import "time"

const (
	maxAccessLogRows  = 100_000
	pruneToNewestRows = 90_000
	maxQueryLogLen    = 500
	// accessCountBatchCap bounds the IN-clause used to batch-fetch access
	// counts. Intentional per spec.md §9's resolved Open Question:
	// implementers must not exceed it without explicit configuration.
	accessCountBatchCap = 200
)

// RecordAccess synchronously inserts one echo_access_log row per entry
// ID, then prunes the table to its 90k newest rows if it has grown past
// 100k. Called by echo_search before it replies, so the access an entry
// just received is visible to the very next query's frequency scoring,
// and by echo_record_access. Grounded on server.py's _record_access.
func (db *DB) RecordAccess(entryIDs []string, query string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	if len(query) > maxQueryLogLen {
		query = query[:maxQueryLogLen]
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC().Format(timeLayout)
	stmt, err := tx.Prepare(`INSERT INTO echo_access_log (entry_id, accessed_at, query) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	for _, id := range entryIDs {
		if id == "" {
			continue
		}
		if _, err := stmt.Exec(id, now, query); err != nil {
			stmt.Close()
			return err
		}
	}
	stmt.Close()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM echo_access_log").Scan(&count); err != nil {
		return err
	}
	if count > maxAccessLogRows {
		if _, err := tx.Exec(`DELETE FROM echo_access_log WHERE id NOT IN (
			SELECT id FROM echo_access_log ORDER BY id DESC LIMIT ?
		)`, pruneToNewestRows); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetAccessCounts batch-fetches access counts for up to 200 entry IDs
// (accessCountBatchCap), used by frequency scoring.
func (db *DB) GetAccessCounts(ids []string) (map[string]int, error) {
	counts := map[string]int{}
	if len(ids) == 0 {
		return counts, nil
	}
	if len(ids) > accessCountBatchCap {
		ids = ids[:accessCountBatchCap]
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.conn.Query(
		`SELECT entry_id, COUNT(*) FROM echo_access_log WHERE entry_id IN (`+inClause(len(ids))+`) GROUP BY entry_id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
