package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Entry is a parsed echo entry, matching spec.md §3.1's field set.
type Entry struct {
	ID         string
	Role       string
	Layer      string
	Date       string
	Source     string
	Content    string
	Tags       string
	LineNumber int
	FilePath   string
}

// Result is a search-result row: an entry plus its raw BM25 score and a
// 200-char content preview, matching server.py's search_entries row shape.
type Result struct {
	ID              string
	Source          string
	Layer           string
	Role            string
	Date            string
	ContentPreview  string
	Content         string // full content; the store's queries leave it empty and fill only ContentPreview
	LineNumber      int
	Tags            string
	Score           float64 // raw bm25(), more negative = more relevant
	CompositeScore  float64
	RetrySource     bool
	ExpansionSource string
	Flagged         bool `json:"flagged"`
}

// EntryDetail is the full-content row returned by echo_details.
type EntryDetail struct {
	ID          string
	Source      string
	Layer       string
	Role        string
	FullContent string
	Date        string
	Tags        string
	LineNumber  int
	FilePath    string
}

// Stats summarizes the current index, matching echo_stats's output shape.
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	ByLayer      map[string]int `json:"by_layer"`
	ByRole       map[string]int `json:"by_role"`
	LastIndexed  string         `json:"last_indexed"`
}

// RebuildIndex replaces the full echo_entries table with entries,
// rebuilds the FTS5 index, and prunes stale access-log/search-failure
// rows. Runs inside a single transaction for crash safety, grounded on
// server.py's rebuild_index (including the EDGE-007/EDGE-010/EDGE-020
// prunings restored per SPEC_FULL.md §4).
func (db *DB) RebuildIndex(entries []Entry) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.Exec("DELETE FROM echo_entries"); err != nil {
		return 0, err
	}
	if _, err := tx.Exec("INSERT INTO echo_entries_fts(echo_entries_fts) VALUES('delete-all')"); err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO echo_entries
		(id, role, layer, date, source, content, tags, line_number, file_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.Exec(e.ID, e.Role, e.Layer, e.Date, e.Source, e.Content, e.Tags, e.LineNumber, e.FilePath); err != nil {
			return 0, fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	if _, err := tx.Exec("INSERT INTO echo_entries_fts(echo_entries_fts) VALUES('rebuild')"); err != nil {
		return 0, err
	}

	// EDGE-007: orphan cleanup — access-log rows for entries that no longer exist.
	if _, err := tx.Exec(`DELETE FROM echo_access_log WHERE entry_id NOT IN (SELECT id FROM echo_entries)`); err != nil {
		return 0, err
	}
	// EDGE-010: age-based pruning — access-log rows older than 180 days.
	cutoff := time.Now().UTC().Add(-180 * 24 * time.Hour).Format(timeLayout)
	if _, err := tx.Exec(`DELETE FROM echo_access_log WHERE accessed_at < ?`, cutoff); err != nil {
		return 0, err
	}

	// EDGE-020: aged-out + orphaned search failures.
	failureCutoff := time.Now().UTC().Add(-30 * 24 * time.Hour).Format(timeLayout)
	_, _ = tx.Exec(`DELETE FROM echo_search_failures WHERE first_failed_at < ?`, failureCutoff)
	_, _ = tx.Exec(`DELETE FROM echo_search_failures WHERE entry_id NOT IN (SELECT id FROM echo_entries)`)

	now := time.Now().UTC().Format(timeLayout)
	if _, err := tx.Exec(`INSERT OR REPLACE INTO echo_meta (key, value) VALUES ('last_indexed', ?)`, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return len(entries), nil
}

const timeLayout = "2006-01-02T15:04:05Z"

// SearchEntries runs an FTS5 bm25-ranked search over fts, matching
// server.py's search_entries. Callers must pass an FTS query already
// sanitized by BuildFTSQuery.
func (db *DB) SearchEntries(ftsQuery string, limit int, layer, role string) ([]Result, error) {
	if ftsQuery == "" {
		return nil, nil
	}
	sqlStr := `SELECT
			e.id, e.source, e.layer, e.role, e.date,
			substr(e.content, 1, 200) AS content_preview,
			e.line_number, e.tags,
			bm25(echo_entries_fts) AS score
		FROM echo_entries_fts f
		JOIN echo_entries e ON e.rowid = f.rowid
		WHERE echo_entries_fts MATCH ?`
	args := []any{ftsQuery}
	if layer != "" {
		sqlStr += " AND e.layer = ?"
		args = append(args, layer)
	}
	if role != "" {
		sqlStr += " AND e.role = ?"
		args = append(args, role)
	}
	sqlStr += " ORDER BY bm25(echo_entries_fts) ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Source, &r.Layer, &r.Role, &r.Date, &r.ContentPreview, &r.LineNumber, &r.Tags, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetDetails fetches full content for up to 100 entry IDs (SEC-002 cap,
// matching server.py's get_details).
func (db *DB) GetDetails(ids []string) ([]EntryDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > 100 {
		ids = ids[:100]
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	sqlStr := fmt.Sprintf(`SELECT id, source, layer, role, content AS full_content,
		date, tags, line_number, file_path
		FROM echo_entries WHERE id IN (%s)`, inClause(len(ids)))
	rows, err := db.conn.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntryDetail
	for rows.Next() {
		var d EntryDetail
		if err := rows.Scan(&d.ID, &d.Source, &d.Layer, &d.Role, &d.FullContent, &d.Date, &d.Tags, &d.LineNumber, &d.FilePath); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetStats summarizes the current index, matching server.py's get_stats.
func (db *DB) GetStats() (Stats, error) {
	stats := Stats{ByLayer: map[string]int{}, ByRole: map[string]int{}}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM echo_entries").Scan(&stats.TotalEntries); err != nil {
		return stats, err
	}
	if err := scanCounts(db.conn, "SELECT layer, COUNT(*) FROM echo_entries GROUP BY layer", stats.ByLayer); err != nil {
		return stats, err
	}
	if err := scanCounts(db.conn, "SELECT role, COUNT(*) FROM echo_entries GROUP BY role", stats.ByRole); err != nil {
		return stats, err
	}
	var lastIndexed sql.NullString
	err := db.conn.QueryRow(`SELECT value FROM echo_meta WHERE key='last_indexed'`).Scan(&lastIndexed)
	if err == nil {
		stats.LastIndexed = lastIndexed.String
	} else if err != sql.ErrNoRows {
		return stats, err
	}
	return stats, nil
}

func scanCounts(conn *sql.DB, query string, dest map[string]int) error {
	rows, err := conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dest[key] = count
	}
	return rows.Err()
}
