package store

import "time"

// UpsertGroupMemberships writes one semantic_groups row per (groupID,
// entryID) pair using INSERT OR REPLACE semantics, matching server.py's
// upsert_semantic_group. similarities must be nil or the same length as
// entryIDs; nil entries default to 0.0.
func (db *DB) UpsertGroupMemberships(groupID string, entryIDs []string, similarities []float64) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
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

	now := time.Now().UTC().Format(timeLayout)
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO semantic_groups (group_id, entry_id, similarity, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for i, id := range entryIDs {
		sim := 0.0
		if similarities != nil && i < len(similarities) {
			sim = similarities[i]
		}
		if _, err := stmt.Exec(groupID, id, sim, now); err != nil {
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return count, nil
}

// GroupIDsForEntries returns the distinct group_ids any of ids belongs to.
// Returns (nil, nil) if the table doesn't exist (pre-V2 schema, matching
// server.py's sqlite3.OperationalError swallow in expand_semantic_groups).
func (db *DB) GroupIDsForEntries(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.conn.Query(
		`SELECT DISTINCT group_id FROM semantic_groups WHERE entry_id IN (`+inClause(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var gid string
		if err := rows.Scan(&gid); err != nil {
			return nil, err
		}
		out = append(out, gid)
	}
	return out, rows.Err()
}

// GroupMembers fetches entries belonging to any of groupIDs that are not
// already in excludeIDs, matching server.py's expand_semantic_groups
// member-fetch query.
func (db *DB) GroupMembers(groupIDs []string, excludeIDs []string) ([]Result, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(groupIDs)+len(excludeIDs))
	for _, g := range groupIDs {
		args = append(args, g)
	}
	sqlStr := `SELECT sg.group_id, e.id, e.source, e.layer, e.role, e.date,
			substr(e.content, 1, 200) AS content_preview,
			e.line_number, e.tags
		FROM semantic_groups sg
		JOIN echo_entries e ON e.id = sg.entry_id
		WHERE sg.group_id IN (` + inClause(len(groupIDs)) + `)`
	if len(excludeIDs) > 0 {
		sqlStr += ` AND sg.entry_id NOT IN (` + inClause(len(excludeIDs)) + `)`
		for _, e := range excludeIDs {
			args = append(args, e)
		}
	}
	rows, err := db.conn.Query(sqlStr, args...)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var groupID string
		var r Result
		if err := rows.Scan(&groupID, &r.ID, &r.Source, &r.Layer, &r.Role, &r.Date, &r.ContentPreview, &r.LineNumber, &r.Tags); err != nil {
			return nil, err
		}
		r.ExpansionSource = "group_expansion"
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllEntriesForGrouping loads every entry's id/content/tags, used as
// input to the Grouper's clustering pass during reindex.
func (db *DB) AllEntriesForGrouping() ([]Entry, error) {
	rows, err := db.conn.Query(`SELECT id, content, tags FROM echo_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Content, &e.Tags); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
