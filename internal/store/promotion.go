package store

// PromotionCandidate is an Observations-layer entry eligible for
// access-count-driven promotion to Inscribed (spec.md §4.6).
type PromotionCandidate struct {
	ID         string
	FilePath   string
	LineNumber int
}

// ObservationsEntries returns every entry currently on the "observations"
// layer. EDGE-022: filtering by layer, not a promoted flag, makes
// promotion idempotent — already-promoted entries carry layer=inscribed
// and simply stop matching.
func (db *DB) ObservationsEntries() ([]PromotionCandidate, error) {
	rows, err := db.conn.Query(`SELECT id, file_path, line_number FROM echo_entries WHERE layer = 'observations'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PromotionCandidate
	for rows.Next() {
		var c PromotionCandidate
		if err := rows.Scan(&c.ID, &c.FilePath, &c.LineNumber); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
