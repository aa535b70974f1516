// Package promoter rewrites MEMORY.md files in place to promote
// frequently-accessed Observations entries to Inscribed (C6), so a
// learning that keeps proving useful graduates out of the low-trust
// layer. Grounded on server.py's _check_promotions/_promote_observations_in_file
// and spec.md §4.6.
package promoter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vinhnxv/echo-search/internal/signal"
	"github.com/vinhnxv/echo-search/internal/store"
)

// accessThreshold is the minimum access_count an Observations entry
// needs before it's eligible for promotion.
const accessThreshold = 3

// maxLineDrift bounds how far promoteObservationsInFile will scan past
// an entry's recorded line number to find its header, tolerating edits
// made to the file since the entry was last indexed.
const maxLineDrift = 10

// observationsHeaderRE recognizes an Observations-layer H2 header,
// mirroring the indexer's header grammar but anchored to one layer.
var observationsHeaderRE = regexp.MustCompile(`^(##\s+)Observations(\s+[—–-]\s+.+?\s+\(\d{4}-\d{2}-\d{2}\)\s*)$`)

// CheckPromotions finds Observations entries accessed at least
// accessThreshold times, rewrites their source files to promote them to
// Inscribed, and raises the dirty signal if anything changed. Returns
// the number of entries promoted.
func CheckPromotions(db *store.DB, echoDir string) (int, error) {
	candidates, err := db.ObservationsEntries()
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	counts, err := db.GetAccessCounts(ids)
	if err != nil {
		return 0, err
	}

	byFile := map[string][]store.PromotionCandidate{}
	for _, c := range candidates {
		if counts[c.ID] < accessThreshold {
			continue
		}
		byFile[c.FilePath] = append(byFile[c.FilePath], c)
	}
	if len(byFile) == 0 {
		return 0, nil
	}

	echoReal, err := filepath.EvalSymlinks(echoDir)
	if err != nil {
		echoReal = echoDir
	}

	total := 0
	for path, fileCandidates := range byFile {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			real = path
		}
		if !strings.HasPrefix(real, echoReal+string(filepath.Separator)) && real != echoReal {
			continue // EDGE: refuse to rewrite anything outside the echo tree
		}
		n, err := promoteObservationsInFile(path, fileCandidates)
		if err != nil {
			return total, fmt.Errorf("promote %s: %w", path, err)
		}
		total += n
	}
	if total > 0 {
		signal.Raise(echoDir)
	}
	return total, nil
}

// promoteObservationsInFile rewrites one MEMORY.md file, turning every
// eligible candidate's "## Observations — ..." header into
// "## Inscribed — ...". Each candidate's recorded line number is tried
// first; if the file has drifted since indexing, the header is searched
// for within ±maxLineDrift lines, preferring the closest match. Already-
// promoted line indices are tracked so two candidates never claim the
// same header. Writes via a temp file in the same directory plus an
// atomic rename, so a crash mid-write never leaves a half-rewritten
// MEMORY.md behind.
func promoteObservationsInFile(path string, candidates []store.PromotionCandidate) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	trailingNewline := strings.HasSuffix(string(raw), "\n")
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")

	promotedIdx := map[int]bool{}
	promoted := 0

	for _, c := range candidates {
		idx := c.LineNumber - 1
		if found := tryPromoteAt(lines, idx, promotedIdx); found {
			promoted++
			continue
		}
		for delta := 1; delta <= maxLineDrift; delta++ {
			if tryPromoteAt(lines, idx+delta, promotedIdx) {
				promoted++
				break
			}
			if tryPromoteAt(lines, idx-delta, promotedIdx) {
				promoted++
				break
			}
		}
	}

	if promoted == 0 {
		return 0, nil
	}

	out := strings.Join(lines, "\n")
	if trailingNewline {
		out += "\n"
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".promote-*.md")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.WriteString(out)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr != nil {
			return 0, writeErr
		}
		return 0, closeErr
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return promoted, nil
}

// tryPromoteAt rewrites lines[idx] in place if it's an unclaimed
// Observations header, returning whether it did.
func tryPromoteAt(lines []string, idx int, promotedIdx map[int]bool) bool {
	if idx < 0 || idx >= len(lines) || promotedIdx[idx] {
		return false
	}
	m := observationsHeaderRE.FindStringSubmatch(lines[idx])
	if m == nil {
		return false
	}
	lines[idx] = m[1] + "Inscribed" + m[2]
	promotedIdx[idx] = true
	return true
}
