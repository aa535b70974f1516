// Package scorer implements the five-factor composite ranking pass (C3):
// relevance, importance, recency, file-context proximity, and access
// frequency, combined under configurable weights. Grounded on server.py's
// score_results/compute_composite_score and spec.md §4.3.
package scorer

import (
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vinhnxv/echo-search/internal/config"
	"github.com/vinhnxv/echo-search/internal/store"
)

// layerImportance assigns each memory layer a static importance weight.
// Defaults to 0.3 for any unrecognized layer.
var layerImportance = map[string]float64{
	"etched":       1.0,
	"notes":        0.8,
	"inscribed":    0.6,
	"observations": 0.4,
	"traced":       0.3,
}

const defaultImportance = 0.3

// recencyHalfLifeDays is the decay constant in ScoreRecency's exponent.
const recencyHalfLifeDays = 30.0

// ScoreImportance maps a layer name to its static importance score.
func ScoreImportance(layer string) float64 {
	if v, ok := layerImportance[layer]; ok {
		return v
	}
	return defaultImportance
}

// ScoreRecency computes 2^(-age_days/30) from an RFC3339-ish date
// string relative to now. Returns 0.0 if date is missing or unparsable,
// matching server.py's fail-open-to-zero behavior for malformed dates.
func ScoreRecency(date string, now time.Time) float64 {
	if date == "" {
		return 0.0
	}
	layouts := []string{"2006-01-02T15:04:05Z", "2006-01-02T15:04:05", "2006-01-02"}
	var parsed time.Time
	var err error
	ok := false
	for _, layout := range layouts {
		parsed, err = time.Parse(layout, date)
		if err == nil {
			ok = true
			break
		}
	}
	if !ok {
		return 0.0
	}
	ageDays := now.UTC().Sub(parsed.UTC()).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(2, -ageDays/recencyHalfLifeDays)
}

// scoreRelevance min-max inverts raw BM25 scores (more negative = more
// relevant in SQLite's bm25()) into a [0,1] range where 1.0 is best.
// A single result, or a batch where every score is equal, scores 1.0
// across the board — there's no signal to normalize against.
func scoreRelevance(results []store.Result) map[int]float64 {
	out := make(map[int]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	if len(results) == 1 || max == min {
		for i := range results {
			out[i] = 1.0
		}
		return out
	}
	for i, r := range results {
		// Lower bm25() is better, so the best score maps to 1.0.
		out[i] = (max - r.Score) / (max - min)
	}
	return out
}

// scoreFrequency normalizes access counts across a batch to [0,1] via
// log(1+count)/log(1+maxCount). Entries absent from counts score 0.0.
func scoreFrequency(results []store.Result, counts map[string]int) map[int]float64 {
	out := make(map[int]float64, len(results))
	if len(counts) == 0 {
		return out
	}
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount <= 0 {
		return out
	}
	denom := math.Log(1 + float64(maxCount))
	for i, r := range results {
		c, ok := counts[r.ID]
		if !ok || c <= 0 {
			continue
		}
		out[i] = math.Log(1+float64(c)) / denom
	}
	return out
}

// ComputeFileProximity scores how close an entry's evidence paths are to
// the caller's active context files: 1.0 for an exact path match, 0.8
// for same-directory, a sliding 0.2-to-0.6 score for a shared path
// prefix relative to the deeper path's depth, 0.0 for no relation at
// all. Takes the best pairwise score across all (evidence, context)
// combinations, short-circuiting on the first exact match.
func ComputeFileProximity(evidencePaths, contextFiles []string) float64 {
	if len(evidencePaths) == 0 || len(contextFiles) == 0 {
		return 0.0
	}
	best := 0.0
	for _, ev := range evidencePaths {
		for _, ctx := range contextFiles {
			s := pairProximity(ev, ctx)
			if s > best {
				best = s
			}
			if best >= 1.0 {
				return 1.0
			}
		}
	}
	return best
}

func pairProximity(a, b string) float64 {
	a = filepath.Clean(a)
	b = filepath.Clean(b)
	if a == b {
		return 1.0
	}
	if filepath.Dir(a) == filepath.Dir(b) {
		return 0.8
	}
	partsA := strings.Split(a, string(filepath.Separator))
	partsB := strings.Split(b, string(filepath.Separator))
	common := 0
	for i := 0; i < len(partsA) && i < len(partsB); i++ {
		if partsA[i] != partsB[i] {
			break
		}
		common++
	}
	if common == 0 {
		return 0.0
	}
	maxDepth := len(partsA)
	if len(partsB) > maxDepth {
		maxDepth = len(partsB)
	}
	return 0.2 + 0.4*(float64(common)/float64(maxDepth))
}

// ComputeComposite blends relevance, importance, recency, proximity, and
// frequency into each result's CompositeScore under w, then sorts the
// slice descending by CompositeScore (stable, so equal scores keep
// their incoming relative order). Evidence paths are extracted from a
// result's Content when it is set, otherwise from its ContentPreview.
func ComputeComposite(results []store.Result, w config.Weights, accessCounts map[string]int, contextFiles []string) []store.Result {
	if len(results) == 0 {
		return results
	}
	now := time.Now()
	relevance := scoreRelevance(results)
	frequency := scoreFrequency(results, accessCounts)

	for i := range results {
		r := &results[i]
		content := r.Content
		if content == "" {
			content = r.ContentPreview
		}
		evidence := ExtractEvidencePaths(content, r.Source)

		rel := relevance[i]
		imp := ScoreImportance(r.Layer)
		rec := ScoreRecency(r.Date, now)
		prox := ComputeFileProximity(evidence, contextFiles)
		freq := frequency[i]

		r.CompositeScore = w.Relevance*rel + w.Importance*imp + w.Recency*rec + w.Proximity*prox + w.Frequency*freq
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CompositeScore > results[j].CompositeScore
	})
	return results
}
