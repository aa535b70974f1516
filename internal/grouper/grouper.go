// Package grouper clusters echo entries into semantic groups by Jaccard
// similarity over their content tokens and evidence-path basenames (C4),
// and expands a search result set with its cluster-mates at query time.
// Grounded on server.py's assign_semantic_groups/expand_semantic_groups
// and spec.md §4.4.
package grouper

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vinhnxv/echo-search/internal/config"
	"github.com/vinhnxv/echo-search/internal/scorer"
	"github.com/vinhnxv/echo-search/internal/store"
)

// similarityThreshold is the minimum Jaccard score for an entry to join
// an existing cluster rather than start a new one.
const similarityThreshold = 0.3

// maxGroupSize bounds a single semantic group before it gets chunked
// into smaller, more internally-similar subgroups.
const maxGroupSize = 20

// EvidenceBasenames extracts an entry's evidence paths and reduces them
// to bare filenames, so "internal/store/db.go" and "cmd/x/db.go" both
// contribute the token "db.go" to similarity comparisons.
func EvidenceBasenames(content, source string) []string {
	paths := scorer.ExtractEvidencePaths(content, source)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, strings.ToLower(filepath.Base(p)))
	}
	return out
}

// tokenSet builds the combined token bag grouping compares: filtered
// content tokens plus evidence basenames, deduped.
func tokenSet(content, source string) map[string]bool {
	set := map[string]bool{}
	for _, t := range scorer.TokenizeFiltered(content) {
		set[t] = true
	}
	for _, t := range EvidenceBasenames(content, source) {
		set[t] = true
	}
	return set
}

// ComputeEntrySimilarity returns the Jaccard similarity of two entries'
// combined token sets: |intersection| / |union|. Two entries with no
// tokens at all are considered unrelated (0.0), not identical.
func ComputeEntrySimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

type cluster struct {
	ids   []string
	simTo map[string]float64 // each member's similarity at the moment it joined
}

func (c *cluster) add(id string, sim float64) {
	c.ids = append(c.ids, id)
	c.simTo[id] = sim
}

// AssignSemanticGroups clusters every entry currently in the index by
// pairwise entry-vs-entry Jaccard similarity, using a linear scan over
// existing clusters' members rather than a textbook union-find array
// (clusters are few relative to entries, so this stays cheap). An entry
// joins the cluster containing the member it's most similar to, as long
// as that similarity clears similarityThreshold; a union-find over the
// clusters' merged token sets would over-merge entries that are each
// close to different members of a cluster but not to each other.
// Clusters of size > maxGroupSize are split into chunks of maxGroupSize
// members (the last chunk holds the remainder), their members sorted by
// join-time similarity descending so the tightest matches stay together.
// Singleton clusters and one-member chunks are dropped: a "group" of one
// is not worth persisting. Returns the number of
// (group, entry) membership rows written.
func AssignSemanticGroups(db *store.DB) (int, error) {
	entries, err := db.AllEntriesForGrouping()
	if err != nil {
		return 0, err
	}
	if len(entries) < 2 {
		return 0, nil
	}

	sets := make(map[string]map[string]bool, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		sets[e.ID] = tokenSet(e.Content, e.Tags)
		order = append(order, e.ID)
	}
	sort.Strings(order) // deterministic clustering order across reindexes

	var clusters []*cluster
	for _, id := range order {
		set := sets[id]
		if len(set) == 0 {
			continue
		}
		var best *cluster
		bestSim := 0.0
		for _, c := range clusters {
			for _, memberID := range c.ids {
				sim := ComputeEntrySimilarity(set, sets[memberID])
				if sim > bestSim {
					bestSim = sim
					best = c
				}
			}
		}
		if best != nil && bestSim >= similarityThreshold {
			best.add(id, bestSim)
			continue
		}
		nc := &cluster{simTo: map[string]float64{}}
		nc.add(id, 1.0)
		clusters = append(clusters, nc)
	}

	written := 0
	for _, c := range clusters {
		if len(c.ids) < 2 {
			continue
		}
		for _, chunk := range chunkCluster(c) {
			if len(chunk.ids) < 2 {
				continue
			}
			groupID := deriveGroupID(chunk.ids)
			sims := make([]float64, len(chunk.ids))
			for i, id := range chunk.ids {
				sims[i] = chunk.simTo[id]
			}
			n, err := db.UpsertGroupMemberships(groupID, chunk.ids, sims)
			if err != nil {
				return written, err
			}
			written += n
		}
	}
	return written, nil
}

// chunkCluster splits an oversized cluster into maxGroupSize-bounded
// pieces, ordering members by join-similarity descending first so each
// chunk is as internally cohesive as possible.
func chunkCluster(c *cluster) []*cluster {
	if len(c.ids) <= maxGroupSize {
		return []*cluster{c}
	}
	ids := append([]string(nil), c.ids...)
	sort.SliceStable(ids, func(i, j int) bool {
		return c.simTo[ids[i]] > c.simTo[ids[j]]
	})
	var chunks []*cluster
	for i := 0; i < len(ids); i += maxGroupSize {
		end := i + maxGroupSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := &cluster{simTo: c.simTo, ids: ids[i:end]}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// deriveGroupID derives a stable id from a chunk's sorted member ids, so
// re-running AssignSemanticGroups over an unchanged cluster reproduces
// the same group_id (idempotent upsert rather than accumulating rows).
func deriveGroupID(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return "grp_" + hex.EncodeToString(sum[:])[:16]
}

// ExpandSemanticGroupsConfig mirrors talisman.yml's semantic_groups
// section: whether expansion runs at all, the score discount applied to
// expanded rows, and the cap on how many can be added.
type ExpandSemanticGroupsConfig struct {
	Enabled      bool
	Discount     float64
	MaxExpansion int
}

// ExpandSemanticGroups looks up the semantic groups any of matched's
// entries belong to, fetches their other members, five-factor
// composite-scores each expanded row on its own merits (same as any
// other result), then applies cfg.Discount (clamped to [0,1]) on top.
// Returns up to min(cfg.MaxExpansion*groupCount, 50) new rows not
// already present in matched, ordered by discounted score descending.
func ExpandSemanticGroups(db *store.DB, matched []store.Result, cfg ExpandSemanticGroupsConfig, weights config.Weights, contextFiles []string) ([]store.Result, error) {
	if !cfg.Enabled || len(matched) == 0 {
		return nil, nil
	}
	matchedIDs := make([]string, len(matched))
	for i, r := range matched {
		matchedIDs[i] = r.ID
	}

	groupIDs, err := db.GroupIDsForEntries(matchedIDs)
	if err != nil || len(groupIDs) == 0 {
		return nil, err
	}
	members, err := db.GroupMembers(groupIDs, matchedIDs)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	cap := cfg.MaxExpansion * len(groupIDs)
	if cap > 50 {
		cap = 50
	}
	if cap <= 0 {
		return nil, nil
	}

	memberIDs := make([]string, len(members))
	for i, m := range members {
		memberIDs[i] = m.ID
	}
	accessCounts, err := db.GetAccessCounts(memberIDs)
	if err != nil {
		return nil, err
	}
	members = scorer.ComputeComposite(members, weights, accessCounts, contextFiles)

	discount := cfg.Discount
	if discount < 0 {
		discount = 0
	}
	if discount > 1 {
		discount = 1
	}
	for i := range members {
		members[i].CompositeScore *= discount
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].CompositeScore > members[j].CompositeScore
	})
	if len(members) > cap {
		members = members[:cap]
	}
	return members, nil
}
