// Package pipeline orchestrates the end-to-end search and reindex flows
// (C7): decomposition, per-facet lexical search, merge, composite
// scoring, semantic-group expansion, retry injection, optional LLM
// rerank, and truncation for search; promote-then-parse-then-rebuild for
// reindex. Grounded on server.py's pipeline_search/do_reindex and
// spec.md §4.7/§9.
package pipeline

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/vinhnxv/echo-search/internal/config"
	"github.com/vinhnxv/echo-search/internal/grouper"
	"github.com/vinhnxv/echo-search/internal/indexer"
	"github.com/vinhnxv/echo-search/internal/logx"
	"github.com/vinhnxv/echo-search/internal/promoter"
	"github.com/vinhnxv/echo-search/internal/retry"
	"github.com/vinhnxv/echo-search/internal/scorer"
	"github.com/vinhnxv/echo-search/internal/store"
)

// maxOverfetch bounds how many rows a single facet search pulls before
// merge/scoring trims it back down to the caller's requested limit.
const maxOverfetch = 150

// overfetchMultiplier is applied to limit before the maxOverfetch clamp.
const overfetchMultiplier = 3

// decompositionBudget bounds the decomposition stage; a decomposition
// that overruns it is skipped rather than blocking the whole search.
// The rerank stage is bounded by talisman.yml's reranking timeout
// (4s by default), not by rerankBudget, which Search does not read.
const (
	decompositionBudget = 3 * time.Second
	rerankBudget        = 4 * time.Second
)

// Decomposer breaks a query into independently-searchable facets. The
// real implementation is an external subprocess (out of scope here; see
// spec.md's Non-goals) — Pipeline accepts any Decomposer, defaulting to
// passthroughDecomposer.
type Decomposer interface {
	Decompose(ctx context.Context, query string) ([]string, error)
}

// Reranker reorders a scored result set using a model judge. Also an
// external subprocess in the real system; Pipeline defaults to
// passthroughReranker.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []store.Result) ([]store.Result, error)
}

type passthroughDecomposer struct{}

func (passthroughDecomposer) Decompose(_ context.Context, query string) ([]string, error) {
	return []string{query}, nil
}

type passthroughReranker struct{}

func (passthroughReranker) Rerank(_ context.Context, _ string, results []store.Result) ([]store.Result, error) {
	return results, nil
}

// Pipeline ties the store to the optional decomposer/reranker
// subprocesses and runs the full search/reindex orchestration.
type Pipeline struct {
	DB         *store.DB
	Decomposer Decomposer
	Reranker   Reranker
}

// New builds a Pipeline with passthrough decomposer/reranker. Callers
// that wire real subprocess clients should set those fields afterward.
func New(db *store.DB) *Pipeline {
	return &Pipeline{DB: db, Decomposer: passthroughDecomposer{}, Reranker: passthroughReranker{}}
}

// SearchParams is one echo_search call's parameters.
type SearchParams struct {
	Query        string
	Limit        int
	Layer        string
	Role         string
	ContextFiles []string
}

// Search runs the eight-stage retrieval pipeline and returns at most
// params.Limit results, most relevant first.
func (p *Pipeline) Search(ctx context.Context, params SearchParams) ([]store.Result, error) {
	defer logx.Trace("pipeline_total", time.Now())
	talisman := config.LoadTalisman()

	// Aged search-failure rows are also pruned on 1% of searches.
	if rand.Float64() < 0.01 {
		if _, err := retry.Cleanup(p.DB); err != nil {
			logx.Warnf("failure cleanup skipped: %v", err)
		}
	}

	facets := []string{params.Query}
	if talisman.Decomposition.Enabled {
		start := time.Now()
		dctx, cancel := context.WithTimeout(ctx, decompositionBudget)
		if fs, err := p.Decomposer.Decompose(dctx, params.Query); err == nil && len(fs) > 0 {
			facets = fs
		} else if err != nil {
			logx.Warnf("decomposition skipped: %v", err)
		}
		cancel()
		logx.Trace("decomposition", start)
	}

	overfetch := params.Limit * overfetchMultiplier
	if overfetch > maxOverfetch {
		overfetch = maxOverfetch
	}
	if overfetch < params.Limit {
		overfetch = params.Limit
	}

	start := time.Now()
	var facetResults [][]store.Result
	for _, facet := range facets {
		ftsQuery := scorer.BuildFTSQuery(facet)
		if ftsQuery == "" {
			continue
		}
		rs, err := p.DB.SearchEntries(ftsQuery, overfetch, params.Layer, params.Role)
		if err != nil {
			return nil, err
		}
		facetResults = append(facetResults, rs)
	}
	logx.Trace("facet_search", start)

	start = time.Now()
	merged := mergeByBestScore(facetResults)
	logx.Trace("merge", start)

	if len(merged) == 0 {
		return merged, nil
	}

	start = time.Now()
	ids := make([]string, len(merged))
	for i, r := range merged {
		ids[i] = r.ID
	}
	accessCounts, err := p.DB.GetAccessCounts(ids)
	if err != nil {
		return nil, err
	}
	weights := config.ScoringWeights()
	scored := scorer.ComputeComposite(merged, weights, accessCounts, params.ContextFiles)
	logx.Trace("composite_score", start)

	if talisman.SemanticGroups.ExpansionEnabled {
		start = time.Now()
		expanded, err := grouper.ExpandSemanticGroups(p.DB, scored, grouper.ExpandSemanticGroupsConfig{
			Enabled:      true,
			Discount:     talisman.SemanticGroups.Discount,
			MaxExpansion: talisman.SemanticGroups.MaxExpansion,
		}, weights, params.ContextFiles)
		if err != nil {
			logx.Warnf("group expansion skipped: %v", err)
		} else if len(expanded) > 0 {
			scored = append(scored, expanded...)
			sort.SliceStable(scored, func(i, j int) bool { return scored[i].CompositeScore > scored[j].CompositeScore })
		}
		logx.Trace("group_expansion", start)
	}

	if talisman.Retry.Enabled {
		start = time.Now()
		withRetries, err := retry.Inject(p.DB, params.Query, scored, weights, params.ContextFiles)
		if err != nil {
			logx.Warnf("retry injection skipped: %v", err)
		} else {
			scored = withRetries
			sort.SliceStable(scored, func(i, j int) bool { return scored[i].CompositeScore > scored[j].CompositeScore })
		}
		logx.Trace("retry_injection", start)
	}

	if talisman.Reranking.Enabled && len(scored) >= talisman.Reranking.Threshold {
		start = time.Now()
		candidates := scored
		var rest []store.Result
		if len(candidates) > talisman.Reranking.MaxCandidates {
			candidates = scored[:talisman.Reranking.MaxCandidates]
			rest = scored[talisman.Reranking.MaxCandidates:]
		}
		rctx, cancel := context.WithTimeout(ctx, time.Duration(talisman.Reranking.TimeoutSec*float64(time.Second)))
		reranked, err := p.Reranker.Rerank(rctx, params.Query, candidates)
		cancel()
		if err != nil {
			logx.Warnf("rerank skipped: %v", err)
		} else {
			// Candidates past MaxCandidates never reached the reranker; keep
			// them appended in their existing composite order rather than
			// dropping them from the result set entirely.
			scored = append(reranked, rest...)
		}
		logx.Trace("rerank", start)
	}

	if fingerprint := retry.Fingerprint(params.Query); fingerprint != "" {
		// A fresh (non-retry) match clears any standing failure record for
		// this fingerprint. Search never records a new failure, and neither
		// does echo_record_access (see internal/mcp); failure rows exist only
		// where a caller of retry.RecordFailure has written them.
		var freshIDs []string
		for _, r := range scored {
			if !r.RetrySource {
				freshIDs = append(freshIDs, r.ID)
			}
		}
		_ = retry.RecordOutcome(p.DB, fingerprint, freshIDs)
	}

	if params.Limit > 0 && len(scored) > params.Limit {
		scored = scored[:params.Limit]
	}
	return scored, nil
}

// mergeByBestScore combines per-facet result sets into one, keeping the
// lowest (most relevant) bm25 Score seen for each entry ID across every
// facet it appeared in. A single facet's results pass through untouched.
func mergeByBestScore(sets [][]store.Result) []store.Result {
	if len(sets) == 0 {
		return nil
	}
	if len(sets) == 1 {
		return sets[0]
	}
	best := map[string]store.Result{}
	var order []string
	for _, set := range sets {
		for _, r := range set {
			existing, ok := best[r.ID]
			if !ok {
				order = append(order, r.ID)
				best[r.ID] = r
				continue
			}
			if r.Score < existing.Score {
				best[r.ID] = r
			}
		}
	}
	out := make([]store.Result, len(order))
	for i, id := range order {
		out[i] = best[id]
	}
	return out
}

// ReindexResult summarizes one reindex pass for the CLI and echo_reindex
// tool response.
type ReindexResult struct {
	EntryCount int
	Roles      []string
	Promoted   int
	Groups     int
}

// Reindex runs the promote-then-parse-then-rebuild sequence: promoting
// eligible Observations before reparsing means a promotion that changes
// an entry's layer in its source file is reflected in the same index
// build, not one reindex cycle behind. Grounded on spec.md §9's ordering
// note.
func (p *Pipeline) Reindex(echoDir string) (ReindexResult, error) {
	var result ReindexResult

	promoted, err := promoter.CheckPromotions(p.DB, echoDir)
	if err != nil {
		return result, err
	}
	result.Promoted = promoted

	entries, err := indexer.DiscoverAndParse(echoDir)
	if err != nil {
		return result, err
	}

	count, err := p.DB.RebuildIndex(entries)
	if err != nil {
		return result, err
	}
	result.EntryCount = count

	roleSet := map[string]bool{}
	for _, e := range entries {
		roleSet[e.Role] = true
	}
	roles := make([]string, 0, len(roleSet))
	for r := range roleSet {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	result.Roles = roles

	groups, err := grouper.AssignSemanticGroups(p.DB)
	if err != nil {
		logx.Warnf("semantic grouping skipped: %v", err)
	} else {
		result.Groups = groups
	}

	if _, err := retry.Cleanup(p.DB); err != nil {
		logx.Warnf("failure cleanup skipped: %v", err)
	}

	return result, nil
}
