// Package mcp exposes echo-search's six tools (C9) over stdio MCP:
// echo_search, echo_details, echo_reindex, echo_stats, echo_record_access,
// echo_upsert_group. Grounded on the teacher's internal/mcp/server.go
// (mcp.AddTool registration idiom, textResult helper) and server.py's
// handle_call_tool/_handle_* validation rules, per spec.md §4.9/§5.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mdombrov-33/go-promptguard/detector"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vinhnxv/echo-search/internal/logx"
	"github.com/vinhnxv/echo-search/internal/pipeline"
	"github.com/vinhnxv/echo-search/internal/signal"
	"github.com/vinhnxv/echo-search/internal/store"
)

const (
	maxQueryLen     = 10_000
	defaultLimit    = 10
	maxLimit        = 50
	maxContextFiles = 20
	maxIDBatch      = 50
)

// promptGuard flags search/detail output that looks like it carries a
// prompt-injection payload, so the caller can decide whether to trust
// it. Sub-millisecond pattern + statistical detection only, no LLM
// judge — this runs on every tool response. Grounded on the teacher's
// internal/hooks/injection.go detector configuration.
var promptGuard = detector.New(
	detector.WithThreshold(0.6),
	detector.WithAllDetectors(),
	detector.WithMaxInputLength(2000),
)

func flagged(text string) bool {
	if text == "" {
		return false
	}
	return !promptGuard.Detect(context.Background(), text).Safe
}

// Server wires a Pipeline/store.DB pair to the MCP tool registrations.
type Server struct {
	db      *store.DB
	pipe    *pipeline.Pipeline
	echoDir string
	version string
}

// New builds a Server bound to an already-open database and the echo
// directory it was built from.
func New(db *store.DB, echoDir, version string) *Server {
	return &Server{db: db, pipe: pipeline.New(db), echoDir: echoDir, version: version}
}

// Serve runs the MCP server on stdio until the transport closes.
func (s *Server) Serve(ctx context.Context) error {
	server := mcp.NewServer(&mcp.Implementation{Name: "echo-search", Version: s.version}, nil)
	s.registerTools(server)
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools(server *mcp.Server) {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	boolPtr := func(b bool) *bool { return &b }
	writeNonDestructive := &mcp.ToolAnnotations{DestructiveHint: boolPtr(false), IdempotentHint: true}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo_search",
		Description: "Search accumulated learnings relevant to the current task. Use this before starting work on something you may have hit before — a bug, a design decision, a gotcha.\n\nArgs:\n  query: natural-language search query\n  limit: max results (default 10, max 50)\n  layer: restrict to one layer (etched, inscribed, traced, notes, observations)\n  role: restrict to one role directory\n  context_files: paths you're currently working in, used to boost proximity-relevant results\n\nReturns ranked learnings with composite scores.",
		Annotations: readOnly,
	}, s.handleSearch)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo_details",
		Description: "Fetch the full content of specific learnings by id, as returned by echo_search. Use this when a search result's preview isn't enough context.\n\nArgs:\n  ids: entry ids to fetch (max 50)\n\nReturns full entry content.",
		Annotations: readOnly,
	}, s.handleDetails)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo_reindex",
		Description: "Re-scan MEMORY.md files and rebuild the search index. Use this if learnings were just written and search results seem stale — though a reindex also runs automatically when the index is detected as dirty.\n\nReturns entry count and discovered roles.",
		Annotations: writeNonDestructive,
	}, s.handleReindex)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo_stats",
		Description: "Report index health: total entry count, breakdown by layer and role, last-indexed time.\n\nReturns summary statistics.",
		Annotations: readOnly,
	}, s.handleStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo_record_access",
		Description: "Record that specific learnings were used, so future ranking reflects real usage. Call this after acting on an echo_search result you found useful.\n\nArgs:\n  entry_ids: ids that were used (max 50)\n  query: the query that found them, stored with each access-log row",
		Annotations: writeNonDestructive,
	}, s.handleRecordAccess)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo_upsert_group",
		Description: "Manually assign a set of entries to a semantic group, overriding automatic clustering. Use this sparingly — automatic grouping runs on every reindex.\n\nArgs:\n  group_id: group identifier\n  entry_ids: member entry ids",
		Annotations: writeNonDestructive,
	}, s.handleUpsertGroup)
}

// Tool input types

type searchInput struct {
	Query        string   `json:"query" jsonschema:"Natural language search query"`
	Limit        int      `json:"limit,omitempty" jsonschema:"Max results (default 10, max 50)"`
	Layer        string   `json:"layer,omitempty" jsonschema:"Restrict to one layer"`
	Role         string   `json:"role,omitempty" jsonschema:"Restrict to one role"`
	ContextFiles []string `json:"context_files,omitempty" jsonschema:"Paths currently being worked in (max 20)"`
}

type detailsInput struct {
	IDs []string `json:"ids" jsonschema:"Entry ids to fetch (max 50)"`
}

type reindexInput struct{}

type statsInput struct{}

type recordAccessInput struct {
	EntryIDs []string `json:"entry_ids" jsonschema:"Ids that were used (max 50)"`
	Query    string   `json:"query,omitempty" jsonschema:"The query that found them"`
}

type upsertGroupInput struct {
	GroupID  string   `json:"group_id" jsonschema:"Group identifier"`
	EntryIDs []string `json:"entry_ids" jsonschema:"Member entry ids"`
}

// Tool handlers

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input searchInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return errResult("query is required"), nil, nil
	}
	if len(query) > maxQueryLen {
		return errResult("query too long"), nil, nil
	}

	s.maybeReindex()

	limit := clampLimit(input.Limit)
	contextFiles := input.ContextFiles
	if len(contextFiles) > maxContextFiles {
		contextFiles = contextFiles[:maxContextFiles]
	}

	results, err := s.pipe.Search(ctx, pipeline.SearchParams{
		Query:        query,
		Limit:        limit,
		Layer:        input.Layer,
		Role:         input.Role,
		ContextFiles: contextFiles,
	})
	if err != nil {
		logx.Errorf("search: %v", err)
		return errResult("search failed"), nil, nil
	}

	ids := make([]string, len(results))
	for i := range results {
		results[i].Flagged = flagged(results[i].ContentPreview)
		ids[i] = results[i].ID
	}
	// Access logging is non-critical: a failed write never fails the search.
	if err := s.db.RecordAccess(ids, query); err != nil {
		logx.Warnf("search access log: %v", err)
	}

	data, _ := json.MarshalIndent(results, "", "  ")
	return textResult(string(data)), nil, nil
}

func (s *Server) handleDetails(ctx context.Context, req *mcp.CallToolRequest, input detailsInput) (*mcp.CallToolResult, any, error) {
	ids := input.IDs
	if len(ids) == 0 {
		return errResult("ids is required"), nil, nil
	}
	if len(ids) > maxIDBatch {
		ids = ids[:maxIDBatch]
	}

	s.maybeReindex()

	details, err := s.db.GetDetails(ids)
	if err != nil {
		logx.Errorf("details: %v", err)
		return errResult("lookup failed"), nil, nil
	}

	type flaggedDetail struct {
		store.EntryDetail
		Flagged bool `json:"flagged"`
	}
	out := make([]flaggedDetail, len(details))
	for i, d := range details {
		out[i] = flaggedDetail{EntryDetail: d, Flagged: flagged(d.FullContent)}
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	return textResult(string(data)), nil, nil
}

func (s *Server) handleReindex(ctx context.Context, req *mcp.CallToolRequest, input reindexInput) (*mcp.CallToolResult, any, error) {
	result, err := s.pipe.Reindex(s.echoDir)
	if err != nil {
		logx.Errorf("reindex: %v", err)
		return errResult("reindex failed"), nil, nil
	}
	data, _ := json.MarshalIndent(map[string]any{
		"entries":  result.EntryCount,
		"roles":    result.Roles,
		"promoted": result.Promoted,
		"groups":   result.Groups,
	}, "", "  ")
	return textResult(string(data)), nil, nil
}

func (s *Server) handleStats(ctx context.Context, req *mcp.CallToolRequest, input statsInput) (*mcp.CallToolResult, any, error) {
	stats, err := s.db.GetStats()
	if err != nil {
		logx.Errorf("stats: %v", err)
		return errResult("stats unavailable"), nil, nil
	}
	data, _ := json.MarshalIndent(stats, "", "  ")
	return textResult(string(data)), nil, nil
}

func (s *Server) handleRecordAccess(ctx context.Context, req *mcp.CallToolRequest, input recordAccessInput) (*mcp.CallToolResult, any, error) {
	ids := input.EntryIDs
	if len(ids) == 0 {
		return errResult("entry_ids is required"), nil, nil
	}
	if len(ids) > maxIDBatch {
		ids = ids[:maxIDBatch]
	}
	if err := s.db.RecordAccess(ids, input.Query); err != nil {
		logx.Errorf("record_access: %v", err)
		return errResult("record failed"), nil, nil
	}
	return textResult(fmt.Sprintf("Recorded access for %d entries.", len(ids))), nil, nil
}

func (s *Server) handleUpsertGroup(ctx context.Context, req *mcp.CallToolRequest, input upsertGroupInput) (*mcp.CallToolResult, any, error) {
	groupID := strings.TrimSpace(input.GroupID)
	if groupID == "" {
		return errResult("group_id is required"), nil, nil
	}
	if len(input.EntryIDs) == 0 {
		return errResult("entry_ids is required"), nil, nil
	}
	n, err := s.db.UpsertGroupMemberships(groupID, input.EntryIDs, nil)
	if err != nil {
		logx.Errorf("upsert_group: %v", err)
		return errResult("upsert failed"), nil, nil
	}
	return textResult(fmt.Sprintf("Group %s: %d memberships written.", groupID, n)), nil, nil
}

// maybeReindex checks the dirty signal and runs a reindex if it's set,
// matching server.py's check-and-clear-dirty-then-reindex gate ahead of
// every read-side tool call.
func (s *Server) maybeReindex() {
	if !signal.CheckAndClear(s.echoDir) {
		return
	}
	if _, err := s.pipe.Reindex(s.echoDir); err != nil {
		logx.Warnf("dirty-signal reindex failed: %v", err)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

const maxErrLen = 200

func errResult(msg string) *mcp.CallToolResult {
	if len(msg) > maxErrLen {
		msg = msg[:maxErrLen]
	}
	data, _ := json.Marshal(map[string]string{"error": msg})
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}, IsError: true}
}
