package scorer

import (
	"regexp"
	"sort"
	"strings"
)

// wordRE splits raw text into lowercase alnum/underscore tokens, matching
// server.py's `re.findall(r"[a-z0-9_]+", text.lower())`.
var wordRE = regexp.MustCompile(`[a-z0-9_]+`)

// Tokenize lowercases text and splits it into word tokens, with no
// stopword filtering. Used by TokenizeFiltered and BuildFTSQuery, which
// apply the stopword and length filters on top.
func Tokenize(text string) []string {
	return wordRE.FindAllString(strings.ToLower(text), -1)
}

// TokenizeFiltered tokenizes text and drops stopwords and tokens shorter
// than 2 characters, matching server.py's `_tokenize_for_grouping`.
func TokenizeFiltered(text string) []string {
	raw := Tokenize(text)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) < 2 || IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// maxFTSQueryLen caps the raw query before tokenization, matching
// server.py's build_fts_query truncation to 500 chars.
const maxFTSQueryLen = 500

// maxFTSTokens caps the number of OR-joined terms in the built query.
const maxFTSTokens = 20

// BuildFTSQuery sanitizes a raw user query into an FTS5 MATCH expression:
// truncate, tokenize, drop stopwords and short tokens, dedup preserving
// order, cap at maxFTSTokens, OR-join. Falls back to the unfiltered
// token set (still deduped/capped) if stopword-filtering empties the
// query entirely, so single-stopword queries like "the" still match
// something instead of returning zero results.
func BuildFTSQuery(raw string) string {
	if len(raw) > maxFTSQueryLen {
		raw = raw[:maxFTSQueryLen]
	}
	all := Tokenize(raw)

	filtered := make([]string, 0, len(all))
	seen := map[string]bool{}
	for _, t := range all {
		if len(t) < 2 || IsStopword(t) || seen[t] {
			continue
		}
		seen[t] = true
		filtered = append(filtered, t)
	}

	if len(filtered) == 0 {
		seen = map[string]bool{}
		for _, t := range all {
			if len(t) < 2 || seen[t] {
				continue
			}
			seen[t] = true
			filtered = append(filtered, t)
		}
	}

	if len(filtered) > maxFTSTokens {
		filtered = filtered[:maxFTSTokens]
	}
	if len(filtered) == 0 {
		return ""
	}
	return strings.Join(filtered, " OR ")
}

// evidencePathRE matches backtick-fenced path-like tokens in entry
// content, e.g. `` `internal/store/db.go` ``.
var evidencePathRE = regexp.MustCompile("`([^`]+\\.[a-z]{1,6})`")

// maxEvidencePaths caps the number of paths extracted per entry.
const maxEvidencePaths = 10

// ExtractEvidencePaths pulls candidate file paths out of an entry's
// content and source field: backtick-fenced `path.ext` tokens from
// content that contain a "/" (so a bare `config.yml` doesn't get
// treated as a path), plus whitespace-delimited tokens from source that
// contain a "/" and no ":" (to exclude "role:layer"-shaped source
// tags). Dedups preserving first-seen order, caps at maxEvidencePaths.
func ExtractEvidencePaths(content, source string) []string {
	seen := map[string]bool{}
	var out []string

	add := func(p string) bool {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			return false
		}
		seen[p] = true
		out = append(out, p)
		return len(out) >= maxEvidencePaths
	}

	for _, m := range evidencePathRE.FindAllStringSubmatch(content, -1) {
		if !strings.Contains(m[1], "/") {
			continue
		}
		if add(m[1]) {
			return out
		}
	}
	for _, tok := range strings.Fields(source) {
		if strings.Contains(tok, "/") && !strings.Contains(tok, ":") {
			if add(tok) {
				return out
			}
		}
	}
	return out
}

// sortedUnique returns a deduped, sorted copy of tokens — used by
// ComputeTokenFingerprint so token order does not change the hash.
func sortedUnique(tokens []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
