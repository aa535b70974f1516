// Package indexer discovers MEMORY.md files under a role-directory tree
// and parses their H2-delimited echo entries, per spec.md §4.2 (C2).
package indexer

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/vinhnxv/echo-search/internal/store"
)

// memoryFileName is the only basename the indexer treats as an echo source.
const memoryFileName = "MEMORY.md"

// layerNames maps an H2 header's first word to its canonical layer.
var layerNames = map[string]string{
	"Etched":       "etched",
	"Inscribed":    "inscribed",
	"Traced":       "traced",
	"Notes":        "notes",
	"Observations": "observations",
}

// headerRE matches "## <Layer> — <source> (YYYY-MM-DD)" headers, with an
// em dash, en dash, or hyphen separator. Grounded on spec.md §4.2.
var headerRE = regexp.MustCompile(`^##\s+(Etched|Inscribed|Traced|Notes|Observations)\s+[—–-]\s+(.+?)\s+\((\d{4}-\d{2}-\d{2})\)\s*$`)

// DiscoverAndParse walks the immediate subdirectories of echoDir (each
// one a "role"), in sorted order, reading every MEMORY.md found and
// parsing its echo entries. Matches server.py's discover_and_parse.
func DiscoverAndParse(echoDir string) ([]store.Entry, error) {
	roleDirs, err := immediateSubdirs(echoDir)
	if err != nil {
		return nil, err
	}

	var entries []store.Entry
	for _, role := range roleDirs {
		path := filepath.Join(echoDir, role, memoryFileName)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		parsed, err := parseMemoryFile(path, role)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

// immediateSubdirs returns the sorted basenames of echoDir's direct
// subdirectories — roles are not discovered recursively.
func immediateSubdirs(echoDir string) ([]string, error) {
	dirEntries, err := os.ReadDir(echoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, d := range dirEntries {
		if d.IsDir() {
			dirs = append(dirs, d.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// parserState is the H2-header body-accumulation state machine of
// spec.md §4.2: PRE (before the first recognized header) or BODY
// (accumulating lines for the entry under the current header).
type parserState int

const (
	statePre parserState = iota
	stateBody
)

func parseMemoryFile(path, role string) ([]store.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []store.Entry
	state := statePre
	var current *store.Entry
	var body []string
	lineNo := 0

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimRight(strings.Join(body, "\n"), "\n")
		if strings.TrimSpace(current.Content) != "" {
			entries = append(entries, *current)
		}
		current = nil
		body = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if m := headerRE.FindStringSubmatch(line); m != nil {
			flush()
			state = stateBody
			current = &store.Entry{
				Role:       role,
				Layer:      layerNames[m[1]],
				Source:     m[2],
				Date:       m[3],
				LineNumber: lineNo,
				FilePath:   path,
			}
			current.ID = deriveID(path, lineNo)
			body = nil
			continue
		}
		if state == stateBody {
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return entries, nil
}

// deriveID computes a stable 16-hex-character identifier from an entry's
// file path and header line number: sha256(path#line)[:16]. Deterministic
// and collision-resistant across reindexes as long as the header's line
// number is stable, matching spec.md §8's "same input always derives the
// same id" invariant.
func deriveID(path string, line int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", path, line)))
	return hex.EncodeToString(sum[:])[:16]
}
