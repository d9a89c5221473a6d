// Package codeindex builds the immutable lookup structure over scopes, global
// variables, and classes for one analyzed codebase. The index is constructed
// once per run and shared read-only by every triage session.
package codeindex

import (
	"fmt"
	"sort"

	"github.com/gobwas/glob"

	"github.com/linnemanlabs/vulnhalla/internal/source"
)

// Kind classifies a scope.
type Kind string

const (
	KindModule   Kind = "module"
	KindClass    Kind = "class"
	KindFunction Kind = "function"
)

// ScopeNode is a module, class, or function region in source code.
// EndLine covers the scope's entire body: the analysis engine under-reports
// container bounds, so Build widens it to the maximum end line among the
// scope's own reported end and every statement it lexically contains.
type ScopeNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Kind      Kind   `json:"kind"`
	// CallerID references the enclosing call site's scope, empty when
	// top-level or unresolved. Multiple call sites collapse to the first
	// resolved one; generalize this to a set if multiplicity ever matters.
	CallerID string `json:"caller_id,omitempty"`
}

// GlobalVariable is a module-level simple-name assignment.
type GlobalVariable struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// ClassEntry is a class definition, exposed separately for direct lookup.
type ClassEntry struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// ScopeID derives the deterministic scope id from its location.
func ScopeID(file string, startLine int) string {
	return fmt.Sprintf("%s:%d", file, startLine)
}

// Options controls index construction.
type Options struct {
	// ExcludePatterns are glob patterns for file paths to drop entirely
	// (vendored/third-party code, test directories).
	ExcludePatterns []string
}

// Index owns all scope, global-variable, and class records for one codebase.
// Immutable after Build; safe for unlimited concurrent readers.
type Index struct {
	scopes  map[string]*ScopeNode
	byFile  map[string][]*ScopeNode
	globals map[string][]*GlobalVariable
	classes map[string][]*ClassEntry
	src     source.Reader
}

// Build constructs the index from the three input relations. It is a pure
// function of its inputs: scopes matching an exclusion pattern or lacking a
// resolvable location are dropped, repeated scope rows merge by id taking the
// maximum end line, and caller references to scopes that do not exist are
// cleared.
func Build(scopeRows []ScopeRow, globalRows []GlobalRow, classRows []ClassRow, src source.Reader, opts Options) (*Index, error) {
	excludes := make([]glob.Glob, 0, len(opts.ExcludePatterns))
	for _, p := range opts.ExcludePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("bad exclude pattern %q: %w", p, err)
		}
		excludes = append(excludes, g)
	}
	excluded := func(file string) bool {
		for _, g := range excludes {
			if g.Match(file) {
				return true
			}
		}
		return false
	}

	ix := &Index{
		scopes:  make(map[string]*ScopeNode),
		byFile:  make(map[string][]*ScopeNode),
		globals: make(map[string][]*GlobalVariable),
		classes: make(map[string][]*ClassEntry),
		src:     src,
	}

	for i, row := range scopeRows {
		if row.File == "" || row.StartLine <= 0 {
			continue // no resolvable location
		}
		if excluded(row.File) {
			continue
		}
		switch Kind(row.Kind) {
		case KindModule, KindClass, KindFunction:
		default:
			return nil, fmt.Errorf("scopes row %d: unknown kind %q", i+1, row.Kind)
		}

		id := ScopeID(row.File, row.StartLine)
		s, ok := ix.scopes[id]
		if !ok {
			s = &ScopeNode{
				ID:        id,
				Name:      row.Name,
				File:      row.File,
				StartLine: row.StartLine,
				EndLine:   row.StartLine,
				Kind:      Kind(row.Kind),
			}
			ix.scopes[id] = s
			ix.byFile[row.File] = append(ix.byFile[row.File], s)
		}
		if row.EndLine > s.EndLine {
			s.EndLine = row.EndLine
		}
		if s.CallerID == "" && row.CallerID != "" {
			s.CallerID = row.CallerID
		}
	}

	// Caller edges must reference existing scopes; drop the rest so a
	// caller chain can never walk off the index.
	for _, s := range ix.scopes {
		if s.CallerID == "" {
			continue
		}
		if _, ok := ix.scopes[s.CallerID]; !ok || s.CallerID == s.ID {
			s.CallerID = ""
		}
	}

	for _, scopes := range ix.byFile {
		sort.Slice(scopes, func(i, j int) bool {
			return scopes[i].StartLine < scopes[j].StartLine
		})
	}

	for _, row := range globalRows {
		if row.File == "" || row.StartLine <= 0 || excluded(row.File) {
			continue
		}
		end := row.EndLine
		if end < row.StartLine {
			end = row.StartLine
		}
		ix.globals[row.Name] = append(ix.globals[row.Name], &GlobalVariable{
			Name: row.Name, File: row.File, StartLine: row.StartLine, EndLine: end,
		})
	}

	for _, row := range classRows {
		if row.File == "" || row.StartLine <= 0 || excluded(row.File) {
			continue
		}
		end := row.EndLine
		if end < row.StartLine {
			end = row.StartLine
		}
		ix.classes[row.Name] = append(ix.classes[row.Name], &ClassEntry{
			Name: row.Name, File: row.File, StartLine: row.StartLine, EndLine: end,
		})
	}

	return ix, nil
}

// LookupByID returns the scope with the given id.
func (ix *Index) LookupByID(id string) (*ScopeNode, bool) {
	s, ok := ix.scopes[id]
	return s, ok
}

// LookupByLocation returns the innermost scope containing (file, line),
// or nil when no scope covers it. A miss is not an error.
func (ix *Index) LookupByLocation(file string, line int) *ScopeNode {
	var best *ScopeNode
	for _, s := range ix.byFile[file] {
		if line < s.StartLine || line > s.EndLine {
			continue
		}
		if best == nil || span(s) < span(best) || (span(s) == span(best) && s.StartLine > best.StartLine) {
			best = s
		}
	}
	return best
}

// LookupByName returns every scope of the given kind with the given name.
// Linear scan; the caller disambiguates multiple matches.
func (ix *Index) LookupByName(kind Kind, name string) []*ScopeNode {
	var out []*ScopeNode
	for _, s := range ix.scopes {
		if s.Kind == kind && s.Name == name {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Globals returns every global variable definition with the given name,
// across all files.
func (ix *Index) Globals(name string) []*GlobalVariable {
	return ix.globals[name]
}

// Classes returns every class definition with the given name.
func (ix *Index) Classes(name string) []*ClassEntry {
	return ix.classes[name]
}

// SourceRange extracts the source text for the 1-based inclusive line range.
func (ix *Index) SourceRange(file string, start, end int) (string, error) {
	lines, err := ix.src.Lines(file)
	if err != nil {
		return "", err
	}
	return source.Slice(lines, start, end), nil
}

// ScopeSource extracts the full source text of a scope.
func (ix *Index) ScopeSource(s *ScopeNode) (string, error) {
	return ix.SourceRange(s.File, s.StartLine, s.EndLine)
}

// Stats reports record counts for startup logging.
func (ix *Index) Stats() (scopes, globals, classes int) {
	for _, g := range ix.globals {
		globals += len(g)
	}
	for _, c := range ix.classes {
		classes += len(c)
	}
	return len(ix.scopes), globals, classes
}

func span(s *ScopeNode) int {
	return s.EndLine - s.StartLine
}
