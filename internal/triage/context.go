package triage

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
	"github.com/linnemanlabs/vulnhalla/internal/issue"
)

// ContextLine is one numbered source line shown to the model.
type ContextLine struct {
	Number     int    `json:"number"`
	Text       string `json:"text"`
	Vulnerable bool   `json:"vulnerable,omitempty"`
}

// ContextPayload is the initial code context for a session: the finding plus
// the source of its enclosing scope. Minimal is set when the scope or its
// source could not be resolved and only the finding metadata is available.
type ContextPayload struct {
	File      string        `json:"file"`
	Line      int           `json:"line"`
	Rule      string        `json:"rule"`
	Message   string        `json:"message"`
	ScopeID   string        `json:"scope_id,omitempty"`
	ScopeName string        `json:"scope_name,omitempty"`
	ScopeKind string        `json:"scope_kind,omitempty"`
	StartLine int           `json:"start_line,omitempty"`
	EndLine   int           `json:"end_line,omitempty"`
	Lines     []ContextLine `json:"lines,omitempty"`
	Minimal   bool          `json:"minimal,omitempty"`
}

// BuildContext assembles the initial context for an issue. A missing scope or
// unreadable source degrades to a minimal payload rather than failing: the
// model can still reason from the finding and ask for code via tools.
func BuildContext(iss *issue.Issue, ix *codeindex.Index) *ContextPayload {
	p := &ContextPayload{
		File:    iss.File,
		Line:    iss.Line,
		Rule:    iss.Rule,
		Message: iss.Message,
		Minimal: true,
	}

	scope := resolveScope(iss, ix)
	if scope == nil {
		return p
	}
	p.ScopeID = scope.ID
	p.ScopeName = scope.Name
	p.ScopeKind = string(scope.Kind)
	p.StartLine = scope.StartLine
	p.EndLine = scope.EndLine

	text, err := ix.ScopeSource(scope)
	if err != nil {
		return p
	}
	lines := strings.Split(text, "\n")
	p.Lines = make([]ContextLine, 0, len(lines))
	for i, l := range lines {
		n := scope.StartLine + i
		p.Lines = append(p.Lines, ContextLine{Number: n, Text: l, Vulnerable: n == iss.Line})
	}
	p.Minimal = false
	return p
}

func resolveScope(iss *issue.Issue, ix *codeindex.Index) *codeindex.ScopeNode {
	if iss.ScopeID != "" {
		if s, ok := ix.LookupByID(iss.ScopeID); ok {
			return s
		}
	}
	return ix.LookupByLocation(iss.File, iss.Line)
}

// Render formats the payload as the text shown in the initial prompt. The
// flagged line carries a marker so the model cannot miss it.
func (p *ContextPayload) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Finding: %s\n", p.Rule)
	fmt.Fprintf(&b, "Location: %s:%d\n", p.File, p.Line)
	if p.Message != "" {
		fmt.Fprintf(&b, "Detail: %s\n", p.Message)
	}
	if p.Minimal {
		b.WriteString("\nNo source context could be resolved for this finding. Use the lookup tools to fetch code.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "\nEnclosing %s %q (%s, lines %d-%d):\n\n", p.ScopeKind, p.ScopeName, p.File, p.StartLine, p.EndLine)
	for _, l := range p.Lines {
		marker := "  "
		if l.Vulnerable {
			marker = "->"
		}
		fmt.Fprintf(&b, "%s %5d | %s\n", marker, l.Number, l.Text)
	}
	return b.String()
}
