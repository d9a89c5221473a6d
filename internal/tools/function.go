package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
)

// maxFunctionLines caps how much source a single definition lookup returns,
// so one oversized scope cannot blow the conversation's context window.
const maxFunctionLines = 200

// GetFunction returns the full source of a function, looked up by scope id
// or by name.
type GetFunction struct {
	index *codeindex.Index
}

func NewGetFunction(ix *codeindex.Index) *GetFunction {
	return &GetFunction{index: ix}
}

func (g *GetFunction) Name() string { return "get_function" }

func (g *GetFunction) Description() string {
	return `Fetch the source code of a function definition. Prefer scope_id when you have one
(from the issue context or a previous lookup); fall back to name for functions you only
know by identifier. Returns the definition's file, line range, and source text.`
}

func (g *GetFunction) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "scope_id": {
                "type": "string",
                "description": "Scope id of the function (file:start_line)"
            },
            "name": {
                "type": "string",
                "description": "Function name, used when no scope_id is known"
            }
        }
    }`)
}

func (g *GetFunction) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		ScopeID string `json:"scope_id,omitempty"`
		Name    string `json:"name,omitempty"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.ScopeID == "" && input.Name == "" {
		return nil, fmt.Errorf("scope_id or name is required")
	}

	scope, others := g.resolve(input.ScopeID, input.Name)
	if scope == nil {
		return notFound()
	}
	return scopePayload(g.index, scope, maxFunctionLines, others)
}

// resolve picks the definition to return: id lookup wins, then the first
// name match. Remaining name matches come back as disambiguation hints.
func (g *GetFunction) resolve(scopeID, name string) (*codeindex.ScopeNode, []string) {
	if scopeID != "" {
		if s, ok := g.index.LookupByID(scopeID); ok {
			return s, nil
		}
		if name == "" {
			return nil, nil
		}
	}
	matches := g.index.LookupByName(codeindex.KindFunction, name)
	if len(matches) == 0 {
		return nil, nil
	}
	var others []string
	for _, m := range matches[1:] {
		others = append(others, m.ID)
	}
	return matches[0], others
}

func notFound() (json.RawMessage, error) {
	// a miss is an answer, not an error: the model reads it and moves on
	return json.Marshal(map[string]any{"found": false})
}

func scopePayload(ix *codeindex.Index, s *codeindex.ScopeNode, maxLines int, others []string) (json.RawMessage, error) {
	text, err := ix.ScopeSource(s)
	if err != nil {
		return nil, fmt.Errorf("read source for %s: %w", s.ID, err)
	}
	text, truncated := truncateSource(text, maxLines)

	out := map[string]any{
		"found":      true,
		"scope_id":   s.ID,
		"name":       s.Name,
		"file":       s.File,
		"start_line": s.StartLine,
		"end_line":   s.EndLine,
		"source":     text,
		"truncated":  truncated,
	}
	if len(others) > 0 {
		out["other_matches"] = others
	}
	return json.Marshal(out)
}

func truncateSource(text string, maxLines int) (string, bool) {
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text, false
	}
	kept := lines[:maxLines]
	return strings.Join(kept, "\n") + "\n... [source truncated]", true
}
