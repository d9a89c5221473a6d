package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
)

const (
	defaultCallerDepth = 3
	maxCallerDepth     = 10
	// Callers are context, not the subject under scrutiny; keep them short.
	maxCallerLines = 60
)

// GetCallerChain walks caller references upward from a scope and returns the
// chain of enclosing call sites.
type GetCallerChain struct {
	index *codeindex.Index
}

func NewGetCallerChain(ix *codeindex.Index) *GetCallerChain {
	return &GetCallerChain{index: ix}
}

func (g *GetCallerChain) Name() string { return "get_caller_chain" }

func (g *GetCallerChain) Description() string {
	return `Walk the chain of callers for a scope, outermost last. Use this to check whether
input reaching the flagged code is sanitized or constrained upstream. Each entry carries
the caller's location and (shortened) source. An empty chain means no caller is recorded.`
}

func (g *GetCallerChain) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "scope_id": {
                "type": "string",
                "description": "Scope id to start from (file:start_line)"
            },
            "depth": {
                "type": "integer",
                "description": "Maximum chain length, default 3, capped at 10"
            }
        },
        "required": ["scope_id"]
    }`)
}

func (g *GetCallerChain) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		ScopeID string `json:"scope_id"`
		Depth   int    `json:"depth,omitempty"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.ScopeID == "" {
		return nil, fmt.Errorf("scope_id is required")
	}

	depth := input.Depth
	if depth <= 0 {
		depth = defaultCallerDepth
	}
	if depth > maxCallerDepth {
		depth = maxCallerDepth
	}

	start, ok := g.index.LookupByID(input.ScopeID)
	if !ok {
		return notFound()
	}

	type entry struct {
		ScopeID   string `json:"scope_id"`
		Name      string `json:"name"`
		File      string `json:"file"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Source    string `json:"source"`
		Truncated bool   `json:"truncated,omitempty"`
	}

	chain := make([]entry, 0, depth)
	visited := map[string]bool{start.ID: true}
	cur := start
	for len(chain) < depth && cur.CallerID != "" {
		next, ok := g.index.LookupByID(cur.CallerID)
		if !ok || visited[next.ID] {
			// dangling edges are cleared at build time, so this guards
			// recursion cycles only
			break
		}
		visited[next.ID] = true

		text, err := g.index.ScopeSource(next)
		if err != nil {
			return nil, fmt.Errorf("read source for %s: %w", next.ID, err)
		}
		text, truncated := truncateSource(text, maxCallerLines)
		chain = append(chain, entry{
			ScopeID:   next.ID,
			Name:      next.Name,
			File:      next.File,
			StartLine: next.StartLine,
			EndLine:   next.EndLine,
			Source:    text,
			Truncated: truncated,
		})
		cur = next
	}

	return json.Marshal(map[string]any{
		"found":    true,
		"scope_id": start.ID,
		"callers":  chain,
	})
}
