package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
)

// GetGlobalVar returns every definition site of a global variable. The name
// alone does not identify a file, so all matches come back and the model
// disambiguates by path.
type GetGlobalVar struct {
	index *codeindex.Index
}

func NewGetGlobalVar(ix *codeindex.Index) *GetGlobalVar {
	return &GetGlobalVar{index: ix}
}

func (g *GetGlobalVar) Name() string { return "get_global_var" }

func (g *GetGlobalVar) Description() string {
	return `Fetch the definition of a global (module-level) variable by name. Returns every
file that defines the name, each with its assignment source. Useful for checking
configuration constants, sanitizer tables, and flags referenced by the flagged code.`
}

func (g *GetGlobalVar) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "name": {
                "type": "string",
                "description": "Variable name as written at module level"
            }
        },
        "required": ["name"]
    }`)
}

func (g *GetGlobalVar) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	defs := g.index.Globals(input.Name)
	if len(defs) == 0 {
		return notFound()
	}

	type entry struct {
		File      string `json:"file"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Source    string `json:"source"`
	}
	out := make([]entry, 0, len(defs))
	for _, d := range defs {
		text, err := g.index.SourceRange(d.File, d.StartLine, d.EndLine)
		if err != nil {
			return nil, fmt.Errorf("read source for %s:%d: %w", d.File, d.StartLine, err)
		}
		out = append(out, entry{File: d.File, StartLine: d.StartLine, EndLine: d.EndLine, Source: text})
	}

	return json.Marshal(map[string]any{
		"found":       true,
		"name":        input.Name,
		"definitions": out,
	})
}
