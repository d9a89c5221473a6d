package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
)

const maxClassLines = 200

// GetClass returns the source of a class definition by name.
type GetClass struct {
	index *codeindex.Index
}

func NewGetClass(ix *codeindex.Index) *GetClass {
	return &GetClass{index: ix}
}

func (g *GetClass) Name() string { return "get_class" }

func (g *GetClass) Description() string {
	return `Fetch the full source of a class definition by name. When the name is defined in
several files the first definition is returned and the rest are listed under
other_matches; pass file to pick a specific one.`
}

func (g *GetClass) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "name": {
                "type": "string",
                "description": "Class name"
            },
            "file": {
                "type": "string",
                "description": "File path to disambiguate when the name is defined more than once"
            }
        },
        "required": ["name"]
    }`)
}

func (g *GetClass) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Name string `json:"name"`
		File string `json:"file,omitempty"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	defs := g.index.Classes(input.Name)
	if input.File != "" {
		filtered := defs[:0:0]
		for _, d := range defs {
			if d.File == input.File {
				filtered = append(filtered, d)
			}
		}
		defs = filtered
	}
	if len(defs) == 0 {
		return notFound()
	}

	first := defs[0]
	text, err := g.index.SourceRange(first.File, first.StartLine, first.EndLine)
	if err != nil {
		return nil, fmt.Errorf("read source for %s:%d: %w", first.File, first.StartLine, err)
	}
	text, truncated := truncateSource(text, maxClassLines)

	var others []string
	for _, d := range defs[1:] {
		others = append(others, d.File)
	}

	out := map[string]any{
		"found":      true,
		"name":       first.Name,
		"file":       first.File,
		"start_line": first.StartLine,
		"end_line":   first.EndLine,
		"source":     text,
		"truncated":  truncated,
	}
	if len(others) > 0 {
		out["other_matches"] = others
	}
	return json.Marshal(out)
}
