package triage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status codes the model reports in its terminal message. The numeric scheme
// is part of the prompt contract; ResolveVerdict maps it onto verdicts.
const (
	StatusCodeTruePositive  = 1
	StatusCodeFalsePositive = 2
	StatusCodeNeedsData     = 3
	// StatusCodeNeedsDataAlt exists for models that report "partially
	// analyzable" separately from "not analyzable". Both fold into
	// VerdictNeedsMoreData.
	StatusCodeNeedsDataAlt = 4
)

// ResolveVerdict maps a reported status code to a verdict. ok is false for
// codes outside the contract.
func ResolveVerdict(code int) (Verdict, bool) {
	switch code {
	case StatusCodeTruePositive:
		return VerdictTruePositive, true
	case StatusCodeFalsePositive:
		return VerdictFalsePositive, true
	case StatusCodeNeedsData, StatusCodeNeedsDataAlt:
		return VerdictNeedsMoreData, true
	default:
		return "", false
	}
}

// terminalPayload is the JSON object the model must emit to end a session.
type terminalPayload struct {
	StatusCode int    `json:"status_code"`
	Analysis   string `json:"analysis"`
}

// parseTerminal extracts the terminal payload from the model's final text.
// Models wrap the object in prose or code fences often enough that a strict
// whole-text unmarshal is tried first, then the outermost braced region.
func parseTerminal(text string) (*terminalPayload, error) {
	text = strings.TrimSpace(text)

	var p terminalPayload
	if err := json.Unmarshal([]byte(text), &p); err == nil && p.StatusCode != 0 {
		return &p, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in terminal text")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("parse terminal payload: %w", err)
	}
	if p.StatusCode == 0 {
		return nil, fmt.Errorf("terminal payload missing status_code")
	}
	return &p, nil
}
