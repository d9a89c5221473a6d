package triage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/vulnhalla/internal/issue"
	"github.com/linnemanlabs/vulnhalla/internal/tools"
)

// mockProvider returns preconfigured responses in sequence.
type mockProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	callIdx   int
}

const claudeTestModel = "claude-sonnet-4-20250514"

func (m *mockProvider) Send(_ context.Context, _ *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callIdx
	m.callIdx++

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	// fallback: end turn with a valid terminal
	return &LLMResponse{
		Content:    []ContentBlock{{Type: "text", Text: `{"status_code":2,"analysis":"fallback"}`}},
		StopReason: StopEnd,
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

// mockTool returns preconfigured Execute results.
type mockTool struct {
	name   string
	output json.RawMessage
	err    error
}

func (m *mockTool) Name() string                { return m.name }
func (m *mockTool) Description() string         { return "mock tool" }
func (m *mockTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (m *mockTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return m.output, m.err
}

func testIssue() *issue.Issue {
	return &issue.Issue{
		ID:      "iss-test",
		Rule:    "py/sql-injection",
		File:    "/repo/app/db.py",
		Line:    42,
		Message: "user input flows into query",
	}
}

func testPayload() *ContextPayload {
	return &ContextPayload{
		File:    "/repo/app/db.py",
		Line:    42,
		Rule:    "py/sql-injection",
		Message: "user input flows into query",
		Minimal: true,
	}
}

func terminalResponse(code int, analysis string) *LLMResponse {
	text, _ := json.Marshal(map[string]any{"status_code": code, "analysis": analysis})
	return &LLMResponse{
		Content:    []ContentBlock{{Type: "text", Text: string(text)}},
		StopReason: StopEnd,
		Usage:      Usage{InputTokens: 100, OutputTokens: 50},
		Model:      claudeTestModel,
	}
}

func TestRun_SingleTurn(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	provider := &mockProvider{
		responses: []*LLMResponse{terminalResponse(1, "tainted flow reaches the sink")},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if rr.Verdict != VerdictTruePositive {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictTruePositive)
	}
	if rr.StatusCode != 1 {
		t.Errorf("status code = %d, want 1", rr.StatusCode)
	}
	if rr.Analysis != "tainted flow reaches the sink" {
		t.Errorf("analysis = %q", rr.Analysis)
	}
	if rr.InputTokensUsed != 100 || rr.OutputTokensUsed != 50 {
		t.Errorf("tokens = %d/%d, want 100/50", rr.InputTokensUsed, rr.OutputTokensUsed)
	}
	if rr.Duration <= 0 {
		t.Error("expected positive duration")
	}
	if len(rr.Transcript) != 1 {
		t.Fatalf("transcript turns = %d, want 1", len(rr.Transcript))
	}
	turn := rr.Transcript[0]
	if turn.Role != "assistant" {
		t.Errorf("first turn role = %q, want assistant", turn.Role)
	}
	if turn.Usage == nil {
		t.Error("expected usage on assistant turn")
	}
	if turn.StopReason != string(StopEnd) {
		t.Errorf("turn stop_reason = %q, want %q", turn.StopReason, StopEnd)
	}
	if rr.Model != claudeTestModel {
		t.Errorf("model = %q, want %q", rr.Model, claudeTestModel)
	}
	if len(rr.ToolsUsed) != 0 {
		t.Errorf("ToolsUsed = %v, want empty", rr.ToolsUsed)
	}
	if rr.LLMTime < 0 {
		t.Error("expected non-negative LLMTime")
	}
}

func TestRun_ToolUseLoop(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	registry.Register(&mockTool{
		name:   "get_function",
		output: json.RawMessage(`{"found":true,"source":"def f(): pass"}`),
	})

	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content: []ContentBlock{
					{Type: "tool_use", ID: "call-1", Name: "get_function", Input: json.RawMessage(`{"name":"f"}`)},
				},
				StopReason: StopToolUse,
				Usage:      Usage{InputTokens: 100, OutputTokens: 50},
			},
			terminalResponse(2, "sanitized upstream"),
		},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if rr.Verdict != VerdictFalsePositive {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictFalsePositive)
	}
	if rr.ToolCalls != 1 {
		t.Errorf("tool_calls = %d, want 1", rr.ToolCalls)
	}
	if rr.InputTokensUsed != 200 {
		t.Errorf("InputTokensUsed = %d, want 200", rr.InputTokensUsed)
	}
	// assistant (tool_use), user (tool_result), assistant (terminal)
	if len(rr.Transcript) != 3 {
		t.Errorf("transcript turns = %d, want 3", len(rr.Transcript))
	}
	if len(rr.ToolsUsed) != 1 || rr.ToolsUsed[0] != "get_function" {
		t.Errorf("ToolsUsed = %v, want [get_function]", rr.ToolsUsed)
	}
}

func TestRun_UnknownToolRecovers(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry() // empty registry

	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content: []ContentBlock{
					{Type: "tool_use", ID: "call-1", Name: "nonexistent_tool", Input: json.RawMessage(`{}`)},
				},
				StopReason: StopToolUse,
				Usage:      Usage{InputTokens: 50, OutputTokens: 30},
			},
			terminalResponse(3, "could not fetch the code"),
		},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if rr.Verdict != VerdictNeedsMoreData {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictNeedsMoreData)
	}
	if len(rr.ToolsUsed) != 1 || rr.ToolsUsed[0] != "nonexistent_tool" {
		t.Errorf("ToolsUsed = %v, want [nonexistent_tool]", rr.ToolsUsed)
	}
}

func TestRun_UnknownToolExhaustsRetries(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()

	unknown := func(id string) *LLMResponse {
		return &LLMResponse{
			Content: []ContentBlock{
				{Type: "tool_use", ID: id, Name: "made_up_tool", Input: json.RawMessage(`{}`)},
			},
			StopReason: StopToolUse,
			Usage:      Usage{InputTokens: 10, OutputTokens: 5},
		}
	}
	provider := &mockProvider{
		responses: []*LLMResponse{unknown("c-1"), unknown("c-2"), unknown("c-3")},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateFailed {
		t.Errorf("state = %q, want %q", rr.State, StateFailed)
	}
	if rr.Verdict != VerdictUnresolved {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictUnresolved)
	}
	if provider.calls() != RetryBudget+1 {
		t.Errorf("provider calls = %d, want %d", provider.calls(), RetryBudget+1)
	}
}

func TestRun_ToolExecutionError(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	registry.Register(&mockTool{
		name: "get_function",
		err:  errors.New("source file unreadable"),
	})

	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content: []ContentBlock{
					{Type: "tool_use", ID: "call-1", Name: "get_function", Input: json.RawMessage(`{}`)},
				},
				StopReason: StopToolUse,
				Usage:      Usage{InputTokens: 50, OutputTokens: 30},
			},
			terminalResponse(3, "tool failed, cannot see the code"),
		},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if rr.ToolCalls != 1 {
		t.Errorf("tool_calls = %d, want 1", rr.ToolCalls)
	}
	// The tool error went back to the model as an is_error result.
	var toolResult *ContentBlock
	for i := range rr.Transcript {
		for j := range rr.Transcript[i].Content {
			if rr.Transcript[i].Content[j].Type == "tool_result" {
				toolResult = &rr.Transcript[i].Content[j]
			}
		}
	}
	if toolResult == nil {
		t.Fatal("expected a tool_result in the transcript")
	}
	if !toolResult.IsError {
		t.Error("expected tool_result.is_error = true")
	}
}

func TestRun_LLMError(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	provider := &mockProvider{
		errs: []error{errors.New("api key expired")},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateFailed {
		t.Errorf("state = %q, want %q", rr.State, StateFailed)
	}
	if rr.Err == nil || !strings.Contains(rr.Err.Error(), "api key expired") {
		t.Errorf("err = %v, want it to contain the provider error", rr.Err)
	}
	if rr.Verdict != VerdictUnresolved {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictUnresolved)
	}
}

func TestRun_MalformedTerminalRetry(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content:    []ContentBlock{{Type: "text", Text: "I think it is a true positive."}},
				StopReason: StopEnd,
				Usage:      Usage{InputTokens: 50, OutputTokens: 20},
			},
			terminalResponse(1, "confirmed after reminder"),
		},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if rr.Verdict != VerdictTruePositive {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictTruePositive)
	}
	if provider.calls() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls())
	}
	// assistant (bad), user (corrective), assistant (terminal)
	if len(rr.Transcript) != 3 {
		t.Fatalf("transcript turns = %d, want 3", len(rr.Transcript))
	}
	if rr.Transcript[1].Role != "user" {
		t.Errorf("corrective turn role = %q, want user", rr.Transcript[1].Role)
	}
}

func TestRun_MalformedTerminalExhaustsRetries(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	garbage := &LLMResponse{
		Content:    []ContentBlock{{Type: "text", Text: "definitely a vulnerability, trust me"}},
		StopReason: StopEnd,
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}
	provider := &mockProvider{
		responses: []*LLMResponse{garbage, garbage, garbage},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateFailed {
		t.Errorf("state = %q, want %q", rr.State, StateFailed)
	}
	if rr.Verdict != VerdictUnresolved {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictUnresolved)
	}
	if rr.Err != nil {
		t.Errorf("err = %v, want nil (protocol failure, not provider failure)", rr.Err)
	}
	if provider.calls() != RetryBudget+1 {
		t.Errorf("provider calls = %d, want %d", provider.calls(), RetryBudget+1)
	}
	// The last reply is preserved as the analysis for the artifact.
	if rr.Analysis != "definitely a vulnerability, trust me" {
		t.Errorf("analysis = %q", rr.Analysis)
	}
}

func TestRun_InvalidStatusCodeRetry(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content:    []ContentBlock{{Type: "text", Text: `{"status_code":9,"analysis":"made up code"}`}},
				StopReason: StopEnd,
				Usage:      Usage{InputTokens: 10, OutputTokens: 5},
			},
			terminalResponse(4, "flow only partially analyzable"),
		},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if rr.Verdict != VerdictNeedsMoreData {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictNeedsMoreData)
	}
	if rr.StatusCode != 4 {
		t.Errorf("status code = %d, want 4", rr.StatusCode)
	}
}

func TestRun_MaxToolRoundsLimit(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	registry.Register(&mockTool{
		name:   "get_function",
		output: json.RawMessage(`{"found":true}`),
	})

	responses := make([]*LLMResponse, MaxToolRounds)
	for i := range MaxToolRounds {
		responses[i] = &LLMResponse{
			Content: []ContentBlock{
				{Type: "tool_use", ID: "call-" + strings.Repeat("x", i+1), Name: "get_function", Input: json.RawMessage(`{}`)},
			},
			StopReason: StopToolUse,
			Usage:      Usage{InputTokens: 10, OutputTokens: 5},
		}
	}

	provider := &mockProvider{responses: responses}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if rr.Verdict != VerdictUnresolved {
		t.Errorf("verdict = %q, want %q", rr.Verdict, VerdictUnresolved)
	}
	if !strings.Contains(rr.Analysis, "tool call budget") {
		t.Errorf("analysis = %q, want it to mention tool call budget", rr.Analysis)
	}
	if rr.ToolCalls != MaxToolRounds {
		t.Errorf("tool_calls = %d, want %d", rr.ToolCalls, MaxToolRounds)
	}
}

func TestRun_MaxTokensLimit(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	registry.Register(&mockTool{
		name:   "get_function",
		output: json.RawMessage(`{"found":true}`),
	})

	// One call burns through the whole token budget.
	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content: []ContentBlock{
					{Type: "tool_use", ID: "call-1", Name: "get_function", Input: json.RawMessage(`{}`)},
				},
				StopReason: StopToolUse,
				Usage:      Usage{InputTokens: MaxTokens / 2, OutputTokens: MaxTokens / 2},
			},
		},
	}
	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})

	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Errorf("state = %q, want %q", rr.State, StateTerminated)
	}
	if !strings.Contains(rr.Analysis, "token budget") {
		t.Errorf("analysis = %q, want it to mention token budget", rr.Analysis)
	}
	if provider.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls())
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	prompt := buildSystemPrompt()
	if prompt == "" {
		t.Fatal("expected non-empty system prompt")
	}
	if !strings.Contains(prompt, "status_code") {
		t.Error("system prompt should state the terminal payload contract")
	}
	for _, code := range []string{"1 -", "2 -", "3 -", "4 -"} {
		if !strings.Contains(prompt, code) {
			t.Errorf("system prompt missing status code line %q", code)
		}
	}
}

func TestBuildInitialPrompt(t *testing.T) {
	t.Parallel()

	prompt := buildInitialPrompt(testPayload())
	for _, want := range []string{"py/sql-injection", "/repo/app/db.py:42", "user input flows into query"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("initial prompt missing %q", want)
		}
	}
}

func TestRun_HooksCalled(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry()
	registry.Register(&mockTool{
		name:   "get_class",
		output: json.RawMessage(`{"found":true}`),
	})

	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content: []ContentBlock{
					{Type: "tool_use", ID: "c-1", Name: "get_class", Input: json.RawMessage(`{"name":"Conn"}`)},
				},
				StopReason: StopToolUse,
				Usage:      Usage{InputTokens: 100, OutputTokens: 50},
			},
			terminalResponse(2, "constrained by config"),
		},
	}

	var (
		mu              sync.Mutex
		llmCalls        int
		totalTokensIn   int
		totalTokensOut  int
		toolCalls       int
		lastToolName    string
		lastToolErr     bool
		completeCalls   int
		completeVerdict Verdict
	)

	hooks := EngineHooks{
		OnLLMCall: func(in, out int, _ float64) {
			mu.Lock()
			defer mu.Unlock()
			llmCalls++
			totalTokensIn += in
			totalTokensOut += out
		},
		OnToolCall: func(name string, _ float64, _, _ int, isErr bool) {
			mu.Lock()
			defer mu.Unlock()
			toolCalls++
			lastToolName = name
			lastToolErr = isErr
		},
		OnComplete: func(e *CompleteEvent) {
			mu.Lock()
			defer mu.Unlock()
			completeCalls++
			completeVerdict = e.Verdict
		},
	}

	engine := NewEngine(provider, registry, log.Nop(), hooks)
	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Fatalf("state = %q, want %q", rr.State, StateTerminated)
	}

	mu.Lock()
	defer mu.Unlock()

	if llmCalls != 2 {
		t.Errorf("llm hook calls = %d, want 2", llmCalls)
	}
	if totalTokensIn != 200 {
		t.Errorf("total tokens in = %d, want 200", totalTokensIn)
	}
	if totalTokensOut != 100 {
		t.Errorf("total tokens out = %d, want 100", totalTokensOut)
	}
	if toolCalls != 1 {
		t.Errorf("tool hook calls = %d, want 1", toolCalls)
	}
	if lastToolName != "get_class" {
		t.Errorf("last tool name = %q, want %q", lastToolName, "get_class")
	}
	if lastToolErr {
		t.Error("expected tool error = false")
	}
	if completeCalls != 1 {
		t.Errorf("complete hook calls = %d, want 1", completeCalls)
	}
	if completeVerdict != VerdictFalsePositive {
		t.Errorf("complete verdict = %q, want %q", completeVerdict, VerdictFalsePositive)
	}
}

func TestRun_CreatesSpans(t *testing.T) { //nolint:gocognit // its a complex test and not worth the time to break down
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	registry := tools.NewRegistry()
	registry.Register(&mockTool{
		name:   "get_function",
		output: json.RawMessage(`{"ok":true}`),
	})

	provider := &mockProvider{
		responses: []*LLMResponse{
			{
				Content: []ContentBlock{
					{Type: "tool_use", ID: "c-1", Name: "get_function", Input: json.RawMessage(`{"q":"x"}`)},
				},
				StopReason: StopToolUse,
				Usage:      Usage{InputTokens: 100, OutputTokens: 50},
				Model:      claudeTestModel,
			},
			terminalResponse(1, "done"),
		},
	}

	engine := NewEngine(provider, registry, log.Nop(), EngineHooks{})
	rr := engine.Run(context.Background(), testIssue(), testPayload())

	if rr.State != StateTerminated {
		t.Fatalf("state = %q, want %q", rr.State, StateTerminated)
	}

	spans := exporter.GetSpans()

	counts := make(map[string]int)
	for _, s := range spans {
		counts[s.Name]++
	}

	if counts["llm.call"] != 2 {
		t.Errorf("llm.call spans = %d, want 2", counts["llm.call"])
	}
	if counts["tool.execute"] != 1 {
		t.Errorf("tool.execute spans = %d, want 1", counts["tool.execute"])
	}

	var chatSpanIdx int
	for _, s := range spans {
		if s.Name != "llm.call" {
			continue
		}
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if v, ok := attrs["gen_ai.operation.name"]; !ok || v != "llm.call" {
			t.Errorf("llm.call span missing gen_ai.operation.name=llm.call, got %v", v)
		}
		if v, ok := attrs["gen_ai.response.model"]; !ok || v != claudeTestModel {
			t.Errorf("llm.call span missing gen_ai.response.model, got %v", v)
		}
		if v, ok := attrs["vulnhalla.issue.id"]; !ok || v != "iss-test" {
			t.Errorf("llm.call span vulnhalla.issue.id = %v, want iss-test", v)
		}
		if v, ok := attrs["vulnhalla.chat.seq"]; !ok || v != int64(chatSpanIdx) {
			t.Errorf("llm.call span vulnhalla.chat.seq = %v, want %d", v, chatSpanIdx)
		}

		eventNames := make(map[string]bool)
		for _, ev := range s.Events {
			eventNames[ev.Name] = true
		}
		if !eventNames["llm.request"] {
			t.Errorf("llm.call span[%d] missing llm.request event", chatSpanIdx)
		}
		if !eventNames["llm.response"] {
			t.Errorf("llm.call span[%d] missing llm.response event", chatSpanIdx)
		}

		chatSpanIdx++
	}

	for _, s := range spans {
		if s.Name != "tool.execute" {
			continue
		}
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if v, ok := attrs["gen_ai.operation.name"]; !ok || v != "tool.execute" {
			t.Errorf("tool span gen_ai.operation.name = %v, want tool.execute", v)
		}
		if v, ok := attrs["gen_ai.tool.name"]; !ok || v != "get_function" {
			t.Errorf("tool span missing gen_ai.tool.name=get_function, got %v", v)
		}
		if v, ok := attrs["vulnhalla.tool.is_error"]; !ok || v != false {
			t.Errorf("tool span vulnhalla.tool.is_error = %v, want false", v)
		}
		if v, ok := attrs["vulnhalla.issue.id"]; !ok || v != "iss-test" {
			t.Errorf("tool span vulnhalla.issue.id = %v, want iss-test", v)
		}
		if v, ok := attrs["vulnhalla.tool.input"]; !ok || v != `{"q":"x"}` {
			t.Errorf("tool span vulnhalla.tool.input = %v, want {\"q\":\"x\"}", v)
		}

		eventNames := make(map[string]map[string]string)
		for _, ev := range s.Events {
			evAttrs := make(map[string]string)
			for _, a := range ev.Attributes {
				evAttrs[string(a.Key)] = a.Value.AsString()
			}
			eventNames[ev.Name] = evAttrs
		}
		if reqAttrs, ok := eventNames["tool.request"]; !ok {
			t.Error("tool.execute span missing tool.request event")
		} else if reqAttrs["tool.request.body"] != `{"q":"x"}` {
			t.Errorf("tool.request body = %q, want %q", reqAttrs["tool.request.body"], `{"q":"x"}`)
		}
		if resAttrs, ok := eventNames["tool.result"]; !ok {
			t.Error("tool.execute span missing tool.result event")
		} else if resAttrs["tool.result.body"] != `{"ok":true}` {
			t.Errorf("tool.result body = %q, want %q", resAttrs["tool.result.body"], `{"ok":true}`)
		}
		break
	}

	if rr.InputTokensUsed != 200 {
		t.Errorf("InputTokensUsed = %d, want 200", rr.InputTokensUsed)
	}
	if rr.OutputTokensUsed != 100 {
		t.Errorf("OutputTokensUsed = %d, want 100", rr.OutputTokensUsed)
	}
}
