package triage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/vulnhalla/internal/issue"
	"github.com/linnemanlabs/vulnhalla/internal/tools"
)

const (
	// MaxToolRounds bounds tool calls per session.
	MaxToolRounds = 15
	// MaxTokens bounds total tokens (input + output) per session.
	MaxTokens = 50000
	// ResponseTokens is the per-call output cap.
	ResponseTokens = 4096
	// RetryBudget bounds corrective re-prompts after protocol violations
	// (malformed terminal payloads, unknown status codes, unknown tools).
	RetryBudget = 2
)

// EngineHooks receive engine events, for metrics. Nil funcs are skipped.
type EngineHooks struct {
	OnLLMCall  func(inputTokens, outputTokens int, duration float64)
	OnToolCall func(name string, duration float64, inputBytes, outputBytes int, isError bool)
	OnComplete func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished session for the OnComplete hook.
type CompleteEvent struct {
	Verdict   Verdict
	State     State
	Model     string
	Duration  float64
	LLMTime   float64
	ToolTime  float64
	TokensIn  int
	TokensOut int
	ToolCalls int
}

// Engine drives one triage session: a bounded conversation between the LLM
// provider and the code-lookup tools, ending in a verdict.
type Engine struct {
	provider Provider
	registry *tools.Registry
	logger   log.Logger
	hooks    EngineHooks
}

// NewEngine creates a triage engine with the given dependencies.
func NewEngine(provider Provider, registry *tools.Registry, logger log.Logger, hooks EngineHooks) *Engine {
	return &Engine{
		provider: provider,
		registry: registry,
		logger:   logger,
		hooks:    hooks,
	}
}

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer("vulnhalla/triage")
}

// Run executes the triage session for one issue and returns its outcome.
// The engine is stateless between calls; one Engine serves any number of
// concurrent sessions.
func (e *Engine) Run(ctx context.Context, iss *issue.Issue, payload *ContextPayload) *RunResult {
	start := time.Now()
	rr := &RunResult{State: StateInit, Verdict: VerdictUnresolved}

	L := e.logger.With(
		"issue_id", iss.ID,
		"rule", iss.Rule,
		"file", iss.File,
		"line", iss.Line,
	)

	system := buildSystemPrompt()
	messages := []Message{
		{Role: "user", Content: []ContentBlock{
			{Type: "text", Text: buildInitialPrompt(payload)},
		}},
	}

	retriesLeft := RetryBudget
	seq := 0

	for {
		if rr.ToolCalls >= MaxToolRounds {
			L.Warn(ctx, "session hit tool call limit", "limit", MaxToolRounds)
			rr.State = StateTerminated
			rr.Analysis = "Session terminated: tool call budget exhausted"
			break
		}
		if rr.InputTokensUsed+rr.OutputTokensUsed >= MaxTokens {
			L.Warn(ctx, "session hit token limit", "limit", MaxTokens)
			rr.State = StateTerminated
			rr.Analysis = "Session terminated: token budget exhausted"
			break
		}

		rr.State = StateAwaitingModel
		resp, dur, err := e.callLLM(ctx, iss, seq, system, messages)
		rr.LLMTime += dur
		seq++
		if err != nil {
			L.Error(ctx, err, "llm call failed")
			rr.State = StateFailed
			rr.Err = fmt.Errorf("llm call: %w", err)
			rr.Analysis = fmt.Sprintf("LLM error: %v", err)
			break
		}

		rr.InputTokensUsed += resp.Usage.InputTokens
		rr.OutputTokensUsed += resp.Usage.OutputTokens
		if resp.Model != "" {
			rr.Model = resp.Model
		}

		L.Info(ctx, "llm response",
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)

		messages = append(messages, Message{Role: "assistant", Content: resp.Content})
		usage := resp.Usage
		rr.Transcript = append(rr.Transcript, Turn{
			Role:       "assistant",
			Content:    resp.Content,
			StopReason: string(resp.StopReason),
			Model:      resp.Model,
			Usage:      &usage,
		})
		rr.Turns++

		switch resp.StopReason {
		case StopToolUse:
			rr.State = StateToolRequested
			results, violation := e.runTools(ctx, iss, rr, resp.Content)
			if violation && !e.consumeRetry(&retriesLeft) {
				rr.State = StateFailed
				rr.Analysis = "Session failed: model repeatedly requested unknown tools"
				break
			}
			messages = append(messages, Message{Role: "user", Content: results})
			rr.Transcript = append(rr.Transcript, Turn{Role: "user", Content: results})
			rr.Turns++
			rr.State = StateToolResolved
			continue

		case StopEnd:
			text := finalText(resp.Content)
			p, perr := parseTerminal(text)
			var verdict Verdict
			ok := false
			if perr == nil {
				verdict, ok = ResolveVerdict(p.StatusCode)
			}
			if !ok {
				L.Warn(ctx, "invalid terminal payload", "error", perr, "retries_left", retriesLeft)
				if e.consumeRetry(&retriesLeft) {
					reminder := Message{Role: "user", Content: []ContentBlock{
						{Type: "text", Text: correctivePrompt(perr, p)},
					}}
					messages = append(messages, reminder)
					rr.Transcript = append(rr.Transcript, Turn{Role: "user", Content: reminder.Content})
					rr.Turns++
					continue
				}
				rr.State = StateFailed
				rr.Analysis = text
				break
			}
			rr.State = StateTerminated
			rr.Verdict = verdict
			rr.StatusCode = p.StatusCode
			rr.Analysis = p.Analysis
			break

		default:
			L.Warn(ctx, "unexpected stop reason", "stop_reason", resp.StopReason)
			rr.State = StateFailed
			rr.Analysis = fmt.Sprintf("Session failed: unexpected stop reason %q", resp.StopReason)
		}
		break
	}

	rr.Duration = time.Since(start).Seconds()

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			Verdict:   rr.Verdict,
			State:     rr.State,
			Model:     rr.Model,
			Duration:  rr.Duration,
			LLMTime:   rr.LLMTime,
			ToolTime:  rr.ToolTime,
			TokensIn:  rr.InputTokensUsed,
			TokensOut: rr.OutputTokensUsed,
			ToolCalls: rr.ToolCalls,
		})
	}

	L.Info(ctx, "session complete",
		"state", rr.State,
		"verdict", rr.Verdict,
		"duration", rr.Duration,
		"turns", rr.Turns,
		"tool_calls", rr.ToolCalls,
		"input_tokens", rr.InputTokensUsed,
		"output_tokens", rr.OutputTokensUsed,
	)
	return rr
}

func (e *Engine) consumeRetry(retriesLeft *int) bool {
	if *retriesLeft <= 0 {
		return false
	}
	*retriesLeft--
	return true
}

func (e *Engine) callLLM(ctx context.Context, iss *issue.Issue, seq int, system string, messages []Message) (*LLMResponse, float64, error) {
	ctx, span := tracer().Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("vulnhalla.issue.id", iss.ID),
		attribute.String("vulnhalla.issue.rule", iss.Rule),
		attribute.Int("vulnhalla.chat.seq", seq),
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.Int("llm.request.messages", len(messages)),
	))

	callStart := time.Now()
	resp, err := e.provider.Send(ctx, &LLMRequest{
		MaxTokens: ResponseTokens,
		System:    system,
		Messages:  messages,
		Tools:     e.registry.ToToolDefs(),
	})
	dur := time.Since(callStart).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		return nil, dur, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.String("llm.response.stop_reason", string(resp.StopReason)),
	))

	if e.hooks.OnLLMCall != nil {
		e.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, dur)
	}
	return resp, dur, nil
}

// runTools executes every tool_use block and returns the tool_result blocks
// for the next user message. violation reports whether an unknown tool was
// requested; a failing known tool is not a violation, its error goes back to
// the model as an is_error result.
func (e *Engine) runTools(ctx context.Context, iss *issue.Issue, rr *RunResult, content []ContentBlock) (results []ContentBlock, violation bool) {
	for _, block := range content {
		if block.Type != "tool_use" {
			continue
		}
		rr.ToolCalls++
		rr.ToolsUsed = append(rr.ToolsUsed, block.Name)

		tool, ok := e.registry.Get(block.Name)
		if !ok {
			violation = true
			results = append(results, ContentBlock{
				Type:      "tool_result",
				ToolUseID: block.ID,
				Content:   fmt.Sprintf("unknown tool: %s", block.Name),
				IsError:   true,
			})
			continue
		}

		results = append(results, e.executeTool(ctx, iss, rr, tool, &block))
	}
	return results, violation
}

func (e *Engine) executeTool(ctx context.Context, iss *issue.Issue, rr *RunResult, tool tools.Tool, block *ContentBlock) ContentBlock {
	ctx, span := tracer().Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", block.Name),
		attribute.String("vulnhalla.issue.id", iss.ID),
		attribute.String("vulnhalla.tool.input", string(block.Input)),
	))
	defer span.End()

	span.AddEvent("tool.request", trace.WithAttributes(
		attribute.String("tool.request.body", string(block.Input)),
	))

	callStart := time.Now()
	output, err := tool.Execute(ctx, block.Input)
	dur := time.Since(callStart).Seconds()
	rr.ToolTime += dur

	isErr := err != nil
	span.SetAttributes(attribute.Bool("vulnhalla.tool.is_error", isErr))

	var result ContentBlock
	if err != nil {
		e.logger.Error(ctx, err, "tool execution failed", "tool", block.Name, "issue_id", iss.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool execution failed")
		result = ContentBlock{
			Type:      "tool_result",
			ToolUseID: block.ID,
			Content:   fmt.Sprintf("tool error: %v", err),
			IsError:   true,
		}
	} else {
		span.AddEvent("tool.result", trace.WithAttributes(
			attribute.String("tool.result.body", string(output)),
		))
		result = ContentBlock{
			Type:      "tool_result",
			ToolUseID: block.ID,
			Content:   string(output),
		}
	}

	if e.hooks.OnToolCall != nil {
		e.hooks.OnToolCall(block.Name, dur, len(block.Input), len(result.Content), isErr)
	}
	return result
}

func finalText(content []ContentBlock) string {
	text := ""
	for _, block := range content {
		if block.Type == "text" {
			text = block.Text
		}
	}
	return text
}

// buildSystemPrompt constructs the system prompt: the analyst role, the tool
// discipline, and the terminal payload contract.
func buildSystemPrompt() string {
	return fmt.Sprintf(`You are a security analyst reviewing static-analysis findings for real, exploitable vulnerabilities.

You are given one finding with the source of its enclosing scope. Use the available tools to fetch
any further code you need: function definitions, caller chains, global variables, class definitions.
Follow the data flow before you judge; do not guess about code you have not seen.

When your analysis is complete, reply with a single JSON object and nothing else:

{"status_code": <code>, "analysis": "<your reasoning, concise>"}

Status codes:
  %d - true positive: the flagged flaw is real and reachable
  %d - false positive: the finding is spurious or the flow is safely constrained
  %d - cannot decide: required code is missing or unreadable
  %d - cannot decide: the flow is only partially analyzable

Do not emit the JSON object until you are done calling tools.`,
		StatusCodeTruePositive, StatusCodeFalsePositive, StatusCodeNeedsData, StatusCodeNeedsDataAlt)
}

// buildInitialPrompt constructs the first user message from the issue context.
func buildInitialPrompt(payload *ContextPayload) string {
	return payload.Render() + "\nInvestigate this finding with the available tools and report your verdict."
}

func correctivePrompt(parseErr error, p *terminalPayload) string {
	if parseErr != nil {
		return `Your last reply was not a valid terminal message. Reply with exactly one JSON object: {"status_code": <1-4>, "analysis": "<reasoning>"}`
	}
	return fmt.Sprintf(`Status code %d is not valid. Use 1 (true positive), 2 (false positive), 3 or 4 (cannot decide). Reply with exactly one JSON object: {"status_code": <1-4>, "analysis": "<reasoning>"}`, p.StatusCode)
}
