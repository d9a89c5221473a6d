package triage

import (
	"time"

	"github.com/linnemanlabs/vulnhalla/internal/issue"
)

// Verdict is the classification of a finding after triage.
type Verdict string

const (
	// VerdictTruePositive means the flagged vulnerability is real.
	VerdictTruePositive Verdict = "true_positive"

	// VerdictFalsePositive means the finding is spurious.
	VerdictFalsePositive Verdict = "false_positive"

	// VerdictNeedsMoreData means the model could not decide with the
	// available code context.
	VerdictNeedsMoreData Verdict = "needs_more_data"

	// VerdictUnresolved means the session ended without a usable verdict
	// (budget exhausted or the model never produced a valid terminal).
	VerdictUnresolved Verdict = "unresolved"
)

// State tracks where a triage session is in its lifecycle.
type State string

const (
	// StateInit means created, context built, nothing sent yet.
	StateInit State = "init"

	// StateAwaitingModel means a request is in flight to the provider.
	StateAwaitingModel State = "awaiting_model"

	// StateToolRequested means the model asked for one or more tool calls.
	StateToolRequested State = "tool_requested"

	// StateToolResolved means tool results were appended, ready for the next turn.
	StateToolResolved State = "tool_resolved"

	// StateTerminated means the session ended in an orderly way, verdict or not.
	StateTerminated State = "terminated"

	// StateFailed means the session aborted on an unrecoverable error.
	StateFailed State = "failed"
)

// Turn is one message exchanged during a session, kept for the transcript.
type Turn struct {
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Model      string         `json:"model,omitempty"`
	Duration   float64        `json:"duration_seconds,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// RawArtifact records the session's input before the first model call, so a
// failed run leaves evidence of what the model was shown.
type RawArtifact struct {
	Issue     *issue.Issue `json:"issue"`
	Context   string       `json:"context"`
	CreatedAt time.Time    `json:"created_at"`
}

// FinalArtifact is the durable outcome of one triage session.
type FinalArtifact struct {
	IssueID          string    `json:"issue_id"`
	Verdict          Verdict   `json:"verdict"`
	StatusCode       int       `json:"status_code,omitempty"`
	Analysis         string    `json:"analysis,omitempty"`
	State            State     `json:"state"`
	Transcript       []Turn    `json:"transcript,omitempty"`
	Turns            int       `json:"turns"`
	ToolCalls        int       `json:"tool_calls"`
	InputTokensUsed  int       `json:"input_tokens_used"`
	OutputTokensUsed int       `json:"output_tokens_used"`
	Duration         float64   `json:"duration_seconds"`
	Model            string    `json:"model,omitempty"`
	Error            string    `json:"error,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// RunResult is the in-memory outcome of Engine.Run.
type RunResult struct {
	State            State
	Verdict          Verdict
	StatusCode       int
	Analysis         string
	Transcript       []Turn
	Turns            int
	ToolCalls        int
	ToolsUsed        []string
	InputTokensUsed  int
	OutputTokensUsed int
	Duration         float64
	LLMTime          float64
	ToolTime         float64
	Model            string
	Err              error
}

// FinalArtifact converts the run result into its persisted form.
func (rr *RunResult) FinalArtifact(issueID string) *FinalArtifact {
	fa := &FinalArtifact{
		IssueID:          issueID,
		Verdict:          rr.Verdict,
		StatusCode:       rr.StatusCode,
		Analysis:         rr.Analysis,
		State:            rr.State,
		Transcript:       rr.Transcript,
		Turns:            rr.Turns,
		ToolCalls:        rr.ToolCalls,
		InputTokensUsed:  rr.InputTokensUsed,
		OutputTokensUsed: rr.OutputTokensUsed,
		Duration:         rr.Duration,
		Model:            rr.Model,
		CompletedAt:      time.Now(),
	}
	if rr.Err != nil {
		fa.Error = rr.Err.Error()
	}
	return fa
}
