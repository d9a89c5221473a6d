// Package scheduler fans a batch of issues out over a bounded pool of triage
// sessions and aggregates the outcome.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
	"github.com/linnemanlabs/vulnhalla/internal/issue"
	"github.com/linnemanlabs/vulnhalla/internal/triage"
)

// Summary aggregates the outcome of one run over a batch of issues.
type Summary struct {
	RunID    string                 `json:"run_id"`
	Total    int                    `json:"total"`
	Skipped  int                    `json:"skipped"`
	Failed   int                    `json:"failed"`
	Verdicts map[triage.Verdict]int `json:"verdicts"`
	Elapsed  time.Duration          `json:"elapsed"`
}

// Scheduler runs triage sessions for a batch of issues with bounded
// concurrency. Sessions are independent; one failing never stops the batch.
type Scheduler struct {
	engine      *triage.Engine
	index       *codeindex.Index
	store       triage.Store
	logger      log.Logger
	metrics     *triage.Metrics
	concurrency int
}

// New creates a Scheduler. metrics may be nil.
func New(engine *triage.Engine, index *codeindex.Index, store triage.Store, logger log.Logger, metrics *triage.Metrics, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		engine:      engine,
		index:       index,
		store:       store,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// Run triages every issue in the batch and returns the summary. Issues with a
// stored final artifact are skipped, which is what makes an interrupted run
// resumable: just run it again against the same results directory. The only
// error returned is context cancellation.
func (s *Scheduler) Run(ctx context.Context, issues []*issue.Issue) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		RunID:    ulid.Make().String(),
		Total:    len(issues),
		Verdicts: make(map[triage.Verdict]int),
	}
	var mu sync.Mutex

	L := s.logger.With("run_id", summary.RunID)
	L.Info(ctx, "run starting", "issues", len(issues), "concurrency", s.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, iss := range issues {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			disposition, verdict := s.runOne(gctx, L, iss)

			mu.Lock()
			switch disposition {
			case "skipped":
				summary.Skipped++
			case "failed":
				summary.Failed++
			}
			if verdict != "" {
				summary.Verdicts[verdict]++
			}
			mu.Unlock()

			if s.metrics != nil {
				s.metrics.IssuesTotal.WithLabelValues(disposition).Inc()
			}
			return nil
		})
	}

	err := g.Wait()
	summary.Elapsed = time.Since(start)

	L.Info(ctx, "run finished",
		"total", summary.Total,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed.Seconds(),
	)
	return summary, err
}

// runOne triages a single issue. disposition is one of skipped, failed, or
// completed; verdict is empty when no verdict was recorded.
func (s *Scheduler) runOne(ctx context.Context, L log.Logger, iss *issue.Issue) (disposition string, verdict triage.Verdict) {
	final, ok, err := s.store.ReadFinal(ctx, iss)
	if err != nil {
		L.Error(ctx, err, "artifact lookup failed", "issue_id", iss.ID)
		return "failed", ""
	}
	if ok {
		L.Info(ctx, "issue already decided, skipping", "issue_id", iss.ID, "verdict", final.Verdict)
		return "skipped", final.Verdict
	}

	payload := triage.BuildContext(iss, s.index)
	raw := &triage.RawArtifact{Issue: iss, Context: payload.Render(), CreatedAt: time.Now().UTC()}
	if err := s.store.WriteRaw(ctx, iss, raw); err != nil {
		L.Error(ctx, err, "raw artifact write failed", "issue_id", iss.ID)
		return "failed", ""
	}

	rr := s.engine.Run(ctx, iss, payload)

	// A provider failure leaves no final artifact, so the issue is retried
	// by the next run. Protocol failures are final: the artifact records
	// the unresolved verdict.
	if rr.State == triage.StateFailed && rr.Err != nil {
		return "failed", ""
	}

	if err := s.store.WriteFinal(ctx, iss, rr.FinalArtifact(iss.ID)); err != nil {
		L.Error(ctx, err, "final artifact write failed", "issue_id", iss.ID)
		return "failed", ""
	}
	return "completed", rr.Verdict
}
