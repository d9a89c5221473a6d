package triage

import (
	"context"

	"github.com/linnemanlabs/vulnhalla/internal/issue"
)

// Store is the persistence interface for triage artifacts. The raw artifact
// is written before the first model call; the final artifact when the session
// ends. ReadFinal backs resume: a stored final artifact means the issue is
// already decided.
type Store interface {
	WriteRaw(ctx context.Context, iss *issue.Issue, raw *RawArtifact) error
	WriteFinal(ctx context.Context, iss *issue.Issue, final *FinalArtifact) error
	ReadFinal(ctx context.Context, iss *issue.Issue) (*FinalArtifact, bool, error)
}
