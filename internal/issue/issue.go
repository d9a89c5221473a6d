// Package issue loads static-analysis findings from SARIF reports and
// normalizes them into immutable records for triage.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
)

// Provenance identifies the analyzed database an issue came from.
type Provenance struct {
	Org      string `json:"org"`
	Repo     string `json:"repo"`
	Language string `json:"language"`
}

// Issue is one static-analysis finding. Immutable once loaded.
type Issue struct {
	ID         string     `json:"id"`
	Rule       string     `json:"rule"`
	File       string     `json:"file"`
	Line       int        `json:"line"`
	ScopeID    string     `json:"scope_id,omitempty"`
	Message    string     `json:"message"`
	Provenance Provenance `json:"provenance"`
}

// Load reads a SARIF report and returns one Issue per result. Results
// without a rule id, file, or start line are skipped: there is nothing to
// triage without a location. The enclosing scope is resolved through the
// index by containment and left empty on a miss.
func Load(path string, prov Provenance, ix *codeindex.Index) ([]*Issue, error) {
	report, err := sarif.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sarif report %s: %w", path, err)
	}

	var issues []*Issue
	for _, run := range report.Runs {
		for _, result := range run.Results {
			iss := fromResult(result, prov)
			if iss == nil {
				continue
			}
			if s := ix.LookupByLocation(iss.File, iss.Line); s != nil {
				iss.ScopeID = s.ID
			}
			issues = append(issues, iss)
		}
	}
	return issues, nil
}

func fromResult(result *sarif.Result, prov Provenance) *Issue {
	if result.RuleID == nil || *result.RuleID == "" {
		return nil
	}
	if len(result.Locations) == 0 {
		return nil
	}
	loc := result.Locations[0]
	if loc.PhysicalLocation == nil ||
		loc.PhysicalLocation.ArtifactLocation == nil ||
		loc.PhysicalLocation.ArtifactLocation.URI == nil ||
		loc.PhysicalLocation.Region == nil ||
		loc.PhysicalLocation.Region.StartLine == nil {
		return nil
	}

	file := *loc.PhysicalLocation.ArtifactLocation.URI
	line := *loc.PhysicalLocation.Region.StartLine
	if file == "" || line <= 0 {
		return nil
	}

	message := ""
	if result.Message.Text != nil {
		message = *result.Message.Text
	}

	return &Issue{
		ID:         DeriveID(*result.RuleID, file, line),
		Rule:       *result.RuleID,
		File:       file,
		Line:       line,
		Message:    message,
		Provenance: prov,
	}
}

// DeriveID computes the stable issue id. The SARIF input carries no id of
// its own; hashing rule, file, and line keeps the id deterministic across
// re-runs, which artifact-based resume depends on.
func DeriveID(rule, file string, line int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", rule, file, line))
	return hex.EncodeToString(sum[:])[:12]
}
