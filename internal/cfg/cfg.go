package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config holds the run configuration for one analyzed codebase.
type Config struct {
	ScopesCSV         string
	GlobalsCSV        string
	ClassesCSV        string
	SarifPath         string
	SourceArchive     string
	SourceRoot        string
	ResultsDir        string
	Org               string
	Repo              string
	Language          string
	Concurrency       int
	RequestsPerMinute int
	ClaudeAPIKey      string
	ClaudeModel       string
	SlackWebhookURL   string
	ExcludePatterns   string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ScopesCSV, "scopes-csv", "", "path to the decoded scope/call relation CSV")
	fs.StringVar(&c.GlobalsCSV, "globals-csv", "", "path to the decoded global-variable relation CSV")
	fs.StringVar(&c.ClassesCSV, "classes-csv", "", "path to the decoded class relation CSV")
	fs.StringVar(&c.SarifPath, "sarif", "", "path to the SARIF results file to triage")
	fs.StringVar(&c.SourceArchive, "source-archive", "", "path to the source zip archive (mutually exclusive with -source-root)")
	fs.StringVar(&c.SourceRoot, "source-root", "", "path to an unpacked source tree (mutually exclusive with -source-archive)")
	fs.StringVar(&c.ResultsDir, "results-dir", "results", "directory for triage artifacts")
	fs.StringVar(&c.Org, "org", "", "organization the analyzed repository belongs to")
	fs.StringVar(&c.Repo, "repo", "", "analyzed repository name")
	fs.StringVar(&c.Language, "language", "", "language of the analyzed codebase (e.g. python, cpp)")
	fs.IntVar(&c.Concurrency, "concurrency", 4, "concurrent triage sessions (1..64)")
	fs.IntVar(&c.RequestsPerMinute, "requests-per-minute", 60, "LLM API request budget per minute (1..6000)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run summaries")
	fs.StringVar(&c.ExcludePatterns, "exclude-patterns", "**/vendor/**,**/third_party/**,**/test/**,**/tests/**",
		"comma-separated glob patterns for files to drop from the code index")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Relation inputs are all required; the index cannot build without them
	if c.ScopesCSV == "" {
		errs = append(errs, errors.New("SCOPES_CSV is required"))
	}
	if c.GlobalsCSV == "" {
		errs = append(errs, errors.New("GLOBALS_CSV is required"))
	}
	if c.ClassesCSV == "" {
		errs = append(errs, errors.New("CLASSES_CSV is required"))
	}
	if c.SarifPath == "" {
		errs = append(errs, errors.New("SARIF is required"))
	}

	// Exactly one source of source code
	if c.SourceArchive == "" && c.SourceRoot == "" {
		errs = append(errs, errors.New("one of SOURCE_ARCHIVE or SOURCE_ROOT is required"))
	}
	if c.SourceArchive != "" && c.SourceRoot != "" {
		errs = append(errs, errors.New("SOURCE_ARCHIVE and SOURCE_ROOT are mutually exclusive"))
	}

	if c.ResultsDir == "" {
		errs = append(errs, errors.New("RESULTS_DIR is required"))
	}
	if c.Language == "" {
		errs = append(errs, errors.New("LANGUAGE is required"))
	}

	if c.Concurrency < 1 || c.Concurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid CONCURRENCY %d (must be 1..64)", c.Concurrency))
	}
	if c.RequestsPerMinute < 1 || c.RequestsPerMinute > 6000 {
		errs = append(errs, fmt.Errorf("invalid REQUESTS_PER_MINUTE %d (must be 1..6000)", c.RequestsPerMinute))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ExcludeGlobs splits the exclude-patterns flag into individual globs.
func (c *Config) ExcludeGlobs() []string {
	var out []string
	for _, p := range strings.Split(c.ExcludePatterns, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
