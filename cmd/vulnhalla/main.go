// Vulnhalla triages static-analysis findings with an LLM: each SARIF result
// gets a bounded multi-turn conversation against a precomputed code index,
// ending in a true-positive/false-positive verdict artifact on disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	vc "github.com/linnemanlabs/vulnhalla/internal/cfg"
	"github.com/linnemanlabs/vulnhalla/internal/codeindex"
	"github.com/linnemanlabs/vulnhalla/internal/issue"
	"github.com/linnemanlabs/vulnhalla/internal/llm/claude"
	"github.com/linnemanlabs/vulnhalla/internal/notify/slack"
	"github.com/linnemanlabs/vulnhalla/internal/scheduler"
	"github.com/linnemanlabs/vulnhalla/internal/source"
	"github.com/linnemanlabs/vulnhalla/internal/tools"
	"github.com/linnemanlabs/vulnhalla/internal/triage"
	"github.com/linnemanlabs/vulnhalla/internal/triage/fsstore"
)

const appName = "vulnhalla"
const component = "cli"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg   vc.Config
		logCfg   log.Config
		traceCfg otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix VULNHALLA_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "VULNHALLA_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		logCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"sarif", appCfg.SarifPath,
		"language", appCfg.Language,
		"results_dir", appCfg.ResultsDir,
		"concurrency", appCfg.Concurrency,
		"requests_per_minute", appCfg.RequestsPerMinute,
		"claude_model", appCfg.ClaudeModel,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
	)

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Triage metrics live on their own registry; a batch run has no scrape
	// endpoint, but the counters still feed the end-of-run log line.
	reg := prometheus.NewRegistry()
	triageMetrics := triage.NewMetrics(reg)

	// Source code access: a CodeQL src.zip archive or a local checkout.
	var src source.Reader
	if appCfg.SourceArchive != "" {
		zr, err := source.OpenZip(appCfg.SourceArchive)
		if err != nil {
			return err
		}
		defer func() { _ = zr.Close() }()
		src = zr
		L.Info(ctx, "using source archive", "path", appCfg.SourceArchive)
	} else {
		src = source.NewDirReader(appCfg.SourceRoot)
		L.Info(ctx, "using source checkout", "path", appCfg.SourceRoot)
	}

	// Build the code index from the decoded relation CSVs.
	scopeRows, err := readScopes(appCfg.ScopesCSV)
	if err != nil {
		return err
	}
	globalRows, err := readGlobals(appCfg.GlobalsCSV)
	if err != nil {
		return err
	}
	classRows, err := readClasses(appCfg.ClassesCSV)
	if err != nil {
		return err
	}
	ix, err := codeindex.Build(scopeRows, globalRows, classRows, src, codeindex.Options{
		ExcludePatterns: appCfg.ExcludeGlobs(),
	})
	if err != nil {
		return fmt.Errorf("build code index: %w", err)
	}
	scopes, globals, classes := ix.Stats()
	L.Info(ctx, "code index built", "scopes", scopes, "globals", globals, "classes", classes)

	// Load the findings to triage.
	prov := issue.Provenance{Org: appCfg.Org, Repo: appCfg.Repo, Language: appCfg.Language}
	issues, err := issue.Load(appCfg.SarifPath, prov, ix)
	if err != nil {
		return fmt.Errorf("load sarif: %w", err)
	}
	L.Info(ctx, "issues loaded", "count", len(issues), "sarif", appCfg.SarifPath)

	// Initialize the tool registry and register code-lookup tools.
	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewGetFunction(ix),
		tools.NewGetCallerChain(ix),
		tools.NewGetGlobalVar(ix),
		tools.NewGetClass(ix),
	} {
		registry.Register(t)
		L.Info(ctx, "registered tool", "name", t.Name())
	}

	// Initialize Claude provider with a shared rate limit across sessions.
	rpm := appCfg.RequestsPerMinute
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}
	provider := claude.New(claude.Config{
		APIKey:  appCfg.ClaudeAPIKey,
		Model:   appCfg.ClaudeModel,
		Limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
	})
	L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)

	// Initialize the triage engine (pure - no store dependency).
	engine := triage.NewEngine(provider, registry, L, triageMetrics.Hooks())

	// Artifacts land on disk; a rerun against the same directory resumes.
	store := fsstore.New(appCfg.ResultsDir)

	sched := scheduler.New(engine, ix, store, L, triageMetrics, appCfg.Concurrency)

	start := time.Now()
	summary, err := sched.Run(ctx, issues)
	if err != nil {
		return fmt.Errorf("triage run: %w", err)
	}

	L.Info(ctx, "triage complete",
		"run_id", summary.RunID,
		"total", summary.Total,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"true_positive", summary.Verdicts[triage.VerdictTruePositive],
		"false_positive", summary.Verdicts[triage.VerdictFalsePositive],
		"needs_more_data", summary.Verdicts[triage.VerdictNeedsMoreData],
		"unresolved", summary.Verdicts[triage.VerdictUnresolved],
		"elapsed", time.Since(start).Seconds(),
	)

	if err := slack.New(appCfg.SlackWebhookURL).Send(ctx, summary); err != nil {
		// The run itself succeeded; a missed notification is not fatal.
		L.Error(ctx, err, "slack notification failed")
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d issues failed; rerun against %s to retry them", summary.Failed, summary.Total, appCfg.ResultsDir)
	}
	return nil
}

func readScopes(path string) ([]codeindex.ScopeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scopes csv: %w", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := codeindex.ReadScopeRows(f)
	if err != nil {
		return nil, fmt.Errorf("read scopes csv %s: %w", path, err)
	}
	return rows, nil
}

func readGlobals(path string) ([]codeindex.GlobalRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open globals csv: %w", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := codeindex.ReadGlobalRows(f)
	if err != nil {
		return nil, fmt.Errorf("read globals csv %s: %w", path, err)
	}
	return rows, nil
}

func readClasses(path string) ([]codeindex.ClassRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open classes csv: %w", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := codeindex.ReadClassRows(f)
	if err != nil {
		return nil, fmt.Errorf("read classes csv %s: %w", path, err)
	}
	return rows, nil
}
