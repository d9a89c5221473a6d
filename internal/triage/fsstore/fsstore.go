// Package fsstore persists triage artifacts as JSON files, laid out as
// <root>/<language>/<rule>/<issue-id>_{raw,final}.json. Issue ids are
// deterministic, so re-running against the same results directory finds the
// artifacts of earlier runs.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/linnemanlabs/vulnhalla/internal/issue"
	"github.com/linnemanlabs/vulnhalla/internal/triage"
)

// Store implements triage.Store on a results directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// WriteRaw persists the session input artifact.
func (s *Store) WriteRaw(_ context.Context, iss *issue.Issue, raw *triage.RawArtifact) error {
	return s.write(iss, "raw", raw)
}

// WriteFinal persists the session outcome artifact.
func (s *Store) WriteFinal(_ context.Context, iss *issue.Issue, final *triage.FinalArtifact) error {
	return s.write(iss, "final", final)
}

// ReadFinal loads the final artifact for an issue. A missing file means the
// issue has not been decided; a corrupt file is treated the same way so a
// re-run redoes the session instead of trusting garbage.
func (s *Store) ReadFinal(_ context.Context, iss *issue.Issue) (*triage.FinalArtifact, bool, error) {
	data, err := os.ReadFile(s.path(iss, "final"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read final artifact for %s: %w", iss.ID, err)
	}
	var fa triage.FinalArtifact
	if err := json.Unmarshal(data, &fa); err != nil {
		return nil, false, nil
	}
	return &fa, true, nil
}

func (s *Store) write(iss *issue.Issue, kind string, v any) error {
	path := s.path(iss, kind)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s artifact for %s: %w", kind, iss.ID, err)
	}
	return writeAtomic(path, data)
}

func (s *Store) path(iss *issue.Issue, kind string) string {
	lang := iss.Provenance.Language
	if lang == "" {
		lang = "unknown"
	}
	return filepath.Join(s.root, lang, sanitize(iss.Rule), fmt.Sprintf("%s_%s.json", iss.ID, kind))
}

// sanitize maps a rule id onto a single path element.
func sanitize(rule string) string {
	rule = strings.ReplaceAll(rule, "/", "-")
	rule = strings.ReplaceAll(rule, string(filepath.Separator), "-")
	if rule == "" {
		return "unknown-rule"
	}
	return rule
}

// writeAtomic writes via a temp file in the target directory plus rename, so
// readers never see a partially written artifact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename artifact into place: %w", err)
	}
	tmpName = ""
	return nil
}
