// Package source provides read-only line access to the analyzed codebase.
// CodeQL databases carry the snapshot of the analyzed sources in a src.zip
// archive; checkouts on disk are supported for local runs and tests.
package source

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Reader resolves a file path from the analysis relations to its lines.
// Implementations must be safe for concurrent use: one reader is shared by
// every triage session against the codebase.
type Reader interface {
	Lines(file string) ([]string, error)
}

// Slice joins the 1-based inclusive line range [start, end], clamping both
// ends to the file.
func Slice(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// DirReader serves files from a checkout directory.
type DirReader struct {
	root string

	mu    sync.RWMutex
	cache map[string][]string
}

// NewDirReader creates a reader rooted at dir. Paths passed to Lines may be
// absolute (as CodeQL reports them) or relative to the root.
func NewDirReader(dir string) *DirReader {
	return &DirReader{
		root:  dir,
		cache: make(map[string][]string),
	}
}

// Lines returns the file's lines, caching the split result.
func (r *DirReader) Lines(file string) ([]string, error) {
	r.mu.RLock()
	lines, ok := r.cache[file]
	r.mu.RUnlock()
	if ok {
		return lines, nil
	}

	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, file)
	} else if _, err := os.Stat(path); err != nil {
		// Absolute paths from the analysis machine rarely exist locally;
		// retry relative to the root.
		path = filepath.Join(r.root, strings.TrimPrefix(file, "/"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", file, err)
	}
	lines = splitLines(string(data))

	r.mu.Lock()
	r.cache[file] = lines
	r.mu.Unlock()
	return lines, nil
}

// ZipReader serves files from a CodeQL src.zip archive. Entry names in the
// archive have no leading slash; lookups normalize both sides.
type ZipReader struct {
	zr    *zip.ReadCloser
	names map[string]*zip.File

	mu    sync.RWMutex
	cache map[string][]string
}

// OpenZip opens the archive at path.
func OpenZip(path string) (*ZipReader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open source archive %s: %w", path, err)
	}
	names := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		names[normalize(f.Name)] = f
	}
	return &ZipReader{
		zr:    zr,
		names: names,
		cache: make(map[string][]string),
	}, nil
}

// Lines returns the archived file's lines, caching the split result.
func (r *ZipReader) Lines(file string) ([]string, error) {
	key := normalize(file)

	r.mu.RLock()
	lines, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return lines, nil
	}

	zf, ok := r.names[key]
	if !ok {
		return nil, fmt.Errorf("source %s: not in archive", file)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("open archived source %s: %w", file, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read archived source %s: %w", file, err)
	}
	lines = splitLines(string(data))

	r.mu.Lock()
	r.cache[key] = lines
	r.mu.Unlock()
	return lines, nil
}

// Close releases the archive handle.
func (r *ZipReader) Close() error {
	return r.zr.Close()
}

func normalize(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(p), "/")
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
