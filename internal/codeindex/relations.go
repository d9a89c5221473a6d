package codeindex

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Relation rows are the decoded output of the analysis engine's queries
// (codeql bqrs decode --format=csv), header row included. Malformed rows are
// fatal for the codebase's run: a partially built index would silently feed
// wrong context to every session.

// ScopeRow is one scope/statement tuple. A scope appears once per statement
// it lexically contains, so the same (file, start_line) repeats with varying
// end lines; Build merges them.
type ScopeRow struct {
	Name      string
	File      string
	StartLine int
	EndLine   int
	Kind      string
	CallerID  string
}

// GlobalRow is one module-level simple-name assignment.
type GlobalRow struct {
	Name      string
	File      string
	StartLine int
	EndLine   int
}

// ClassRow is one class definition.
type ClassRow struct {
	Name      string
	File      string
	StartLine int
	EndLine   int
}

// ReadScopeRows parses the scope/call relation.
// Columns: name,file,start_line,end_line,kind,caller_id.
func ReadScopeRows(r io.Reader) ([]ScopeRow, error) {
	records, err := readRelation(r, 6, "scopes")
	if err != nil {
		return nil, err
	}
	rows := make([]ScopeRow, 0, len(records))
	for i, rec := range records {
		start, end, err := parseLineRange(rec[2], rec[3])
		if err != nil {
			return nil, fmt.Errorf("scopes row %d: %w", i+1, err)
		}
		rows = append(rows, ScopeRow{
			Name:      rec[0],
			File:      rec[1],
			StartLine: start,
			EndLine:   end,
			Kind:      strings.TrimSpace(rec[4]),
			CallerID:  strings.TrimSpace(rec[5]),
		})
	}
	return rows, nil
}

// ReadGlobalRows parses the global-variable relation.
// Columns: name,file,start_line,end_line.
func ReadGlobalRows(r io.Reader) ([]GlobalRow, error) {
	records, err := readRelation(r, 4, "globals")
	if err != nil {
		return nil, err
	}
	rows := make([]GlobalRow, 0, len(records))
	for i, rec := range records {
		start, end, err := parseLineRange(rec[2], rec[3])
		if err != nil {
			return nil, fmt.Errorf("globals row %d: %w", i+1, err)
		}
		rows = append(rows, GlobalRow{Name: rec[0], File: rec[1], StartLine: start, EndLine: end})
	}
	return rows, nil
}

// ReadClassRows parses the class relation.
// Columns: name,file,start_line,end_line.
func ReadClassRows(r io.Reader) ([]ClassRow, error) {
	records, err := readRelation(r, 4, "classes")
	if err != nil {
		return nil, err
	}
	rows := make([]ClassRow, 0, len(records))
	for i, rec := range records {
		start, end, err := parseLineRange(rec[2], rec[3])
		if err != nil {
			return nil, fmt.Errorf("classes row %d: %w", i+1, err)
		}
		rows = append(rows, ClassRow{Name: rec[0], File: rec[1], StartLine: start, EndLine: end})
	}
	return rows, nil
}

func readRelation(r io.Reader, columns int, relation string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = columns
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s relation: %w", relation, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse %s relation: empty input (expected header row)", relation)
	}
	// drop the bqrs header row
	return records[1:], nil
}

func parseLineRange(startField, endField string) (int, int, error) {
	start, err := strconv.Atoi(strings.TrimSpace(startField))
	if err != nil {
		return 0, 0, fmt.Errorf("bad start line %q: %w", startField, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endField))
	if err != nil {
		return 0, 0, fmt.Errorf("bad end line %q: %w", endField, err)
	}
	return start, end, nil
}
