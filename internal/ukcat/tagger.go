// Package ukcat tags free text with UK Charity Activity Tag codes using
// regex patterns derived from the published ukcat classification set
// (https://github.com/charity-classification/ukcat).
//
// The pattern table is loaded once at construction and never mutated, so
// a single Tagger is safe for concurrent use with no locking on the read
// path.
package ukcat

import (
	"bytes"
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
)

//go:embed data/ukcat.csv
var dataFS embed.FS

// Pattern is one activity classification rule. The include expression
// must match and the exclude expression, when present, must not.
type Pattern struct {
	Code    string
	Tag     string
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// Tagger classifies text against an immutable pattern snapshot.
type Tagger struct {
	patterns []Pattern
}

// New loads the embedded pattern table. Rows with invalid regexes are
// logged and skipped rather than failing the whole table.
func New(logger *slog.Logger) (*Tagger, error) {
	raw, err := dataFS.ReadFile("data/ukcat.csv")
	if err != nil {
		return nil, fmt.Errorf("ukcat: read embedded patterns: %w", err)
	}
	return NewFromReader(bytes.NewReader(raw), logger)
}

// NewFromReader builds a Tagger from a CSV source with columns
// Code, tag, Regular expression, Exclude regular expression.
func NewFromReader(r io.Reader, logger *slog.Logger) (*Tagger, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("ukcat: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"Code", "Regular expression"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("ukcat: missing column %q", required)
		}
	}

	var patterns []Pattern
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ukcat: read row: %w", err)
		}

		code := field(row, col, "Code")
		includeExpr := field(row, col, "Regular expression")
		if code == "" || includeExpr == "" {
			continue
		}

		include, err := regexp.Compile("(?i)" + includeExpr)
		if err != nil {
			logger.Warn("ukcat: invalid include regex, skipping", "code", code, "error", err)
			continue
		}

		p := Pattern{Code: code, Tag: field(row, col, "tag"), include: include}
		if excludeExpr := field(row, col, "Exclude regular expression"); excludeExpr != "" {
			exclude, err := regexp.Compile("(?i)" + excludeExpr)
			if err != nil {
				logger.Warn("ukcat: invalid exclude regex, skipping", "code", code, "error", err)
				continue
			}
			p.exclude = exclude
		}
		patterns = append(patterns, p)
	}

	return &Tagger{patterns: patterns}, nil
}

// Tag returns the sorted, de-duplicated set of codes whose include
// pattern matches the text and whose exclude pattern, if any, does not.
// Empty text yields an empty list.
func (t *Tagger) Tag(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]bool)
	var codes []string
	for _, p := range t.patterns {
		if !p.include.MatchString(text) {
			continue
		}
		if p.exclude != nil && p.exclude.MatchString(text) {
			continue
		}
		if !seen[p.Code] {
			seen[p.Code] = true
			codes = append(codes, p.Code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Len reports the number of loaded patterns.
func (t *Tagger) Len() int { return len(t.patterns) }

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
