// Package filinglist reads operator-supplied filing lists for runs that
// skip discovery.
package filinglist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// LoadFromJSONL loads filings from a JSONL file, one filing object per
// line. Malformed or invalid lines are logged and skipped.
func LoadFromJSONL(path string, logger *slog.Logger) ([]filing.Filing, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	defer f.Close()

	var filings []filing.Filing
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var fl filing.Filing
		if err := json.Unmarshal([]byte(text), &fl); err != nil {
			logger.Warn("skipping malformed filing", "path", path, "line", line, "error", err)
			continue
		}
		if err := fl.Validate(); err != nil {
			logger.Warn("skipping invalid filing", "path", path, "line", line, "error", err)
			continue
		}
		if fl.Source == "" {
			fl.Source = filing.SourceHouseClerk
		}
		filings = append(filings, fl)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	if len(filings) == 0 {
		return nil, fmt.Errorf("no valid filings found in %s", path)
	}
	return filings, nil
}

// ParseIDs splits a comma or whitespace separated ID list, dropping blanks
// and repeats.
func ParseIDs(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	seen := make(map[string]bool, len(fields))
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			ids = append(ids, f)
		}
	}
	return ids
}
