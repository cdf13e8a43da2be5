package parse

import (
	"regexp"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

var (
	reMultiSpace = regexp.MustCompile(`\s{2,}`)
	rePipe       = regexp.MustCompile(`\s*\|\s*`)
)

// TextExtractor handles plain text. Form feeds separate pages and runs of
// lines that split into three or more cells form table blocks.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (e *TextExtractor) Name() string { return "text" }

func (e *TextExtractor) CanExtract(doc filing.RawDocument) bool {
	return doc.Media == filing.MediaPageOriented
}

func (e *TextExtractor) Extract(body []byte) ([]Page, error) {
	text := strings.ReplaceAll(string(body), "\r\n", "\n")
	var pages []Page
	for i, chunk := range strings.Split(text, "\f") {
		pages = append(pages, Page{
			Number: i + 1,
			Text:   chunk,
			Tables: textTables(chunk),
		})
	}
	return pages, nil
}

func textTables(text string) [][][]string {
	var tables [][][]string
	var block [][]string
	flush := func() {
		if len(block) >= 2 {
			tables = append(tables, block)
		}
		block = nil
	}
	for _, line := range strings.Split(text, "\n") {
		cells := splitCells(line)
		if len(cells) >= 3 {
			block = append(block, cells)
			continue
		}
		flush()
	}
	flush()
	return tables
}

// splitCells splits a text line into table cells on tabs, pipes or runs of
// two or more spaces, in that order of preference.
func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var parts []string
	switch {
	case strings.Contains(line, "\t"):
		parts = strings.Split(line, "\t")
	case strings.Contains(line, "|"):
		parts = rePipe.Split(strings.Trim(line, "| "), -1)
	default:
		parts = reMultiSpace.Split(line, -1)
	}
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}
