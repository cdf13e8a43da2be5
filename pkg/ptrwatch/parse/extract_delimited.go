package parse

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// DelimitedExtractor handles tab- and comma-separated documents. The whole
// file becomes a single table on page 1.
type DelimitedExtractor struct{}

func NewDelimitedExtractor() *DelimitedExtractor { return &DelimitedExtractor{} }

func (e *DelimitedExtractor) Name() string { return "delimited" }

func (e *DelimitedExtractor) CanExtract(doc filing.RawDocument) bool {
	return doc.Media == filing.MediaTabular
}

func (e *DelimitedExtractor) Extract(body []byte) ([]Page, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = sniffComma(body)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var table [][]string
	var lines []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read delimited: %w", err)
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		table = append(table, rec)
		lines = append(lines, strings.Join(rec, "  "))
	}

	page := Page{Number: 1, Text: strings.Join(lines, "\n")}
	if len(table) > 0 {
		page.Tables = [][][]string{table}
	}
	return []Page{page}, nil
}

func sniffComma(body []byte) rune {
	first := body
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		first = body[:i]
	}
	if bytes.Count(first, []byte("\t")) >= bytes.Count(first, []byte(",")) {
		return '\t'
	}
	return ','
}
