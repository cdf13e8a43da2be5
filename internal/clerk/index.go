package clerk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// IndexEntry is one row of the yearly {YEAR}FD.txt filing index.
type IndexEntry struct {
	Prefix     string
	Last       string
	First      string
	Suffix     string
	FilingType string
	StateDst   string
	Year       int
	FilingDate time.Time
	DocID      string
	Row        int
}

// FullName joins the name parts that are present.
func (e IndexEntry) FullName() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{e.Prefix, e.First, e.Last, e.Suffix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

var indexColumns = []string{"Prefix", "Last", "First", "Suffix", "FilingType", "StateDst", "Year", "FilingDate", "DocID"}

// ParseIndex reads a tab-delimited filing index with a header row. Rows
// missing a name or DocID are reported in rowErrs and skipped. fallbackYear
// fills rows whose Year column is not numeric.
func ParseIndex(r io.Reader, fallbackYear int) (entries []IndexEntry, rowErrs []error, err error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("index is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read index header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	if _, ok := col["DocID"]; !ok {
		return nil, nil, fmt.Errorf("index header lacks DocID column: %v", header)
	}
	var missing []string
	for _, name := range indexColumns {
		if _, ok := col[name]; !ok {
			missing = append(missing, name)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %w", row, err))
			continue
		}
		e := IndexEntry{
			Prefix:     field(rec, "Prefix"),
			Last:       field(rec, "Last"),
			First:      field(rec, "First"),
			Suffix:     field(rec, "Suffix"),
			FilingType: strings.ToUpper(field(rec, "FilingType")),
			StateDst:   field(rec, "StateDst"),
			DocID:      field(rec, "DocID"),
			Year:       fallbackYear,
			Row:        row,
		}
		if e.Last == "" || e.First == "" || e.DocID == "" {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: missing name or DocID", row))
			continue
		}
		if y, err := strconv.Atoi(field(rec, "Year")); err == nil && y > 0 {
			e.Year = y
		}
		if d := field(rec, "FilingDate"); d != "" {
			if t, err := time.Parse("1/2/2006", d); err == nil {
				e.FilingDate = t
			} else {
				rowErrs = append(rowErrs, fmt.Errorf("row %d: invalid filing date %q", row, d))
			}
		}
		entries = append(entries, e)
	}
	if len(missing) > 0 {
		rowErrs = append(rowErrs, fmt.Errorf("index lacks columns %v", missing))
	}
	return entries, rowErrs, nil
}

// Filing converts a PTR index row to a Filing whose document lives under
// baseURL.
func (e IndexEntry) Filing(baseURL string, discoveredAt time.Time) filing.Filing {
	return filing.Filing{
		ID:           e.DocID,
		Source:       filing.SourceHouseClerk,
		URL:          PTRDocumentURL(baseURL, e.Year, e.DocID),
		DiscoveredAt: discoveredAt,
		FilingDate:   e.FilingDate,
		FilingType:   e.FilingType,
		Year:         e.Year,
		StateDst:     e.StateDst,
		Owner: filing.Owner{
			FullName:  e.FullName(),
			FirstName: e.First,
			LastName:  e.Last,
			Prefix:    e.Prefix,
			Suffix:    e.Suffix,
		},
	}
}

// PTRDocumentURL is the PDF location of a periodic transaction report.
func PTRDocumentURL(baseURL string, year int, docID string) string {
	return fmt.Sprintf("%s/public_disc/ptr-pdfs/%d/%s.pdf", baseURL, year, docID)
}

// IndexZipURL is the bulk index archive for a year.
func IndexZipURL(baseURL string, year int) string {
	return fmt.Sprintf("%s/public_disc/financial-pdfs/%dFD.zip", baseURL, year)
}
