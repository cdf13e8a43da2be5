package parse

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// PDFExtractor reads text rows from PDF content streams and rebuilds
// table cells from horizontal gaps between text runs.
type PDFExtractor struct {
	// CellGap is the horizontal distance, in multiples of the font size,
	// that starts a new cell.
	CellGap float64
}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{CellGap: 1.5}
}

func (e *PDFExtractor) Name() string { return "pdf" }

func (e *PDFExtractor) CanExtract(doc filing.RawDocument) bool {
	return bytes.HasPrefix(doc.Body, []byte("%PDF"))
}

func (e *PDFExtractor) Extract(body []byte) (pages []Page, err error) {
	// The reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, e.buildPage(i, rows))
	}
	return pages, nil
}

func (e *PDFExtractor) buildPage(num int, rows pdf.Rows) Page {
	page := Page{Number: num}
	var lines []string
	var block [][]string

	flush := func() {
		if len(block) >= 2 {
			page.Tables = append(page.Tables, block)
		}
		block = nil
	}

	for _, row := range rows {
		cells := e.rowCells(row.Content)
		if len(cells) == 0 {
			continue
		}
		lines = append(lines, strings.Join(cells, "  "))
		if len(cells) >= 3 {
			block = append(block, cells)
		} else {
			flush()
		}
	}
	flush()
	page.Text = strings.Join(lines, "\n")
	return page
}

// rowCells merges the text runs of one row into cells.
func (e *PDFExtractor) rowCells(texts []pdf.Text) []string {
	if len(texts) == 0 {
		return nil
	}
	sorted := append([]pdf.Text(nil), texts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var cells []string
	var cur strings.Builder
	end := sorted[0].X
	for i, t := range sorted {
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		gap := t.X - end
		if i > 0 {
			switch {
			case gap > size*e.CellGap:
				if s := strings.TrimSpace(cur.String()); s != "" {
					cells = append(cells, s)
				}
				cur.Reset()
			case gap > size*0.2 && !strings.HasSuffix(cur.String(), " "):
				cur.WriteByte(' ')
			}
		}
		cur.WriteString(t.S)
		if w := t.X + t.W; w > end {
			end = w
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		cells = append(cells, s)
	}
	return cells
}
