package parse

import (
	"testing"

	"github.com/ledongthuc/pdf"
)

func TestFieldValidators(t *testing.T) {
	tx := map[string]bool{
		"P":                  true,
		"purchase":           true,
		"S (partial)":        true,
		"Partial Sale":       true,
		"Exchange":           true,
		"Wholesale Partners": false,
		"Apple Inc":          false,
		"":                   false,
	}
	for in, want := range tx {
		if got := IsTransactionType(in); got != want {
			t.Errorf("IsTransactionType(%q) = %v, want %v", in, got, want)
		}
	}

	dates := map[string]bool{
		"03/05/2024": true,
		"3/5/24":     true,
		"2024-03-05": true,
		"03-05-2024": true,
		"March 2024": false,
	}
	for in, want := range dates {
		if got := IsDateLike(in); got != want {
			t.Errorf("IsDateLike(%q) = %v, want %v", in, got, want)
		}
	}

	amounts := map[string]bool{
		"$1,001 - $15,000": true,
		"$1001-$15000":     true,
		"Over $50,000,000": true,
		"1,001 - 15,000":   true,
		"$7,500":           true,
		"03-05-2024":       false,
		"AAPL":             false,
	}
	for in, want := range amounts {
		if got := IsAmountLike(in); got != want {
			t.Errorf("IsAmountLike(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMatchRowTemplates(t *testing.T) {
	tests := []struct {
		name   string
		cells  []string
		asset  string
		ticker string
		tx     string
	}{
		{"asset first", []string{"Apple Inc", "AAPL", "P", "03/05/2024", "$1,001 - $15,000"}, "Apple Inc", "AAPL", "P"},
		{"type first", []string{"Sale", "Apple Inc", "AAPL", "03/05/2024", "$1,001 - $15,000"}, "Apple Inc", "AAPL", "Sale"},
		{"no ticker column", []string{"Apple Inc (AAPL)", "S", "03/05/2024", "$1,001 - $15,000"}, "Apple Inc", "AAPL", "S"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := matchRow(tt.cells)
			if !ok {
				t.Fatal("expected a template to match")
			}
			if rec.AssetName != tt.asset || rec.Ticker != tt.ticker || rec.TransactionType != tt.tx {
				t.Errorf("got %+v", rec)
			}
		})
	}

	if _, ok := matchRow([]string{"Apple Inc", "AAPL", "03/05/2024"}); ok {
		t.Error("row without transaction or amount should not match")
	}
}

func TestParseTableHeaderDetection(t *testing.T) {
	row := []string{"Apple Inc", "AAPL", "P", "03/05/2024", "$1,001 - $15,000"}

	// Header on the second row: the title row and header are both skipped.
	withHeader := [][]string{
		{"Filer", "Nancy Pelosi", "CA11"},
		{"Asset", "Ticker", "Type", "Date", "Amount"},
		row,
	}
	recs, _ := parseTable(withHeader, 1, 0)
	if len(recs) != 1 || recs[0].Provenance.Row != 2 {
		t.Fatalf("got %+v", recs)
	}

	// No header at all: row 0 is assumed to be one.
	noHeader := [][]string{row, row}
	recs, _ = parseTable(noHeader, 1, 0)
	if len(recs) != 1 || recs[0].Provenance.Row != 1 {
		t.Fatalf("got %+v", recs)
	}
}

func TestSplitCells(t *testing.T) {
	tests := map[string]int{
		"a\tb\tc":             3,
		"| a | b | c |":       3,
		"Apple Inc  AAPL  P":  3,
		"Apple Inc AAPL P":    1,
		"   ":                 0,
	}
	for in, want := range tests {
		if got := len(splitCells(in)); got != want {
			t.Errorf("splitCells(%q) = %d cells, want %d", in, got, want)
		}
	}
}

func TestPDFRowCells(t *testing.T) {
	e := NewPDFExtractor()
	texts := []pdf.Text{
		{X: 10, W: 20, FontSize: 10, S: "Apple"},
		{X: 33, W: 12, FontSize: 10, S: "Inc"},
		{X: 80, W: 25, FontSize: 10, S: "AAPL"},
		{X: 130, W: 5, FontSize: 10, S: "P"},
	}
	cells := e.rowCells(texts)
	want := []string{"Apple Inc", "AAPL", "P"}
	if len(cells) != len(want) {
		t.Fatalf("cells = %q, want %q", cells, want)
	}
	for i := range want {
		if cells[i] != want[i] {
			t.Errorf("cell %d = %q, want %q", i, cells[i], want[i])
		}
	}
}

func TestRegistryByName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"pdf", "delimited", "TEXT"} {
		if _, err := r.ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
	if _, err := r.ByName("docx"); err == nil {
		t.Error("expected error for unknown extractor")
	}
}
