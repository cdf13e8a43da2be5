package parse

import (
	"fmt"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/normalize"
)

// template maps column positions to fields; -1 means the column is absent.
type template struct {
	name                               string
	asset, ticker, txType, date, amount int
}

var templates = []template{
	{name: "asset-ticker-type-date-amount", asset: 0, ticker: 1, txType: 2, date: 3, amount: 4},
	{name: "type-asset-ticker-date-amount", txType: 0, asset: 1, ticker: 2, date: 3, amount: 4},
	{name: "asset-type-date-amount", asset: 0, ticker: -1, txType: 1, date: 2, amount: 3},
}

// matchRow applies the column templates in order and returns the first
// arrangement whose validators all pass.
func matchRow(cells []string) (filing.ParsedRecord, bool) {
	for _, t := range templates {
		if rec, ok := t.apply(cells); ok {
			return rec, true
		}
	}
	return filing.ParsedRecord{}, false
}

func (t template) apply(cells []string) (filing.ParsedRecord, bool) {
	width := max(t.asset, t.ticker, t.txType, t.date, t.amount) + 1
	if len(cells) < width {
		return filing.ParsedRecord{}, false
	}
	rec := filing.ParsedRecord{
		AssetName:       cells[t.asset],
		TransactionType: cells[t.txType],
		DateText:        cells[t.date],
		AmountText:      cells[t.amount],
	}
	if t.ticker >= 0 {
		rec.Ticker = cells[t.ticker]
	}
	if rec.AssetName == "" ||
		!IsTransactionType(rec.TransactionType) ||
		!IsDateLike(rec.DateText) ||
		!IsAmountLike(rec.AmountText) {
		return filing.ParsedRecord{}, false
	}
	if rec.Ticker == "" {
		rec.AssetName, rec.Ticker = normalize.SplitTrailingTicker(rec.AssetName)
	}
	return rec, true
}

// parseTable runs the table strategy over one cell grid.
func parseTable(table [][]string, page, tableIdx int) ([]filing.ParsedRecord, []ParseError) {
	if len(table) < 2 {
		return nil, nil
	}

	start := 1
	for i := 0; i < len(table) && i < 3; i++ {
		if isHeaderRow(table[i]) {
			start = i + 1
			break
		}
	}

	var recs []filing.ParsedRecord
	var errs []ParseError
	for i := start; i < len(table); i++ {
		cells := cleanCells(table[i])
		if nonEmpty(cells) < 3 {
			continue
		}
		rec, ok := matchRow(cells)
		if !ok {
			errs = append(errs, ParseError{
				Unit:     UnitRow,
				Page:     page,
				Table:    tableIdx,
				Row:      i,
				Strategy: filing.StrategyTable,
				Reason:   fmt.Sprintf("no column template matched %d cells", len(cells)),
				RawText:  strings.Join(cells, " | "),
			})
			continue
		}
		rec.Provenance = filing.Provenance{
			Page:     page,
			Table:    tableIdx,
			Row:      i,
			Strategy: filing.StrategyTable,
			RawText:  strings.Join(cells, " | "),
		}
		recs = append(recs, rec)
	}
	return recs, errs
}

func cleanCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.Join(strings.Fields(c), " ")
	}
	return out
}

func nonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if c != "" {
			n++
		}
	}
	return n
}
