package parse

import (
	"regexp"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

const (
	txGroup     = `((?i:purchase|sale|exchange)|P|S|E)`
	tickerGroup = `([A-Z]{1,5})`
	assetGroup  = `(\S.*?)`
	dateGroup   = `(\d{1,2}/\d{1,2}/\d{4})`
	amountGroup = `(\$[\d,]+[ \t]*-[ \t]*\$[\d,]+)`
	sp          = `[ \t]+`
)

// textPattern is a composite expression with the submatch index of each field.
type textPattern struct {
	re                                  *regexp.Regexp
	txType, ticker, asset, date, amount int
}

var textPatterns = []textPattern{
	{
		re:     regexp.MustCompile(`\b` + txGroup + sp + tickerGroup + sp + assetGroup + sp + dateGroup + sp + amountGroup),
		txType: 1, ticker: 2, asset: 3, date: 4, amount: 5,
	},
	{
		re:     regexp.MustCompile(`\b` + txGroup + sp + assetGroup + `(?:` + sp + tickerGroup + `)?` + sp + dateGroup + sp + amountGroup),
		txType: 1, asset: 2, ticker: 3, date: 4, amount: 5,
	},
	{
		re:     regexp.MustCompile(assetGroup + sp + tickerGroup + sp + txGroup + sp + dateGroup + sp + amountGroup),
		asset: 1, ticker: 2, txType: 3, date: 4, amount: 5,
	},
}

// parseRegex runs every composite pattern over the page text.
func parseRegex(page Page) []filing.ParsedRecord {
	var recs []filing.ParsedRecord
	for _, p := range textPatterns {
		for _, m := range p.re.FindAllStringSubmatch(page.Text, -1) {
			rec := filing.ParsedRecord{
				TransactionType: strings.TrimSpace(m[p.txType]),
				Ticker:          strings.TrimSpace(m[p.ticker]),
				AssetName:       strings.TrimSpace(m[p.asset]),
				DateText:        m[p.date],
				AmountText:      m[p.amount],
				Provenance: filing.Provenance{
					Page:     page.Number,
					Strategy: filing.StrategyRegex,
					RawText:  strings.TrimSpace(m[0]),
				},
			}
			if rec.AssetName == "" || !IsTransactionType(rec.TransactionType) {
				continue
			}
			recs = append(recs, rec)
		}
	}
	return recs
}

var (
	reLineSplit     = regexp.MustCompile(`\s{2,}|\t`)
	reLineSplitSoft = regexp.MustCompile(`\s*\|\s*|,\s+`)
)

// parseLines applies the column templates to lines that carry a
// transaction token, a date and an amount at the same time.
func parseLines(page Page) []filing.ParsedRecord {
	var recs []filing.ParsedRecord
	for i, raw := range strings.Split(page.Text, "\n") {
		line := strings.TrimSpace(raw)
		if len(line) < 10 || !lineLooksLikeTrade(line) {
			continue
		}
		fields := reLineSplit.Split(line, -1)
		if len(fields) < 3 {
			fields = reLineSplitSoft.Split(strings.Trim(line, "| "), -1)
		}
		if len(fields) < 3 {
			continue
		}
		rec, ok := matchRow(cleanCells(fields))
		if !ok {
			continue
		}
		rec.Provenance = filing.Provenance{
			Page:     page.Number,
			Row:      i,
			Strategy: filing.StrategyLine,
			RawText:  line,
		}
		recs = append(recs, rec)
	}
	return recs
}

func lineLooksLikeTrade(line string) bool {
	return lineHasTransaction(line) && IsDateLike(line) && IsAmountLike(line)
}
