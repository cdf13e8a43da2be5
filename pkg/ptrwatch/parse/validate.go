package parse

import (
	"regexp"
	"strings"
	"unicode"
)

var txTokens = map[string]bool{
	"P": true, "S": true, "E": true,
	"PURCHASE": true, "SALE": true, "EXCHANGE": true,
	"BUY": true, "SELL": true, "SOLD": true, "BOUGHT": true,
}

var (
	reTxIndicator = regexp.MustCompile(`(?i)\b(purchase|sale|exchange|buy|sell|sold|bought)\b`)
	reDateLike    = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{1,2}-\d{1,2}|\d{1,2}-\d{1,2}-\d{4}`)
	reAmountLike  = regexp.MustCompile(`(?i)\$\s?\d[\d,]*(\s*-\s*\$?\s?\d[\d,]*)?|over\s+\$?\d[\d,]*|\d{1,3}(,\d{3})+\s*-\s*\d{1,3}(,\d{3})+`)
)

var headerIndicators = []string{
	"transaction", "asset", "ticker", "symbol", "date", "amount",
	"purchase", "sale", "security", "description", "value",
}

// IsTransactionType reports whether s is, starts with, or contains a
// transaction-type token.
func IsTransactionType(s string) bool {
	u := strings.ToUpper(strings.TrimSpace(s))
	if u == "" {
		return false
	}
	if txTokens[u] {
		return true
	}
	if f := strings.FieldsFunc(u, func(r rune) bool { return !unicode.IsLetter(r) }); len(f) > 0 && txTokens[f[0]] {
		return true
	}
	return reTxIndicator.MatchString(u)
}

// IsDateLike reports whether s contains a numeric date.
func IsDateLike(s string) bool {
	return reDateLike.MatchString(s)
}

// IsAmountLike reports whether s contains a currency amount or range.
func IsAmountLike(s string) bool {
	return reAmountLike.MatchString(s)
}

func isHeaderRow(row []string) bool {
	for _, cell := range row {
		c := strings.ToLower(strings.TrimSpace(cell))
		if c == "" {
			continue
		}
		for _, ind := range headerIndicators {
			if strings.Contains(c, ind) {
				return true
			}
		}
	}
	return false
}

// lineHasTransaction looks for a transaction token among the words of a line.
func lineHasTransaction(line string) bool {
	for _, w := range strings.FieldsFunc(strings.ToUpper(line), func(r rune) bool { return !unicode.IsLetter(r) }) {
		if txTokens[w] {
			return true
		}
	}
	return false
}
