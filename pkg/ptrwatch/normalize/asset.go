package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

var (
	reAssetPrefix = regexp.MustCompile(`(?i)^(stock of|shares of|equity in|common stock|preferred stock)\s+`)
	reTicker      = regexp.MustCompile(`^[A-Z]{1,5}$`)
	reNonLetter   = regexp.MustCompile(`[^A-Za-z]`)
	reTrailingTk  = regexp.MustCompile(`\(([A-Za-z]{1,5})\)\s*$`)
)

var stopwords = map[string]bool{
	"and": true, "or": true, "the": true, "a": true, "an": true,
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"of": true, "with": true, "by": true, "from": true, "up": true,
	"about": true, "into": true, "through": true,
}

// CleanAsset normalizes an asset description. An empty result means the
// description is unusable.
func CleanAsset(raw string) string {
	s := norm.NFKC.String(raw)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(reAssetPrefix.ReplaceAllString(s, ""))
	if len(s) < 2 {
		return ""
	}
	return titleCase(s)
}

func titleCase(s string) string {
	caser := cases.Title(language.English)
	words := strings.Split(s, " ")
	for i, w := range words {
		lower := strings.ToLower(w)
		switch {
		case isAcronym(w):
		case i > 0 && stopwords[lower]:
			words[i] = lower
		default:
			words[i] = caser.String(w)
		}
	}
	return strings.Join(words, " ")
}

func isAcronym(w string) bool {
	if len(w) <= 1 {
		return false
	}
	letters := 0
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters > 0
}

// NormalizeTicker strips non-letters and uppercases. Anything that is not
// 1-5 letters afterwards is dropped.
func NormalizeTicker(raw string) string {
	t := strings.ToUpper(reNonLetter.ReplaceAllString(raw, ""))
	if !ValidTicker(t) {
		return ""
	}
	return t
}

// ValidTicker reports whether t is 1-5 uppercase ASCII letters.
func ValidTicker(t string) bool {
	return reTicker.MatchString(t)
}

// SplitTrailingTicker lifts "(XXXX)" off the end of an asset cell.
func SplitTrailingTicker(asset string) (string, string) {
	m := reTrailingTk.FindStringSubmatchIndex(asset)
	if m == nil {
		return asset, ""
	}
	return strings.TrimSpace(asset[:m[0]]), strings.ToUpper(asset[m[2]:m[3]])
}

var txAliases = map[string]string{
	"P": filing.TxPurchase, "PURCHASE": filing.TxPurchase, "BUY": filing.TxPurchase, "BOUGHT": filing.TxPurchase,
	"S": filing.TxSale, "SALE": filing.TxSale, "SELL": filing.TxSale, "SOLD": filing.TxSale,
	"E": filing.TxExchange, "EXCHANGE": filing.TxExchange,
}

// NormalizeTransaction maps a raw transaction token to the enumeration.
// ok is false when the token was unrecognized and Purchase was assumed.
func NormalizeTransaction(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if tx, ok := txAliases[s]; ok {
		return tx, true
	}
	// "S (partial)", "Sale - Full"
	if f := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }); len(f) > 0 {
		if tx, ok := txAliases[f[0]]; ok {
			return tx, true
		}
	}
	return filing.TxPurchase, false
}

type assetKeyword struct {
	re  *regexp.Regexp
	typ string
}

var assetKeywords = []assetKeyword{
	{regexp.MustCompile(`\b(stock|equity)\b`), filing.AssetStock},
	{regexp.MustCompile(`\bbond\b`), filing.AssetBond},
	{regexp.MustCompile(`\betf\b`), filing.AssetETF},
	{regexp.MustCompile(`\b(mutual fund|fund)\b`), filing.AssetMutualFund},
	{regexp.MustCompile(`\boptions?\b`), filing.AssetOptions},
	{regexp.MustCompile(`\bother\b`), filing.AssetOther},
}

var (
	reBondHint = regexp.MustCompile(`\b(treasury|note|bill)s?\b`)
	reFundHint = regexp.MustCompile(`\b(fund|etf|trust)s?\b`)
	reETFHint  = regexp.MustCompile(`\betf\b|exchange traded`)
)

// ClassifyAsset infers the asset type from keywords in the description,
// then from the presence of a ticker, then from bond and fund hints.
func ClassifyAsset(description, ticker string) string {
	d := strings.ToLower(description)
	for _, k := range assetKeywords {
		if k.re.MatchString(d) {
			return k.typ
		}
	}
	if ticker != "" {
		return filing.AssetStock
	}
	switch {
	case reBondHint.MatchString(d):
		return filing.AssetBond
	case reFundHint.MatchString(d):
		if reETFHint.MatchString(d) {
			return filing.AssetETF
		}
		return filing.AssetMutualFund
	}
	return filing.AssetStock
}
