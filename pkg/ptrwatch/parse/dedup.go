package parse

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// recordKey hashes the fields that identify a row within one document.
func recordKey(r filing.ParsedRecord) string {
	sum := md5.Sum([]byte(strings.Join([]string{
		r.AssetName, r.Ticker, r.TransactionType, r.DateText, r.AmountText,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// dedupe keeps the first occurrence of every row.
func dedupe(recs []filing.ParsedRecord) ([]filing.ParsedRecord, int) {
	seen := make(map[string]struct{}, len(recs))
	out := recs[:0:0]
	for _, r := range recs {
		k := recordKey(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, len(recs) - len(out)
}
