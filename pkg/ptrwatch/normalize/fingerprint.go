package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// FingerprintVersion is bumped whenever the identity tuple changes.
const FingerprintVersion = "v1"

// Fingerprint derives the stable identity of a trade. Two records with the
// same fingerprint describe the same transaction.
func Fingerprint(r filing.CanonicalRecord) string {
	parts := []string{
		FingerprintVersion,
		r.Source,
		r.FilingID,
		r.AssetDescription,
		r.Ticker,
		r.TransactionType,
		r.DateString(),
		r.AmountRange,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
