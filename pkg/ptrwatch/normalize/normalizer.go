package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// Context is the filing-level information every record of a document shares.
type Context struct {
	Source     string
	FilingID   string
	Owner      filing.EntityKey
	FilingDate time.Time
}

// ContextFor builds the normalization context of a filing.
func ContextFor(f filing.Filing) Context {
	return Context{
		Source:     f.SourceOrDefault(),
		FilingID:   f.ID,
		Owner:      filing.EntityFromFiling(f).Key,
		FilingDate: f.FilingDate,
	}
}

// Result is the outcome of normalizing one parsed record. When OK is false
// Reason explains the rejection and Record must not be stored.
type Result struct {
	Record   filing.CanonicalRecord
	OK       bool
	Reason   error
	Warnings []*internalerr.DataQualityError
}

// Normalizer maps parsed rows to canonical records.
type Normalizer struct {
	now    func() time.Time
	logger *slog.Logger
}

// Options configures a Normalizer.
type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	n := &Normalizer{now: opts.Now, logger: opts.Logger}
	if n.now == nil {
		n.now = time.Now
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// Normalize produces exactly one Result for p.
func (n *Normalizer) Normalize(p filing.ParsedRecord, c Context) Result {
	var res Result
	warn := func(w *internalerr.DataQualityError) {
		res.Warnings = append(res.Warnings, w)
		n.logger.Warn("data quality fallback",
			"filing_id", c.FilingID,
			"field", w.Field,
			"value", w.Value,
			"reason", w.Msg)
	}

	asset := CleanAsset(p.AssetName)
	if asset == "" {
		res.Reason = internalerr.Permanent("normalize", fmt.Errorf("asset description %q: %w", p.AssetName, internalerr.ErrInvalidInput))
		return res
	}

	ticker := NormalizeTicker(p.Ticker)

	tx, known := NormalizeTransaction(p.TransactionType)
	if !known {
		warn(internalerr.DataQuality("transaction_type", p.TransactionType, "unrecognized, defaulted to "+filing.TxPurchase))
	}

	date := ParseDate(p.DateText)
	if !date.IsZero() && !ReasonableDate(date, n.now()) {
		warn(internalerr.DataQuality("transaction_date", p.DateText, "year out of range, discarded"))
		date = time.Time{}
	}

	amount := NormalizeAmount(p.AmountText)

	rec := filing.CanonicalRecord{
		Source:           c.Source,
		FilingID:         c.FilingID,
		Owner:            c.Owner,
		AssetDescription: asset,
		Ticker:           ticker,
		AssetType:        ClassifyAsset(asset, ticker),
		TransactionType:  tx,
		TransactionDate:  date,
		AmountRange:      amount.Range,
		AmountMin:        amount.Min,
		AmountMax:        amount.Max,
		FilingDate:       c.FilingDate,
		Provenance:       p.Provenance,
	}
	rec.Fingerprint = Fingerprint(rec)

	if err := Validate(rec); err != nil {
		res.Reason = err
		return res
	}
	res.Record = rec
	res.OK = true
	return res
}

// Validate checks the structural invariants of a canonical record.
func Validate(r filing.CanonicalRecord) error {
	var errs []error
	if r.AssetDescription == "" {
		errs = append(errs, errors.New("missing asset description"))
	}
	if r.Owner.IsZero() {
		errs = append(errs, errors.New("missing owner"))
	}
	if !filing.ValidAssetType(r.AssetType) {
		errs = append(errs, fmt.Errorf("asset type %q not recognized", r.AssetType))
	}
	if !filing.ValidTransactionType(r.TransactionType) {
		errs = append(errs, fmt.Errorf("transaction type %q not recognized", r.TransactionType))
	}
	if r.Ticker != "" && !ValidTicker(r.Ticker) {
		errs = append(errs, fmt.Errorf("ticker %q malformed", r.Ticker))
	}
	if r.Fingerprint == "" {
		errs = append(errs, errors.New("missing fingerprint"))
	}
	if len(errs) == 0 {
		return nil
	}
	return internalerr.Permanent("validate", fmt.Errorf("%w: %w", internalerr.ErrInvalidInput, errors.Join(errs...)))
}
