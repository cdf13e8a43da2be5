package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

func testContext() Context {
	return Context{
		Source:     filing.SourceHouseClerk,
		FilingID:   "20024512",
		Owner:      filing.NewEntityKey("Nancy Pelosi", "CA"),
		FilingDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testNormalizer() *Normalizer {
	return New(Options{Now: func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }})
}

func TestNormalizeRecord(t *testing.T) {
	n := testNormalizer()
	res := n.Normalize(filing.ParsedRecord{
		AssetName:       "shares of nvidia corporation",
		Ticker:          "nvda",
		TransactionType: "P",
		DateText:        "3/5/24",
		AmountText:      "$1001-$15000",
	}, testContext())

	if !res.OK {
		t.Fatalf("expected OK, got %v", res.Reason)
	}
	r := res.Record
	if r.AssetDescription != "Nvidia Corporation" {
		t.Errorf("AssetDescription = %q", r.AssetDescription)
	}
	if r.Ticker != "NVDA" || r.AssetType != filing.AssetStock || r.TransactionType != filing.TxPurchase {
		t.Errorf("unexpected fields: %+v", r)
	}
	if r.DateString() != "2024-03-05" {
		t.Errorf("date = %q", r.DateString())
	}
	if r.AmountRange != "$1,001 - $15,000" || *r.AmountMin != 1001 || *r.AmountMax != 15000 {
		t.Errorf("amount = %q %v %v", r.AmountRange, r.AmountMin, r.AmountMax)
	}
	if r.Fingerprint != Fingerprint(r) {
		t.Error("fingerprint does not match recomputation")
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestNormalizeDefaultsUnknownTransaction(t *testing.T) {
	res := testNormalizer().Normalize(filing.ParsedRecord{
		AssetName:       "Apple Inc",
		TransactionType: "gift",
		DateText:        "not a date",
		AmountText:      "$1,001 - $15,000",
	}, testContext())

	if !res.OK {
		t.Fatalf("expected OK, got %v", res.Reason)
	}
	if res.Record.TransactionType != filing.TxPurchase {
		t.Errorf("TransactionType = %q", res.Record.TransactionType)
	}
	if !res.Record.TransactionDate.IsZero() {
		t.Errorf("expected null date, got %v", res.Record.TransactionDate)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "transaction_type" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestNormalizeDiscardsImplausibleYear(t *testing.T) {
	res := testNormalizer().Normalize(filing.ParsedRecord{
		AssetName:       "Apple Inc",
		TransactionType: "S",
		DateText:        "01/15/1985",
	}, testContext())

	if !res.OK {
		t.Fatalf("expected OK, got %v", res.Reason)
	}
	if !res.Record.TransactionDate.IsZero() {
		t.Errorf("expected date discarded, got %v", res.Record.TransactionDate)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "transaction_date" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		rec  filing.ParsedRecord
		ctx  Context
	}{
		{"short asset", filing.ParsedRecord{AssetName: "x", TransactionType: "P"}, testContext()},
		{"missing owner", filing.ParsedRecord{AssetName: "Apple Inc", TransactionType: "P"}, Context{Source: filing.SourceHouseClerk, FilingID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testNormalizer().Normalize(tt.rec, tt.ctx)
			if res.OK {
				t.Fatal("expected rejection")
			}
			if !internalerr.IsPermanent(res.Reason) || !errors.Is(res.Reason, internalerr.ErrInvalidInput) {
				t.Errorf("Reason = %v, want permanent invalid input", res.Reason)
			}
		})
	}
}

func TestValidateEnumerations(t *testing.T) {
	r := filing.CanonicalRecord{
		Owner:            filing.NewEntityKey("Someone", ""),
		AssetDescription: "Apple Inc",
		AssetType:        "Crypto",
		TransactionType:  filing.TxSale,
		Fingerprint:      "abc",
	}
	if err := Validate(r); err == nil {
		t.Error("expected invalid asset type to fail")
	}
	r.AssetType = filing.AssetStock
	r.Ticker = "aapl"
	if err := Validate(r); err == nil {
		t.Error("expected lowercase ticker to fail")
	}
	r.Ticker = "AAPL"
	if err := Validate(r); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
