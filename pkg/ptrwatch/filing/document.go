package filing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// MediaType is the coarse shape of a retrieved document.
type MediaType string

const (
	MediaTabular      MediaType = "tabular"
	MediaPageOriented MediaType = "page-oriented"
	MediaBinary       MediaType = "binary"
)

// RawDocument holds retrieved bytes. It is never mutated after retrieval.
type RawDocument struct {
	FilingID    string    `msgpack:"filing_id" json:"filing_id"`
	URL         string    `msgpack:"url" json:"url"`
	Body        []byte    `msgpack:"body" json:"-"`
	ContentHash string    `msgpack:"content_hash" json:"content_hash"`
	ContentType string    `msgpack:"content_type" json:"content_type"`
	Media       MediaType `msgpack:"media" json:"media"`
	FetchedAt   time.Time `msgpack:"fetched_at" json:"fetched_at"`
}

// NewRawDocument hashes and classifies body.
func NewRawDocument(filingID, url, contentType string, body []byte) RawDocument {
	return RawDocument{
		FilingID:    filingID,
		URL:         url,
		Body:        body,
		ContentHash: HashContent(body),
		ContentType: contentType,
		Media:       DetectMedia(contentType, body),
		FetchedAt:   time.Now().UTC(),
	}
}

// HashContent returns the hex sha256 of body.
func HashContent(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the body still matches the recorded hash.
func (d RawDocument) Verify() bool {
	return d.ContentHash != "" && HashContent(d.Body) == d.ContentHash
}

// DetectMedia classifies a document from its content type and leading bytes.
func DetectMedia(contentType string, body []byte) MediaType {
	ct := strings.ToLower(contentType)
	switch {
	case bytes.HasPrefix(body, []byte("%PDF")):
		return MediaBinary
	case strings.Contains(ct, "tab-separated"), strings.Contains(ct, "csv"):
		return MediaTabular
	case strings.Contains(ct, "pdf"), strings.Contains(ct, "octet-stream"), strings.Contains(ct, "zip"):
		return MediaBinary
	}
	if bytes.IndexByte(body, 0) >= 0 {
		return MediaBinary
	}
	firstLine := body
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		firstLine = body[:i]
	}
	if bytes.Count(firstLine, []byte("\t")) >= 2 {
		return MediaTabular
	}
	return MediaPageOriented
}

// Strategy names the extraction strategy that produced a record.
type Strategy string

const (
	StrategyTable Strategy = "table"
	StrategyRegex Strategy = "regex"
	StrategyLine  Strategy = "line"
)

// Provenance locates a parsed record inside its source document.
type Provenance struct {
	Page     int      `json:"page"`
	Table    int      `json:"table"`
	Row      int      `json:"row"`
	Strategy Strategy `json:"strategy"`
	RawText  string   `json:"raw_text,omitempty"`
}

// ParsedRecord is one extracted candidate row, before normalization.
type ParsedRecord struct {
	Owner           string     `json:"owner,omitempty"`
	AssetName       string     `json:"asset_name"`
	Ticker          string     `json:"ticker,omitempty"`
	TransactionType string     `json:"transaction_type"`
	DateText        string     `json:"transaction_date"`
	AmountText      string     `json:"amount_range"`
	Provenance      Provenance `json:"provenance"`
}

// Asset types.
const (
	AssetStock      = "Stock"
	AssetBond       = "Bond"
	AssetETF        = "ETF"
	AssetMutualFund = "Mutual Fund"
	AssetOptions    = "Options"
	AssetOther      = "Other"
)

// Transaction types.
const (
	TxPurchase = "Purchase"
	TxSale     = "Sale"
	TxExchange = "Exchange"
)

// ValidAssetType reports membership in the asset type enumeration.
func ValidAssetType(s string) bool {
	switch s {
	case AssetStock, AssetBond, AssetETF, AssetMutualFund, AssetOptions, AssetOther:
		return true
	}
	return false
}

// ValidTransactionType reports membership in the transaction type enumeration.
func ValidTransactionType(s string) bool {
	switch s {
	case TxPurchase, TxSale, TxExchange:
		return true
	}
	return false
}

// CanonicalRecord is a fully normalized trade ready for storage.
// A zero TransactionDate means the date could not be recovered.
type CanonicalRecord struct {
	Fingerprint      string     `json:"fingerprint"`
	Source           string     `json:"source"`
	FilingID         string     `json:"filing_id"`
	Owner            EntityKey  `json:"owner"`
	AssetDescription string     `json:"asset_description"`
	Ticker           string     `json:"ticker,omitempty"`
	AssetType        string     `json:"asset_type"`
	TransactionType  string     `json:"transaction_type"`
	TransactionDate  time.Time  `json:"transaction_date,omitempty"`
	AmountRange      string     `json:"amount_range,omitempty"`
	AmountMin        *int64     `json:"amount_min,omitempty"`
	AmountMax        *int64     `json:"amount_max,omitempty"`
	FilingDate       time.Time  `json:"filing_date,omitempty"`
	Provenance       Provenance `json:"provenance"`
}

// DateString renders the transaction date as YYYY-MM-DD, or "" when absent.
func (r CanonicalRecord) DateString() string {
	return FormatDate(r.TransactionDate)
}

// FormatDate renders t as YYYY-MM-DD, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
