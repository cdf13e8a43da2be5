package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// Column codecs shared by the SQL backends. Dates are stored as
// YYYY-MM-DD text and timestamps as RFC3339 so both engines compare them
// lexically.

// EncodeDate renders a calendar date, "" for the zero time.
func EncodeDate(t time.Time) string {
	return filing.FormatDate(t)
}

// DecodeDate parses EncodeDate output.
func DecodeDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EncodeTime renders a timestamp.
func EncodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeTime parses EncodeTime output.
func DecodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NullInt64 converts an optional bound to a nullable column value.
func NullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// Int64Ptr converts a nullable column value to an optional bound.
func Int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// EncodeProvenance serializes provenance for a text column.
func EncodeProvenance(p filing.Provenance) string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeProvenance parses EncodeProvenance output; bad input yields the zero value.
func DecodeProvenance(s string) filing.Provenance {
	var p filing.Provenance
	if s != "" {
		_ = json.Unmarshal([]byte(s), &p)
	}
	return p
}
