package filing

import (
	"errors"
	"strings"
	"time"
)

// SourceHouseClerk identifies filings published by the House Clerk.
const SourceHouseClerk = "house_clerk"

// Filing type codes used by the clerk's bulk filing index.
const (
	TypePTR        = "P"
	TypeAmendment  = "A"
	TypeCandidate  = "C"
	TypeNewFiler   = "D"
	TypeOriginal   = "O"
	TypeExtension  = "X"
	TypeWithdrawal = "W"
)

var typeDescriptions = map[string]string{
	TypePTR:        "Periodic Transaction Report",
	TypeAmendment:  "Amendment",
	TypeCandidate:  "Candidate Report",
	TypeNewFiler:   "New Filer Report",
	TypeOriginal:   "Original Report",
	TypeExtension:  "Extension Request",
	TypeWithdrawal: "Withdrawal Notice",
}

// DescribeType returns a readable label for a filing type code.
func DescribeType(code string) string {
	if d, ok := typeDescriptions[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return d
	}
	return code
}

// Owner is the person a filing was declared for.
type Owner struct {
	FullName  string `json:"full_name"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Suffix    string `json:"suffix,omitempty"`
}

// Filing is one discovered source document reference. Filings are
// immutable once discovery hands them out.
type Filing struct {
	ID           string    `json:"filing_id"`
	Source       string    `json:"source"`
	URL          string    `json:"doc_url"`
	DiscoveredAt time.Time `json:"discovered_at"`
	FilingDate   time.Time `json:"filing_date,omitempty"`
	FilingType   string    `json:"filing_type,omitempty"`
	Year         int       `json:"year,omitempty"`
	Owner        Owner     `json:"owner"`
	StateDst     string    `json:"state_district,omitempty"`
}

// Validate checks the fields every downstream stage relies on.
func (f *Filing) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return errors.New("filing ID is required")
	}
	if strings.TrimSpace(f.URL) == "" {
		return errors.New("filing URL is required")
	}
	return nil
}

// SourceOrDefault returns the filing's source system, falling back to the clerk.
func (f *Filing) SourceOrDefault() string {
	if f.Source == "" {
		return SourceHouseClerk
	}
	return f.Source
}

// Jurisdiction returns the two-letter state portion of StateDst ("CA12" -> "CA").
func (f *Filing) Jurisdiction() string {
	sd := strings.ToUpper(strings.TrimSpace(f.StateDst))
	if len(sd) >= 2 {
		return sd[:2]
	}
	return sd
}
