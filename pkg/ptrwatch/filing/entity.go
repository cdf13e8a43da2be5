package filing

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// EntityKey is the natural key of a person or organization.
type EntityKey struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// NewEntityKey folds case and collapses whitespace so that spelling
// variations of the same name resolve to one key.
func NewEntityKey(name, jurisdiction string) EntityKey {
	folder := cases.Fold()
	return EntityKey{
		Name:         folder.String(strings.Join(strings.Fields(name), " ")),
		Jurisdiction: strings.ToUpper(strings.TrimSpace(jurisdiction)),
	}
}

// IsZero reports whether the key carries no name.
func (k EntityKey) IsZero() bool {
	return k.Name == ""
}

// String renders the key for logs and lock names.
func (k EntityKey) String() string {
	if k.Jurisdiction == "" {
		return k.Name
	}
	return k.Name + "@" + k.Jurisdiction
}

// Entity is a resolved person or organization. Entities are never deleted,
// and updates only fill fields that are still empty.
type Entity struct {
	ID           string    `json:"id"`
	Key          EntityKey `json:"key"`
	Name         string    `json:"name"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Prefix       string    `json:"prefix,omitempty"`
	Suffix       string    `json:"suffix,omitempty"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	Chamber      string    `json:"chamber,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Merge fills empty fields of e from other and reports whether anything changed.
func (e *Entity) Merge(other Entity) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&e.Name, other.Name)
	fill(&e.FirstName, other.FirstName)
	fill(&e.LastName, other.LastName)
	fill(&e.Prefix, other.Prefix)
	fill(&e.Suffix, other.Suffix)
	fill(&e.Jurisdiction, other.Jurisdiction)
	fill(&e.Chamber, other.Chamber)
	return changed
}

// EntityFromFiling builds the entity a filing declares as its owner.
func EntityFromFiling(f Filing) Entity {
	name := f.Owner.FullName
	if name == "" {
		name = strings.TrimSpace(strings.Join([]string{f.Owner.Prefix, f.Owner.FirstName, f.Owner.LastName, f.Owner.Suffix}, " "))
		name = strings.Join(strings.Fields(name), " ")
	}
	chamber := ""
	if f.SourceOrDefault() == SourceHouseClerk {
		chamber = "House"
	}
	return Entity{
		Key:          NewEntityKey(name, f.Jurisdiction()),
		Name:         name,
		FirstName:    f.Owner.FirstName,
		LastName:     f.Owner.LastName,
		Prefix:       f.Owner.Prefix,
		Suffix:       f.Owner.Suffix,
		Jurisdiction: f.Jurisdiction(),
		Chamber:      chamber,
	}
}
