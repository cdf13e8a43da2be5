package filing

import (
	"testing"
)

func TestDetectMedia(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        MediaType
	}{
		{"pdf magic", "", "%PDF-1.7\n...", MediaBinary},
		{"pdf content type", "application/pdf", "garbage", MediaBinary},
		{"tsv content type", "text/tab-separated-values", "a\tb", MediaTabular},
		{"csv content type", "text/csv", "a,b,c", MediaTabular},
		{"tab sniffed", "text/plain", "Asset\tTicker\tType\n", MediaTabular},
		{"nul byte", "", "ab\x00cd", MediaBinary},
		{"plain text", "text/plain", "Purchase  Apple Inc  03/05/2024", MediaPageOriented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMedia(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("DetectMedia = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRawDocumentVerify(t *testing.T) {
	doc := NewRawDocument("1", "https://example.test/1.pdf", "application/pdf", []byte("%PDF-1.4"))
	if !doc.Verify() {
		t.Fatal("fresh document should verify")
	}
	doc.Body = []byte("%PDF-1.5")
	if doc.Verify() {
		t.Error("tampered body should not verify")
	}
}

func TestFilingValidate(t *testing.T) {
	if err := (&Filing{ID: "1"}).Validate(); err == nil {
		t.Error("expected error for missing URL")
	}
	if err := (&Filing{URL: "u"}).Validate(); err == nil {
		t.Error("expected error for missing ID")
	}
	if err := (&Filing{ID: "1", URL: "u"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEntityKeyFolding(t *testing.T) {
	a := NewEntityKey("  Nancy   PELOSI ", "ca")
	b := NewEntityKey("nancy pelosi", "CA")
	if a != b {
		t.Errorf("keys differ: %v vs %v", a, b)
	}
	if a.String() != "nancy pelosi@CA" {
		t.Errorf("String = %q", a.String())
	}
	if !NewEntityKey("   ", "").IsZero() {
		t.Error("blank name should give a zero key")
	}
}

func TestEntityMergeIsAdditive(t *testing.T) {
	e := Entity{Name: "Nancy Pelosi", LastName: "Pelosi"}
	changed := e.Merge(Entity{Name: "", LastName: "Other", FirstName: "Nancy", Chamber: "House"})
	if !changed {
		t.Fatal("expected change")
	}
	if e.Name != "Nancy Pelosi" || e.LastName != "Pelosi" {
		t.Errorf("populated fields overwritten: %+v", e)
	}
	if e.FirstName != "Nancy" || e.Chamber != "House" {
		t.Errorf("empty fields not filled: %+v", e)
	}
	if e.Merge(Entity{Name: "X"}) {
		t.Error("merge with nothing new should report no change")
	}
}

func TestEntityFromFiling(t *testing.T) {
	f := Filing{
		ID:       "20024512",
		Source:   SourceHouseClerk,
		Owner:    Owner{FirstName: "Nancy", LastName: "Pelosi", Prefix: "Hon."},
		StateDst: "CA11",
	}
	e := EntityFromFiling(f)
	if e.Name != "Hon. Nancy Pelosi" {
		t.Errorf("Name = %q", e.Name)
	}
	if e.Jurisdiction != "CA" || e.Key.Jurisdiction != "CA" {
		t.Errorf("jurisdiction = %q / %q", e.Jurisdiction, e.Key.Jurisdiction)
	}
	if e.Chamber != "House" {
		t.Errorf("Chamber = %q", e.Chamber)
	}
}

func TestParseYearRange(t *testing.T) {
	tests := []struct {
		in      string
		want    YearRange
		wantErr bool
	}{
		{"2023-2025", YearRange{2023, 2025}, false},
		{" 2024 ", YearRange{2024, 2024}, false},
		{"2025-2023", YearRange{}, true},
		{"1980", YearRange{}, true},
		{"twenty", YearRange{}, true},
	}
	for _, tt := range tests {
		got, err := ParseYearRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseYearRange(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseYearRange(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got := (YearRange{2023, 2025}).Years(); len(got) != 3 || got[0] != 2023 || got[2] != 2025 {
		t.Errorf("Years() = %v", got)
	}
	if s := SingleYear(2024).String(); s != "2024" {
		t.Errorf("String() = %q", s)
	}
}
