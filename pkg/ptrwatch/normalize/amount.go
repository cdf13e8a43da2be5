package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Bracket is one canonical amount range from the disclosure form.
type Bracket struct {
	Label string
	Min   int64
	Max   *int64 // nil for open-ended "Over" brackets
}

func bound(v int64) *int64 { return &v }

// Brackets lists the canonical ranges in form order.
var Brackets = []Bracket{
	{"$1,001 - $15,000", 1001, bound(15000)},
	{"$15,001 - $50,000", 15001, bound(50000)},
	{"$50,001 - $100,000", 50001, bound(100000)},
	{"$100,001 - $250,000", 100001, bound(250000)},
	{"$250,001 - $500,000", 250001, bound(500000)},
	{"$500,001 - $1,000,000", 500001, bound(1000000)},
	{"$1,000,001 - $5,000,000", 1000001, bound(5000000)},
	{"$5,000,001 - $25,000,000", 5000001, bound(25000000)},
	{"$25,000,001 - $50,000,000", 25000001, bound(50000000)},
	{"Over $50,000,000", 50000001, nil},
}

var (
	reSpaces   = regexp.MustCompile(`\s+`)
	reDash     = regexp.MustCompile(`\s*-\s*`)
	reNumber   = regexp.MustCompile(`\d[\d,]*`)
	reOverWord = regexp.MustCompile(`(?i)\bover\b`)
)

// Amount is a normalized amount range with its numeric bounds.
type Amount struct {
	Range string
	Min   *int64
	Max   *int64
}

// NormalizeAmount canonicalizes an amount-range string. Inputs that
// numerically match a form bracket snap to the bracket's label; other
// ranges are reformatted as "$X - $Y" or "Over $X".
func NormalizeAmount(raw string) Amount {
	cleaned := strings.TrimSpace(reSpaces.ReplaceAllString(raw, " "))
	if cleaned == "" {
		return Amount{}
	}
	cleaned = reDash.ReplaceAllString(cleaned, " - ")

	nums := extractNumbers(cleaned)
	over := reOverWord.MatchString(cleaned)

	if b, ok := matchBracket(nums, over); ok {
		return Amount{Range: b.Label, Min: bound(b.Min), Max: copyBound(b.Max)}
	}

	switch {
	case len(nums) == 2:
		return Amount{
			Range: "$" + humanize.Comma(nums[0]) + " - $" + humanize.Comma(nums[1]),
			Min:   bound(nums[0]),
			Max:   bound(nums[1]),
		}
	case len(nums) == 1 && over:
		return Amount{Range: "Over $" + humanize.Comma(nums[0]), Min: bound(nums[0])}
	case len(nums) == 1:
		return Amount{Range: cleaned, Min: bound(nums[0]), Max: bound(nums[0])}
	}
	return Amount{Range: cleaned}
}

// LookupBracket returns the canonical bracket with the given label.
func LookupBracket(label string) (Bracket, bool) {
	for _, b := range Brackets {
		if b.Label == label {
			return b, true
		}
	}
	return Bracket{}, false
}

func matchBracket(nums []int64, over bool) (Bracket, bool) {
	for _, b := range Brackets {
		open := b.Max == nil
		if open != over {
			continue
		}
		want := bracketNumbers(b)
		if len(want) != len(nums) {
			continue
		}
		equal := true
		for i := range want {
			if want[i] != nums[i] {
				equal = false
				break
			}
		}
		if equal {
			return b, true
		}
	}
	return Bracket{}, false
}

// bracketNumbers returns the numbers as printed on the form. The open
// bracket prints its threshold, one below its lower bound.
func bracketNumbers(b Bracket) []int64 {
	if b.Max == nil {
		return []int64{b.Min - 1}
	}
	return []int64{b.Min, *b.Max}
}

func extractNumbers(s string) []int64 {
	var out []int64
	for _, m := range reNumber.FindAllString(s, -1) {
		v, err := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func copyBound(p *int64) *int64 {
	if p == nil {
		return nil
	}
	return bound(*p)
}
