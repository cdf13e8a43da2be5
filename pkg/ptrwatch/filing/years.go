package filing

import (
	"fmt"
	"strconv"
	"strings"
)

// YearRange is an inclusive span of filing years.
type YearRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// SingleYear is the range covering only y.
func SingleYear(y int) YearRange { return YearRange{From: y, To: y} }

// ParseYearRange accepts "2023-2025" or "2024".
func ParseYearRange(s string) (YearRange, error) {
	s = strings.TrimSpace(s)
	from, to, isRange := strings.Cut(s, "-")
	a, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return YearRange{}, fmt.Errorf("year range %q: %w", s, err)
	}
	b := a
	if isRange {
		if b, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
			return YearRange{}, fmt.Errorf("year range %q: %w", s, err)
		}
	}
	r := YearRange{From: a, To: b}
	if err := r.Validate(); err != nil {
		return YearRange{}, err
	}
	return r, nil
}

// Validate rejects inverted or implausible ranges.
func (r YearRange) Validate() error {
	if r.From < 1990 || r.To > 2100 {
		return fmt.Errorf("year range %s out of bounds", r)
	}
	if r.From > r.To {
		return fmt.Errorf("year range %s is inverted", r)
	}
	return nil
}

// Years lists the years in ascending order.
func (r YearRange) Years() []int {
	if r.From > r.To {
		return nil
	}
	out := make([]int, 0, r.To-r.From+1)
	for y := r.From; y <= r.To; y++ {
		out = append(out, y)
	}
	return out
}

func (r YearRange) String() string {
	if r.From == r.To {
		return strconv.Itoa(r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}
