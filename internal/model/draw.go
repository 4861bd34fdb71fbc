package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NumberCount is how many main numbers a EuroMillions draw has.
	NumberCount = 5
	// StarCount is how many lucky stars a EuroMillions draw has.
	StarCount = 2

	MinNumber = 1
	MaxNumber = 50
	MinStar   = 1
	MaxStar   = 12

	// DateLayout is the ISO date key used for cache keys, URLs and ids.
	DateLayout = "2006-01-02"

	// JackpotRank is the rank label of the top prize tier.
	JackpotRank = "5+2"
)

// Method records how a Draw was obtained.
type Method string

const (
	MethodPersisted Method = "persisted"
	MethodScraped   Method = "scraped"
)

// PrizeRow is one prize tier of a draw.
type PrizeRow struct {
	RankLabel   string          `json:"rankLabel"`
	WinnerCount int             `json:"winnerCount"`
	UnitAmount  decimal.Decimal `json:"unitAmount"`
	Currency    string          `json:"currency"`
}

// Provenance records how, when and from where a Draw was obtained.
type Provenance struct {
	SourceID      string    `json:"sourceId"`
	FetchedAt     time.Time `json:"fetchedAt"`
	Method        Method    `json:"method"`
	ParseWarnings []string  `json:"parseWarnings"`
}

// Draw is the canonical record of one EuroMillions draw. A Draw is never
// mutated after NewDraw returns it; corrections produce a new value.
type Draw struct {
	ID         string     `json:"id"`
	Date       time.Time  `json:"date"`
	Numbers    []int      `json:"numbers"`
	Stars      []int      `json:"stars"`
	Breakdown  []PrizeRow `json:"breakdown"`
	Provenance Provenance `json:"provenance"`
}

// NewDraw validates the inputs and builds a Draw with sorted numbers and
// stars and a deterministic ID. The caller's slices are copied, not retained.
func NewDraw(date time.Time, numbers, stars []int, breakdown []PrizeRow, prov *Provenance) (*Draw, error) {
	if date.IsZero() {
		return nil, &ValidationError{Kind: ValidationMissingDate, Field: "date", Message: "draw date is required"}
	}
	if len(numbers) != NumberCount {
		return nil, &ValidationError{
			Kind:    ValidationWrongCount,
			Field:   "numbers",
			Value:   len(numbers),
			Message: fmt.Sprintf("draw must have exactly %d numbers, got %d", NumberCount, len(numbers)),
		}
	}
	if len(stars) != StarCount {
		return nil, &ValidationError{
			Kind:    ValidationWrongCount,
			Field:   "stars",
			Value:   len(stars),
			Message: fmt.Sprintf("draw must have exactly %d stars, got %d", StarCount, len(stars)),
		}
	}
	if err := checkValues("numbers", numbers, MinNumber, MaxNumber); err != nil {
		return nil, err
	}
	if err := checkValues("stars", stars, MinStar, MaxStar); err != nil {
		return nil, err
	}

	d := &Draw{
		Date:    NormalizeDate(date),
		Numbers: slices.Sorted(slices.Values(numbers)),
		Stars:   slices.Sorted(slices.Values(stars)),
	}
	if len(breakdown) > 0 {
		d.Breakdown = slices.Clone(breakdown)
	} else {
		d.Breakdown = []PrizeRow{}
	}
	if prov != nil {
		d.Provenance = prov.clone()
	}
	if d.Provenance.ParseWarnings == nil {
		d.Provenance.ParseWarnings = []string{}
	}
	d.ID = DrawID(d.Date, d.Numbers, d.Stars)
	return d, nil
}

// checkValues enforces range first, then uniqueness.
func checkValues(field string, vals []int, lo, hi int) error {
	seen := make(map[int]struct{}, len(vals))
	for _, v := range vals {
		if v < lo || v > hi {
			return &ValidationError{
				Kind:    ValidationOutOfRange,
				Field:   field,
				Value:   v,
				Message: fmt.Sprintf("invalid %s value %d: must be between %d and %d", field, v, lo, hi),
			}
		}
	}
	for _, v := range vals {
		if _, dup := seen[v]; dup {
			return &ValidationError{
				Kind:    ValidationDuplicateValue,
				Field:   field,
				Value:   v,
				Message: fmt.Sprintf("%s must be unique, %d appears twice", field, v),
			}
		}
		seen[v] = struct{}{}
	}
	return nil
}

// NormalizeDate truncates t to UTC midnight of its calendar day.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Kind: ValidationMissingDate, Field: "date", Value: s, Message: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return t, nil
}

// DrawID derives the stable id "YYYY-MM-DD|n1-n2-n3-n4-n5|s1-s2". Input order
// does not matter.
func DrawID(date time.Time, numbers, stars []int) string {
	return NormalizeDate(date).Format(DateLayout) + "|" + joinSorted(numbers) + "|" + joinSorted(stars)
}

func joinSorted(vals []int) string {
	sorted := slices.Sorted(slices.Values(vals))
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "-")
}

// DateKey returns the ISO date used to key caches and lookups.
func (d *Draw) DateKey() string {
	return d.Date.Format(DateLayout)
}

// DateKey formats t as the ISO date of its calendar day.
func DateKey(t time.Time) string {
	return NormalizeDate(t).Format(DateLayout)
}

// Clone returns a deep copy.
func (d *Draw) Clone() *Draw {
	c := *d
	c.Numbers = slices.Clone(d.Numbers)
	c.Stars = slices.Clone(d.Stars)
	c.Breakdown = slices.Clone(d.Breakdown)
	c.Provenance = d.Provenance.clone()
	return &c
}

// WithProvenance returns a copy of d carrying p.
func (d *Draw) WithProvenance(p Provenance) *Draw {
	c := d.Clone()
	c.Provenance = p.clone()
	if c.Provenance.ParseWarnings == nil {
		c.Provenance.ParseWarnings = []string{}
	}
	return c
}

func (p Provenance) clone() Provenance {
	p.ParseWarnings = slices.Clone(p.ParseWarnings)
	return p
}

// Jackpot returns the unit amount of the 5+2 tier, or zero when the
// breakdown does not list it.
func (d *Draw) Jackpot() decimal.Decimal {
	for _, r := range d.Breakdown {
		if r.RankLabel == JackpotRank {
			return r.UnitAmount
		}
	}
	return decimal.Zero
}

// TotalWinners sums winners across all tiers.
func (d *Draw) TotalWinners() int {
	total := 0
	for _, r := range d.Breakdown {
		total += r.WinnerCount
	}
	return total
}

// HasConsecutiveNumbers reports whether two main numbers are adjacent.
func (d *Draw) HasConsecutiveNumbers() bool {
	for i := 1; i < len(d.Numbers); i++ {
		if d.Numbers[i]-d.Numbers[i-1] == 1 {
			return true
		}
	}
	return false
}

// ParityStats counts even and odd values.
type ParityStats struct {
	NumbersEven int `json:"numbersEven"`
	NumbersOdd  int `json:"numbersOdd"`
	StarsEven   int `json:"starsEven"`
	StarsOdd    int `json:"starsOdd"`
}

// Parity returns the even/odd split of numbers and stars.
func (d *Draw) Parity() ParityStats {
	var p ParityStats
	for _, n := range d.Numbers {
		if n%2 == 0 {
			p.NumbersEven++
		} else {
			p.NumbersOdd++
		}
	}
	for _, s := range d.Stars {
		if s%2 == 0 {
			p.StarsEven++
		} else {
			p.StarsOdd++
		}
	}
	return p
}

// IsRecent reports whether the draw took place within 30 days of now.
func (d *Draw) IsRecent(now time.Time) bool {
	return !d.Date.Before(NormalizeDate(now).AddDate(0, 0, -30))
}

// String renders "2025-08-08: 7-12-25-34-48 * 3-9".
func (d *Draw) String() string {
	return fmt.Sprintf("%s: %s * %s", d.DateKey(), joinSorted(d.Numbers), joinSorted(d.Stars))
}

// SortByDateDesc orders draws newest first; ties fall back to ID so the
// order is stable across stores.
func SortByDateDesc(draws []*Draw) {
	slices.SortStableFunc(draws, func(a, b *Draw) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
