/*
Package ttb implements the federal excise reporting side of the cellar:
period snapshots by tax class, tax computation with the small-producer
credit, and reconciliation of the cumulative TTB balance against book
inventory and physical counts.

All internal batch volumes are liters; this package is the reporting
boundary where liters become wine gallons (3.78541 L/gal). Conversion
happens here and only here.
*/
package ttb

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UNITS - the liters/gallons boundary
// =============================================================================

// LitersPerGallon is the US wine gallon, the unit TTB reporting is
// denominated in.
var LitersPerGallon = decimal.RequireFromString("3.78541")

// LitersToGallons converts an internal liter volume to wine gallons.
func LitersToGallons(liters decimal.Decimal) decimal.Decimal {
	return liters.Div(LitersPerGallon)
}

// GallonsToLiters converts a reported gallon volume back to liters.
func GallonsToLiters(gallons decimal.Decimal) decimal.Decimal {
	return gallons.Mul(LitersPerGallon)
}

// =============================================================================
// REPORTING PERIOD - (periodType, year, periodNumber)
// =============================================================================

type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodAnnual    PeriodType = "annual"
)

// Period identifies one reporting period. Number is the month (1-12)
// for monthly, the quarter (1-4) for quarterly, and 1 for annual.
type Period struct {
	Type   PeriodType
	Year   int
	Number int
}

// PeriodFor returns the period containing the given date.
func PeriodFor(t PeriodType, date time.Time) Period {
	switch t {
	case PeriodMonthly:
		return Period{Type: t, Year: date.Year(), Number: int(date.Month())}
	case PeriodQuarterly:
		return Period{Type: t, Year: date.Year(), Number: (int(date.Month())-1)/3 + 1}
	default:
		return Period{Type: PeriodAnnual, Year: date.Year(), Number: 1}
	}
}

// Start returns the first day of the period (UTC midnight).
func (p Period) Start() time.Time {
	switch p.Type {
	case PeriodMonthly:
		return time.Date(p.Year, time.Month(p.Number), 1, 0, 0, 0, 0, time.UTC)
	case PeriodQuarterly:
		return time.Date(p.Year, time.Month((p.Number-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(p.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}

// End returns the last day of the period (UTC midnight).
func (p Period) End() time.Time {
	return p.Next().Start().AddDate(0, 0, -1)
}

// Next returns the following period.
func (p Period) Next() Period {
	switch p.Type {
	case PeriodMonthly:
		if p.Number == 12 {
			return Period{Type: p.Type, Year: p.Year + 1, Number: 1}
		}
		return Period{Type: p.Type, Year: p.Year, Number: p.Number + 1}
	case PeriodQuarterly:
		if p.Number == 4 {
			return Period{Type: p.Type, Year: p.Year + 1, Number: 1}
		}
		return Period{Type: p.Type, Year: p.Year, Number: p.Number + 1}
	default:
		return Period{Type: p.Type, Year: p.Year + 1, Number: 1}
	}
}

// Previous returns the preceding period.
func (p Period) Previous() Period {
	switch p.Type {
	case PeriodMonthly:
		if p.Number == 1 {
			return Period{Type: p.Type, Year: p.Year - 1, Number: 12}
		}
		return Period{Type: p.Type, Year: p.Year, Number: p.Number - 1}
	case PeriodQuarterly:
		if p.Number == 1 {
			return Period{Type: p.Type, Year: p.Year - 1, Number: 4}
		}
		return Period{Type: p.Type, Year: p.Year, Number: p.Number - 1}
	default:
		return Period{Type: p.Type, Year: p.Year - 1, Number: 1}
	}
}

// Contains reports whether the date falls inside the period.
func (p Period) Contains(date time.Time) bool {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(p.Start()) && !d.After(p.End())
}

func (p Period) String() string {
	switch p.Type {
	case PeriodMonthly:
		return fmt.Sprintf("%d-%02d", p.Year, p.Number)
	case PeriodQuarterly:
		return fmt.Sprintf("%d-Q%d", p.Year, p.Number)
	default:
		return fmt.Sprintf("%d", p.Year)
	}
}

// ValidateContiguous checks that next immediately follows prev: same
// period type, and next's start is the day after prev's end. Gaps and
// overlaps both fail.
func ValidateContiguous(prev, next Period) error {
	if prev.Type != next.Type {
		return fmt.Errorf("period type mismatch: %s followed by %s", prev.Type, next.Type)
	}
	if prev.Next() != next {
		return fmt.Errorf("period %s does not immediately follow %s", next, prev)
	}
	return nil
}
