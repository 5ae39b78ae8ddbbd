/*
rates.go - Versioned excise tax rate tables

PURPOSE:
  Tax rates are not constants in the engine: they are a versioned table
  selected by effective date and passed into the tax computation, so
  historical periods can always be recomputed with the rates that were
  in force at the time.

WHY JSON?
  - Rate changes are legislation, not code changes
  - Version control for rate definitions
  - Database storage of rate configs

JSON SCHEMA:
  [
    {
      "version": "2025",
      "effective_from": "2025-01-01",
      "per_gallon": {"hard_cider": "0.226", "wine_under_16": "1.07"},
      "small_producer_credit_per_gallon": "0.056",
      "small_producer_credit_gallons": "30000"
    }
  ]

USAGE:
  tables, err := ttb.ParseRateTables(jsonBytes)
  table := ttb.RateSchedule(tables).TableFor(periodEnd)
  tax := snapshot.ComputeTax(table, priorCreditGallons)

SEE ALSO:
  - snapshot.go: ComputeTax consuming a RateTable
*/
package ttb

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX CLASSES
// =============================================================================

// TaxClass is the TTB category of fermented beverage, each with its own
// per-gallon rate.
type TaxClass string

const (
	ClassHardCider   TaxClass = "hard_cider"
	ClassWineUnder16 TaxClass = "wine_under_16"
	ClassWine16To21  TaxClass = "wine_16_21"
	ClassWine21To24  TaxClass = "wine_21_24"
	ClassSparkling   TaxClass = "sparkling"
	ClassCarbonated  TaxClass = "carbonated"
)

// TaxClasses lists every class in reporting order.
var TaxClasses = []TaxClass{
	ClassHardCider, ClassWineUnder16, ClassWine16To21,
	ClassWine21To24, ClassSparkling, ClassCarbonated,
}

// =============================================================================
// RATE TABLE
// =============================================================================

// RateTable is one version of the excise rates.
type RateTable struct {
	Version       string
	EffectiveFrom time.Time

	// Dollars per wine gallon by tax class.
	PerGallon map[TaxClass]decimal.Decimal

	// Small-producer credit: dollars-per-gallon reduction on the first
	// CreditGallons of taxable removals each calendar year.
	CreditPerGallon decimal.Decimal
	CreditGallons   decimal.Decimal
}

// Rate returns the per-gallon rate for a class, zero if unlisted.
func (rt RateTable) Rate(class TaxClass) decimal.Decimal {
	return rt.PerGallon[class]
}

// DefaultRateTable returns the rates in force from 2025-01-01.
func DefaultRateTable() RateTable {
	return RateTable{
		Version:       "2025",
		EffectiveFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		PerGallon: map[TaxClass]decimal.Decimal{
			ClassHardCider:   decimal.RequireFromString("0.226"),
			ClassWineUnder16: decimal.RequireFromString("1.07"),
			ClassWine16To21:  decimal.RequireFromString("1.57"),
			ClassWine21To24:  decimal.RequireFromString("3.15"),
			ClassSparkling:   decimal.RequireFromString("3.40"),
			ClassCarbonated:  decimal.RequireFromString("3.30"),
		},
		CreditPerGallon: decimal.RequireFromString("0.056"),
		CreditGallons:   decimal.NewFromInt(30000),
	}
}

// =============================================================================
// RATE SCHEDULE - Effective-date selection
// =============================================================================

// RateSchedule is a set of rate tables ordered by effective date.
type RateSchedule []RateTable

// TableFor returns the table in force on the given date: the latest
// table whose EffectiveFrom is not after the date. Falls back to the
// default table when nothing matches.
func (s RateSchedule) TableFor(date time.Time) RateTable {
	sorted := make([]RateTable, len(s))
	copy(sorted, s)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom)
	})

	var match *RateTable
	for i := range sorted {
		if !sorted[i].EffectiveFrom.After(date) {
			match = &sorted[i]
		}
	}
	if match == nil {
		return DefaultRateTable()
	}
	return *match
}

// =============================================================================
// JSON PARSING
// =============================================================================

type rateTableJSON struct {
	Version         string            `json:"version"`
	EffectiveFrom   string            `json:"effective_from"`
	PerGallon       map[string]string `json:"per_gallon"`
	CreditPerGallon string            `json:"small_producer_credit_per_gallon"`
	CreditGallons   string            `json:"small_producer_credit_gallons"`
}

// ParseRateTables parses a JSON array of rate tables. Amounts are JSON
// strings to keep them exact.
func ParseRateTables(data []byte) (RateSchedule, error) {
	var raw []rateTableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rate tables: %w", err)
	}

	tables := make(RateSchedule, 0, len(raw))
	for _, r := range raw {
		effective, err := time.Parse("2006-01-02", r.EffectiveFrom)
		if err != nil {
			return nil, fmt.Errorf("rate table %q: bad effective_from %q: %w", r.Version, r.EffectiveFrom, err)
		}

		perGallon := make(map[TaxClass]decimal.Decimal, len(r.PerGallon))
		for class, amount := range r.PerGallon {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, fmt.Errorf("rate table %q: bad rate %q for class %q: %w", r.Version, amount, class, err)
			}
			perGallon[TaxClass(class)] = d
		}

		creditRate, err := decimal.NewFromString(r.CreditPerGallon)
		if err != nil {
			return nil, fmt.Errorf("rate table %q: bad credit rate %q: %w", r.Version, r.CreditPerGallon, err)
		}
		creditGallons, err := decimal.NewFromString(r.CreditGallons)
		if err != nil {
			return nil, fmt.Errorf("rate table %q: bad credit gallons %q: %w", r.Version, r.CreditGallons, err)
		}

		tables = append(tables, RateTable{
			Version:         r.Version,
			EffectiveFrom:   effective,
			PerGallon:       perGallon,
			CreditPerGallon: creditRate,
			CreditGallons:   creditGallons,
		})
	}
	return tables, nil
}
