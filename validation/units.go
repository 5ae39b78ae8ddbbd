/*
units.go - Volume, quantity, count, price and percentage guards

PURPOSE:
  Pure range guards for the physical/business quantities flowing through
  the cellar. Each ValidateX either returns nil or raises a *Error with
  field name, offending value and bounds in Details.

BOUNDS:
  The defaults below are the domain defaults for a small cidery; a
  deployment can tune them by constructing its own Limits. All volume
  arithmetic is decimal.Decimal - no float drift.

SEE ALSO:
  - measurement.go: physical-reading guards (ABV, pH, SG, acidity, temp)
  - errors.go: the error type raised here
*/
package validation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY UNITS
// =============================================================================

type QuantityUnit string

const (
	UnitKilograms QuantityUnit = "kg"
	UnitPounds    QuantityUnit = "lb"
	UnitLiters    QuantityUnit = "L"
	UnitGallons   QuantityUnit = "gal"
)

// =============================================================================
// LIMITS - deployment-tunable bounds
// =============================================================================

// Limits holds the upper bounds applied by the unit guards.
type Limits struct {
	MaxVolumeLiters decimal.Decimal
	MaxCount        int64
	MaxPrice        decimal.Decimal
	MaxQuantity     map[QuantityUnit]decimal.Decimal
}

// DefaultLimits returns the standard small-cidery bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxVolumeLiters: decimal.NewFromInt(50000),
		MaxCount:        1000000,
		MaxPrice:        decimal.NewFromInt(1000000),
		MaxQuantity: map[QuantityUnit]decimal.Decimal{
			UnitKilograms: decimal.NewFromInt(100000),
			UnitPounds:    decimal.NewFromInt(220000),
			UnitLiters:    decimal.NewFromInt(50000),
			UnitGallons:   decimal.NewFromInt(13200),
		},
	}
}

var defaultLimits = DefaultLimits()

// =============================================================================
// FINITENESS - boundary between float inputs and decimal arithmetic
// =============================================================================

// FiniteDecimal converts a float input to a decimal, rejecting NaN and
// infinities. Callers parsing JSON numbers should pass through here
// before any guard sees the value.
func FiniteDecimal(field string, f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, New(KindVolume, "not_finite",
			fmt.Sprintf("%s is not a finite number", field),
			fmt.Sprintf("The value for %s is not a valid number. Enter a numeric value.", field),
			map[string]any{"field": field})
	}
	return decimal.NewFromFloat(f), nil
}

// =============================================================================
// VOLUME GUARDS
// =============================================================================

// ValidateVolume rejects volumes that are zero, negative, or above the
// deployment maximum.
func ValidateVolume(field string, v decimal.Decimal) error {
	return defaultLimits.ValidateVolume(field, v)
}

func (l Limits) ValidateVolume(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return New(KindVolume, "volume_not_positive",
			fmt.Sprintf("%s must be greater than zero, got %s", field, v),
			fmt.Sprintf("The %s of %sL is not valid. Volume must be greater than 0L.", field, v),
			map[string]any{"field": field, "value": v.String(), "min": "0"})
	}
	if v.GreaterThan(l.MaxVolumeLiters) {
		return New(KindVolume, "volume_exceeds_maximum",
			fmt.Sprintf("%s %s exceeds maximum %s", field, v, l.MaxVolumeLiters),
			fmt.Sprintf("The %s of %sL exceeds the maximum of %sL. Check the entered value.", field, v, l.MaxVolumeLiters),
			map[string]any{"field": field, "value": v.String(), "max": l.MaxVolumeLiters.String()})
	}
	return nil
}

// ValidateNonNegativeVolume allows zero (e.g. an emptied vessel) but
// rejects negatives and values above the maximum.
func ValidateNonNegativeVolume(field string, v decimal.Decimal) error {
	return defaultLimits.ValidateNonNegativeVolume(field, v)
}

func (l Limits) ValidateNonNegativeVolume(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return New(KindVolume, "volume_negative",
			fmt.Sprintf("%s must not be negative, got %s", field, v),
			fmt.Sprintf("The %s of %sL is not valid. Volume cannot be negative.", field, v),
			map[string]any{"field": field, "value": v.String(), "min": "0"})
	}
	if v.GreaterThan(l.MaxVolumeLiters) {
		return New(KindVolume, "volume_exceeds_maximum",
			fmt.Sprintf("%s %s exceeds maximum %s", field, v, l.MaxVolumeLiters),
			fmt.Sprintf("The %s of %sL exceeds the maximum of %sL. Check the entered value.", field, v, l.MaxVolumeLiters),
			map[string]any{"field": field, "value": v.String(), "max": l.MaxVolumeLiters.String()})
	}
	return nil
}

// =============================================================================
// QUANTITY GUARD - unit-scaled upper bound
// =============================================================================

// ValidateQuantity rejects non-positive quantities and quantities above
// the per-unit maximum (kg 100,000; lb 220,000; L 50,000; gal 13,200).
func ValidateQuantity(field string, v decimal.Decimal, unit QuantityUnit) error {
	return defaultLimits.ValidateQuantity(field, v, unit)
}

func (l Limits) ValidateQuantity(field string, v decimal.Decimal, unit QuantityUnit) error {
	if !v.IsPositive() {
		return New(KindQuantity, "quantity_not_positive",
			fmt.Sprintf("%s must be greater than zero, got %s %s", field, v, unit),
			fmt.Sprintf("The %s of %s %s is not valid. Quantity must be greater than 0.", field, v, unit),
			map[string]any{"field": field, "value": v.String(), "unit": string(unit), "min": "0"})
	}
	max, ok := l.MaxQuantity[unit]
	if !ok {
		return New(KindQuantity, "unknown_unit",
			fmt.Sprintf("%s has unknown unit %q", field, unit),
			fmt.Sprintf("The unit %q for %s is not recognized. Use kg, lb, L or gal.", unit, field),
			map[string]any{"field": field, "unit": string(unit)})
	}
	if v.GreaterThan(max) {
		return New(KindQuantity, "quantity_exceeds_maximum",
			fmt.Sprintf("%s %s %s exceeds maximum %s %s", field, v, unit, max, unit),
			fmt.Sprintf("The %s of %s %s exceeds the maximum of %s %s. Check the entered value.", field, v, unit, max, unit),
			map[string]any{"field": field, "value": v.String(), "unit": string(unit), "max": max.String()})
	}
	return nil
}

// =============================================================================
// COUNT, PRICE AND PERCENTAGE GUARDS
// =============================================================================

// ValidateCount rejects counts that are not positive integers or exceed
// the maximum (1,000,000).
func ValidateCount(field string, n int64) error {
	return defaultLimits.ValidateCount(field, n)
}

func (l Limits) ValidateCount(field string, n int64) error {
	if n <= 0 {
		return New(KindQuantity, "count_not_positive",
			fmt.Sprintf("%s must be a positive integer, got %d", field, n),
			fmt.Sprintf("The %s of %d is not valid. Count must be at least 1.", field, n),
			map[string]any{"field": field, "value": n, "min": 1})
	}
	if n > l.MaxCount {
		return New(KindQuantity, "count_exceeds_maximum",
			fmt.Sprintf("%s %d exceeds maximum %d", field, n, l.MaxCount),
			fmt.Sprintf("The %s of %d exceeds the maximum of %d. Check the entered value.", field, n, l.MaxCount),
			map[string]any{"field": field, "value": n, "max": l.MaxCount})
	}
	return nil
}

// ValidatePrice rejects non-positive prices and prices above 1,000,000.
func ValidatePrice(field string, v decimal.Decimal) error {
	return defaultLimits.ValidatePrice(field, v)
}

func (l Limits) ValidatePrice(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return New(KindQuantity, "price_not_positive",
			fmt.Sprintf("%s must be greater than zero, got %s", field, v),
			fmt.Sprintf("The %s of %s is not valid. Price must be greater than 0.", field, v),
			map[string]any{"field": field, "value": v.String(), "min": "0"})
	}
	if v.GreaterThan(l.MaxPrice) {
		return New(KindQuantity, "price_exceeds_maximum",
			fmt.Sprintf("%s %s exceeds maximum %s", field, v, l.MaxPrice),
			fmt.Sprintf("The %s of %s exceeds the maximum of %s. Check the entered value.", field, v, l.MaxPrice),
			map[string]any{"field": field, "value": v.String(), "max": l.MaxPrice.String()})
	}
	return nil
}

// ValidatePercentage rejects values outside [0, 100].
func ValidatePercentage(field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
		return New(KindQuantity, "percentage_out_of_range",
			fmt.Sprintf("%s must be between 0 and 100, got %s", field, v),
			fmt.Sprintf("The %s of %s%% is not valid. Enter a value between 0 and 100.", field, v),
			map[string]any{"field": field, "value": v.String(), "min": "0", "max": "100"})
	}
	return nil
}
