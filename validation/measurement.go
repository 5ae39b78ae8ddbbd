/*
measurement.go - Physical reading guards (ABV, pH, SG, acidity, temperature)

PURPOSE:
  Range guards for lab readings recorded against a batch. Several of
  these carry two tiers of bounds:

    business bounds - where real cider lives; outside raises an error
    absolute bounds - physically impossible/implausible values

  Total acidity additionally has a distinct "dangerous" error tier above
  20 g/L, and ABV readings above 12% produce a Warning rather than an
  error (high but legal).

SEE ALSO:
  - units.go: Limits and the generic volume/quantity guards
  - dates.go: date-window and sequencing guards
*/
package validation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Measurement bounds. Business bounds are tighter than absolute bounds;
// both tiers raise errors, with distinct codes so the UI can explain.
var (
	abvMax     = decimal.NewFromInt(20)
	abvUnusual = decimal.NewFromInt(12)

	phHardMin     = decimal.Zero
	phHardMax     = decimal.NewFromInt(14)
	phBusinessMin = decimal.RequireFromString("2.5")
	phBusinessMax = decimal.RequireFromString("4.5")

	sgAbsoluteMin = decimal.RequireFromString("0.980")
	sgAbsoluteMax = decimal.RequireFromString("1.300")
	sgBusinessMin = decimal.RequireFromString("1.000")
	sgBusinessMax = decimal.RequireFromString("1.200")

	acidityBusinessMax  = decimal.NewFromInt(5)
	acidityDangerousMax = decimal.NewFromInt(20)

	tempAbsoluteMin = decimal.NewFromInt(-50)
	tempAbsoluteMax = decimal.NewFromInt(100)
	tempBusinessMin = decimal.NewFromInt(-10)
	tempBusinessMax = decimal.NewFromInt(50)
)

// =============================================================================
// ABV
// =============================================================================

// ValidateABV checks an alcohol-by-volume reading. Values in (12, 20]
// are legal but unusual for cider and return a Warning alongside a nil
// error; values outside [0, 20] are rejected.
func ValidateABV(field string, v decimal.Decimal) (*Warning, error) {
	if v.IsNegative() || v.GreaterThan(abvMax) {
		return nil, New(KindMeasurement, "abv_out_of_range",
			fmt.Sprintf("%s must be between 0 and 20, got %s", field, v),
			fmt.Sprintf("The %s reading of %s%% is outside the valid range of 0-20%%. Re-check the measurement.", field, v),
			map[string]any{"field": field, "value": v.String(), "min": "0", "max": abvMax.String()})
	}
	if v.GreaterThan(abvUnusual) {
		return &Warning{
			Code:    "abv_unusually_high",
			Message: fmt.Sprintf("%s of %s%% is above the typical cider range (0-12%%)", field, v),
			Details: map[string]any{"field": field, "value": v.String(), "typical_max": abvUnusual.String()},
		}, nil
	}
	return nil, nil
}

// =============================================================================
// pH
// =============================================================================

// ValidatePH checks a pH reading against the hard physical scale (0-14)
// and the cider business range (2.5-4.5). Both violations are errors;
// out-of-business-range is not downgraded to a warning because pH
// outside 2.5-4.5 signals spoilage risk, not an unusual style.
func ValidatePH(field string, v decimal.Decimal) error {
	if v.LessThan(phHardMin) || v.GreaterThan(phHardMax) {
		return New(KindMeasurement, "ph_impossible",
			fmt.Sprintf("%s must be between 0 and 14, got %s", field, v),
			fmt.Sprintf("The %s reading of %s is not a possible pH value. pH runs from 0 to 14.", field, v),
			map[string]any{"field": field, "value": v.String(), "min": phHardMin.String(), "max": phHardMax.String()})
	}
	if v.LessThan(phBusinessMin) || v.GreaterThan(phBusinessMax) {
		return New(KindMeasurement, "ph_out_of_range",
			fmt.Sprintf("%s must be between %s and %s, got %s", field, phBusinessMin, phBusinessMax, v),
			fmt.Sprintf("The %s reading of %s is outside the expected cider range of %s-%s. Re-check the measurement before saving.", field, v, phBusinessMin, phBusinessMax),
			map[string]any{"field": field, "value": v.String(), "min": phBusinessMin.String(), "max": phBusinessMax.String()})
	}
	return nil
}

// =============================================================================
// SPECIFIC GRAVITY
// =============================================================================

// ValidateSpecificGravity checks a hydrometer reading against absolute
// plausibility (0.980-1.300) and the business range (1.000-1.200).
func ValidateSpecificGravity(field string, v decimal.Decimal) error {
	if v.LessThan(sgAbsoluteMin) || v.GreaterThan(sgAbsoluteMax) {
		return New(KindMeasurement, "specific_gravity_implausible",
			fmt.Sprintf("%s must be between %s and %s, got %s", field, sgAbsoluteMin, sgAbsoluteMax, v),
			fmt.Sprintf("The %s reading of %s is not a plausible specific gravity. Expected %s-%s.", field, v, sgAbsoluteMin, sgAbsoluteMax),
			map[string]any{"field": field, "value": v.String(), "min": sgAbsoluteMin.String(), "max": sgAbsoluteMax.String()})
	}
	if v.LessThan(sgBusinessMin) || v.GreaterThan(sgBusinessMax) {
		return New(KindMeasurement, "specific_gravity_out_of_range",
			fmt.Sprintf("%s must be between %s and %s, got %s", field, sgBusinessMin, sgBusinessMax, v),
			fmt.Sprintf("The %s reading of %s is outside the expected range of %s-%s. Re-check the hydrometer.", field, v, sgBusinessMin, sgBusinessMax),
			map[string]any{"field": field, "value": v.String(), "min": sgBusinessMin.String(), "max": sgBusinessMax.String()})
	}
	return nil
}

// =============================================================================
// TOTAL ACIDITY
// =============================================================================

// ValidateTotalAcidity checks a titratable acidity reading in g/L.
// Readings above 20 g/L get a distinct "dangerous" code since they
// indicate either contamination or a measurement error of an order of
// magnitude.
func ValidateTotalAcidity(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return New(KindMeasurement, "acidity_negative",
			fmt.Sprintf("%s must not be negative, got %s", field, v),
			fmt.Sprintf("The %s reading of %s g/L is not valid. Acidity cannot be negative.", field, v),
			map[string]any{"field": field, "value": v.String(), "min": "0"})
	}
	if v.GreaterThan(acidityDangerousMax) {
		return New(KindMeasurement, "acidity_dangerous",
			fmt.Sprintf("%s of %s g/L exceeds the dangerous threshold of %s g/L", field, v, acidityDangerousMax),
			fmt.Sprintf("The %s reading of %s g/L is dangerously high (above %s g/L). Verify the sample and the unit of measure.", field, v, acidityDangerousMax),
			map[string]any{"field": field, "value": v.String(), "dangerous_above": acidityDangerousMax.String()})
	}
	if v.GreaterThan(acidityBusinessMax) {
		return New(KindMeasurement, "acidity_out_of_range",
			fmt.Sprintf("%s must be between 0 and %s g/L, got %s", field, acidityBusinessMax, v),
			fmt.Sprintf("The %s reading of %s g/L is outside the expected range of 0-%s g/L. Re-check the titration.", field, v, acidityBusinessMax),
			map[string]any{"field": field, "value": v.String(), "min": "0", "max": acidityBusinessMax.String()})
	}
	return nil
}

// =============================================================================
// TEMPERATURE
// =============================================================================

// ValidateTemperature checks a reading in Celsius against absolute
// bounds (-50 to 100) and the cellar business range (-10 to 50).
func ValidateTemperature(field string, v decimal.Decimal) error {
	if v.LessThan(tempAbsoluteMin) || v.GreaterThan(tempAbsoluteMax) {
		return New(KindMeasurement, "temperature_implausible",
			fmt.Sprintf("%s must be between %s and %s C, got %s", field, tempAbsoluteMin, tempAbsoluteMax, v),
			fmt.Sprintf("The %s reading of %sC is not plausible for liquid in a vessel. Expected %sC to %sC.", field, v, tempAbsoluteMin, tempAbsoluteMax),
			map[string]any{"field": field, "value": v.String(), "min": tempAbsoluteMin.String(), "max": tempAbsoluteMax.String()})
	}
	if v.LessThan(tempBusinessMin) || v.GreaterThan(tempBusinessMax) {
		return New(KindMeasurement, "temperature_out_of_range",
			fmt.Sprintf("%s must be between %s and %s C, got %s", field, tempBusinessMin, tempBusinessMax, v),
			fmt.Sprintf("The %s reading of %sC is outside the expected cellar range of %sC to %sC. Re-check the probe.", field, v, tempBusinessMin, tempBusinessMax),
			map[string]any{"field": field, "value": v.String(), "min": tempBusinessMin.String(), "max": tempBusinessMax.String()})
	}
	return nil
}

// =============================================================================
// DATE GUARD SHARED BY MEASUREMENT/TRANSFER/PACKAGING
// =============================================================================

// ValidateNotFuture rejects activity dates after now. The kind is
// supplied by the caller so a future transfer date raises
// TransferValidation while a future reading raises MeasurementValidation.
func ValidateNotFuture(kind Kind, field string, date, now time.Time) error {
	if date.After(now) {
		return New(kind, "date_in_future",
			fmt.Sprintf("%s %s is after now %s", field, date.Format(time.RFC3339), now.Format(time.RFC3339)),
			fmt.Sprintf("The %s of %s is in the future. Use the actual date the activity happened.", field, date.Format("2006-01-02")),
			map[string]any{"field": field, "value": date.Format(time.RFC3339), "now": now.Format(time.RFC3339)})
	}
	return nil
}
