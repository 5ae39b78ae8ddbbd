package validation

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VOLUME GUARDS
// =============================================================================

func TestValidateVolume_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		volume   string
		wantCode string // empty means valid
	}{
		{"typical transfer", "750.5", ""},
		{"tiny but positive", "0.001", ""},
		{"at maximum", "50000", ""},
		{"zero", "0", "volume_not_positive"},
		{"negative", "-10", "volume_not_positive"},
		{"over maximum", "50000.01", "volume_exceeds_maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVolume("transfer volume", decimal.RequireFromString(tt.volume))
			assertCode(t, err, tt.wantCode)
		})
	}
}

func TestValidateNonNegativeVolume_AllowsZero(t *testing.T) {
	// GIVEN: An emptied vessel reporting 0L
	// WHEN: Validating as a non-negative volume
	// THEN: Zero passes, negative still fails

	if err := ValidateNonNegativeVolume("vessel volume", decimal.Zero); err != nil {
		t.Fatalf("zero should be valid for non-negative volume, got %v", err)
	}

	err := ValidateNonNegativeVolume("vessel volume", decimal.RequireFromString("-0.01"))
	assertCode(t, err, "volume_negative")
}

func TestValidateVolume_ErrorCarriesContext(t *testing.T) {
	err := ValidateVolume("transfer volume", decimal.RequireFromString("-5"))

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if verr.Kind != KindVolume {
		t.Errorf("kind = %s, want %s", verr.Kind, KindVolume)
	}
	if verr.Details["field"] != "transfer volume" {
		t.Errorf("details missing field name: %v", verr.Details)
	}
	if verr.Details["value"] != "-5" {
		t.Errorf("details missing offending value: %v", verr.Details)
	}
	if verr.UserMessage == "" {
		t.Error("user message should be populated")
	}
}

// =============================================================================
// QUANTITY GUARDS
// =============================================================================

func TestValidateQuantity_PerUnitMaximums(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		unit     QuantityUnit
		wantCode string
	}{
		{"apples in kg", "2500", UnitKilograms, ""},
		{"kg at maximum", "100000", UnitKilograms, ""},
		{"kg over maximum", "100001", UnitKilograms, "quantity_exceeds_maximum"},
		{"lb over maximum", "220001", UnitPounds, "quantity_exceeds_maximum"},
		{"liters over maximum", "50001", UnitLiters, "quantity_exceeds_maximum"},
		{"gallons at maximum", "13200", UnitGallons, ""},
		{"gallons over maximum", "13201", UnitGallons, "quantity_exceeds_maximum"},
		{"zero", "0", UnitKilograms, "quantity_not_positive"},
		{"negative", "-1", UnitPounds, "quantity_not_positive"},
		{"unknown unit", "10", QuantityUnit("bushels"), "unknown_unit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuantity("fruit weight", decimal.RequireFromString(tt.value), tt.unit)
			assertCode(t, err, tt.wantCode)
		})
	}
}

// =============================================================================
// COUNT, PRICE, PERCENTAGE
// =============================================================================

func TestValidateCount_Bounds(t *testing.T) {
	if err := ValidateCount("bottle count", 1); err != nil {
		t.Fatalf("count of 1 should be valid, got %v", err)
	}
	if err := ValidateCount("bottle count", 1000000); err != nil {
		t.Fatalf("count at maximum should be valid, got %v", err)
	}

	assertCode(t, ValidateCount("bottle count", 0), "count_not_positive")
	assertCode(t, ValidateCount("bottle count", -5), "count_not_positive")
	assertCode(t, ValidateCount("bottle count", 1000001), "count_exceeds_maximum")
}

func TestValidatePrice_Bounds(t *testing.T) {
	if err := ValidatePrice("unit price", decimal.RequireFromString("4.50")); err != nil {
		t.Fatalf("typical price should be valid, got %v", err)
	}

	assertCode(t, ValidatePrice("unit price", decimal.Zero), "price_not_positive")
	assertCode(t, ValidatePrice("unit price", decimal.NewFromInt(1000001)), "price_exceeds_maximum")
}

func TestValidatePercentage_Bounds(t *testing.T) {
	for _, v := range []string{"0", "6.5", "100"} {
		if err := ValidatePercentage("abv", decimal.RequireFromString(v)); err != nil {
			t.Fatalf("%s%% should be valid, got %v", v, err)
		}
	}

	assertCode(t, ValidatePercentage("abv", decimal.RequireFromString("-0.1")), "percentage_out_of_range")
	assertCode(t, ValidatePercentage("abv", decimal.RequireFromString("100.1")), "percentage_out_of_range")
}

// =============================================================================
// FINITENESS
// =============================================================================

func TestFiniteDecimal_RejectsNaNAndInf(t *testing.T) {
	// GIVEN: Float inputs arriving from a JSON boundary
	// WHEN: NaN or infinity sneaks through
	// THEN: The conversion rejects them before any guard runs

	if _, err := FiniteDecimal("volume", 750.5); err != nil {
		t.Fatalf("finite value should convert, got %v", err)
	}

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := FiniteDecimal("volume", f)
		assertCode(t, err, "not_finite")
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	if want == "" {
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		return
	}
	code, ok := CodeOf(err)
	if !ok {
		t.Fatalf("expected validation error with code %q, got %v", want, err)
	}
	if code != want {
		t.Fatalf("code = %q, want %q", code, want)
	}
}
