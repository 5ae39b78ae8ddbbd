/*
packaging.go - Packaging guard and bottle-size parsing

PURPOSE:
  Validates a packaging run before it consumes batch volume. The
  bottle-math check recomputes bottleCount x parsed(bottleSize) and
  compares it to the declared packaged volume within a tolerance
  (default 0.05 L, boundary inclusive).

BOTTLE SIZES:
  The operator entry is free text like "750ml", "0.75 L" or "12oz".
  Parsing lives here, in the guard layer, so the business rule has a
  single source of truth.

SEE ALSO:
  - validation/dates.go: packaging phase sequencing
  - ledger.go: the packaging movement recorded after commit
*/
package cellar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orchardgate/cellar-engine/validation"
)

// =============================================================================
// BOTTLE SIZE PARSING
// =============================================================================

// US fluid ounce in liters.
var ozToLiters = decimal.RequireFromString("0.0295735")

// ParseBottleSize parses an operator-entered bottle size ("750ml",
// "0.75 L", "12oz") and normalizes it to liters.
func ParseBottleSize(s string) (decimal.Decimal, error) {
	raw := strings.ToLower(strings.TrimSpace(s))

	var unit string
	for _, suffix := range []string{"ml", "oz", "l"} {
		if strings.HasSuffix(raw, suffix) {
			unit = suffix
			raw = strings.TrimSpace(strings.TrimSuffix(raw, suffix))
			break
		}
	}
	if unit == "" || raw == "" {
		return decimal.Zero, validation.New(validation.KindPackaging, "bottle_size_unparseable",
			fmt.Sprintf("bottle size %q is not a number followed by ml, l or oz", s),
			fmt.Sprintf("The bottle size %q could not be read. Use a number followed by ml, L or oz, e.g. \"750ml\".", s),
			map[string]any{"bottle_size": s})
	}

	magnitude, err := strconv.ParseFloat(raw, 64)
	if err != nil || magnitude <= 0 {
		return decimal.Zero, validation.New(validation.KindPackaging, "bottle_size_unparseable",
			fmt.Sprintf("bottle size %q has non-positive or non-numeric magnitude", s),
			fmt.Sprintf("The bottle size %q could not be read. Use a positive number followed by ml, L or oz.", s),
			map[string]any{"bottle_size": s})
	}

	m := decimal.NewFromFloat(magnitude)
	switch unit {
	case "ml":
		return m.Div(decimal.NewFromInt(1000)), nil
	case "oz":
		return m.Mul(ozToLiters), nil
	default: // "l"
		return m, nil
	}
}

// =============================================================================
// PACKAGING GUARD
// =============================================================================

// PackagingGuardConfig carries the deployment-tunable tolerance for the
// bottle-math consistency check.
type PackagingGuardConfig struct {
	BottleToleranceL decimal.Decimal
}

// DefaultPackagingGuardConfig returns the standard 0.05 L tolerance.
func DefaultPackagingGuardConfig() PackagingGuardConfig {
	return PackagingGuardConfig{BottleToleranceL: decimal.RequireFromString("0.05")}
}

// ValidatePackaging checks a packaging run against the batch it draws
// from. previouslyPackagedL is the sum of volume consumed by the
// batch's prior packaging runs, read by the caller in the same
// transaction that will commit this run.
func ValidatePackaging(batch Batch, run PackagingRun, previouslyPackagedL decimal.Decimal, now time.Time, cfg PackagingGuardConfig) error {
	// 1. Batch readiness.
	if batch.Status == BatchDiscarded {
		return validation.New(validation.KindPackaging, "batch_discarded",
			fmt.Sprintf("batch %s is discarded", batch.BatchNumber),
			fmt.Sprintf("Batch %s has been discarded and cannot be packaged.", batch.BatchNumber),
			map[string]any{"batch_number": batch.BatchNumber, "status": string(batch.Status)})
	}
	if batch.Status != BatchAging {
		return validation.New(validation.KindPackaging, "batch_not_ready",
			fmt.Sprintf("batch %s is %s, packaging requires aging", batch.BatchNumber, batch.Status),
			fmt.Sprintf("Batch %s is in status %q and is not ready for packaging. Batches are packaged from the aging stage.", batch.BatchNumber, batch.Status),
			map[string]any{"batch_number": batch.BatchNumber, "status": string(batch.Status), "required": string(BatchAging)})
	}
	if !batch.CurrentVolumeL.IsPositive() {
		return validation.New(validation.KindPackaging, "batch_empty",
			fmt.Sprintf("batch %s has no volume", batch.BatchNumber),
			fmt.Sprintf("Batch %s has no volume left to package.", batch.BatchNumber),
			map[string]any{"batch_number": batch.BatchNumber, "current_volume_l": batch.CurrentVolumeL.String()})
	}

	// 2. Packaging date cannot be in the future.
	if err := validation.ValidateNotFuture(validation.KindPackaging, "package date", run.PackageDate, now); err != nil {
		return err
	}

	// 3. Declared volume must be positive and fit in the batch envelope.
	if err := validation.ValidateVolume("packaged volume", run.VolumePackagedL); err != nil {
		return err
	}
	remaining := batch.CurrentVolumeL.Sub(previouslyPackagedL)
	if run.VolumePackagedL.GreaterThan(remaining) {
		return validation.New(validation.KindPackaging, "packaging_exceeds_batch_volume",
			fmt.Sprintf("batch %s has %sL remaining, requested %sL", batch.BatchNumber, remaining, run.VolumePackagedL),
			fmt.Sprintf("Packaging %sL would exceed what batch %s has left; only %sL remains available.",
				run.VolumePackagedL, batch.BatchNumber, remaining),
			map[string]any{
				"batch_number":  batch.BatchNumber,
				"remaining_l":   remaining.String(),
				"requested_l":   run.VolumePackagedL.String(),
				"previously_l":  previouslyPackagedL.String(),
			})
	}

	// 4. Bottle math: count x size must match the declared volume.
	if err := validation.ValidateCount("bottle count", run.BottleCount); err != nil {
		return err
	}
	bottleVolumeL, err := ParseBottleSize(run.BottleSize)
	if err != nil {
		return err
	}
	computed := bottleVolumeL.Mul(decimal.NewFromInt(run.BottleCount))
	diff := computed.Sub(run.VolumePackagedL).Abs()
	if diff.GreaterThan(cfg.BottleToleranceL) {
		return validation.New(validation.KindPackaging, "bottle_math_mismatch",
			fmt.Sprintf("%d x %s = %sL, declared %sL, diff %sL exceeds %sL",
				run.BottleCount, run.BottleSize, computed, run.VolumePackagedL, diff, cfg.BottleToleranceL),
			fmt.Sprintf("%d bottles of %s works out to %sL, but the run declares %sL - a difference of %sL (tolerance %sL). Correct the count, size or volume.",
				run.BottleCount, run.BottleSize, computed, run.VolumePackagedL, diff, cfg.BottleToleranceL),
			map[string]any{
				"bottle_count":  run.BottleCount,
				"bottle_size":   run.BottleSize,
				"computed_l":    computed.String(),
				"declared_l":    run.VolumePackagedL.String(),
				"difference_l":  diff.String(),
				"tolerance_l":   cfg.BottleToleranceL.String(),
			})
	}

	// 5. ABV at packaging, when recorded.
	if run.ABVAtPackaging != nil {
		if _, err := validation.ValidateABV("ABV at packaging", *run.ABVAtPackaging); err != nil {
			return err
		}
	}

	return nil
}

// ValidateMeasurement range-checks every present reading and rejects
// future-dated measurements. Returns any warnings (e.g. unusually high
// ABV) alongside a nil error when the measurement is acceptable.
func ValidateMeasurement(m Measurement, now time.Time) ([]validation.Warning, error) {
	if err := validation.ValidateNotFuture(validation.KindMeasurement, "measurement date", m.MeasurementDate, now); err != nil {
		return nil, err
	}

	var warnings []validation.Warning
	if m.ABV != nil {
		warn, err := validation.ValidateABV("ABV", *m.ABV)
		if err != nil {
			return nil, err
		}
		if warn != nil {
			warnings = append(warnings, *warn)
		}
	}
	if m.PH != nil {
		if err := validation.ValidatePH("pH", *m.PH); err != nil {
			return nil, err
		}
	}
	if m.SpecificGravity != nil {
		if err := validation.ValidateSpecificGravity("specific gravity", *m.SpecificGravity); err != nil {
			return nil, err
		}
	}
	if m.TotalAcidity != nil {
		if err := validation.ValidateTotalAcidity("total acidity", *m.TotalAcidity); err != nil {
			return nil, err
		}
	}
	if m.Temperature != nil {
		if err := validation.ValidateTemperature("temperature", *m.Temperature); err != nil {
			return nil, err
		}
	}
	if m.VolumeL != nil {
		if err := validation.ValidateNonNegativeVolume("measured volume", *m.VolumeL); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}
