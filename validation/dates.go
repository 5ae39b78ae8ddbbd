/*
dates.go - Date-sequence guards

PURPOSE:
  Two independent mechanisms protect the activity timeline:

  1. Earliest-valid-date: no activity against a batch may be dated
     before the batch provably existed. The floor is the latest of the
     batch start date (or creation time), the transfer that created the
     batch, and a YYYY-MM-DD date encoded in the batch name.

  2. Phase sequencing: within a packaging run, pasteurization, labeling
     and completion cannot precede the bottling date (and completion
     cannot precede either sub-phase).

  Orthogonally, every entered date must fall in a sane input window:
  year 2015-2099 and at most 365 days in the future.

SEE ALSO:
  - cellar/packaging.go: calls the phase-sequencing guard
  - measurement.go: ValidateNotFuture for activity dates
*/
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// BATCH-NAME DATE EXTRACTION
// =============================================================================

var batchNameDatePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)

// DateFromBatchName extracts a YYYY-MM-DD prefix from a batch name,
// e.g. "2024-10-15 Kingston Black". Returns ok=false when the name has
// no date prefix, the date is not a real calendar date (Feb 30), or the
// year is outside 2000-2100.
func DateFromBatchName(name string) (time.Time, bool) {
	m := batchNameDatePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	if year < 2000 || year > 2100 {
		return time.Time{}, false
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject that.
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// =============================================================================
// EARLIEST VALID DATE
// =============================================================================

// BatchDates holds the provable-start inputs for a batch.
type BatchDates struct {
	BatchNumber    string
	StartDate      *time.Time // declared start, if recorded
	CreatedAt      time.Time  // row creation, always present
	OriginTransfer *time.Time // date of the transfer that created the batch
}

// dateSource names which input produced the floor, so the error can
// tell the operator where the constraint came from.
type dateSource string

const (
	sourceStartDate dateSource = "batch start date"
	sourceCreatedAt dateSource = "batch creation date"
	sourceTransfer  dateSource = "originating transfer"
	sourceBatchName dateSource = "date in batch name"
)

// EarliestValidDate computes the floor below which no activity against
// the batch may be dated, and which input produced it.
func EarliestValidDate(b BatchDates) (time.Time, string) {
	earliest := b.CreatedAt
	source := sourceCreatedAt
	if b.StartDate != nil {
		earliest = *b.StartDate
		source = sourceStartDate
	}

	if b.OriginTransfer != nil && b.OriginTransfer.After(earliest) {
		earliest = *b.OriginTransfer
		source = sourceTransfer
	}
	if named, ok := DateFromBatchName(b.BatchNumber); ok && named.After(earliest) {
		earliest = named
		source = sourceBatchName
	}
	return earliest, string(source)
}

// ValidateActivityDate rejects activity dated before the batch's
// earliest valid date. Same-day activity is allowed.
func ValidateActivityDate(kind Kind, field string, activityDate time.Time, b BatchDates) error {
	floor, source := EarliestValidDate(b)
	if truncateDay(activityDate).Before(truncateDay(floor)) {
		return New(kind, "date_before_batch_start",
			fmt.Sprintf("%s %s precedes batch %s floor %s (%s)",
				field, activityDate.Format("2006-01-02"), b.BatchNumber, floor.Format("2006-01-02"), source),
			fmt.Sprintf("The %s of %s is before batch %s existed. The earliest valid date is %s, based on the %s.",
				field, activityDate.Format("2006-01-02"), b.BatchNumber, floor.Format("2006-01-02"), source),
			map[string]any{
				"field":         field,
				"value":         activityDate.Format("2006-01-02"),
				"earliest":      floor.Format("2006-01-02"),
				"source":        source,
				"batch_number":  b.BatchNumber,
			})
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// PACKAGING PHASE SEQUENCING
// =============================================================================

// PackagingPhases holds the sub-phase timestamps of a packaging run.
// PackagedAt is required; the rest are optional.
type PackagingPhases struct {
	PackagedAt    time.Time
	PasteurizedAt *time.Time
	LabeledAt     *time.Time
	CompletedAt   *time.Time
}

// ValidatePackagingPhases enforces bottling -> pasteurization/labeling
// -> completion ordering. Each violation names the prior phase the
// offending date precedes.
func ValidatePackagingPhases(p PackagingPhases) error {
	if p.PasteurizedAt != nil && p.PasteurizedAt.Before(p.PackagedAt) {
		return phaseOrderError("pasteurized_at", *p.PasteurizedAt, "packaging", p.PackagedAt)
	}
	if p.LabeledAt != nil && p.LabeledAt.Before(p.PackagedAt) {
		return phaseOrderError("labeled_at", *p.LabeledAt, "packaging", p.PackagedAt)
	}
	if p.CompletedAt != nil {
		if p.CompletedAt.Before(p.PackagedAt) {
			return phaseOrderError("completed_at", *p.CompletedAt, "packaging", p.PackagedAt)
		}
		if p.PasteurizedAt != nil && p.CompletedAt.Before(*p.PasteurizedAt) {
			return phaseOrderError("completed_at", *p.CompletedAt, "pasteurization", *p.PasteurizedAt)
		}
		if p.LabeledAt != nil && p.CompletedAt.Before(*p.LabeledAt) {
			return phaseOrderError("completed_at", *p.CompletedAt, "labeling", *p.LabeledAt)
		}
	}
	return nil
}

func phaseOrderError(field string, got time.Time, priorPhase string, prior time.Time) error {
	return New(KindPackaging, "phase_out_of_order",
		fmt.Sprintf("%s %s precedes %s at %s",
			field, got.Format("2006-01-02"), priorPhase, prior.Format("2006-01-02")),
		fmt.Sprintf("The %s date of %s is before the %s date of %s. Packaging phases must happen in order.",
			field, got.Format("2006-01-02"), priorPhase, prior.Format("2006-01-02")),
		map[string]any{
			"field":       field,
			"value":       got.Format("2006-01-02"),
			"prior_phase": priorPhase,
			"prior_date":  prior.Format("2006-01-02"),
		})
}

// =============================================================================
// INPUT WINDOW
// =============================================================================

const (
	inputYearMin      = 2015
	inputYearMax      = 2099
	maxFutureDays     = 365
)

// ValidateDateWindow rejects dates outside the accepted input window:
// year 2015-2099 and no more than 365 days in the future.
func ValidateDateWindow(kind Kind, field string, date, now time.Time) error {
	if date.Year() < inputYearMin || date.Year() > inputYearMax {
		return New(kind, "date_out_of_window",
			fmt.Sprintf("%s year %d outside %d-%d", field, date.Year(), inputYearMin, inputYearMax),
			fmt.Sprintf("The %s of %s has a year outside the accepted range %d-%d. Check for a typo in the year.",
				field, date.Format("2006-01-02"), inputYearMin, inputYearMax),
			map[string]any{"field": field, "value": date.Format("2006-01-02"), "min_year": inputYearMin, "max_year": inputYearMax})
	}
	if date.After(now.AddDate(0, 0, maxFutureDays)) {
		return New(kind, "date_too_far_future",
			fmt.Sprintf("%s %s is more than %d days in the future", field, date.Format("2006-01-02"), maxFutureDays),
			fmt.Sprintf("The %s of %s is more than %d days in the future. Check the entered date.",
				field, date.Format("2006-01-02"), maxFutureDays),
			map[string]any{"field": field, "value": date.Format("2006-01-02"), "max_future_days": maxFutureDays})
	}
	return nil
}
