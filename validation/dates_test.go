package validation

import (
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

func requireValidation(t *testing.T, err error) *Error {
	t.Helper()
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	return verr
}

// =============================================================================
// BATCH-NAME DATE EXTRACTION
// =============================================================================

func TestDateFromBatchName(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   time.Time
		wantOK bool
	}{
		{"date prefix with variety", "2024-10-15 Kingston Black", day(2024, time.October, 15), true},
		{"bare date", "2025-01-02", day(2025, time.January, 2), true},
		{"no date prefix", "Kingston Black blend", time.Time{}, false},
		{"date not at start", "Batch 2024-10-15", time.Time{}, false},
		{"impossible date", "2024-02-30 overflow", time.Time{}, false},
		{"year too old", "1999-06-01 legacy", time.Time{}, false},
		{"year too far", "2101-06-01 future", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DateFromBatchName(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("date = %s, want %s", got, tt.want)
			}
		})
	}
}

// =============================================================================
// EARLIEST VALID DATE
// =============================================================================

func TestEarliestValidDate_LatestInputWins(t *testing.T) {
	// GIVEN: A batch with a start date, an originating transfer after it,
	// and a batch-name date after that
	// WHEN: Computing the activity floor
	// THEN: The latest of the three wins, and the source names it

	b := BatchDates{
		BatchNumber:    "2024-11-01 Dabinett",
		StartDate:      dayPtr(2024, time.October, 1),
		CreatedAt:      day(2024, time.September, 20),
		OriginTransfer: dayPtr(2024, time.October, 20),
	}

	floor, source := EarliestValidDate(b)
	if !floor.Equal(day(2024, time.November, 1)) {
		t.Errorf("floor = %s, want 2024-11-01", floor.Format("2006-01-02"))
	}
	if source != "date in batch name" {
		t.Errorf("source = %q, want date in batch name", source)
	}
}

func TestEarliestValidDate_FallsBackToCreatedAt(t *testing.T) {
	b := BatchDates{
		BatchNumber: "Dabinett single varietal",
		CreatedAt:   day(2025, time.March, 5),
	}

	floor, source := EarliestValidDate(b)
	if !floor.Equal(day(2025, time.March, 5)) {
		t.Errorf("floor = %s, want created-at", floor.Format("2006-01-02"))
	}
	if source != "batch creation date" {
		t.Errorf("source = %q, want batch creation date", source)
	}
}

func TestValidateActivityDate(t *testing.T) {
	b := BatchDates{
		BatchNumber: "2025-03-10 Foxwhelp",
		StartDate:   dayPtr(2025, time.March, 10),
		CreatedAt:   day(2025, time.March, 8),
	}

	// Same-day activity is allowed.
	if err := ValidateActivityDate(KindTransfer, "transfer date", day(2025, time.March, 10), b); err != nil {
		t.Fatalf("same-day activity should pass, got %v", err)
	}
	if err := ValidateActivityDate(KindTransfer, "transfer date", day(2025, time.April, 1), b); err != nil {
		t.Fatalf("later activity should pass, got %v", err)
	}

	err := ValidateActivityDate(KindTransfer, "transfer date", day(2025, time.March, 9), b)
	assertCode(t, err, "date_before_batch_start")
}

// =============================================================================
// PACKAGING PHASE SEQUENCING
// =============================================================================

func TestValidatePackagingPhases(t *testing.T) {
	packaged := day(2025, time.May, 1)

	tests := []struct {
		name     string
		phases   PackagingPhases
		wantCode string
	}{
		{
			"bottling only",
			PackagingPhases{PackagedAt: packaged},
			"",
		},
		{
			"full sequence in order",
			PackagingPhases{
				PackagedAt:    packaged,
				PasteurizedAt: dayPtr(2025, time.May, 2),
				LabeledAt:     dayPtr(2025, time.May, 3),
				CompletedAt:   dayPtr(2025, time.May, 4),
			},
			"",
		},
		{
			"same-day phases",
			PackagingPhases{
				PackagedAt:  packaged,
				CompletedAt: dayPtr(2025, time.May, 1),
			},
			"",
		},
		{
			"pasteurized before bottling",
			PackagingPhases{PackagedAt: packaged, PasteurizedAt: dayPtr(2025, time.April, 30)},
			"phase_out_of_order",
		},
		{
			"labeled before bottling",
			PackagingPhases{PackagedAt: packaged, LabeledAt: dayPtr(2025, time.April, 29)},
			"phase_out_of_order",
		},
		{
			"completed before pasteurization",
			PackagingPhases{
				PackagedAt:    packaged,
				PasteurizedAt: dayPtr(2025, time.May, 5),
				CompletedAt:   dayPtr(2025, time.May, 3),
			},
			"phase_out_of_order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertCode(t, ValidatePackagingPhases(tt.phases), tt.wantCode)
		})
	}
}

func TestValidatePackagingPhases_ErrorNamesPriorPhase(t *testing.T) {
	err := ValidatePackagingPhases(PackagingPhases{
		PackagedAt:    day(2025, time.May, 1),
		PasteurizedAt: dayPtr(2025, time.May, 5),
		CompletedAt:   dayPtr(2025, time.May, 3),
	})

	verr := requireValidation(t, err)
	if verr.Details["prior_phase"] != "pasteurization" {
		t.Errorf("prior_phase = %v, want pasteurization", verr.Details["prior_phase"])
	}
}

// =============================================================================
// INPUT WINDOW
// =============================================================================

func TestValidateDateWindow(t *testing.T) {
	now := day(2025, time.June, 15)

	tests := []struct {
		name     string
		date     time.Time
		wantCode string
	}{
		{"today", now, ""},
		{"well in the past", day(2016, time.January, 1), ""},
		{"364 days ahead", now.AddDate(0, 0, 364), ""},
		{"365 days ahead", now.AddDate(0, 0, 365), ""},
		{"366 days ahead", now.AddDate(0, 0, 366), "date_too_far_future"},
		{"year below window", day(2014, time.December, 31), "date_out_of_window"},
		{"year above window", day(2100, time.January, 1), "date_out_of_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertCode(t, ValidateDateWindow(KindTransfer, "transfer date", tt.date, now), tt.wantCode)
		})
	}
}
