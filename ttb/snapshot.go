/*
snapshot.go - TTB period snapshot and tax computation

PURPOSE:
  One PeriodSnapshot exists per (periodType, year, periodNumber). It
  aggregates bulk/bottled inventory by tax class, production, removals
  by channel, and the computed tax fields. Snapshots move one way
  through draft -> review -> finalized; once finalized the volume
  fields are immutable and the ending values become the opening values
  of the next period. That chain is what prevents retroactive drift.

BALANCE IDENTITY:
  total available (beginning + production + receipts)
    == total accounted for (removals + ending inventory)

  The identity is asserted at report time within a tolerance; both the
  boolean and the numeric variance are always surfaced, never silently
  dropped when "balanced".

SEE ALSO:
  - rates.go: the versioned rate table consumed by ComputeTax
  - reconcile.go: the cumulative-balance reconciliation variant
*/
package ttb

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LIFECYCLE
// =============================================================================

type SnapshotStatus string

const (
	StatusDraft     SnapshotStatus = "draft"
	StatusReview    SnapshotStatus = "review"
	StatusFinalized SnapshotStatus = "finalized"
)

// nextStatus is the one-way lifecycle edge set.
var nextStatus = map[SnapshotStatus]SnapshotStatus{
	StatusDraft:  StatusReview,
	StatusReview: StatusFinalized,
}

// AdvanceStatus moves a snapshot one step forward. Any other movement
// (backwards, skipping, or past finalized) is rejected.
func AdvanceStatus(current, to SnapshotStatus) error {
	if nextStatus[current] != to {
		return fmt.Errorf("illegal snapshot status change %s -> %s", current, to)
	}
	return nil
}

// =============================================================================
// CHANNELS AND CATEGORIES
// =============================================================================

// SalesChannel is a taxable removal channel.
type SalesChannel string

const (
	ChannelTaproom   SalesChannel = "taproom"
	ChannelWholesale SalesChannel = "wholesale"
	ChannelDirect    SalesChannel = "direct"
	ChannelExport    SalesChannel = "export"
)

// RemovalCategory is a non-taxable ("other") removal.
type RemovalCategory string

const (
	RemovalSamples     RemovalCategory = "samples"
	RemovalBreakage    RemovalCategory = "breakage"
	RemovalProcessLoss RemovalCategory = "process_loss"
	RemovalDistilling  RemovalCategory = "distilling"
)

// =============================================================================
// PERIOD SNAPSHOT
// =============================================================================

// PeriodSnapshot is the per-period TTB inventory and tax picture. All
// volumes are wine gallons - the conversion from liters happened at
// aggregation time.
type PeriodSnapshot struct {
	ID     string
	Period Period
	Status SnapshotStatus

	// Inventory by tax class at period boundaries.
	BeginningBulkGal    map[TaxClass]decimal.Decimal
	BeginningBottledGal map[TaxClass]decimal.Decimal
	EndingBulkGal       map[TaxClass]decimal.Decimal
	EndingBottledGal    map[TaxClass]decimal.Decimal

	// Spirits on hand (brandy for fortification), tracked separately.
	SpiritsOnHandGal decimal.Decimal

	// Flows during the period.
	ProducedGal          map[TaxClass]decimal.Decimal
	MaterialsReceivedGal decimal.Decimal
	TaxableRemovalsGal   map[SalesChannel]map[TaxClass]decimal.Decimal
	OtherRemovalsGal     map[RemovalCategory]decimal.Decimal

	// Computed by ComputeTax.
	Taxes       []ClassTax
	TotalTaxDue decimal.Decimal
}

// ClassTax is the computed tax line for one tax class.
type ClassTax struct {
	Class          TaxClass
	TaxableGallons decimal.Decimal
	GrossTax       decimal.Decimal
	Credit         decimal.Decimal
	NetTaxOwed     decimal.Decimal
	EffectiveRate  decimal.Decimal
}

// NewPeriodSnapshot returns an empty draft snapshot for a period with
// all class maps allocated.
func NewPeriodSnapshot(id string, period Period) *PeriodSnapshot {
	s := &PeriodSnapshot{
		ID:     id,
		Period: period,
		Status: StatusDraft,

		BeginningBulkGal:    make(map[TaxClass]decimal.Decimal),
		BeginningBottledGal: make(map[TaxClass]decimal.Decimal),
		EndingBulkGal:       make(map[TaxClass]decimal.Decimal),
		EndingBottledGal:    make(map[TaxClass]decimal.Decimal),
		ProducedGal:         make(map[TaxClass]decimal.Decimal),
		TaxableRemovalsGal:  make(map[SalesChannel]map[TaxClass]decimal.Decimal),
		OtherRemovalsGal:    make(map[RemovalCategory]decimal.Decimal),
	}
	return s
}

// AddTaxableRemoval records a removal through a sales channel.
func (s *PeriodSnapshot) AddTaxableRemoval(channel SalesChannel, class TaxClass, gallons decimal.Decimal) {
	byClass := s.TaxableRemovalsGal[channel]
	if byClass == nil {
		byClass = make(map[TaxClass]decimal.Decimal)
		s.TaxableRemovalsGal[channel] = byClass
	}
	byClass[class] = byClass[class].Add(gallons)
}

// TaxableRemovalsByClass sums removals across all channels for a class.
func (s *PeriodSnapshot) TaxableRemovalsByClass(class TaxClass) decimal.Decimal {
	total := decimal.Zero
	for _, byClass := range s.TaxableRemovalsGal {
		total = total.Add(byClass[class])
	}
	return total
}

// TotalTaxableRemovals sums removals across all channels and classes.
func (s *PeriodSnapshot) TotalTaxableRemovals() decimal.Decimal {
	total := decimal.Zero
	for _, class := range TaxClasses {
		total = total.Add(s.TaxableRemovalsByClass(class))
	}
	return total
}

// TotalOtherRemovals sums the non-taxable removal categories.
func (s *PeriodSnapshot) TotalOtherRemovals() decimal.Decimal {
	total := decimal.Zero
	for _, g := range s.OtherRemovalsGal {
		total = total.Add(g)
	}
	return total
}

func sumClassMap(m map[TaxClass]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, g := range m {
		total = total.Add(g)
	}
	return total
}

// =============================================================================
// TAX COMPUTATION
// =============================================================================

// ComputeTax fills in the per-class tax lines and the total.
//
// priorCreditGallons is how much of the annual small-producer credit
// allowance the facility has already consumed this calendar year, so a
// Q3 snapshot doesn't re-grant gallons credited in Q1/Q2. The credit is
// applied to classes in reporting order until the allowance runs out.
func (s *PeriodSnapshot) ComputeTax(rates RateTable, priorCreditGallons decimal.Decimal) {
	creditLeft := rates.CreditGallons.Sub(priorCreditGallons)
	if creditLeft.IsNegative() {
		creditLeft = decimal.Zero
	}

	s.Taxes = s.Taxes[:0]
	s.TotalTaxDue = decimal.Zero

	for _, class := range TaxClasses {
		taxable := s.TaxableRemovalsByClass(class)
		if taxable.IsZero() {
			continue
		}

		gross := taxable.Mul(rates.Rate(class))

		creditable := decimal.Min(taxable, creditLeft)
		credit := creditable.Mul(rates.CreditPerGallon)
		creditLeft = creditLeft.Sub(creditable)

		net := gross.Sub(credit)
		effective := decimal.Zero
		if taxable.IsPositive() {
			effective = net.Div(taxable)
		}

		s.Taxes = append(s.Taxes, ClassTax{
			Class:          class,
			TaxableGallons: taxable,
			GrossTax:       gross,
			Credit:         credit,
			NetTaxOwed:     net,
			EffectiveRate:  effective,
		})
		s.TotalTaxDue = s.TotalTaxDue.Add(net)
	}
}

// =============================================================================
// REPORT-TIME BALANCE CHECK
// =============================================================================

// BalanceReport is the result of the report-time identity check. Both
// Balanced and Variance are always populated; a "balanced" report still
// carries its (small) numeric variance.
type BalanceReport struct {
	TotalAvailableGal    decimal.Decimal
	TotalAccountedForGal decimal.Decimal
	VarianceGal          decimal.Decimal
	Balanced             bool
}

// CheckBalance asserts totalAvailable == totalAccountedFor within the
// given tolerance.
//
//	available    = beginning inventory + production + receipts
//	accountedFor = removals (taxable + other) + ending inventory
func (s *PeriodSnapshot) CheckBalance(toleranceGal decimal.Decimal) BalanceReport {
	available := sumClassMap(s.BeginningBulkGal).
		Add(sumClassMap(s.BeginningBottledGal)).
		Add(sumClassMap(s.ProducedGal)).
		Add(s.MaterialsReceivedGal)

	accounted := s.TotalTaxableRemovals().
		Add(s.TotalOtherRemovals()).
		Add(sumClassMap(s.EndingBulkGal)).
		Add(sumClassMap(s.EndingBottledGal))

	variance := available.Sub(accounted)
	return BalanceReport{
		TotalAvailableGal:    available,
		TotalAccountedForGal: accounted,
		VarianceGal:          variance,
		Balanced:             variance.Abs().LessThanOrEqual(toleranceGal),
	}
}

// CanEdit reports whether the snapshot's volume fields may still change.
func (s *PeriodSnapshot) CanEdit() bool {
	return s.Status != StatusFinalized
}
