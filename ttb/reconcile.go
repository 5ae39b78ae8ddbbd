/*
reconcile.go - TTB reconciliation engine

PURPOSE:
  Reconciliation compares the facility's cumulative TTB book balance
  against what the cellar can physically account for. Each snapshot
  chains to the previous one (ending balance -> next opening balance),
  records per-vessel physical counts, computes the variance between
  book and counted volume, and explains that variance with typed
  adjustments.

KEY NUMBERS (all wine gallons):
  calculatedEnding = opening + production - taxableRemovals - otherLosses
  variance         = physicalCount - calculatedEnding
  accountedFor     = onHand (bulk+packaged) + removals + legacy
  difference       = ttbBalance - accountedFor

  "Not balanced" is a normal result, not an error: a snapshot with
  |variance| > tolerance simply carries IsReconciled=false until an
  explanation or adjustments close the gap.

CONCURRENCY:
  Finalization is a single-writer critical section per period: it reads
  the previous snapshot and writes a new immutable one, so two
  finalizations of the same period must never interleave.

SEE ALSO:
  - snapshot.go: the per-period reporting variant and lifecycle
  - ../cellar/ledger.go: adjustments traceable to batch movements
*/
package ttb

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orchardgate/cellar-engine/cellar"
)

// =============================================================================
// PHYSICAL INVENTORY COUNT
// =============================================================================

// MeasurementMethod records how a physical volume was determined.
type MeasurementMethod string

const (
	MethodDipstick   MeasurementMethod = "dipstick"
	MethodSightGlass MeasurementMethod = "sight_glass"
	MethodFlowmeter  MeasurementMethod = "flowmeter"
	MethodEstimated  MeasurementMethod = "estimated"
	MethodWeighed    MeasurementMethod = "weighed"
)

// PhysicalInventoryCount is one vessel's counted volume, tied to a
// reconciliation snapshot. Counts are append-only audit records.
type PhysicalInventoryCount struct {
	ID               string
	ReconciliationID string
	VesselID         cellar.VesselID
	BatchID          *cellar.BatchID

	BookVolumeL     decimal.Decimal
	PhysicalVolumeL decimal.Decimal
	VarianceL       decimal.Decimal
	VariancePct     decimal.Decimal

	CountedAt time.Time
	CountedBy string
	Method    MeasurementMethod
}

// NewPhysicalCount builds a count entry with the variance fields
// computed from book and physical volume.
func NewPhysicalCount(id, reconciliationID string, vesselID cellar.VesselID, batchID *cellar.BatchID,
	bookL, physicalL decimal.Decimal, countedAt time.Time, countedBy string, method MeasurementMethod) PhysicalInventoryCount {

	variance := physicalL.Sub(bookL)
	pct := decimal.Zero
	if bookL.IsPositive() {
		pct = variance.Div(bookL).Mul(decimal.NewFromInt(100))
	}
	return PhysicalInventoryCount{
		ID:               id,
		ReconciliationID: reconciliationID,
		VesselID:         vesselID,
		BatchID:          batchID,
		BookVolumeL:      bookL,
		PhysicalVolumeL:  physicalL,
		VarianceL:        variance,
		VariancePct:      pct,
		CountedAt:        countedAt,
		CountedBy:        countedBy,
		Method:           method,
	}
}

// =============================================================================
// RECONCILIATION ADJUSTMENT
// =============================================================================

// AdjustmentReason types a discrete correction to a recorded variance.
type AdjustmentReason string

const (
	ReasonEvaporation      AdjustmentReason = "evaporation"
	ReasonMeasurementError AdjustmentReason = "measurement_error"
	ReasonSampling         AdjustmentReason = "sampling"
	ReasonContamination    AdjustmentReason = "contamination"
	ReasonSpillage         AdjustmentReason = "spillage"
	ReasonTheft            AdjustmentReason = "theft"
	ReasonCorrectionUp     AdjustmentReason = "correction_up"
	ReasonCorrectionDown   AdjustmentReason = "correction_down"
	ReasonOther            AdjustmentReason = "other"
)

// ReconciliationAdjustment explains part of a variance. Adjustments are
// never mutated after creation; a wrong adjustment is corrected by
// adding another one.
type ReconciliationAdjustment struct {
	ID               string
	ReconciliationID string
	Reason           AdjustmentReason

	VolumeBeforeL decimal.Decimal
	VolumeAfterL  decimal.Decimal
	DeltaL        decimal.Decimal

	// Optional link back into the batch volume ledger, so a correction
	// is traceable to the batch that absorbed it.
	BatchID    *cellar.BatchID
	MovementID *cellar.MovementID

	Notes     string
	CreatedBy string
	CreatedAt time.Time
}

// NewAdjustment builds an adjustment with DeltaL derived from the
// before/after volumes.
func NewAdjustment(id, reconciliationID string, reason AdjustmentReason,
	beforeL, afterL decimal.Decimal, notes, createdBy string, createdAt time.Time) ReconciliationAdjustment {

	return ReconciliationAdjustment{
		ID:               id,
		ReconciliationID: reconciliationID,
		Reason:           reason,
		VolumeBeforeL:    beforeL,
		VolumeAfterL:     afterL,
		DeltaL:           afterL.Sub(beforeL),
		Notes:            notes,
		CreatedBy:        createdBy,
		CreatedAt:        createdAt,
	}
}

// =============================================================================
// RECONCILIATION SNAPSHOT
// =============================================================================

// TTBSourceType says where the TTB balance figure came from.
type TTBSourceType string

const (
	SourcePeriodSnapshot TTBSourceType = "period_snapshot"
	SourceManualEntry    TTBSourceType = "manual_entry"
	SourceLegacyImport   TTBSourceType = "legacy_import"
)

// ReconciliationSnapshot is one link in the reconciliation chain. All
// gallon fields are wine gallons.
type ReconciliationSnapshot struct {
	ID                       string
	ReconciliationDate       time.Time
	PeriodStartDate          time.Time
	PeriodEndDate            time.Time
	PreviousReconciliationID *string
	Status                   SnapshotStatus

	// Balance chain.
	OpeningBalanceGal     decimal.Decimal
	CalculatedEndingGal   decimal.Decimal
	PhysicalCountGal      decimal.Decimal
	VarianceGal           decimal.Decimal

	// TTB book side.
	TTBBalanceGal decimal.Decimal
	TTBSourceType TTBSourceType

	// Inventory audit cross-check.
	InventoryBulkGal         decimal.Decimal
	InventoryPackagedGal     decimal.Decimal
	InventoryOnHandGal       decimal.Decimal
	InventoryRemovalsGal     decimal.Decimal
	InventoryLegacyGal       decimal.Decimal
	InventoryAccountedForGal decimal.Decimal
	InventoryDifferenceGal   decimal.Decimal

	// Production during the period.
	ProductionPressRunsGal     decimal.Decimal
	ProductionJuicePurchasesGal decimal.Decimal
	ProductionTotalGal          decimal.Decimal

	// Removals during the period.
	RemovalsTaxPaidGal decimal.Decimal
	OtherLossesGal     decimal.Decimal

	IsReconciled           bool
	DiscrepancyExplanation string
}

// =============================================================================
// ENGINE
// =============================================================================

// ReconcileConfig carries the deployment-level settings of the engine.
type ReconcileConfig struct {
	// VarianceToleranceGal is the absolute variance below which a
	// snapshot counts as reconciled without explanation.
	VarianceToleranceGal decimal.Decimal

	// OrgOpeningBalanceGal seeds the chain when there is no previous
	// snapshot (e.g. a facility migrating from paper records).
	OrgOpeningBalanceGal decimal.Decimal
}

// DefaultReconcileConfig uses a half-gallon tolerance and a zero
// opening balance.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		VarianceToleranceGal: decimal.RequireFromString("0.5"),
		OrgOpeningBalanceGal: decimal.Zero,
	}
}

// Engine builds and finalizes reconciliation snapshots.
type Engine struct {
	cfg ReconcileConfig

	// Finalization is mutually exclusive per period.
	mu        sync.Mutex
	periodMus map[string]*sync.Mutex
}

func NewEngine(cfg ReconcileConfig) *Engine {
	return &Engine{cfg: cfg, periodMus: make(map[string]*sync.Mutex)}
}

// BuildInput carries everything the engine needs to assemble a draft
// snapshot. Physical quantities are liters - the engine is the
// reporting boundary where they become gallons.
type BuildInput struct {
	ID                 string
	ReconciliationDate time.Time
	PeriodStartDate    time.Time
	PeriodEndDate      time.Time
	Previous           *ReconciliationSnapshot

	ProductionPressRunsL     decimal.Decimal
	ProductionJuicePurchasesL decimal.Decimal
	RemovalsTaxPaidL          decimal.Decimal
	OtherLossesL              decimal.Decimal

	Counts []PhysicalInventoryCount

	TTBBalanceGal decimal.Decimal
	TTBSourceType TTBSourceType

	InventoryBulkL     decimal.Decimal
	InventoryPackagedL decimal.Decimal
	InventoryRemovalsL decimal.Decimal
	InventoryLegacyL   decimal.Decimal
}

// Build assembles a draft snapshot from period flows and physical
// counts. The result is a normal value even when badly out of balance -
// only malformed input errors.
func (e *Engine) Build(in BuildInput) (*ReconciliationSnapshot, error) {
	if in.PeriodEndDate.Before(in.PeriodStartDate) {
		return nil, fmt.Errorf("invalid reconciliation period: end %s before start %s",
			in.PeriodEndDate.Format("2006-01-02"), in.PeriodStartDate.Format("2006-01-02"))
	}

	s := &ReconciliationSnapshot{
		ID:                 in.ID,
		ReconciliationDate: in.ReconciliationDate,
		PeriodStartDate:    in.PeriodStartDate,
		PeriodEndDate:      in.PeriodEndDate,
		Status:             StatusDraft,
		TTBBalanceGal:      in.TTBBalanceGal,
		TTBSourceType:      in.TTBSourceType,
	}

	// 1. Opening balance: previous snapshot's ending, or the configured
	// organization-level opening for the first link in the chain.
	if in.Previous != nil {
		s.PreviousReconciliationID = &in.Previous.ID
		s.OpeningBalanceGal = in.Previous.EndingBalanceGal()
	} else {
		s.OpeningBalanceGal = e.cfg.OrgOpeningBalanceGal
	}

	// 2. Calculated ending = opening + production - removals - losses.
	s.ProductionPressRunsGal = LitersToGallons(in.ProductionPressRunsL)
	s.ProductionJuicePurchasesGal = LitersToGallons(in.ProductionJuicePurchasesL)
	s.ProductionTotalGal = s.ProductionPressRunsGal.Add(s.ProductionJuicePurchasesGal)
	s.RemovalsTaxPaidGal = LitersToGallons(in.RemovalsTaxPaidL)
	s.OtherLossesGal = LitersToGallons(in.OtherLossesL)

	s.CalculatedEndingGal = s.OpeningBalanceGal.
		Add(s.ProductionTotalGal).
		Sub(s.RemovalsTaxPaidGal).
		Sub(s.OtherLossesGal)

	// 3. Physical count: sum of counted liters, converted once.
	physicalL := decimal.Zero
	for _, c := range in.Counts {
		physicalL = physicalL.Add(c.PhysicalVolumeL)
	}
	s.PhysicalCountGal = LitersToGallons(physicalL)

	// 4. Variance = physical - calculated.
	s.VarianceGal = s.PhysicalCountGal.Sub(s.CalculatedEndingGal)
	s.IsReconciled = s.VarianceGal.Abs().LessThanOrEqual(e.cfg.VarianceToleranceGal)

	// 5. Inventory audit cross-check, reported even when zero.
	s.InventoryBulkGal = LitersToGallons(in.InventoryBulkL)
	s.InventoryPackagedGal = LitersToGallons(in.InventoryPackagedL)
	s.InventoryOnHandGal = s.InventoryBulkGal.Add(s.InventoryPackagedGal)
	s.InventoryRemovalsGal = LitersToGallons(in.InventoryRemovalsL)
	s.InventoryLegacyGal = LitersToGallons(in.InventoryLegacyL)
	s.InventoryAccountedForGal = s.InventoryOnHandGal.
		Add(s.InventoryRemovalsGal).
		Add(s.InventoryLegacyGal)
	s.InventoryDifferenceGal = s.TTBBalanceGal.Sub(s.InventoryAccountedForGal)

	return s, nil
}

// EndingBalanceGal is the value the next period opens with: the
// physical count when one was taken, otherwise the calculated ending.
func (s *ReconciliationSnapshot) EndingBalanceGal() decimal.Decimal {
	if !s.PhysicalCountGal.IsZero() {
		return s.PhysicalCountGal
	}
	return s.CalculatedEndingGal
}

// ResidualVarianceGal is the variance left after the net effect of the
// given adjustments (converted to gallons).
func (s *ReconciliationSnapshot) ResidualVarianceGal(adjustments []ReconciliationAdjustment) decimal.Decimal {
	netL := decimal.Zero
	for _, a := range adjustments {
		netL = netL.Add(a.DeltaL)
	}
	return s.VarianceGal.Sub(LitersToGallons(netL))
}

// ApplyAdjustments recomputes IsReconciled given the snapshot's
// adjustments: reconciled when the residual variance is inside
// tolerance.
func (e *Engine) ApplyAdjustments(s *ReconciliationSnapshot, adjustments []ReconciliationAdjustment) {
	s.IsReconciled = s.ResidualVarianceGal(adjustments).Abs().LessThanOrEqual(e.cfg.VarianceToleranceGal)
}

// =============================================================================
// FINALIZATION
// =============================================================================

// Finalize moves a snapshot from review to finalized after validating
// the chain. It is mutually exclusive per period key: at most one
// finalize for a given period is in flight at a time.
//
// Requirements:
//   - status is review (draft must pass through review first)
//   - previous link, when present, is finalized and contiguous
//     (this period starts the day after the previous one ends)
//   - the snapshot is reconciled, or carries an explanation, or its
//     adjustments close the gap
func (e *Engine) Finalize(s *ReconciliationSnapshot, previous *ReconciliationSnapshot, adjustments []ReconciliationAdjustment) error {
	mu := e.periodMu(s.PeriodStartDate, s.PeriodEndDate)
	mu.Lock()
	defer mu.Unlock()

	if err := AdvanceStatus(s.Status, StatusFinalized); err != nil {
		return err
	}
	if err := ValidateChainLink(previous, s); err != nil {
		return err
	}

	e.ApplyAdjustments(s, adjustments)
	if !s.IsReconciled && s.DiscrepancyExplanation == "" {
		return fmt.Errorf("cannot finalize: variance of %s gal is outside tolerance %s gal and no explanation or closing adjustments were provided",
			s.VarianceGal.StringFixed(2), e.cfg.VarianceToleranceGal)
	}

	s.Status = StatusFinalized
	return nil
}

func (e *Engine) periodMu(start, end time.Time) *sync.Mutex {
	key := start.Format("2006-01-02") + "/" + end.Format("2006-01-02")
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.periodMus[key]
	if !ok {
		mu = &sync.Mutex{}
		e.periodMus[key] = mu
	}
	return mu
}

// =============================================================================
// CHAIN VALIDATION
// =============================================================================

// ValidateChainLink checks one edge of the chain: the snapshot must
// reference its predecessor, the predecessor must be finalized, and the
// period must start the day after the predecessor's period ends. Gaps
// and overlaps both fail.
func ValidateChainLink(previous, s *ReconciliationSnapshot) error {
	if previous == nil {
		if s.PreviousReconciliationID != nil {
			return fmt.Errorf("snapshot %s references previous reconciliation %s which was not provided", s.ID, *s.PreviousReconciliationID)
		}
		return nil
	}

	if s.PreviousReconciliationID == nil || *s.PreviousReconciliationID != previous.ID {
		return fmt.Errorf("snapshot %s does not reference previous reconciliation %s", s.ID, previous.ID)
	}
	if previous.Status != StatusFinalized {
		return fmt.Errorf("previous reconciliation %s is %s, not finalized", previous.ID, previous.Status)
	}

	expectedStart := truncateDay(previous.PeriodEndDate).AddDate(0, 0, 1)
	if !truncateDay(s.PeriodStartDate).Equal(expectedStart) {
		return fmt.Errorf("reconciliation period gap or overlap: expected start %s (day after previous end %s), got %s",
			expectedStart.Format("2006-01-02"),
			previous.PeriodEndDate.Format("2006-01-02"),
			s.PeriodStartDate.Format("2006-01-02"))
	}
	return nil
}

// ValidateChain walks the full chain back from the given snapshot using
// lookup and rejects cycles and broken links. Returns the chain length.
func ValidateChain(s *ReconciliationSnapshot, lookup func(id string) (*ReconciliationSnapshot, error)) (int, error) {
	visited := map[string]bool{}
	length := 0
	current := s

	for current != nil {
		if visited[current.ID] {
			return 0, fmt.Errorf("reconciliation chain contains a cycle at %s", current.ID)
		}
		visited[current.ID] = true
		length++

		if current.PreviousReconciliationID == nil {
			break
		}
		prev, err := lookup(*current.PreviousReconciliationID)
		if err != nil {
			return 0, fmt.Errorf("broken reconciliation chain at %s: %w", current.ID, err)
		}
		if err := ValidateChainLink(prev, current); err != nil {
			return 0, err
		}
		current = prev
	}
	return length, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
