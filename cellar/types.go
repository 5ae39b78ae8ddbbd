/*
Package cellar models the production floor of a small cidery.

PURPOSE:
  This package contains the core records for liquid moving through the
  facility - vessels, batches, transfers, packaging runs, measurements -
  and the guard functions that enforce physical-world invariants on them
  before anything is persisted.

KEY CONCEPTS IN THIS FILE (types.go):
  - Vessel: a tank with a capacity, a status and a current volume
  - Batch: a quantity of cider with a lifecycle status
  - Transfer: a one-time atomic movement of liquid between vessels
  - PackagingRun: consumption of batch volume into bottles
  - Measurement: a set of lab readings against a batch

DESIGN PRINCIPLES:
  1. Precision: all volumes are decimal.Decimal liters - never floats
  2. Guards are pure: validate against a consistent read, then the
     caller commits inside a transaction
  3. Conservation: volume only leaves a batch through recorded
     movements; the ledger (ledger.go) is the source of truth

SEE ALSO:
  - vessel.go: status state machine and usability gate
  - transfer.go, packaging.go: composite guards
  - ledger.go: append-only volume movement log
*/
package cellar

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type VesselID string
type BatchID string
type TransferID string
type PackagingRunID string
type MeasurementID string
type MovementID string

// =============================================================================
// VESSEL
// =============================================================================

type VesselStatus string

const (
	VesselAvailable   VesselStatus = "available"
	VesselInUse       VesselStatus = "in_use"
	VesselCleaning    VesselStatus = "cleaning"
	VesselMaintenance VesselStatus = "maintenance"
)

type VesselType string

const (
	VesselFermenter       VesselType = "fermenter"
	VesselConditioningTank VesselType = "conditioning_tank"
	VesselBrightTank      VesselType = "bright_tank"
	VesselStorage         VesselType = "storage"
)

// Vessel is a tank. CurrentVolumeL <= CapacityL always; vessels are
// never hard-deleted, only deactivated.
type Vessel struct {
	ID             VesselID
	Name           string
	Type           VesselType
	CapacityL      decimal.Decimal
	Status         VesselStatus
	CurrentVolumeL decimal.Decimal
	Active         bool
	CreatedAt      time.Time
}

// Headroom returns the remaining capacity of the vessel.
func (v Vessel) Headroom() decimal.Decimal {
	return v.CapacityL.Sub(v.CurrentVolumeL)
}

// =============================================================================
// BATCH
// =============================================================================

type BatchStatus string

const (
	BatchFermentation BatchStatus = "fermentation"
	BatchAging        BatchStatus = "aging"
	BatchConditioning BatchStatus = "conditioning"
	BatchCompleted    BatchStatus = "completed"
	BatchDiscarded    BatchStatus = "discarded"
)

// Batch is a quantity of cider. Volume only decreases via transfer-out,
// packaging or adjustment; only increases via transfer-in, merge or
// production. Completed and discarded batches are immutable for
// transfer/packaging purposes.
type Batch struct {
	ID             BatchID
	BatchNumber    string
	CurrentVolumeL decimal.Decimal
	Status         BatchStatus
	VesselID       *VesselID
	StartDate      *time.Time
	// Date of the transfer that created this batch, if it was split or
	// merged into existence rather than pressed.
	OriginTransferDate *time.Time
	CreatedAt          time.Time
}

// IsTerminal reports whether the batch can no longer be transferred or
// packaged.
func (b Batch) IsTerminal() bool {
	return b.Status == BatchCompleted || b.Status == BatchDiscarded
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer is a one-time, atomic movement of liquid. FromVesselID is
// nil for press-run receipts arriving directly into a vessel.
type Transfer struct {
	ID                 TransferID
	BatchID            BatchID
	FromVesselID       *VesselID
	ToVesselID         VesselID
	VolumeTransferredL decimal.Decimal
	TransferDate       time.Time
	Reason             string
	Notes              string
}

// =============================================================================
// PACKAGING RUN
// =============================================================================

// PackagingRun consumes batch volume into a bottle count. BottleSize is
// the raw operator entry ("750ml", "12oz") parsed by ParseBottleSize.
type PackagingRun struct {
	ID              PackagingRunID
	BatchID         BatchID
	PackageDate     time.Time
	VolumePackagedL decimal.Decimal
	BottleSize      string
	BottleCount     int64
	ABVAtPackaging  *decimal.Decimal
	Notes           string

	// Sub-phase timestamps; ordering enforced by the date guards.
	PasteurizedAt *time.Time
	LabeledAt     *time.Time
	CompletedAt   *time.Time
}

// =============================================================================
// MEASUREMENT
// =============================================================================

// Measurement is a set of lab readings. Each present field is
// independently range-checked by ValidateMeasurement.
type Measurement struct {
	ID              MeasurementID
	BatchID         BatchID
	MeasurementDate time.Time
	SpecificGravity *decimal.Decimal
	ABV             *decimal.Decimal
	PH              *decimal.Decimal
	TotalAcidity    *decimal.Decimal
	Temperature     *decimal.Decimal
	VolumeL         *decimal.Decimal
	Notes           string
	TakenBy         string
}
