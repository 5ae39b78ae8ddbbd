/*
vessel.go - Vessel status state machine and usability gate

PURPOSE:
  Enforces which status transitions a vessel may make and which
  operations a vessel in a given status may participate in.

TRANSITION TABLE:
  available   -> in_use, cleaning, maintenance
  in_use      -> available, cleaning, maintenance
  cleaning    -> available, maintenance
  maintenance -> available, cleaning

  Self-transitions are rejected ("already in status"). Entering
  cleaning or maintenance requires an empty vessel. Leaving in_use for
  available requires no active batch associations.

USABILITY GATE:
  maintenance blocks every operation except starting maintenance
  itself; cleaning blocks transfer-in, measurement and packaging but
  not transfer-out or entering maintenance.

SEE ALSO:
  - transfer.go: calls the usability gate for the destination vessel
  - validation/errors.go: VesselStateValidation kind
*/
package cellar

import (
	"fmt"

	"github.com/orchardgate/cellar-engine/validation"
)

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// legalTransitions is the complete edge set of the status machine.
// Anything not listed here is rejected.
var legalTransitions = map[VesselStatus][]VesselStatus{
	VesselAvailable:   {VesselInUse, VesselCleaning, VesselMaintenance},
	VesselInUse:       {VesselAvailable, VesselCleaning, VesselMaintenance},
	VesselCleaning:    {VesselAvailable, VesselMaintenance},
	VesselMaintenance: {VesselAvailable, VesselCleaning},
}

// ValidateStatusTransition checks whether the vessel may move to the
// requested status. activeBatchCount is the number of batches currently
// associated with the vessel, read by the caller.
func ValidateStatusTransition(v Vessel, to VesselStatus, activeBatchCount int) error {
	if v.Status == to {
		return validation.New(validation.KindVesselState, "already_in_status",
			fmt.Sprintf("vessel %s is already %s", v.Name, to),
			fmt.Sprintf("Vessel %s is already in status %q.", v.Name, to),
			map[string]any{"vessel": v.Name, "status": string(to)})
	}

	if !transitionAllowed(v.Status, to) {
		return validation.New(validation.KindVesselState, "illegal_transition",
			fmt.Sprintf("vessel %s cannot go from %s to %s", v.Name, v.Status, to),
			fmt.Sprintf("Vessel %s cannot move from %q to %q. Allowed next statuses: %v.", v.Name, v.Status, to, legalTransitions[v.Status]),
			map[string]any{"vessel": v.Name, "from": string(v.Status), "to": string(to), "allowed": legalTransitions[v.Status]})
	}

	// Empty-vessel precondition for cleaning/maintenance.
	if (to == VesselCleaning || to == VesselMaintenance) && v.CurrentVolumeL.IsPositive() {
		return validation.New(validation.KindVesselState, "vessel_not_empty",
			fmt.Sprintf("vessel %s holds %sL, cannot enter %s", v.Name, v.CurrentVolumeL, to),
			fmt.Sprintf("Vessel %s still holds %sL and must be emptied before entering %q.", v.Name, v.CurrentVolumeL, to),
			map[string]any{"vessel": v.Name, "current_volume_l": v.CurrentVolumeL.String(), "to": string(to)})
	}

	// A vessel with batches still attached is not done being used.
	if v.Status == VesselInUse && to == VesselAvailable && activeBatchCount > 0 {
		return validation.New(validation.KindVesselState, "vessel_has_active_batches",
			fmt.Sprintf("vessel %s has %d active batches", v.Name, activeBatchCount),
			fmt.Sprintf("Vessel %s still has %d active batch(es) assigned and cannot be marked available. Transfer or complete the batches first.", v.Name, activeBatchCount),
			map[string]any{"vessel": v.Name, "active_batches": activeBatchCount})
	}

	return nil
}

func transitionAllowed(from, to VesselStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// USABILITY GATE
// =============================================================================

// Operation is something an operator wants to do with a vessel.
type Operation string

const (
	OpTransferIn  Operation = "transfer_in"
	OpTransferOut Operation = "transfer_out"
	OpMeasurement Operation = "measurement"
	OpPackaging   Operation = "packaging"
	OpCleaning    Operation = "cleaning"
	OpMaintenance Operation = "maintenance"
)

// blockedOperations lists which operations each status forbids.
// Statuses absent from the map block nothing.
var blockedOperations = map[VesselStatus]map[Operation]bool{
	VesselCleaning: {
		OpTransferIn:  true,
		OpMeasurement: true,
		OpPackaging:   true,
	},
	VesselMaintenance: {
		OpTransferIn:  true,
		OpTransferOut: true,
		OpMeasurement: true,
		OpPackaging:   true,
		OpCleaning:    true,
	},
}

// ValidateVesselUsability checks whether the vessel's current status
// permits the requested operation.
func ValidateVesselUsability(v Vessel, op Operation) error {
	if blockedOperations[v.Status][op] {
		return validation.New(validation.KindVesselState, "vessel_unusable",
			fmt.Sprintf("vessel %s in status %s cannot be used for %s", v.Name, v.Status, op),
			fmt.Sprintf("Vessel %s is in status %q and cannot be used for %s. Return it to service first.", v.Name, v.Status, op),
			map[string]any{"vessel": v.Name, "status": string(v.Status), "operation": string(op)})
	}
	return nil
}

// =============================================================================
// TYPE SUITABILITY (advisory)
// =============================================================================

// VesselPurpose is what a batch needs from a vessel.
type VesselPurpose string

const (
	PurposeFermentation VesselPurpose = "fermentation"
	PurposeConditioning VesselPurpose = "conditioning"
	PurposePackaging    VesselPurpose = "packaging"
	PurposeStorage      VesselPurpose = "storage"
)

var suitablePurposes = map[VesselType][]VesselPurpose{
	VesselFermenter:        {PurposeFermentation, PurposeStorage},
	VesselConditioningTank: {PurposeConditioning, PurposeStorage},
	VesselBrightTank:       {PurposePackaging, PurposeStorage},
	VesselStorage:          {PurposeStorage},
}

// SuitabilityConfig controls whether an unsuitable vessel type is a
// hard error or a warning the operator can override.
type SuitabilityConfig struct {
	AllowTypeOverride bool
}

// ValidateVesselSuitability checks whether the vessel type fits the
// requested purpose. With AllowTypeOverride the mismatch is returned as
// a warning instead of an error.
func ValidateVesselSuitability(v Vessel, purpose VesselPurpose, cfg SuitabilityConfig) (*validation.Warning, error) {
	for _, p := range suitablePurposes[v.Type] {
		if p == purpose {
			return nil, nil
		}
	}

	details := map[string]any{
		"vessel":   v.Name,
		"type":     string(v.Type),
		"purpose":  string(purpose),
		"suitable": suitablePurposes[v.Type],
	}
	msg := fmt.Sprintf("Vessel %s is a %s, which is not suited for %s. Suitable uses: %v.", v.Name, v.Type, purpose, suitablePurposes[v.Type])

	if cfg.AllowTypeOverride {
		return &validation.Warning{Code: "vessel_type_unsuitable", Message: msg, Details: details}, nil
	}
	return nil, validation.New(validation.KindVesselState, "vessel_type_unsuitable",
		fmt.Sprintf("vessel %s (%s) unsuitable for %s", v.Name, v.Type, purpose),
		msg, details)
}
