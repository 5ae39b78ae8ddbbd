/*
transfer.go - Transfer guard

PURPOSE:
  Validates a vessel-to-vessel transfer before the caller commits it.
  Checks run in a fixed order and the first violation raises; the
  caller is expected to wrap validate-then-write in a transaction (or
  row lock on the vessel and batch) so two concurrent transfers cannot
  both pass capacity validation against a stale volume.

CHECK ORDER:
  1. Transferred volume positive (and under the deployment maximum)
  2. Source batch transferable and holds enough volume
  3. Destination vessel usable for transfer-in
  4. Destination capacity not exceeded
  5. Source and destination differ
  6. Source vessel (when given) not under maintenance

SEE ALSO:
  - vessel.go: usability gate used for the destination
  - ledger.go: the movement pair recorded after a transfer commits
*/
package cellar

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/orchardgate/cellar-engine/validation"
)

// ValidateTransfer checks every transfer invariant against a consistent
// read of current state. fromVessel may be nil for press-run receipts.
// toVesselCurrentVolume is passed explicitly so the caller can validate
// against the volume it read inside its transaction.
func ValidateTransfer(t Transfer, batch Batch, toVessel Vessel, fromVessel *Vessel, toVesselCurrentVolume decimal.Decimal) error {
	// 1. Positive volume, within deployment bounds.
	if err := validation.ValidateVolume("transfer volume", t.VolumeTransferredL); err != nil {
		return err
	}

	// 2. Source batch must be transferable and sufficient.
	if batch.IsTerminal() {
		return validation.New(validation.KindTransfer, "batch_not_transferable",
			fmt.Sprintf("batch %s is %s", batch.BatchNumber, batch.Status),
			fmt.Sprintf("Batch %s is %s and can no longer be transferred.", batch.BatchNumber, batch.Status),
			map[string]any{"batch_number": batch.BatchNumber, "status": string(batch.Status)})
	}
	if batch.CurrentVolumeL.LessThan(t.VolumeTransferredL) {
		shortfall := t.VolumeTransferredL.Sub(batch.CurrentVolumeL)
		return validation.New(validation.KindTransfer, "insufficient_batch_volume",
			fmt.Sprintf("batch %s holds %sL, requested %sL, short %sL",
				batch.BatchNumber, batch.CurrentVolumeL, t.VolumeTransferredL, shortfall),
			fmt.Sprintf("Batch %s only holds %sL; transferring %sL would overdraw it by %sL. Only %sL remains available.",
				batch.BatchNumber, batch.CurrentVolumeL, t.VolumeTransferredL, shortfall, batch.CurrentVolumeL),
			map[string]any{
				"batch_number": batch.BatchNumber,
				"available_l":  batch.CurrentVolumeL.String(),
				"requested_l":  t.VolumeTransferredL.String(),
				"shortfall_l":  shortfall.String(),
			})
	}

	// 3. Destination must accept liquid.
	if err := ValidateVesselUsability(toVessel, OpTransferIn); err != nil {
		return err
	}

	// 4. Destination capacity.
	after := toVesselCurrentVolume.Add(t.VolumeTransferredL)
	if after.GreaterThan(toVessel.CapacityL) {
		headroom := toVessel.CapacityL.Sub(toVesselCurrentVolume)
		excess := after.Sub(toVessel.CapacityL)
		return validation.New(validation.KindTransfer, "destination_capacity_exceeded",
			fmt.Sprintf("vessel %s headroom %sL, requested %sL, excess %sL",
				toVessel.Name, headroom, t.VolumeTransferredL, excess),
			fmt.Sprintf("Vessel %s only has %sL of headroom (capacity %sL, currently %sL); transferring %sL would overflow it by %sL.",
				toVessel.Name, headroom, toVessel.CapacityL, toVesselCurrentVolume, t.VolumeTransferredL, excess),
			map[string]any{
				"vessel":         toVessel.Name,
				"capacity_l":     toVessel.CapacityL.String(),
				"current_l":      toVesselCurrentVolume.String(),
				"headroom_l":     headroom.String(),
				"requested_l":    t.VolumeTransferredL.String(),
				"excess_l":       excess.String(),
			})
	}

	// 5. No self-transfer.
	if t.FromVesselID != nil && *t.FromVesselID == t.ToVesselID {
		return validation.New(validation.KindTransfer, "self_transfer",
			fmt.Sprintf("transfer from and to vessel %s", toVessel.Name),
			fmt.Sprintf("Source and destination are both vessel %s. Pick a different destination.", toVessel.Name),
			map[string]any{"vessel": toVessel.Name})
	}

	// 6. Source vessel state.
	if fromVessel != nil && fromVessel.Status == VesselMaintenance {
		return validation.New(validation.KindTransfer, "source_under_maintenance",
			fmt.Sprintf("source vessel %s is under maintenance", fromVessel.Name),
			fmt.Sprintf("Source vessel %s is under maintenance and cannot release liquid.", fromVessel.Name),
			map[string]any{"vessel": fromVessel.Name, "status": string(fromVessel.Status)})
	}

	return nil
}
