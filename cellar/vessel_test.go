package cellar

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchardgate/cellar-engine/validation"
)

func testVessel(status VesselStatus, volumeL string) Vessel {
	return Vessel{
		ID:             "vessel-1",
		Name:           "FV-01",
		Type:           VesselFermenter,
		CapacityL:      decimal.NewFromInt(1000),
		Status:         status,
		CurrentVolumeL: decimal.RequireFromString(volumeL),
		Active:         true,
	}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	code, ok := validation.CodeOf(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	return code
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestVesselStatusTransitions_LegalEdges(t *testing.T) {
	legal := []struct {
		from, to VesselStatus
	}{
		{VesselAvailable, VesselInUse},
		{VesselAvailable, VesselCleaning},
		{VesselAvailable, VesselMaintenance},
		{VesselInUse, VesselAvailable},
		{VesselInUse, VesselCleaning},
		{VesselInUse, VesselMaintenance},
		{VesselCleaning, VesselAvailable},
		{VesselCleaning, VesselMaintenance},
		{VesselMaintenance, VesselAvailable},
		{VesselMaintenance, VesselCleaning},
	}

	for _, e := range legal {
		t.Run(string(e.from)+"_to_"+string(e.to), func(t *testing.T) {
			v := testVessel(e.from, "0")
			assert.NoError(t, ValidateStatusTransition(v, e.to, 0))
		})
	}
}

func TestVesselStatusTransitions_IllegalEdges(t *testing.T) {
	illegal := []struct {
		from, to VesselStatus
	}{
		{VesselCleaning, VesselInUse},
		{VesselMaintenance, VesselInUse},
	}

	for _, e := range illegal {
		t.Run(string(e.from)+"_to_"+string(e.to), func(t *testing.T) {
			v := testVessel(e.from, "0")
			err := ValidateStatusTransition(v, e.to, 0)
			assert.Equal(t, "illegal_transition", codeOf(t, err))
		})
	}
}

func TestVesselStatusTransitions_SelfTransitionRejected(t *testing.T) {
	v := testVessel(VesselAvailable, "0")
	err := ValidateStatusTransition(v, VesselAvailable, 0)
	assert.Equal(t, "already_in_status", codeOf(t, err))
}

func TestVesselStatusTransitions_CleaningRequiresEmpty(t *testing.T) {
	// GIVEN: An in-use vessel still holding liquid
	// WHEN: Moving it to cleaning or maintenance
	// THEN: Rejected until emptied

	v := testVessel(VesselInUse, "250")

	err := ValidateStatusTransition(v, VesselCleaning, 0)
	assert.Equal(t, "vessel_not_empty", codeOf(t, err))

	err = ValidateStatusTransition(v, VesselMaintenance, 0)
	assert.Equal(t, "vessel_not_empty", codeOf(t, err))

	// Emptied, the same transition passes.
	v.CurrentVolumeL = decimal.Zero
	assert.NoError(t, ValidateStatusTransition(v, VesselCleaning, 0))
}

func TestVesselStatusTransitions_ActiveBatchesBlockAvailable(t *testing.T) {
	v := testVessel(VesselInUse, "0")

	err := ValidateStatusTransition(v, VesselAvailable, 2)
	require.Error(t, err)
	assert.Equal(t, "vessel_has_active_batches", codeOf(t, err))

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 2, verr.Details["active_batches"])

	assert.NoError(t, ValidateStatusTransition(v, VesselAvailable, 0))
}

// =============================================================================
// USABILITY GATE
// =============================================================================

func TestVesselUsability_MaintenanceBlocksEverything(t *testing.T) {
	v := testVessel(VesselMaintenance, "0")

	for _, op := range []Operation{OpTransferIn, OpTransferOut, OpMeasurement, OpPackaging, OpCleaning} {
		t.Run(string(op), func(t *testing.T) {
			err := ValidateVesselUsability(v, op)
			assert.Equal(t, "vessel_unusable", codeOf(t, err))
		})
	}

	// The one thing a maintenance vessel can do is stay in maintenance.
	assert.NoError(t, ValidateVesselUsability(v, OpMaintenance))
}

func TestVesselUsability_CleaningAllowsDraining(t *testing.T) {
	v := testVessel(VesselCleaning, "0")

	// Blocked: receiving liquid, measuring, packaging.
	for _, op := range []Operation{OpTransferIn, OpMeasurement, OpPackaging} {
		err := ValidateVesselUsability(v, op)
		assert.Equal(t, "vessel_unusable", codeOf(t, err), "op %s", op)
	}

	// Allowed: draining out remaining liquid and escalating to maintenance.
	assert.NoError(t, ValidateVesselUsability(v, OpTransferOut))
	assert.NoError(t, ValidateVesselUsability(v, OpMaintenance))
}

func TestVesselUsability_AvailableAndInUseBlockNothing(t *testing.T) {
	ops := []Operation{OpTransferIn, OpTransferOut, OpMeasurement, OpPackaging, OpCleaning, OpMaintenance}
	for _, status := range []VesselStatus{VesselAvailable, VesselInUse} {
		v := testVessel(status, "100")
		for _, op := range ops {
			assert.NoError(t, ValidateVesselUsability(v, op), "status %s op %s", status, op)
		}
	}
}

// =============================================================================
// TYPE SUITABILITY
// =============================================================================

func TestVesselSuitability_MatchingPurpose(t *testing.T) {
	v := testVessel(VesselAvailable, "0") // fermenter

	warn, err := ValidateVesselSuitability(v, PurposeFermentation, SuitabilityConfig{})
	assert.NoError(t, err)
	assert.Nil(t, warn)

	// Every vessel type doubles as storage.
	warn, err = ValidateVesselSuitability(v, PurposeStorage, SuitabilityConfig{})
	assert.NoError(t, err)
	assert.Nil(t, warn)
}

func TestVesselSuitability_MismatchIsErrorByDefault(t *testing.T) {
	v := testVessel(VesselAvailable, "0") // fermenter
	warn, err := ValidateVesselSuitability(v, PurposePackaging, SuitabilityConfig{})
	assert.Nil(t, warn)
	assert.Equal(t, "vessel_type_unsuitable", codeOf(t, err))
}

func TestVesselSuitability_OverrideDowngradesToWarning(t *testing.T) {
	// GIVEN: A deployment that lets operators use the "wrong" tank type
	// WHEN: Conditioning in a fermenter
	// THEN: The mismatch is surfaced as a warning, not a rejection

	v := testVessel(VesselAvailable, "0")
	warn, err := ValidateVesselSuitability(v, PurposeConditioning, SuitabilityConfig{AllowTypeOverride: true})
	require.NoError(t, err)
	require.NotNil(t, warn)
	assert.Equal(t, "vessel_type_unsuitable", warn.Code)
	assert.Equal(t, "FV-01", warn.Details["vessel"])
}
