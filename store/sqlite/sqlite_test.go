package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchardgate/cellar-engine/cellar"
	"github.com/orchardgate/cellar-engine/ttb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedVessel(t *testing.T, st *Store, id, name string) cellar.Vessel {
	t.Helper()
	v := cellar.Vessel{
		ID:             cellar.VesselID(id),
		Name:           name,
		Type:           cellar.VesselFermenter,
		CapacityL:      decimal.NewFromInt(1000),
		Status:         cellar.VesselAvailable,
		CurrentVolumeL: decimal.Zero,
		Active:         true,
	}
	require.NoError(t, st.SaveVessel(context.Background(), v))
	return v
}

func seedBatch(t *testing.T, st *Store, id, number string, vesselID cellar.VesselID, volumeL string) cellar.Batch {
	t.Helper()
	b := cellar.Batch{
		ID:             cellar.BatchID(id),
		BatchNumber:    number,
		CurrentVolumeL: decimal.RequireFromString(volumeL),
		Status:         cellar.BatchFermentation,
		VesselID:       &vesselID,
	}
	require.NoError(t, st.SaveBatch(context.Background(), b))
	return b
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestStore_MovementAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "900")

	at := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.Append(ctx, cellar.Movement{
		ID:             "m1",
		BatchID:        "batch-1",
		At:             at,
		DeltaL:         decimal.NewFromInt(900),
		Type:           cellar.MovementProduction,
		IdempotencyKey: "press-run-1",
		RecordedBy:     "sam",
	}))

	ms, err := st.Load(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, cellar.MovementID("m1"), ms[0].ID)
	assert.True(t, ms[0].DeltaL.Equal(decimal.NewFromInt(900)))
	assert.True(t, ms[0].At.Equal(at))
	assert.Equal(t, "press-run-1", ms[0].IdempotencyKey)
	assert.Equal(t, "sam", ms[0].RecordedBy)

	exists, err := st.Exists(ctx, "press-run-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = st.Exists(ctx, "press-run-2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "900")

	m := cellar.Movement{
		ID: "m1", BatchID: "batch-1",
		At:             time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		DeltaL:         decimal.NewFromInt(900),
		Type:           cellar.MovementProduction,
		IdempotencyKey: "press-run-1",
	}
	require.NoError(t, st.Append(ctx, m))

	m.ID = "m2"
	err := st.Append(ctx, m)
	assert.ErrorIs(t, err, cellar.ErrDuplicateIdempotencyKey)
}

func TestStore_AppendBatchRollsBackOnDuplicate(t *testing.T) {
	// GIVEN: A movement pair whose second entry collides on its key
	// WHEN: Appending atomically
	// THEN: The transaction rolls back and neither entry lands

	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "900")
	seedBatch(t, st, "batch-2", "2025-03-10 Dabinett split", "vessel-1", "0")

	at := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Append(ctx, cellar.Movement{
		ID: "m0", BatchID: "batch-1", At: at,
		DeltaL: decimal.NewFromInt(900), Type: cellar.MovementProduction,
		IdempotencyKey: "taken",
	}))

	err := st.AppendBatch(ctx, []cellar.Movement{
		{ID: "m1", BatchID: "batch-1", At: at, DeltaL: decimal.NewFromInt(-200), Type: cellar.MovementTransferOut},
		{ID: "m2", BatchID: "batch-2", At: at, DeltaL: decimal.NewFromInt(200), Type: cellar.MovementTransferIn, IdempotencyKey: "taken"},
	})
	require.ErrorIs(t, err, cellar.ErrDuplicateIdempotencyKey)

	ms, err := st.Load(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, ms, 1, "rolled-back leg must not persist")
	ms, err = st.Load(ctx, "batch-2")
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestStore_LoadRange(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "900")

	for i, day := range []int{10, 15, 20} {
		require.NoError(t, st.Append(ctx, cellar.Movement{
			ID:      cellar.MovementID(string(rune('a' + i))),
			BatchID: "batch-1",
			At:      time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC),
			DeltaL:  decimal.NewFromInt(100),
			Type:    cellar.MovementTransferIn,
		}))
	}

	ms, err := st.LoadRange(ctx, "batch-1",
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 18, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.True(t, ms[0].At.Day() == 15)
}

// =============================================================================
// VESSELS AND BATCHES
// =============================================================================

func TestStore_VesselRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")

	v, err := st.GetVessel(ctx, "vessel-1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "FV-01", v.Name)
	assert.True(t, v.CapacityL.Equal(decimal.NewFromInt(1000)))
	assert.True(t, v.Active)

	missing, err := st.GetVessel(ctx, "vessel-ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.UpdateVesselStatus(ctx, "vessel-1", cellar.VesselInUse))
	v, err = st.GetVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.Equal(t, cellar.VesselInUse, v.Status)

	require.NoError(t, st.DeactivateVessel(ctx, "vessel-1"))
	v, err = st.GetVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.False(t, v.Active)

	assert.ErrorIs(t, st.UpdateVesselStatus(ctx, "vessel-ghost", cellar.VesselInUse), cellar.ErrVesselNotFound)
}

func TestStore_CountActiveBatchesInVessel(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedBatch(t, st, "batch-1", "b1", "vessel-1", "100")
	seedBatch(t, st, "batch-2", "b2", "vessel-1", "100")
	seedBatch(t, st, "batch-3", "b3", "vessel-1", "0")

	require.NoError(t, st.UpdateBatchStatus(ctx, "batch-3", cellar.BatchCompleted))

	n, err := st.CountActiveBatchesInVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_BatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")

	start := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	vid := cellar.VesselID("vessel-1")
	b := cellar.Batch{
		ID:             "batch-1",
		BatchNumber:    "2025-03-10 Dabinett",
		CurrentVolumeL: decimal.RequireFromString("900.5"),
		Status:         cellar.BatchFermentation,
		VesselID:       &vid,
		StartDate:      &start,
	}
	require.NoError(t, st.SaveBatch(ctx, b))

	got, err := st.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2025-03-10 Dabinett", got.BatchNumber)
	assert.True(t, got.CurrentVolumeL.Equal(decimal.RequireFromString("900.5")))
	require.NotNil(t, got.VesselID)
	assert.Equal(t, vid, *got.VesselID)
	require.NotNil(t, got.StartDate)
	assert.True(t, got.StartDate.Equal(start))
	assert.Nil(t, got.OriginTransferDate)

	in, err := st.ListBatchesInVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.Len(t, in, 1)
}

func TestStore_CommitBatchCreation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")

	vid := cellar.VesselID("vessel-1")
	b := cellar.Batch{
		ID:             "batch-1",
		BatchNumber:    "2025-03-10 Dabinett",
		CurrentVolumeL: decimal.NewFromInt(900),
		Status:         cellar.BatchFermentation,
		VesselID:       &vid,
	}
	movement := cellar.Movement{
		ID: "mv-batch-1-production", BatchID: "batch-1",
		At:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		DeltaL: decimal.NewFromInt(900), Type: cellar.MovementProduction,
		IdempotencyKey: "press-run-1",
	}
	require.NoError(t, st.CommitBatchCreation(ctx, b, movement,
		map[cellar.VesselID]decimal.Decimal{"vessel-1": decimal.NewFromInt(900)}))

	// Batch, movement and vessel volume all landed.
	got, err := st.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CurrentVolumeL.Equal(decimal.NewFromInt(900)))

	ms, err := st.Load(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	v, err := st.GetVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.True(t, v.CurrentVolumeL.Equal(decimal.NewFromInt(900)))
}

func TestStore_CommitBatchCreationRollsBackOnDuplicateKey(t *testing.T) {
	// GIVEN: A production movement key already used
	// WHEN: Creating another batch with the same key
	// THEN: Neither the batch row nor the vessel volume lands

	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")

	vid := cellar.VesselID("vessel-1")
	first := cellar.Batch{
		ID: "batch-1", BatchNumber: "b1",
		CurrentVolumeL: decimal.NewFromInt(400),
		Status:         cellar.BatchFermentation, VesselID: &vid,
	}
	require.NoError(t, st.CommitBatchCreation(ctx, first, cellar.Movement{
		ID: "m1", BatchID: "batch-1",
		At:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		DeltaL: decimal.NewFromInt(400), Type: cellar.MovementProduction,
		IdempotencyKey: "press-run-1",
	}, map[cellar.VesselID]decimal.Decimal{"vessel-1": decimal.NewFromInt(400)}))

	retry := cellar.Batch{
		ID: "batch-2", BatchNumber: "b2",
		CurrentVolumeL: decimal.NewFromInt(400),
		Status:         cellar.BatchFermentation, VesselID: &vid,
	}
	err := st.CommitBatchCreation(ctx, retry, cellar.Movement{
		ID: "m2", BatchID: "batch-2",
		At:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		DeltaL: decimal.NewFromInt(400), Type: cellar.MovementProduction,
		IdempotencyKey: "press-run-1",
	}, map[cellar.VesselID]decimal.Decimal{"vessel-1": decimal.NewFromInt(800)})
	require.ErrorIs(t, err, cellar.ErrDuplicateIdempotencyKey)

	got, err := st.GetBatch(ctx, "batch-2")
	require.NoError(t, err)
	assert.Nil(t, got)

	v, err := st.GetVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.True(t, v.CurrentVolumeL.Equal(decimal.NewFromInt(400)))
}

// =============================================================================
// COMMIT TRANSFER / PACKAGING
// =============================================================================

func TestStore_CommitTransferAtomically(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedVessel(t, st, "vessel-2", "CT-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "900")

	from := cellar.VesselID("vessel-1")
	tr := cellar.Transfer{
		ID:                 "transfer-1",
		BatchID:            "batch-1",
		FromVesselID:       &from,
		ToVesselID:         "vessel-2",
		VolumeTransferredL: decimal.NewFromInt(300),
		TransferDate:       time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
		Reason:             "racking",
	}
	movements := []cellar.Movement{
		{ID: "mv-transfer-1-out", BatchID: "batch-1", At: tr.TransferDate,
			DeltaL: decimal.NewFromInt(-300), Type: cellar.MovementTransferOut,
			ReferenceID: "transfer-1", IdempotencyKey: "transfer-1"},
		{ID: "mv-transfer-1-in", BatchID: "batch-1", At: tr.TransferDate,
			DeltaL: decimal.NewFromInt(300), Type: cellar.MovementTransferIn,
			ReferenceID: "transfer-1"},
	}
	err := st.CommitTransfer(ctx, tr, movements,
		map[cellar.BatchID]decimal.Decimal{"batch-1": decimal.NewFromInt(900)},
		map[cellar.VesselID]decimal.Decimal{
			"vessel-1": decimal.NewFromInt(600),
			"vessel-2": decimal.NewFromInt(300),
		},
		nil)
	require.NoError(t, err)

	v1, err := st.GetVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.True(t, v1.CurrentVolumeL.Equal(decimal.NewFromInt(600)))
	v2, err := st.GetVessel(ctx, "vessel-2")
	require.NoError(t, err)
	assert.True(t, v2.CurrentVolumeL.Equal(decimal.NewFromInt(300)))

	transfers, err := st.ListTransfersForBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.True(t, transfers[0].VolumeTransferredL.Equal(decimal.NewFromInt(300)))

	ms, err := st.Load(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	// Partial transfer: the batch stays assigned to the source vessel.
	b, err := st.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.NotNil(t, b.VesselID)
	assert.Equal(t, cellar.VesselID("vessel-1"), *b.VesselID)
}

func TestStore_CommitTransferReassignsBatchVessel(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedVessel(t, st, "vessel-2", "CT-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "900")

	from := cellar.VesselID("vessel-1")
	tr := cellar.Transfer{
		ID: "transfer-1", BatchID: "batch-1", FromVesselID: &from, ToVesselID: "vessel-2",
		VolumeTransferredL: decimal.NewFromInt(900),
		TransferDate:       time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
	}
	movements := []cellar.Movement{
		{ID: "mv-transfer-1-out", BatchID: "batch-1", At: tr.TransferDate,
			DeltaL: decimal.NewFromInt(-900), Type: cellar.MovementTransferOut},
		{ID: "mv-transfer-1-in", BatchID: "batch-1", At: tr.TransferDate,
			DeltaL: decimal.NewFromInt(900), Type: cellar.MovementTransferIn},
	}
	require.NoError(t, st.CommitTransfer(ctx, tr, movements, nil,
		map[cellar.VesselID]decimal.Decimal{
			"vessel-1": decimal.Zero,
			"vessel-2": decimal.NewFromInt(900),
		},
		map[cellar.BatchID]cellar.VesselID{"batch-1": "vessel-2"}))

	b, err := st.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.NotNil(t, b.VesselID)
	assert.Equal(t, cellar.VesselID("vessel-2"), *b.VesselID)

	// The vacated source no longer holds an active batch, so it can
	// leave in_use.
	n, err := st.CountActiveBatchesInVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_CommitTransferRollsBackOnDuplicateKey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedVessel(t, st, "vessel-2", "CT-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "900")

	require.NoError(t, st.Append(ctx, cellar.Movement{
		ID: "m0", BatchID: "batch-1",
		At:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		DeltaL: decimal.NewFromInt(900), Type: cellar.MovementProduction,
		IdempotencyKey: "transfer-1",
	}))

	from := cellar.VesselID("vessel-1")
	tr := cellar.Transfer{
		ID: "transfer-1", BatchID: "batch-1", FromVesselID: &from, ToVesselID: "vessel-2",
		VolumeTransferredL: decimal.NewFromInt(300),
		TransferDate:       time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
	}
	err := st.CommitTransfer(ctx, tr, []cellar.Movement{
		{ID: "mv-out", BatchID: "batch-1", At: tr.TransferDate,
			DeltaL: decimal.NewFromInt(-300), Type: cellar.MovementTransferOut,
			IdempotencyKey: "transfer-1"},
	},
		nil,
		map[cellar.VesselID]decimal.Decimal{"vessel-1": decimal.NewFromInt(600)},
		nil)
	require.ErrorIs(t, err, cellar.ErrDuplicateIdempotencyKey)

	// The whole transaction rolled back: no transfer row, vessel untouched.
	transfers, err := st.ListTransfersForBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Empty(t, transfers)
	v, err := st.GetVessel(ctx, "vessel-1")
	require.NoError(t, err)
	assert.True(t, v.CurrentVolumeL.IsZero())
}

func TestStore_CommitPackagingAndSum(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "500")

	abv := decimal.RequireFromString("6.5")
	run := cellar.PackagingRun{
		ID:              "run-1",
		BatchID:         "batch-1",
		PackageDate:     time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		VolumePackagedL: decimal.NewFromInt(75),
		BottleSize:      "750ml",
		BottleCount:     100,
		ABVAtPackaging:  &abv,
	}
	movement := cellar.Movement{
		ID: "mv-run-1", BatchID: "batch-1", At: run.PackageDate,
		DeltaL: decimal.NewFromInt(-75), Type: cellar.MovementPackaging,
		ReferenceID: "run-1", IdempotencyKey: "run-1",
	}
	require.NoError(t, st.CommitPackaging(ctx, run, movement,
		map[cellar.BatchID]decimal.Decimal{"batch-1": decimal.NewFromInt(425)},
		map[cellar.VesselID]decimal.Decimal{"vessel-1": decimal.NewFromInt(425)}))

	total, err := st.SumPackagedForBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(75)))

	runs, err := st.ListPackagingRunsForBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].ABVAtPackaging)
	assert.True(t, runs[0].ABVAtPackaging.Equal(abv))
	assert.Nil(t, runs[0].PasteurizedAt)

	b, err := st.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.True(t, b.CurrentVolumeL.Equal(decimal.NewFromInt(425)))
}

// =============================================================================
// MEASUREMENTS
// =============================================================================

func TestStore_MeasurementRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedBatch(t, st, "batch-1", "2025-03-10 Dabinett", "vessel-1", "500")

	sg := decimal.RequireFromString("1.050")
	ph := decimal.RequireFromString("3.4")
	m := cellar.Measurement{
		ID:              "m-1",
		BatchID:         "batch-1",
		MeasurementDate: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		SpecificGravity: &sg,
		PH:              &ph,
		Notes:           "slow ferment",
		TakenBy:         "sam",
	}
	require.NoError(t, st.SaveMeasurement(ctx, m))

	got, err := st.ListMeasurementsForBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].SpecificGravity)
	assert.True(t, got[0].SpecificGravity.Equal(sg))
	assert.Nil(t, got[0].ABV)
	assert.Equal(t, "slow ferment", got[0].Notes)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func seedReconciliation(t *testing.T, st *Store, id string, start, end time.Time, prev *string) ttb.ReconciliationSnapshot {
	t.Helper()
	r := ttb.ReconciliationSnapshot{
		ID:                       id,
		ReconciliationDate:       end.AddDate(0, 0, 1),
		PeriodStartDate:          start,
		PeriodEndDate:            end,
		PreviousReconciliationID: prev,
		Status:                   ttb.StatusDraft,
		TTBSourceType:            ttb.SourceManualEntry,
		OpeningBalanceGal:        decimal.NewFromInt(100),
		CalculatedEndingGal:      decimal.NewFromInt(90),
		PhysicalCountGal:         decimal.NewFromInt(88),
		VarianceGal:              decimal.NewFromInt(-2),
	}
	require.NoError(t, st.SaveReconciliation(context.Background(), r))
	return r
}

func TestStore_ReconciliationRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	r := seedReconciliation(t, st, "recon-1",
		time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC), nil)

	got, err := st.GetReconciliation(ctx, "recon-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, got.OpeningBalanceGal.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.VarianceGal.Equal(decimal.NewFromInt(-2)))
	assert.Nil(t, got.PreviousReconciliationID)
	assert.Equal(t, ttb.SourceManualEntry, got.TTBSourceType)

	missing, err := st.GetReconciliation(ctx, "recon-ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ReconciliationUniquePeriod(t *testing.T) {
	st := newTestStore(t)
	start := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC)
	seedReconciliation(t, st, "recon-1", start, end, nil)

	dup := ttb.ReconciliationSnapshot{
		ID:              "recon-2",
		PeriodStartDate: start,
		PeriodEndDate:   end,
		Status:          ttb.StatusDraft,
		TTBSourceType:   ttb.SourceManualEntry,
	}
	err := st.SaveReconciliation(context.Background(), dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestStore_GetLatestReconciliation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	latest, err := st.GetLatestReconciliation(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty chain has no latest")

	june := seedReconciliation(t, st, "recon-june",
		time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), nil)
	seedReconciliation(t, st, "recon-july",
		time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC), &june.ID)

	latest, err = st.GetLatestReconciliation(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "recon-july", latest.ID)
	require.NotNil(t, latest.PreviousReconciliationID)
	assert.Equal(t, "recon-june", *latest.PreviousReconciliationID)
}

func TestStore_FinalizedReconciliationIsImmutable(t *testing.T) {
	// GIVEN: A finalized snapshot
	// WHEN: Updating it again
	// THEN: The status guard in the WHERE clause rejects the write

	ctx := context.Background()
	st := newTestStore(t)
	r := seedReconciliation(t, st, "recon-1",
		time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC), nil)

	r.Status = ttb.StatusReview
	require.NoError(t, st.UpdateReconciliation(ctx, r))
	r.Status = ttb.StatusFinalized
	require.NoError(t, st.UpdateReconciliation(ctx, r))

	r.DiscrepancyExplanation = "rewriting history"
	err := st.UpdateReconciliation(ctx, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalized")

	got, err := st.GetReconciliation(ctx, "recon-1")
	require.NoError(t, err)
	assert.Empty(t, got.DiscrepancyExplanation)
}

func TestStore_PhysicalCountsAndAdjustments(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedVessel(t, st, "vessel-1", "FV-01")
	seedReconciliation(t, st, "recon-1",
		time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC), nil)

	count := ttb.NewPhysicalCount("count-1", "recon-1", "vessel-1", nil,
		decimal.NewFromInt(200), decimal.NewFromInt(195),
		time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC), "sam", ttb.MethodDipstick)
	require.NoError(t, st.SavePhysicalCount(ctx, count))

	counts, err := st.ListPhysicalCounts(ctx, "recon-1")
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.True(t, counts[0].VarianceL.Equal(decimal.NewFromInt(-5)))
	assert.Equal(t, ttb.MethodDipstick, counts[0].Method)

	adj := ttb.NewAdjustment("adj-1", "recon-1", ttb.ReasonEvaporation,
		decimal.NewFromInt(200), decimal.NewFromInt(195),
		"summer loss", "sam", time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, st.SaveAdjustment(ctx, adj))

	adjs, err := st.ListAdjustments(ctx, "recon-1")
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	assert.True(t, adjs[0].DeltaL.Equal(decimal.NewFromInt(-5)))
	assert.Equal(t, ttb.ReasonEvaporation, adjs[0].Reason)
	assert.Equal(t, "summer loss", adjs[0].Notes)
}
