package cellar_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchardgate/cellar-engine/cellar"
	"github.com/orchardgate/cellar-engine/cellar/store"
)

func newTestLedger() *cellar.VolumeLedger {
	return cellar.NewVolumeLedger(store.NewMemory())
}

func mv(id string, batch cellar.BatchID, day int, deltaL string, typ cellar.MovementType) cellar.Movement {
	return cellar.Movement{
		ID:      cellar.MovementID(id),
		BatchID: batch,
		At:      time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC),
		DeltaL:  decimal.RequireFromString(deltaL),
		Type:    typ,
	}
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestLedger_ConservationRejectsOverdraw(t *testing.T) {
	// GIVEN: A batch produced at 900L with 500L already racked out
	// WHEN: Recording another 500L removal
	// THEN: Rejected - only 400L remains

	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-1", 1, "900", cellar.MovementProduction)))
	require.NoError(t, ledger.Append(ctx, mv("m2", "batch-1", 5, "-500", cellar.MovementTransferOut)))

	err := ledger.Append(ctx, mv("m3", "batch-1", 10, "-500", cellar.MovementTransferOut))
	require.Error(t, err)
	assert.ErrorIs(t, err, cellar.ErrVolumeConservation)

	var cerr *cellar.ConservationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cellar.BatchID("batch-1"), cerr.BatchID)
	assert.True(t, cerr.BalanceL.Equal(decimal.NewFromInt(-100)))

	// The rejected movement left no trace.
	ms, err := ledger.Movements(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, ms, 2)
}

func TestLedger_ConservationChecksInterleavedHistory(t *testing.T) {
	// A backdated removal must be checked against the balance at its own
	// point in time, not the final balance.
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-1", 1, "100", cellar.MovementProduction)))
	require.NoError(t, ledger.Append(ctx, mv("m2", "batch-1", 20, "900", cellar.MovementTransferIn)))

	// Final balance is 1000L, but on day 10 only 100L existed.
	err := ledger.Append(ctx, mv("m3", "batch-1", 10, "-500", cellar.MovementTransferOut))
	assert.ErrorIs(t, err, cellar.ErrVolumeConservation)
}

func TestLedger_DrainToZeroAllowed(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-1", 1, "100", cellar.MovementProduction)))
	require.NoError(t, ledger.Append(ctx, mv("m2", "batch-1", 2, "-100", cellar.MovementPackaging)))

	balance, err := ledger.BalanceAt(ctx, "batch-1", time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestLedger_DuplicateIdempotencyKeyRejected(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	first := mv("m1", "batch-1", 1, "900", cellar.MovementProduction)
	first.IdempotencyKey = "press-run-42"
	require.NoError(t, ledger.Append(ctx, first))

	// A retry with the same key must not double-count the juice.
	retry := mv("m2", "batch-1", 1, "900", cellar.MovementProduction)
	retry.IdempotencyKey = "press-run-42"
	err := ledger.Append(ctx, retry)
	assert.ErrorIs(t, err, cellar.ErrDuplicateIdempotencyKey)

	ms, err := ledger.Movements(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}

func TestLedger_EmptyIdempotencyKeyNeverCollides(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-1", 1, "100", cellar.MovementProduction)))
	require.NoError(t, ledger.Append(ctx, mv("m2", "batch-1", 2, "100", cellar.MovementTransferIn)))
}

// =============================================================================
// ATOMIC APPEND (transfer pairs)
// =============================================================================

func TestLedger_AppendBatchTransferPair(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-a", 1, "500", cellar.MovementProduction)))

	out := mv("m2", "batch-a", 5, "-200", cellar.MovementTransferOut)
	out.IdempotencyKey = "transfer-7"
	in := mv("m3", "batch-b", 5, "200", cellar.MovementTransferIn)
	require.NoError(t, ledger.AppendBatch(ctx, []cellar.Movement{out, in}))

	at := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	a, err := ledger.BalanceAt(ctx, "batch-a", at)
	require.NoError(t, err)
	b, err := ledger.BalanceAt(ctx, "batch-b", at)
	require.NoError(t, err)
	assert.True(t, a.Equal(decimal.NewFromInt(300)))
	assert.True(t, b.Equal(decimal.NewFromInt(200)))
}

func TestLedger_AppendBatchAllOrNothing(t *testing.T) {
	// GIVEN: A transfer pair whose outbound leg overdraws the source
	// WHEN: Appending atomically
	// THEN: Neither leg is recorded

	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-a", 1, "100", cellar.MovementProduction)))

	out := mv("m2", "batch-a", 5, "-200", cellar.MovementTransferOut)
	in := mv("m3", "batch-b", 5, "200", cellar.MovementTransferIn)
	err := ledger.AppendBatch(ctx, []cellar.Movement{out, in})
	require.ErrorIs(t, err, cellar.ErrVolumeConservation)

	msA, err := ledger.Movements(ctx, "batch-a")
	require.NoError(t, err)
	assert.Len(t, msA, 1)
	msB, err := ledger.Movements(ctx, "batch-b")
	require.NoError(t, err)
	assert.Empty(t, msB)
}

func TestLedger_AppendBatchDuplicateKeyRejectsWhole(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	seed := mv("m1", "batch-a", 1, "500", cellar.MovementProduction)
	seed.IdempotencyKey = "press-run-1"
	require.NoError(t, ledger.Append(ctx, seed))

	out := mv("m2", "batch-a", 5, "-200", cellar.MovementTransferOut)
	out.IdempotencyKey = "press-run-1" // collides
	in := mv("m3", "batch-b", 5, "200", cellar.MovementTransferIn)

	err := ledger.AppendBatch(ctx, []cellar.Movement{out, in})
	require.ErrorIs(t, err, cellar.ErrDuplicateIdempotencyKey)

	msB, err := ledger.Movements(ctx, "batch-b")
	require.NoError(t, err)
	assert.Empty(t, msB)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestLedger_BalanceAt(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-1", 1, "900", cellar.MovementProduction)))
	require.NoError(t, ledger.Append(ctx, mv("m2", "batch-1", 10, "-500", cellar.MovementTransferOut)))
	require.NoError(t, ledger.Append(ctx, mv("m3", "batch-1", 20, "-100", cellar.MovementPackaging)))

	at := func(day int) time.Time { return time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC) }

	b, err := ledger.BalanceAt(ctx, "batch-1", at(5))
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(900)))

	// Boundary: a movement exactly at 'at' is included.
	b, err = ledger.BalanceAt(ctx, "batch-1", at(10))
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(400)))

	b, err = ledger.BalanceAt(ctx, "batch-1", at(31))
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(300)))
}

func TestLedger_TotalRemoved(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-1", 1, "900", cellar.MovementProduction)))
	require.NoError(t, ledger.Append(ctx, mv("m2", "batch-1", 10, "-500", cellar.MovementTransferOut)))
	require.NoError(t, ledger.Append(ctx, mv("m3", "batch-1", 15, "200", cellar.MovementTransferIn)))
	require.NoError(t, ledger.Append(ctx, mv("m4", "batch-1", 20, "-3", cellar.MovementAdjustment)))

	removed, err := ledger.TotalRemoved(ctx, "batch-1")
	require.NoError(t, err)
	assert.True(t, removed.Equal(decimal.NewFromInt(503)), "removed = %s", removed)
}

func TestLedger_MovementsInRange(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	require.NoError(t, ledger.Append(ctx, mv("m1", "batch-1", 1, "900", cellar.MovementProduction)))
	require.NoError(t, ledger.Append(ctx, mv("m2", "batch-1", 10, "-500", cellar.MovementTransferOut)))
	require.NoError(t, ledger.Append(ctx, mv("m3", "batch-1", 20, "-100", cellar.MovementPackaging)))

	from := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	ms, err := ledger.MovementsInRange(ctx, "batch-1", from, to)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, cellar.MovementID("m2"), ms[0].ID)
}
