/*
ledger.go - Append-only batch volume ledger

PURPOSE:
  The movement ledger is the immutable source of truth for how every
  liter entered and left a batch. Transfers, packaging runs and
  reconciliation adjustments all land here as signed movements; a
  batch's volume is always reproducible by replaying its movements.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete. Corrections are new adjustment
     movements, never edits.
  2. CONSERVATION: a movement may not take a batch's running balance
     negative. Volume removed can never exceed volume recorded in.
  3. IDEMPOTENT: a movement with an already-seen idempotency key is
     rejected, so retries cannot double-count liquid.

EXAMPLE FLOW:
  1. Press run yields 900L:         production  +900
  2. 500L racked to conditioning:   transfer    -500 / +500 (two batches)
  3. 100L bottled:                  packaging   -100
  4. Reconciliation finds 3L loss:  adjustment    -3

SEE ALSO:
  - store/memory.go: in-memory MovementStore for tests
  - ../store/sqlite: production MovementStore
  - ../ttb/reconcile.go: adjustments traceable to ledger entries
*/
package cellar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MOVEMENT - Atomic change to a batch's volume
// =============================================================================

type MovementType string

const (
	MovementProduction  MovementType = "production"   // press run / juice receipt
	MovementTransferIn  MovementType = "transfer_in"  // liquid arriving from another vessel
	MovementTransferOut MovementType = "transfer_out" // liquid leaving for another vessel
	MovementPackaging   MovementType = "packaging"    // consumed into bottles
	MovementAdjustment  MovementType = "adjustment"   // reconciliation correction
)

// Movement is an immutable ledger entry. DeltaL is signed: positive for
// volume entering the batch, negative for volume leaving it.
type Movement struct {
	ID             MovementID
	BatchID        BatchID
	At             time.Time
	DeltaL         decimal.Decimal
	Type           MovementType
	ReferenceID    string // transfer, packaging run or adjustment id
	Reason         string
	IdempotencyKey string

	RecordedBy string
	CreatedAt  time.Time
}

// =============================================================================
// MOVEMENT STORE - Persistence interface (append-only)
// =============================================================================

// MovementStore persists movements. No Update, no Delete. Ever.
type MovementStore interface {
	// Append persists one movement. Fails if the idempotency key exists.
	Append(ctx context.Context, m Movement) error

	// AppendBatch persists movements atomically - all or none. Used for
	// transfers, which are a -delta/+delta pair across two batches.
	AppendBatch(ctx context.Context, ms []Movement) error

	// Load returns all movements for a batch ordered by At.
	Load(ctx context.Context, batchID BatchID) ([]Movement, error)

	// LoadRange returns movements for a batch in [from, to].
	LoadRange(ctx context.Context, batchID BatchID, from, to time.Time) ([]Movement, error)

	// Exists checks whether an idempotency key has been seen.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a movement with the
	// same idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrVolumeConservation is returned when a movement would take a
	// batch's running balance negative.
	ErrVolumeConservation = errors.New("movement violates volume conservation")

	// ErrBatchNotFound is returned when a referenced batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrVesselNotFound is returned when a referenced vessel doesn't exist.
	ErrVesselNotFound = errors.New("vessel not found")
)

// ConservationError reports the movement that would have overdrawn a batch.
type ConservationError struct {
	BatchID   BatchID
	At        time.Time
	BalanceL  decimal.Decimal // balance after the offending movement
	DeltaL    decimal.Decimal
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("volume conservation violated for batch %s at %s: delta %sL would leave balance %sL",
		e.BatchID, e.At.Format("2006-01-02"), e.DeltaL, e.BalanceL)
}

func (e *ConservationError) Unwrap() error { return ErrVolumeConservation }

// =============================================================================
// VOLUME LEDGER - MovementStore wrapper enforcing conservation
// =============================================================================

// VolumeLedger wraps a MovementStore with conservation and idempotency
// checks. Callers must still serialize validate-then-append per batch
// (the sqlite store does this with a write lock).
type VolumeLedger struct {
	store MovementStore
}

func NewVolumeLedger(store MovementStore) *VolumeLedger {
	return &VolumeLedger{store: store}
}

// Append records a single movement after checking idempotency and
// conservation against the batch's replayed history.
func (l *VolumeLedger) Append(ctx context.Context, m Movement) error {
	if m.IdempotencyKey != "" {
		exists, err := l.store.Exists(ctx, m.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	if err := l.checkConservation(ctx, m); err != nil {
		return err
	}
	return l.store.Append(ctx, m)
}

// AppendBatch records movements atomically. Conservation is checked per
// batch including the in-flight movements of the batch itself, so a
// transfer pair cannot half-apply.
func (l *VolumeLedger) AppendBatch(ctx context.Context, ms []Movement) error {
	for _, m := range ms {
		if m.IdempotencyKey == "" {
			continue
		}
		exists, err := l.store.Exists(ctx, m.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}

	// Group pending deltas by batch and replay each batch's history
	// with the pending movements applied in order.
	pending := make(map[BatchID][]Movement)
	for _, m := range ms {
		pending[m.BatchID] = append(pending[m.BatchID], m)
	}
	for batchID, batchMs := range pending {
		history, err := l.store.Load(ctx, batchID)
		if err != nil {
			return err
		}
		if err := replayWithPending(batchID, history, batchMs); err != nil {
			return err
		}
	}

	return l.store.AppendBatch(ctx, ms)
}

// Movements returns a batch's full movement history.
func (l *VolumeLedger) Movements(ctx context.Context, batchID BatchID) ([]Movement, error) {
	return l.store.Load(ctx, batchID)
}

// MovementsInRange returns a batch's movements in [from, to].
func (l *VolumeLedger) MovementsInRange(ctx context.Context, batchID BatchID, from, to time.Time) ([]Movement, error) {
	return l.store.LoadRange(ctx, batchID, from, to)
}

// BalanceAt replays the ledger up to and including 'at'.
func (l *VolumeLedger) BalanceAt(ctx context.Context, batchID BatchID, at time.Time) (decimal.Decimal, error) {
	ms, err := l.store.Load(ctx, batchID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, m := range ms {
		if m.At.After(at) {
			break
		}
		balance = balance.Add(m.DeltaL)
	}
	return balance, nil
}

// TotalRemoved sums all outbound volume (transfer-out, packaging and
// negative adjustments) for a batch. Used by the conservation property:
// total removed can never exceed total produced plus transferred in.
func (l *VolumeLedger) TotalRemoved(ctx context.Context, batchID BatchID) (decimal.Decimal, error) {
	ms, err := l.store.Load(ctx, batchID)
	if err != nil {
		return decimal.Zero, err
	}
	removed := decimal.Zero
	for _, m := range ms {
		if m.DeltaL.IsNegative() {
			removed = removed.Add(m.DeltaL.Neg())
		}
	}
	return removed, nil
}

func (l *VolumeLedger) checkConservation(ctx context.Context, m Movement) error {
	history, err := l.store.Load(ctx, m.BatchID)
	if err != nil {
		return err
	}
	return replayWithPending(m.BatchID, history, []Movement{m})
}

// replayWithPending merges pending movements into the history by time
// and verifies the running balance never goes negative.
func replayWithPending(batchID BatchID, history, pending []Movement) error {
	merged := make([]Movement, 0, len(history)+len(pending))
	merged = append(merged, history...)
	merged = append(merged, pending...)

	// History is already ordered; a stable insertion keeps same-instant
	// pending movements after existing ones.
	for i := 1; i < len(merged); i++ {
		for j := i; j > 0 && merged[j].At.Before(merged[j-1].At); j-- {
			merged[j], merged[j-1] = merged[j-1], merged[j]
		}
	}

	balance := decimal.Zero
	for _, m := range merged {
		balance = balance.Add(m.DeltaL)
		if balance.IsNegative() {
			return &ConservationError{BatchID: batchID, At: m.At, BalanceL: balance, DeltaL: m.DeltaL}
		}
	}
	return nil
}
