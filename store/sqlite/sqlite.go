/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements persistence for the cellar (vessels, batches, movements,
  transfers, packaging runs, measurements) and the TTB side
  (reconciliation snapshots, physical counts, adjustments). In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The movements, physical_counts and adjustments tables are append-only:
  no UPDATE or DELETE statements exist for them. Corrections land as new
  adjustment rows.

VALIDATE-THEN-WRITE:
  CommitTransfer and CommitPackaging run the ledger write and the
  vessel/batch volume updates inside one SQL transaction, under the
  store write lock. Guards validate against the state read in the same
  critical section, so two concurrent transfers cannot both pass
  capacity validation against a stale volume.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better
  concurrency: readers don't block, single writer at a time, better
  crash recovery.

USAGE:
  st, err := sqlite.New("./data/cellar.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  // Use with ledger
  ledger := cellar.NewVolumeLedger(st)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - cellar/ledger.go: MovementStore interface and conservation rules
  - cellar/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/orchardgate/cellar-engine/cellar"
	"github.com/orchardgate/cellar-engine/ttb"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Vessels (never hard-deleted; active flag instead)
	CREATE TABLE IF NOT EXISTS vessels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		capacity_l TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		current_volume_l TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Batches
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		batch_number TEXT NOT NULL UNIQUE,
		current_volume_l TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'fermentation',
		vessel_id TEXT REFERENCES vessels(id),
		start_date TEXT,
		origin_transfer_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_vessel ON batches(vessel_id);
	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

	-- Movements (append-only volume ledger)
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		at TEXT NOT NULL,
		delta_l TEXT NOT NULL,
		type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		recorded_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_batch_at ON movements(batch_id, at);
	CREATE INDEX IF NOT EXISTS idx_movements_reference
		ON movements(reference_id) WHERE reference_id IS NOT NULL;

	-- Transfers
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		from_vessel_id TEXT REFERENCES vessels(id),
		to_vessel_id TEXT NOT NULL REFERENCES vessels(id),
		volume_transferred_l TEXT NOT NULL,
		transfer_date TEXT NOT NULL,
		reason TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_batch ON transfers(batch_id);

	-- Packaging runs
	CREATE TABLE IF NOT EXISTS packaging_runs (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		package_date TEXT NOT NULL,
		volume_packaged_l TEXT NOT NULL,
		bottle_size TEXT NOT NULL,
		bottle_count INTEGER NOT NULL,
		abv_at_packaging TEXT,
		notes TEXT,
		pasteurized_at TEXT,
		labeled_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packaging_batch ON packaging_runs(batch_id);

	-- Measurements
	CREATE TABLE IF NOT EXISTS measurements (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		measurement_date TEXT NOT NULL,
		specific_gravity TEXT,
		abv TEXT,
		ph TEXT,
		total_acidity TEXT,
		temperature TEXT,
		volume_l TEXT,
		notes TEXT,
		taken_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_batch_date
		ON measurements(batch_id, measurement_date);

	-- Reconciliation snapshots (immutable once finalized)
	CREATE TABLE IF NOT EXISTS reconciliations (
		id TEXT PRIMARY KEY,
		reconciliation_date TEXT NOT NULL,
		period_start_date TEXT NOT NULL,
		period_end_date TEXT NOT NULL,
		previous_reconciliation_id TEXT REFERENCES reconciliations(id),
		status TEXT NOT NULL DEFAULT 'draft',
		opening_balance_gal TEXT NOT NULL,
		calculated_ending_gal TEXT NOT NULL,
		physical_count_gal TEXT NOT NULL,
		variance_gal TEXT NOT NULL,
		ttb_balance_gal TEXT NOT NULL,
		ttb_source_type TEXT NOT NULL,
		inventory_bulk_gal TEXT NOT NULL,
		inventory_packaged_gal TEXT NOT NULL,
		inventory_on_hand_gal TEXT NOT NULL,
		inventory_removals_gal TEXT NOT NULL,
		inventory_legacy_gal TEXT NOT NULL,
		inventory_accounted_for_gal TEXT NOT NULL,
		inventory_difference_gal TEXT NOT NULL,
		production_press_runs_gal TEXT NOT NULL,
		production_juice_purchases_gal TEXT NOT NULL,
		production_total_gal TEXT NOT NULL,
		removals_tax_paid_gal TEXT NOT NULL,
		other_losses_gal TEXT NOT NULL,
		is_reconciled BOOLEAN NOT NULL DEFAULT FALSE,
		discrepancy_explanation TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliations_period
		ON reconciliations(period_start_date, period_end_date);

	-- Physical inventory counts (append-only audit records)
	CREATE TABLE IF NOT EXISTS physical_counts (
		id TEXT PRIMARY KEY,
		reconciliation_id TEXT NOT NULL REFERENCES reconciliations(id),
		vessel_id TEXT NOT NULL REFERENCES vessels(id),
		batch_id TEXT REFERENCES batches(id),
		book_volume_l TEXT NOT NULL,
		physical_volume_l TEXT NOT NULL,
		variance_l TEXT NOT NULL,
		variance_pct TEXT NOT NULL,
		counted_at TEXT NOT NULL,
		counted_by TEXT NOT NULL,
		method TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_physical_counts_reconciliation
		ON physical_counts(reconciliation_id);

	-- Reconciliation adjustments (append-only; never mutated)
	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		reconciliation_id TEXT NOT NULL REFERENCES reconciliations(id),
		reason TEXT NOT NULL,
		volume_before_l TEXT NOT NULL,
		volume_after_l TEXT NOT NULL,
		delta_l TEXT NOT NULL,
		batch_id TEXT REFERENCES batches(id),
		movement_id TEXT REFERENCES movements(id),
		notes TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_reconciliation
		ON adjustments(reconciliation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MOVEMENT STORE (cellar.MovementStore interface)
// =============================================================================

// Append adds a movement to the ledger.
func (s *Store) Append(ctx context.Context, m cellar.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendMovement(ctx, s.db, m)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) appendMovement(ctx context.Context, db execer, m cellar.Movement) error {
	query := `
		INSERT INTO movements
		(id, batch_id, at, delta_l, type, reference_id, reason, idempotency_key, recorded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		m.ID,
		m.BatchID,
		m.At.UTC().Format(time.RFC3339),
		m.DeltaL.String(),
		m.Type,
		nullString(m.ReferenceID),
		m.Reason,
		nullString(m.IdempotencyKey),
		m.RecordedBy,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return cellar.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

// AppendBatch adds multiple movements atomically.
func (s *Store) AppendBatch(ctx context.Context, ms []cellar.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range ms {
		if err := s.appendMovement(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load returns all movements for a batch ordered by time.
func (s *Store) Load(ctx context.Context, batchID cellar.BatchID) ([]cellar.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, at, delta_l, type, reference_id, reason, idempotency_key, recorded_by, created_at
		FROM movements WHERE batch_id = ? ORDER BY at, created_at
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// LoadRange returns a batch's movements in [from, to].
func (s *Store) LoadRange(ctx context.Context, batchID cellar.BatchID, from, to time.Time) ([]cellar.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, at, delta_l, type, reference_id, reason, idempotency_key, recorded_by, created_at
		FROM movements WHERE batch_id = ? AND at >= ? AND at <= ? ORDER BY at, created_at
	`, batchID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// Exists checks whether an idempotency key has been seen.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM movements WHERE idempotency_key = ?`, idempotencyKey).Scan(&n)
	return n > 0, err
}

func scanMovements(rows *sql.Rows) ([]cellar.Movement, error) {
	var result []cellar.Movement
	for rows.Next() {
		var (
			m                     cellar.Movement
			at, deltaL, createdAt string
			refID, idemKey, recBy sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.BatchID, &at, &deltaL, &m.Type, &refID, &m.Reason, &idemKey, &recBy, &createdAt); err != nil {
			return nil, err
		}
		m.At, _ = time.Parse(time.RFC3339, at)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		m.DeltaL, _ = decimal.NewFromString(deltaL)
		m.ReferenceID = refID.String
		m.IdempotencyKey = idemKey.String
		m.RecordedBy = recBy.String
		result = append(result, m)
	}
	return result, rows.Err()
}

// =============================================================================
// VESSELS
// =============================================================================

// SaveVessel inserts a vessel.
func (s *Store) SaveVessel(ctx context.Context, v cellar.Vessel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vessels (id, name, type, capacity_l, status, current_volume_l, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Name, v.Type, v.CapacityL.String(), v.Status, v.CurrentVolumeL.String(), v.Active,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetVessel returns a vessel by id, nil if absent.
func (s *Store) GetVessel(ctx context.Context, id cellar.VesselID) (*cellar.Vessel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getVessel(ctx, s.db, id)
}

func getVessel(ctx context.Context, db querier, id cellar.VesselID) (*cellar.Vessel, error) {
	var (
		v                 cellar.Vessel
		capacity, current string
		createdAt         string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, type, capacity_l, status, current_volume_l, active, created_at
		FROM vessels WHERE id = ?
	`, id).Scan(&v.ID, &v.Name, &v.Type, &capacity, &v.Status, &current, &v.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.CapacityL, _ = decimal.NewFromString(capacity)
	v.CurrentVolumeL, _ = decimal.NewFromString(current)
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

// ListVessels returns all vessels, active first then by name.
func (s *Store) ListVessels(ctx context.Context) ([]cellar.Vessel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, capacity_l, status, current_volume_l, active, created_at
		FROM vessels ORDER BY active DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []cellar.Vessel
	for rows.Next() {
		var (
			v                 cellar.Vessel
			capacity, current string
			createdAt         string
		)
		if err := rows.Scan(&v.ID, &v.Name, &v.Type, &capacity, &v.Status, &current, &v.Active, &createdAt); err != nil {
			return nil, err
		}
		v.CapacityL, _ = decimal.NewFromString(capacity)
		v.CurrentVolumeL, _ = decimal.NewFromString(current)
		v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, v)
	}
	return result, rows.Err()
}

// UpdateVesselStatus sets a vessel's status.
func (s *Store) UpdateVesselStatus(ctx context.Context, id cellar.VesselID, status cellar.VesselStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE vessels SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res, cellar.ErrVesselNotFound)
}

// DeactivateVessel soft-deletes a vessel.
func (s *Store) DeactivateVessel(ctx context.Context, id cellar.VesselID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE vessels SET active = FALSE WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, cellar.ErrVesselNotFound)
}

// CountActiveBatchesInVessel counts non-terminal batches in a vessel.
func (s *Store) CountActiveBatchesInVessel(ctx context.Context, id cellar.VesselID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM batches
		WHERE vessel_id = ? AND status NOT IN ('completed', 'discarded')
	`, id).Scan(&n)
	return n, err
}

// =============================================================================
// BATCHES
// =============================================================================

// SaveBatch inserts a batch.
func (s *Store) SaveBatch(ctx context.Context, b cellar.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, batch_number, current_volume_l, status, vessel_id, start_date, origin_transfer_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.BatchNumber, b.CurrentVolumeL.String(), b.Status,
		nullVesselID(b.VesselID), nullTime(b.StartDate), nullTime(b.OriginTransferDate),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// CommitBatchCreation records a new batch atomically with its production
// movement and the assigned vessel's resulting volume. If the movement
// collides on an idempotency key the batch row rolls back with it.
func (s *Store) CommitBatchCreation(ctx context.Context, b cellar.Batch, movement cellar.Movement,
	vesselVolumes map[cellar.VesselID]decimal.Decimal) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, batch_number, current_volume_l, status, vessel_id, start_date, origin_transfer_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.BatchNumber, b.CurrentVolumeL.String(), b.Status,
		nullVesselID(b.VesselID), nullTime(b.StartDate), nullTime(b.OriginTransferDate),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}

	if err := s.appendMovement(ctx, tx, movement); err != nil {
		return err
	}
	if err := updateVolumes(ctx, tx, nil, vesselVolumes); err != nil {
		return err
	}
	return tx.Commit()
}

// GetBatch returns a batch by id, nil if absent.
func (s *Store) GetBatch(ctx context.Context, id cellar.BatchID) (*cellar.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, batchSelect+` WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// ListBatches returns all batches, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]cellar.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, batchSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []cellar.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

// ListBatchesInVessel returns the batches currently assigned to a vessel.
func (s *Store) ListBatchesInVessel(ctx context.Context, id cellar.VesselID) ([]cellar.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, batchSelect+` WHERE vessel_id = ? ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []cellar.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

const batchSelect = `
	SELECT id, batch_number, current_volume_l, status, vessel_id, start_date, origin_transfer_date, created_at
	FROM batches`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*cellar.Batch, error) {
	var (
		b              cellar.Batch
		current        string
		vesselID       sql.NullString
		startDate      sql.NullString
		originTransfer sql.NullString
		createdAt      string
	)
	err := row.Scan(&b.ID, &b.BatchNumber, &current, &b.Status, &vesselID, &startDate, &originTransfer, &createdAt)
	if err != nil {
		return nil, err
	}
	b.CurrentVolumeL, _ = decimal.NewFromString(current)
	if vesselID.Valid {
		vid := cellar.VesselID(vesselID.String)
		b.VesselID = &vid
	}
	b.StartDate = parseNullTime(startDate)
	b.OriginTransferDate = parseNullTime(originTransfer)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &b, nil
}

// UpdateBatchStatus sets a batch's status.
func (s *Store) UpdateBatchStatus(ctx context.Context, id cellar.BatchID, status cellar.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE batches SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res, cellar.ErrBatchNotFound)
}

// =============================================================================
// TRANSFERS - validate-then-write critical section
// =============================================================================

// CommitTransfer records a validated transfer atomically: the transfer
// row, the movement pair (or single movement for a press-run receipt),
// the resulting batch and vessel volumes, and any batch reassignment to
// the destination vessel all land in one SQL transaction under the
// store write lock.
func (s *Store) CommitTransfer(ctx context.Context, t cellar.Transfer, movements []cellar.Movement,
	batchVolumes map[cellar.BatchID]decimal.Decimal, vesselVolumes map[cellar.VesselID]decimal.Decimal,
	batchVessels map[cellar.BatchID]cellar.VesselID) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (id, batch_id, from_vessel_id, to_vessel_id, volume_transferred_l, transfer_date, reason, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.BatchID, nullVesselID(t.FromVesselID), t.ToVesselID,
		t.VolumeTransferredL.String(), t.TransferDate.UTC().Format(time.RFC3339),
		t.Reason, t.Notes, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}

	for _, m := range movements {
		if err := s.appendMovement(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := updateVolumes(ctx, tx, batchVolumes, vesselVolumes); err != nil {
		return err
	}
	for id, vid := range batchVessels {
		if _, err := tx.ExecContext(ctx,
			`UPDATE batches SET vessel_id = ? WHERE id = ?`, vid, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTransfersForBatch returns a batch's transfers, oldest first.
func (s *Store) ListTransfersForBatch(ctx context.Context, batchID cellar.BatchID) ([]cellar.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, from_vessel_id, to_vessel_id, volume_transferred_l, transfer_date, reason, notes
		FROM transfers WHERE batch_id = ? ORDER BY transfer_date
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []cellar.Transfer
	for rows.Next() {
		var (
			t             cellar.Transfer
			fromVessel    sql.NullString
			volume, date  string
			reason, notes sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.BatchID, &fromVessel, &t.ToVesselID, &volume, &date, &reason, &notes); err != nil {
			return nil, err
		}
		if fromVessel.Valid {
			vid := cellar.VesselID(fromVessel.String)
			t.FromVesselID = &vid
		}
		t.VolumeTransferredL, _ = decimal.NewFromString(volume)
		t.TransferDate, _ = time.Parse(time.RFC3339, date)
		t.Reason = reason.String
		t.Notes = notes.String
		result = append(result, t)
	}
	return result, rows.Err()
}

// =============================================================================
// PACKAGING
// =============================================================================

// CommitPackaging records a validated packaging run atomically with its
// ledger movement and the resulting batch/vessel volumes.
func (s *Store) CommitPackaging(ctx context.Context, run cellar.PackagingRun, movement cellar.Movement,
	batchVolumes map[cellar.BatchID]decimal.Decimal, vesselVolumes map[cellar.VesselID]decimal.Decimal) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO packaging_runs
		(id, batch_id, package_date, volume_packaged_l, bottle_size, bottle_count, abv_at_packaging,
		 notes, pasteurized_at, labeled_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.BatchID, run.PackageDate.UTC().Format(time.RFC3339),
		run.VolumePackagedL.String(), run.BottleSize, run.BottleCount, nullDecimal(run.ABVAtPackaging),
		run.Notes, nullTime(run.PasteurizedAt), nullTime(run.LabeledAt), nullTime(run.CompletedAt),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}

	if err := s.appendMovement(ctx, tx, movement); err != nil {
		return err
	}
	if err := updateVolumes(ctx, tx, batchVolumes, vesselVolumes); err != nil {
		return err
	}
	return tx.Commit()
}

// SumPackagedForBatch totals the volume consumed by a batch's prior
// packaging runs.
func (s *Store) SumPackagedForBatch(ctx context.Context, batchID cellar.BatchID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT volume_packaged_l FROM packaging_runs WHERE batch_id = ?`, batchID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, err
		}
		d, _ := decimal.NewFromString(v)
		total = total.Add(d)
	}
	return total, rows.Err()
}

// ListPackagingRunsForBatch returns a batch's packaging runs, oldest first.
func (s *Store) ListPackagingRunsForBatch(ctx context.Context, batchID cellar.BatchID) ([]cellar.PackagingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, package_date, volume_packaged_l, bottle_size, bottle_count, abv_at_packaging,
		       notes, pasteurized_at, labeled_at, completed_at
		FROM packaging_runs WHERE batch_id = ? ORDER BY package_date
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []cellar.PackagingRun
	for rows.Next() {
		var (
			run                               cellar.PackagingRun
			date, volume                      string
			abv, notes                        sql.NullString
			pasteurized, labeled, completed   sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.BatchID, &date, &volume, &run.BottleSize, &run.BottleCount,
			&abv, &notes, &pasteurized, &labeled, &completed); err != nil {
			return nil, err
		}
		run.PackageDate, _ = time.Parse(time.RFC3339, date)
		run.VolumePackagedL, _ = decimal.NewFromString(volume)
		run.ABVAtPackaging = parseNullDecimal(abv)
		run.Notes = notes.String
		run.PasteurizedAt = parseNullTime(pasteurized)
		run.LabeledAt = parseNullTime(labeled)
		run.CompletedAt = parseNullTime(completed)
		result = append(result, run)
	}
	return result, rows.Err()
}

// =============================================================================
// MEASUREMENTS
// =============================================================================

// SaveMeasurement inserts a measurement.
func (s *Store) SaveMeasurement(ctx context.Context, m cellar.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO measurements
		(id, batch_id, measurement_date, specific_gravity, abv, ph, total_acidity, temperature, volume_l, notes, taken_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.BatchID, m.MeasurementDate.UTC().Format(time.RFC3339),
		nullDecimal(m.SpecificGravity), nullDecimal(m.ABV), nullDecimal(m.PH),
		nullDecimal(m.TotalAcidity), nullDecimal(m.Temperature), nullDecimal(m.VolumeL),
		m.Notes, m.TakenBy, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ListMeasurementsForBatch returns a batch's measurements, newest first.
func (s *Store) ListMeasurementsForBatch(ctx context.Context, batchID cellar.BatchID) ([]cellar.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, measurement_date, specific_gravity, abv, ph, total_acidity, temperature, volume_l, notes, taken_by
		FROM measurements WHERE batch_id = ? ORDER BY measurement_date DESC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []cellar.Measurement
	for rows.Next() {
		var (
			m                                  cellar.Measurement
			date                               string
			sg, abv, ph, acidity, temp, volume sql.NullString
			notes, takenBy                     sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.BatchID, &date, &sg, &abv, &ph, &acidity, &temp, &volume, &notes, &takenBy); err != nil {
			return nil, err
		}
		m.MeasurementDate, _ = time.Parse(time.RFC3339, date)
		m.SpecificGravity = parseNullDecimal(sg)
		m.ABV = parseNullDecimal(abv)
		m.PH = parseNullDecimal(ph)
		m.TotalAcidity = parseNullDecimal(acidity)
		m.Temperature = parseNullDecimal(temp)
		m.VolumeL = parseNullDecimal(volume)
		m.Notes = notes.String
		m.TakenBy = takenBy.String
		result = append(result, m)
	}
	return result, rows.Err()
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// SaveReconciliation inserts a draft snapshot.
func (s *Store) SaveReconciliation(ctx context.Context, r ttb.ReconciliationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliations
		(id, reconciliation_date, period_start_date, period_end_date, previous_reconciliation_id, status,
		 opening_balance_gal, calculated_ending_gal, physical_count_gal, variance_gal,
		 ttb_balance_gal, ttb_source_type,
		 inventory_bulk_gal, inventory_packaged_gal, inventory_on_hand_gal, inventory_removals_gal,
		 inventory_legacy_gal, inventory_accounted_for_gal, inventory_difference_gal,
		 production_press_runs_gal, production_juice_purchases_gal, production_total_gal,
		 removals_tax_paid_gal, other_losses_gal, is_reconciled, discrepancy_explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ReconciliationDate.UTC().Format(time.RFC3339),
		r.PeriodStartDate.UTC().Format(time.RFC3339), r.PeriodEndDate.UTC().Format(time.RFC3339),
		r.PreviousReconciliationID, r.Status,
		r.OpeningBalanceGal.String(), r.CalculatedEndingGal.String(),
		r.PhysicalCountGal.String(), r.VarianceGal.String(),
		r.TTBBalanceGal.String(), r.TTBSourceType,
		r.InventoryBulkGal.String(), r.InventoryPackagedGal.String(), r.InventoryOnHandGal.String(),
		r.InventoryRemovalsGal.String(), r.InventoryLegacyGal.String(),
		r.InventoryAccountedForGal.String(), r.InventoryDifferenceGal.String(),
		r.ProductionPressRunsGal.String(), r.ProductionJuicePurchasesGal.String(), r.ProductionTotalGal.String(),
		r.RemovalsTaxPaidGal.String(), r.OtherLossesGal.String(),
		r.IsReconciled, r.DiscrepancyExplanation,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("a reconciliation already exists for period %s to %s",
			r.PeriodStartDate.Format("2006-01-02"), r.PeriodEndDate.Format("2006-01-02"))
	}
	return err
}

// UpdateReconciliation rewrites a snapshot's mutable fields. Finalized
// snapshots are immutable: the update is rejected by the status guard
// in the WHERE clause.
func (s *Store) UpdateReconciliation(ctx context.Context, r ttb.ReconciliationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reconciliations SET
			status = ?, physical_count_gal = ?, variance_gal = ?,
			is_reconciled = ?, discrepancy_explanation = ?
		WHERE id = ? AND status != 'finalized'
	`, r.Status, r.PhysicalCountGal.String(), r.VarianceGal.String(),
		r.IsReconciled, r.DiscrepancyExplanation, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reconciliation %s not found or already finalized", r.ID)
	}
	return nil
}

// GetReconciliation returns a snapshot by id, nil if absent.
func (s *Store) GetReconciliation(ctx context.Context, id string) (*ttb.ReconciliationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, reconciliationSelect+` WHERE id = ?`, id)
	r, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetLatestReconciliation returns the snapshot with the most recent
// period end, nil when the chain is empty.
func (s *Store) GetLatestReconciliation(ctx context.Context) (*ttb.ReconciliationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, reconciliationSelect+` ORDER BY period_end_date DESC LIMIT 1`)
	r, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListReconciliations returns all snapshots ordered by period start.
func (s *Store) ListReconciliations(ctx context.Context) ([]ttb.ReconciliationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, reconciliationSelect+` ORDER BY period_start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ttb.ReconciliationSnapshot
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

const reconciliationSelect = `
	SELECT id, reconciliation_date, period_start_date, period_end_date, previous_reconciliation_id, status,
	       opening_balance_gal, calculated_ending_gal, physical_count_gal, variance_gal,
	       ttb_balance_gal, ttb_source_type,
	       inventory_bulk_gal, inventory_packaged_gal, inventory_on_hand_gal, inventory_removals_gal,
	       inventory_legacy_gal, inventory_accounted_for_gal, inventory_difference_gal,
	       production_press_runs_gal, production_juice_purchases_gal, production_total_gal,
	       removals_tax_paid_gal, other_losses_gal, is_reconciled, discrepancy_explanation
	FROM reconciliations`

func scanReconciliation(row rowScanner) (*ttb.ReconciliationSnapshot, error) {
	var (
		r                                       ttb.ReconciliationSnapshot
		reconDate, periodStart, periodEnd       string
		prevID                                  sql.NullString
		opening, calculated, physical, variance string
		ttbBalance                              string
		invBulk, invPackaged, invOnHand         string
		invRemovals, invLegacy, invAccounted    string
		invDifference                           string
		prodPress, prodJuice, prodTotal         string
		removals, losses                        string
		explanation                             sql.NullString
	)
	err := row.Scan(&r.ID, &reconDate, &periodStart, &periodEnd, &prevID, &r.Status,
		&opening, &calculated, &physical, &variance,
		&ttbBalance, &r.TTBSourceType,
		&invBulk, &invPackaged, &invOnHand, &invRemovals, &invLegacy, &invAccounted, &invDifference,
		&prodPress, &prodJuice, &prodTotal,
		&removals, &losses, &r.IsReconciled, &explanation)
	if err != nil {
		return nil, err
	}

	r.ReconciliationDate, _ = time.Parse(time.RFC3339, reconDate)
	r.PeriodStartDate, _ = time.Parse(time.RFC3339, periodStart)
	r.PeriodEndDate, _ = time.Parse(time.RFC3339, periodEnd)
	if prevID.Valid {
		id := prevID.String
		r.PreviousReconciliationID = &id
	}
	r.OpeningBalanceGal, _ = decimal.NewFromString(opening)
	r.CalculatedEndingGal, _ = decimal.NewFromString(calculated)
	r.PhysicalCountGal, _ = decimal.NewFromString(physical)
	r.VarianceGal, _ = decimal.NewFromString(variance)
	r.TTBBalanceGal, _ = decimal.NewFromString(ttbBalance)
	r.InventoryBulkGal, _ = decimal.NewFromString(invBulk)
	r.InventoryPackagedGal, _ = decimal.NewFromString(invPackaged)
	r.InventoryOnHandGal, _ = decimal.NewFromString(invOnHand)
	r.InventoryRemovalsGal, _ = decimal.NewFromString(invRemovals)
	r.InventoryLegacyGal, _ = decimal.NewFromString(invLegacy)
	r.InventoryAccountedForGal, _ = decimal.NewFromString(invAccounted)
	r.InventoryDifferenceGal, _ = decimal.NewFromString(invDifference)
	r.ProductionPressRunsGal, _ = decimal.NewFromString(prodPress)
	r.ProductionJuicePurchasesGal, _ = decimal.NewFromString(prodJuice)
	r.ProductionTotalGal, _ = decimal.NewFromString(prodTotal)
	r.RemovalsTaxPaidGal, _ = decimal.NewFromString(removals)
	r.OtherLossesGal, _ = decimal.NewFromString(losses)
	r.DiscrepancyExplanation = explanation.String
	return &r, nil
}

// SavePhysicalCount inserts a count entry. Append-only.
func (s *Store) SavePhysicalCount(ctx context.Context, c ttb.PhysicalInventoryCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO physical_counts
		(id, reconciliation_id, vessel_id, batch_id, book_volume_l, physical_volume_l,
		 variance_l, variance_pct, counted_at, counted_by, method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ReconciliationID, c.VesselID, nullBatchID(c.BatchID),
		c.BookVolumeL.String(), c.PhysicalVolumeL.String(),
		c.VarianceL.String(), c.VariancePct.String(),
		c.CountedAt.UTC().Format(time.RFC3339), c.CountedBy, c.Method)
	return err
}

// ListPhysicalCounts returns a reconciliation's counts.
func (s *Store) ListPhysicalCounts(ctx context.Context, reconciliationID string) ([]ttb.PhysicalInventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reconciliation_id, vessel_id, batch_id, book_volume_l, physical_volume_l,
		       variance_l, variance_pct, counted_at, counted_by, method
		FROM physical_counts WHERE reconciliation_id = ? ORDER BY counted_at
	`, reconciliationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ttb.PhysicalInventoryCount
	for rows.Next() {
		var (
			c                            ttb.PhysicalInventoryCount
			batchID                      sql.NullString
			book, physical, varL, varPct string
			countedAt                    string
		)
		if err := rows.Scan(&c.ID, &c.ReconciliationID, &c.VesselID, &batchID,
			&book, &physical, &varL, &varPct, &countedAt, &c.CountedBy, &c.Method); err != nil {
			return nil, err
		}
		if batchID.Valid {
			bid := cellar.BatchID(batchID.String)
			c.BatchID = &bid
		}
		c.BookVolumeL, _ = decimal.NewFromString(book)
		c.PhysicalVolumeL, _ = decimal.NewFromString(physical)
		c.VarianceL, _ = decimal.NewFromString(varL)
		c.VariancePct, _ = decimal.NewFromString(varPct)
		c.CountedAt, _ = time.Parse(time.RFC3339, countedAt)
		result = append(result, c)
	}
	return result, rows.Err()
}

// SaveAdjustment inserts an adjustment. Append-only.
func (s *Store) SaveAdjustment(ctx context.Context, a ttb.ReconciliationAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var movementID any
	if a.MovementID != nil {
		movementID = string(*a.MovementID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adjustments
		(id, reconciliation_id, reason, volume_before_l, volume_after_l, delta_l,
		 batch_id, movement_id, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ReconciliationID, a.Reason,
		a.VolumeBeforeL.String(), a.VolumeAfterL.String(), a.DeltaL.String(),
		nullBatchID(a.BatchID), movementID, a.Notes, a.CreatedBy,
		a.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// ListAdjustments returns a reconciliation's adjustments.
func (s *Store) ListAdjustments(ctx context.Context, reconciliationID string) ([]ttb.ReconciliationAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reconciliation_id, reason, volume_before_l, volume_after_l, delta_l,
		       batch_id, movement_id, notes, created_by, created_at
		FROM adjustments WHERE reconciliation_id = ? ORDER BY created_at
	`, reconciliationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ttb.ReconciliationAdjustment
	for rows.Next() {
		var (
			a                    ttb.ReconciliationAdjustment
			before, after, delta string
			batchID, movementID  sql.NullString
			notes, createdBy     sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&a.ID, &a.ReconciliationID, &a.Reason, &before, &after, &delta,
			&batchID, &movementID, &notes, &createdBy, &createdAt); err != nil {
			return nil, err
		}
		a.VolumeBeforeL, _ = decimal.NewFromString(before)
		a.VolumeAfterL, _ = decimal.NewFromString(after)
		a.DeltaL, _ = decimal.NewFromString(delta)
		if batchID.Valid {
			bid := cellar.BatchID(batchID.String)
			a.BatchID = &bid
		}
		if movementID.Valid {
			mid := cellar.MovementID(movementID.String)
			a.MovementID = &mid
		}
		a.Notes = notes.String
		a.CreatedBy = createdBy.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func updateVolumes(ctx context.Context, tx *sql.Tx,
	batchVolumes map[cellar.BatchID]decimal.Decimal, vesselVolumes map[cellar.VesselID]decimal.Decimal) error {

	for id, v := range batchVolumes {
		if _, err := tx.ExecContext(ctx,
			`UPDATE batches SET current_volume_l = ? WHERE id = ?`, v.String(), id); err != nil {
			return err
		}
	}
	for id, v := range vesselVolumes {
		if _, err := tx.ExecContext(ctx,
			`UPDATE vessels SET current_volume_l = ? WHERE id = ?`, v.String(), id); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullVesselID(id *cellar.VesselID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func nullBatchID(id *cellar.BatchID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}
