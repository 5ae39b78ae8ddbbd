/*
handlers.go - HTTP API handlers for the cellar engine

PURPOSE:
  Exposes the cellar and TTB engines via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Vessels:
    GET    /api/vessels                 List all vessels
    POST   /api/vessels                 Create vessel
    GET    /api/vessels/{id}            Get vessel
    POST   /api/vessels/{id}/status     Change vessel status
    DELETE /api/vessels/{id}            Deactivate vessel

  Batches:
    GET    /api/batches                 List all batches
    POST   /api/batches                 Create batch (press run / receipt)
    GET    /api/batches/{id}            Get batch
    POST   /api/batches/{id}/status     Change batch lifecycle status
    GET    /api/batches/{id}/movements  Ledger history
    GET    /api/batches/{id}/transfers  Transfer history
    GET    /api/batches/{id}/packaging  Packaging runs
    GET    /api/batches/{id}/measurements Lab readings
    POST   /api/batches/{id}/measurements Record readings

  Operations:
    POST   /api/transfers               Validate and commit a transfer
    POST   /api/packaging               Validate and commit a packaging run

  TTB:
    GET    /api/ttb/reconciliations             List snapshots
    POST   /api/ttb/reconciliations             Build a draft snapshot
    GET    /api/ttb/reconciliations/{id}        Get snapshot
    GET    /api/ttb/reconciliations/{id}/chain  Validate chain back to root
    POST   /api/ttb/reconciliations/{id}/review Advance draft to review
    POST   /api/ttb/reconciliations/{id}/finalize Lock a reviewed snapshot
    POST   /api/ttb/reconciliations/{id}/adjustments Record an adjustment
    POST   /api/ttb/tax                 Compute excise tax for removals

REQUEST FLOW:
  1. Parse HTTP request
  2. Read current state from the store
  3. Run the guards against that state
  4. Commit inside a store transaction
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Guard rejections, invalid input (code + kind populated)
  - 404: Resource not found
  - 409: Conflict (idempotency, conservation, finalized snapshot)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/orchardgate/cellar-engine/cellar"
	"github.com/orchardgate/cellar-engine/store/sqlite"
	"github.com/orchardgate/cellar-engine/ttb"
	"github.com/orchardgate/cellar-engine/validation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Ledger *cellar.VolumeLedger
	Engine *ttb.Engine

	Rates        ttb.RateSchedule
	PackagingCfg cellar.PackagingGuardConfig
	Suitability  cellar.SuitabilityConfig

	// Injectable clock for tests.
	Now func() time.Time
}

// NewHandler creates a new handler with the given store and defaults.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:        store,
		Ledger:       cellar.NewVolumeLedger(store),
		Engine:       ttb.NewEngine(ttb.DefaultReconcileConfig()),
		Rates:        ttb.RateSchedule{ttb.DefaultRateTable()},
		PackagingCfg: cellar.DefaultPackagingGuardConfig(),
		Now:          time.Now,
	}
}

// =============================================================================
// VESSEL HANDLERS
// =============================================================================

// ListVessels returns all vessels.
func (h *Handler) ListVessels(w http.ResponseWriter, r *http.Request) {
	vessels, err := h.Store.ListVessels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vessels", err)
		return
	}

	dtos := make([]VesselDTO, len(vessels))
	for i, v := range vessels {
		dtos[i] = toVesselDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetVessel returns a single vessel.
func (h *Handler) GetVessel(w http.ResponseWriter, r *http.Request) {
	id := cellar.VesselID(chi.URLParam(r, "id"))

	v, err := h.Store.GetVessel(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get vessel", err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "Vessel not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toVesselDTO(*v))
}

// CreateVessel creates a new vessel.
func (h *Handler) CreateVessel(w http.ResponseWriter, r *http.Request) {
	var req CreateVesselRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	capacity, err := decimal.NewFromString(req.CapacityL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid capacity_l", err)
		return
	}
	if err := validation.ValidateVolume("vessel capacity", capacity); err != nil {
		writeGuardError(w, err)
		return
	}

	v := cellar.Vessel{
		ID:             cellar.VesselID(req.ID),
		Name:           req.Name,
		Type:           cellar.VesselType(req.Type),
		CapacityL:      capacity,
		Status:         cellar.VesselAvailable,
		CurrentVolumeL: decimal.Zero,
		Active:         true,
	}
	if err := h.Store.SaveVessel(r.Context(), v); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create vessel", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVesselDTO(v))
}

// ChangeVesselStatus moves a vessel through its status state machine.
func (h *Handler) ChangeVesselStatus(w http.ResponseWriter, r *http.Request) {
	id := cellar.VesselID(chi.URLParam(r, "id"))

	var req ChangeVesselStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	v, err := h.Store.GetVessel(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get vessel", err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "Vessel not found", nil)
		return
	}

	activeBatches, err := h.Store.CountActiveBatchesInVessel(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count batches", err)
		return
	}

	if err := cellar.ValidateStatusTransition(*v, cellar.VesselStatus(req.Status), activeBatches); err != nil {
		writeGuardError(w, err)
		return
	}
	if err := h.Store.UpdateVesselStatus(ctx, id, cellar.VesselStatus(req.Status)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update vessel", err)
		return
	}

	v.Status = cellar.VesselStatus(req.Status)
	writeJSON(w, http.StatusOK, toVesselDTO(*v))
}

// DeactivateVessel soft-deletes a vessel.
func (h *Handler) DeactivateVessel(w http.ResponseWriter, r *http.Request) {
	id := cellar.VesselID(chi.URLParam(r, "id"))

	if err := h.Store.DeactivateVessel(r.Context(), id); err != nil {
		if errors.Is(err, cellar.ErrVesselNotFound) {
			writeError(w, http.StatusNotFound, "Vessel not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to deactivate vessel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated", "vessel_id": string(id)})
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// ListBatches returns all batches.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Store.ListBatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBatch returns a single batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := cellar.BatchID(chi.URLParam(r, "id"))

	b, err := h.Store.GetBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// CreateBatch creates a batch from a press run or juice purchase. The
// initial volume lands in the ledger as a production movement.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	volume, err := decimal.NewFromString(req.InitialVolumeL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid initial_volume_l", err)
		return
	}
	if err := validation.ValidateVolume("initial volume", volume); err != nil {
		writeGuardError(w, err)
		return
	}

	now := h.Now()
	b := cellar.Batch{
		ID:             cellar.BatchID(req.ID),
		BatchNumber:    req.BatchNumber,
		CurrentVolumeL: volume,
		Status:         cellar.BatchFermentation,
	}
	if req.VesselID != nil {
		vid := cellar.VesselID(*req.VesselID)
		b.VesselID = &vid
	}
	if req.StartDate != nil {
		start, err := time.Parse("2006-01-02", *req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
			return
		}
		if err := validation.ValidateDateWindow(validation.KindVolume, "start date", start, now); err != nil {
			writeGuardError(w, err)
			return
		}
		b.StartDate = &start
	}

	ctx := r.Context()

	// An assigned vessel receives the juice: a press-run receipt is a
	// nil-source transfer, so the same usability and capacity gates
	// apply, and the vessel volume moves with the batch row.
	vesselVolumes := map[cellar.VesselID]decimal.Decimal{}
	if b.VesselID != nil {
		vessel, err := h.Store.GetVessel(ctx, *b.VesselID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get vessel", err)
			return
		}
		if vessel == nil {
			writeError(w, http.StatusNotFound, "Vessel not found", nil)
			return
		}
		receipt := cellar.Transfer{
			BatchID:            b.ID,
			ToVesselID:         vessel.ID,
			VolumeTransferredL: volume,
			TransferDate:       now,
		}
		if err := cellar.ValidateTransfer(receipt, b, *vessel, nil, vessel.CurrentVolumeL); err != nil {
			writeGuardError(w, err)
			return
		}
		vesselVolumes[vessel.ID] = vessel.CurrentVolumeL.Add(volume)
	}

	movement := cellar.Movement{
		ID:             cellar.MovementID(fmt.Sprintf("mv-%s-production", b.ID)),
		BatchID:        b.ID,
		At:             now,
		DeltaL:         volume,
		Type:           cellar.MovementProduction,
		Reason:         "initial production volume",
		IdempotencyKey: req.IdempotencyKey,
		RecordedBy:     req.RecordedBy,
	}
	if err := h.Store.CommitBatchCreation(ctx, b, movement, vesselVolumes); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBatchDTO(b))
}

// ChangeBatchStatus moves a batch through its lifecycle.
func (h *Handler) ChangeBatchStatus(w http.ResponseWriter, r *http.Request) {
	id := cellar.BatchID(chi.URLParam(r, "id"))

	var req ChangeBatchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	b, err := h.Store.GetBatch(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}

	if err := h.Store.UpdateBatchStatus(ctx, id, cellar.BatchStatus(req.Status)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update batch", err)
		return
	}

	b.Status = cellar.BatchStatus(req.Status)
	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// GetMovements returns a batch's ledger history.
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	id := cellar.BatchID(chi.URLParam(r, "id"))

	movements, err := h.Ledger.Movements(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load movements", err)
		return
	}

	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = MovementDTO{
			ID:          string(m.ID),
			BatchID:     string(m.BatchID),
			At:          m.At.Format(time.RFC3339),
			DeltaL:      m.DeltaL.String(),
			Type:        string(m.Type),
			ReferenceID: m.ReferenceID,
			Reason:      m.Reason,
			RecordedBy:  m.RecordedBy,
			CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// SubmitTransfer validates and commits a transfer. The guard runs
// against the state read here; the commit lands atomically.
func (h *Handler) SubmitTransfer(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	volume, err := decimal.NewFromString(req.VolumeL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid volume_l", err)
		return
	}
	transferDate, err := time.Parse("2006-01-02", req.TransferDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transfer_date format (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	batch, err := h.Store.GetBatch(ctx, cellar.BatchID(req.BatchID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}

	toVessel, err := h.Store.GetVessel(ctx, cellar.VesselID(req.ToVesselID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get destination vessel", err)
		return
	}
	if toVessel == nil {
		writeError(w, http.StatusNotFound, "Destination vessel not found", nil)
		return
	}

	var fromVessel *cellar.Vessel
	if req.FromVesselID != nil {
		fromVessel, err = h.Store.GetVessel(ctx, cellar.VesselID(*req.FromVesselID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get source vessel", err)
			return
		}
		if fromVessel == nil {
			writeError(w, http.StatusNotFound, "Source vessel not found", nil)
			return
		}
	}

	t := cellar.Transfer{
		ID:                 cellar.TransferID(req.ID),
		BatchID:            batch.ID,
		ToVesselID:         toVessel.ID,
		VolumeTransferredL: volume,
		TransferDate:       transferDate,
		Reason:             req.Reason,
		Notes:              req.Notes,
	}
	if fromVessel != nil {
		t.FromVesselID = &fromVessel.ID
	}

	now := h.Now()
	if err := validation.ValidateDateWindow(validation.KindTransfer, "transfer date", transferDate, now); err != nil {
		writeGuardError(w, err)
		return
	}
	if err := validation.ValidateActivityDate(validation.KindTransfer, "transfer date", transferDate, batchDates(*batch)); err != nil {
		writeGuardError(w, err)
		return
	}
	if err := cellar.ValidateTransfer(t, *batch, *toVessel, fromVessel, toVessel.CurrentVolumeL); err != nil {
		writeGuardError(w, err)
		return
	}
	suitabilityWarning, err := cellar.ValidateVesselSuitability(*toVessel, purposeForBatch(batch.Status), h.Suitability)
	if err != nil {
		writeGuardError(w, err)
		return
	}

	// Movement pair: volume leaves the source side and arrives at the
	// destination, net zero on the batch ledger.
	movements := []cellar.Movement{
		{
			ID:             cellar.MovementID(fmt.Sprintf("mv-%s-out", t.ID)),
			BatchID:        batch.ID,
			At:             transferDate,
			DeltaL:         volume.Neg(),
			Type:           cellar.MovementTransferOut,
			ReferenceID:    string(t.ID),
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
			RecordedBy:     req.RecordedBy,
		},
		{
			ID:          cellar.MovementID(fmt.Sprintf("mv-%s-in", t.ID)),
			BatchID:     batch.ID,
			At:          transferDate,
			DeltaL:      volume,
			Type:        cellar.MovementTransferIn,
			ReferenceID: string(t.ID),
			Reason:      req.Reason,
			RecordedBy:  req.RecordedBy,
		},
	}

	vesselVolumes := map[cellar.VesselID]decimal.Decimal{
		toVessel.ID: toVessel.CurrentVolumeL.Add(volume),
	}
	if fromVessel != nil {
		vesselVolumes[fromVessel.ID] = fromVessel.CurrentVolumeL.Sub(volume)
	}

	// The batch follows its liquid when the entire remaining volume
	// moves; a partial transfer leaves the remainder, and the batch,
	// in the source vessel.
	batchVessels := map[cellar.BatchID]cellar.VesselID{}
	if volume.Equal(batch.CurrentVolumeL) {
		batchVessels[batch.ID] = toVessel.ID
	}

	if err := h.Store.CommitTransfer(ctx, t, movements, nil, vesselVolumes, batchVessels); err != nil {
		writeLedgerError(w, err)
		return
	}

	dto := toTransferDTO(t)
	if suitabilityWarning != nil {
		dto.Warnings = append(dto.Warnings, WarningDTO{
			Code:    suitabilityWarning.Code,
			Message: suitabilityWarning.Message,
			Details: suitabilityWarning.Details,
		})
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ListTransfers returns a batch's transfers.
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	id := cellar.BatchID(chi.URLParam(r, "id"))

	transfers, err := h.Store.ListTransfersForBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}

	dtos := make([]TransferDTO, len(transfers))
	for i, t := range transfers {
		dtos[i] = toTransferDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PACKAGING HANDLERS
// =============================================================================

// SubmitPackaging validates and commits a packaging run.
func (h *Handler) SubmitPackaging(w http.ResponseWriter, r *http.Request) {
	var req SubmitPackagingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	volume, err := decimal.NewFromString(req.VolumePackagedL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid volume_packaged_l", err)
		return
	}
	packageDate, err := time.Parse("2006-01-02", req.PackageDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid package_date format (use YYYY-MM-DD)", err)
		return
	}

	run := cellar.PackagingRun{
		ID:              cellar.PackagingRunID(req.ID),
		BatchID:         cellar.BatchID(req.BatchID),
		PackageDate:     packageDate,
		VolumePackagedL: volume,
		BottleSize:      req.BottleSize,
		BottleCount:     req.BottleCount,
		Notes:           req.Notes,
	}
	if req.ABVAtPackaging != nil {
		abv, err := decimal.NewFromString(*req.ABVAtPackaging)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid abv_at_packaging", err)
			return
		}
		run.ABVAtPackaging = &abv
	}

	ctx := r.Context()
	batch, err := h.Store.GetBatch(ctx, run.BatchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}

	previouslyPackaged, err := h.Store.SumPackagedForBatch(ctx, run.BatchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sum prior packaging", err)
		return
	}

	now := h.Now()
	if err := validation.ValidateActivityDate(validation.KindPackaging, "package date", packageDate, batchDates(*batch)); err != nil {
		writeGuardError(w, err)
		return
	}
	if err := cellar.ValidatePackaging(*batch, run, previouslyPackaged, now, h.PackagingCfg); err != nil {
		writeGuardError(w, err)
		return
	}

	movement := cellar.Movement{
		ID:             cellar.MovementID(fmt.Sprintf("mv-%s-packaging", run.ID)),
		BatchID:        batch.ID,
		At:             packageDate,
		DeltaL:         volume.Neg(),
		Type:           cellar.MovementPackaging,
		ReferenceID:    string(run.ID),
		Reason:         fmt.Sprintf("packaged %d x %s", run.BottleCount, run.BottleSize),
		IdempotencyKey: req.IdempotencyKey,
		RecordedBy:     req.RecordedBy,
	}

	batchVolumes := map[cellar.BatchID]decimal.Decimal{
		batch.ID: batch.CurrentVolumeL.Sub(volume),
	}
	vesselVolumes := map[cellar.VesselID]decimal.Decimal{}
	if batch.VesselID != nil {
		vessel, err := h.Store.GetVessel(ctx, *batch.VesselID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get vessel", err)
			return
		}
		if vessel != nil {
			vesselVolumes[vessel.ID] = vessel.CurrentVolumeL.Sub(volume)
		}
	}

	if err := h.Store.CommitPackaging(ctx, run, movement, batchVolumes, vesselVolumes); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPackagingRunDTO(run))
}

// ListPackagingRuns returns a batch's packaging runs.
func (h *Handler) ListPackagingRuns(w http.ResponseWriter, r *http.Request) {
	id := cellar.BatchID(chi.URLParam(r, "id"))

	runs, err := h.Store.ListPackagingRunsForBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list packaging runs", err)
		return
	}

	dtos := make([]PackagingRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toPackagingRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MEASUREMENT HANDLERS
// =============================================================================

// SubmitMeasurement records lab readings against a batch. Range guards
// reject impossible values; advisory findings come back as warnings on
// the accepted write.
func (h *Handler) SubmitMeasurement(w http.ResponseWriter, r *http.Request) {
	batchID := cellar.BatchID(chi.URLParam(r, "id"))

	var req SubmitMeasurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	measurementDate, err := time.Parse("2006-01-02", req.MeasurementDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid measurement_date format (use YYYY-MM-DD)", err)
		return
	}

	m := cellar.Measurement{
		ID:              cellar.MeasurementID(req.ID),
		BatchID:         batchID,
		MeasurementDate: measurementDate,
		Notes:           req.Notes,
		TakenBy:         req.TakenBy,
	}
	fields := []struct {
		raw  *string
		dst  **decimal.Decimal
		name string
	}{
		{req.SpecificGravity, &m.SpecificGravity, "specific_gravity"},
		{req.ABV, &m.ABV, "abv"},
		{req.PH, &m.PH, "ph"},
		{req.TotalAcidity, &m.TotalAcidity, "total_acidity"},
		{req.Temperature, &m.Temperature, "temperature"},
		{req.VolumeL, &m.VolumeL, "volume_l"},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		d, err := decimal.NewFromString(*f.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+f.name, err)
			return
		}
		*f.dst = &d
	}

	ctx := r.Context()
	batch, err := h.Store.GetBatch(ctx, batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}

	now := h.Now()
	if err := validation.ValidateActivityDate(validation.KindMeasurement, "measurement date", measurementDate, batchDates(*batch)); err != nil {
		writeGuardError(w, err)
		return
	}
	warnings, err := cellar.ValidateMeasurement(m, now)
	if err != nil {
		writeGuardError(w, err)
		return
	}

	if err := h.Store.SaveMeasurement(ctx, m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save measurement", err)
		return
	}

	dto := toMeasurementDTO(m)
	for _, warn := range warnings {
		dto.Warnings = append(dto.Warnings, WarningDTO{
			Code:    warn.Code,
			Message: warn.Message,
			Details: warn.Details,
		})
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ListMeasurements returns a batch's measurements.
func (h *Handler) ListMeasurements(w http.ResponseWriter, r *http.Request) {
	id := cellar.BatchID(chi.URLParam(r, "id"))

	measurements, err := h.Store.ListMeasurementsForBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list measurements", err)
		return
	}

	dtos := make([]MeasurementDTO, len(measurements))
	for i, m := range measurements {
		dtos[i] = toMeasurementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// BuildReconciliation assembles and stores a draft snapshot chained to
// the latest finalized one.
func (h *Handler) BuildReconciliation(w http.ResponseWriter, r *http.Request) {
	var req BuildReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := ttb.BuildInput{
		ID:            req.ID,
		TTBSourceType: ttb.TTBSourceType(req.TTBSourceType),
	}

	var err error
	if in.ReconciliationDate, err = time.Parse("2006-01-02", req.ReconciliationDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reconciliation_date", err)
		return
	}
	if in.PeriodStartDate, err = time.Parse("2006-01-02", req.PeriodStartDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start_date", err)
		return
	}
	if in.PeriodEndDate, err = time.Parse("2006-01-02", req.PeriodEndDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end_date", err)
		return
	}

	amounts := []struct {
		raw  string
		dst  *decimal.Decimal
		name string
	}{
		{req.ProductionPressRunsL, &in.ProductionPressRunsL, "production_press_runs_l"},
		{req.ProductionJuicePurchasesL, &in.ProductionJuicePurchasesL, "production_juice_purchases_l"},
		{req.RemovalsTaxPaidL, &in.RemovalsTaxPaidL, "removals_tax_paid_l"},
		{req.OtherLossesL, &in.OtherLossesL, "other_losses_l"},
		{req.TTBBalanceGal, &in.TTBBalanceGal, "ttb_balance_gal"},
		{req.InventoryBulkL, &in.InventoryBulkL, "inventory_bulk_l"},
		{req.InventoryPackagedL, &in.InventoryPackagedL, "inventory_packaged_l"},
		{req.InventoryRemovalsL, &in.InventoryRemovalsL, "inventory_removals_l"},
		{req.InventoryLegacyL, &in.InventoryLegacyL, "inventory_legacy_l"},
	}
	for _, a := range amounts {
		if a.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(a.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+a.name, err)
			return
		}
		*a.dst = d
	}

	ctx := r.Context()
	previous, err := h.Store.GetLatestReconciliation(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load previous reconciliation", err)
		return
	}
	in.Previous = previous

	for _, c := range req.Counts {
		countedAt, err := time.Parse("2006-01-02", c.CountedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid counted_at in counts", err)
			return
		}
		book, err := decimal.NewFromString(c.BookVolumeL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid book_volume_l in counts", err)
			return
		}
		physical, err := decimal.NewFromString(c.PhysicalVolumeL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid physical_volume_l in counts", err)
			return
		}
		var batchID *cellar.BatchID
		if c.BatchID != nil {
			bid := cellar.BatchID(*c.BatchID)
			batchID = &bid
		}
		in.Counts = append(in.Counts, ttb.NewPhysicalCount(
			c.ID, req.ID, cellar.VesselID(c.VesselID), batchID,
			book, physical, countedAt, c.CountedBy, ttb.MeasurementMethod(c.Method)))
	}

	snapshot, err := h.Engine.Build(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to build reconciliation", err)
		return
	}

	if err := h.Store.SaveReconciliation(ctx, *snapshot); err != nil {
		writeError(w, http.StatusConflict, "Failed to save reconciliation", err)
		return
	}
	for _, c := range in.Counts {
		if err := h.Store.SavePhysicalCount(ctx, c); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save physical count", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toReconciliationDTO(*snapshot))
}

// ListReconciliations returns all snapshots.
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.Store.ListReconciliations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reconciliations", err)
		return
	}

	dtos := make([]ReconciliationDTO, len(snapshots))
	for i, s := range snapshots {
		dtos[i] = toReconciliationDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReconciliation returns a single snapshot.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.Store.GetReconciliation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Reconciliation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*s))
}

// ReviewReconciliation advances a draft snapshot to review.
func (h *Handler) ReviewReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx := r.Context()
	s, err := h.Store.GetReconciliation(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Reconciliation not found", nil)
		return
	}

	if err := ttb.AdvanceStatus(s.Status, ttb.StatusReview); err != nil {
		writeError(w, http.StatusConflict, "Cannot move reconciliation to review", err)
		return
	}
	s.Status = ttb.StatusReview

	if err := h.Store.UpdateReconciliation(ctx, *s); err != nil {
		writeError(w, http.StatusConflict, "Failed to update reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*s))
}

// FinalizeReconciliation locks a reviewed snapshot after chain and
// variance validation.
func (h *Handler) FinalizeReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req FinalizeReconciliationRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	ctx := r.Context()
	s, err := h.Store.GetReconciliation(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Reconciliation not found", nil)
		return
	}
	if req.DiscrepancyExplanation != "" {
		s.DiscrepancyExplanation = req.DiscrepancyExplanation
	}

	var previous *ttb.ReconciliationSnapshot
	if s.PreviousReconciliationID != nil {
		previous, err = h.Store.GetReconciliation(ctx, *s.PreviousReconciliationID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load previous reconciliation", err)
			return
		}
	}

	adjustments, err := h.Store.ListAdjustments(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load adjustments", err)
		return
	}

	if err := h.Engine.Finalize(s, previous, adjustments); err != nil {
		writeError(w, http.StatusConflict, "Cannot finalize reconciliation", err)
		return
	}

	if err := h.Store.UpdateReconciliation(ctx, *s); err != nil {
		writeError(w, http.StatusConflict, "Failed to update reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*s))
}

// SubmitAdjustment records an adjustment explaining part of a variance.
func (h *Handler) SubmitAdjustment(w http.ResponseWriter, r *http.Request) {
	reconciliationID := chi.URLParam(r, "id")

	var req SubmitAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	before, err := decimal.NewFromString(req.VolumeBeforeL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid volume_before_l", err)
		return
	}
	after, err := decimal.NewFromString(req.VolumeAfterL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid volume_after_l", err)
		return
	}

	ctx := r.Context()
	s, err := h.Store.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Reconciliation not found", nil)
		return
	}
	if s.Status == ttb.StatusFinalized {
		writeError(w, http.StatusConflict, "Reconciliation is finalized", nil)
		return
	}

	a := ttb.NewAdjustment(req.ID, reconciliationID, ttb.AdjustmentReason(req.Reason),
		before, after, req.Notes, req.CreatedBy, h.Now())
	if req.BatchID != nil {
		bid := cellar.BatchID(*req.BatchID)
		a.BatchID = &bid
	}

	if err := h.Store.SaveAdjustment(ctx, a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save adjustment", err)
		return
	}

	// Recompute the reconciled flag with the new adjustment in place.
	adjustments, err := h.Store.ListAdjustments(ctx, reconciliationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load adjustments", err)
		return
	}
	h.Engine.ApplyAdjustments(s, adjustments)
	if err := h.Store.UpdateReconciliation(ctx, *s); err != nil {
		writeError(w, http.StatusConflict, "Failed to update reconciliation", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":                a.ID,
		"reconciliation_id": a.ReconciliationID,
		"reason":            string(a.Reason),
		"delta_l":           a.DeltaL.String(),
		"is_reconciled":     s.IsReconciled,
	})
}

// ValidateReconciliationChain walks the chain back from a snapshot and
// reports its length, rejecting gaps, broken links and cycles.
func (h *Handler) ValidateReconciliationChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx := r.Context()
	s, err := h.Store.GetReconciliation(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Reconciliation not found", nil)
		return
	}

	length, err := ttb.ValidateChain(s, func(prevID string) (*ttb.ReconciliationSnapshot, error) {
		prev, err := h.Store.GetReconciliation(ctx, prevID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, fmt.Errorf("reconciliation %s not found", prevID)
		}
		return prev, nil
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "chain_length": length})
}

// =============================================================================
// TAX HANDLERS
// =============================================================================

// ComputeTax computes excise tax for taxable removals, using the rate
// table in force at the period end.
func (h *Handler) ComputeTax(w http.ResponseWriter, r *http.Request) {
	var req ComputeTaxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	periodEnd, err := time.Parse("2006-01-02", req.PeriodEndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end_date", err)
		return
	}

	priorCredit := decimal.Zero
	if req.PriorCreditGallons != "" {
		priorCredit, err = decimal.NewFromString(req.PriorCreditGallons)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid prior_credit_gallons", err)
			return
		}
	}

	snapshot := ttb.NewPeriodSnapshot("adhoc", ttb.PeriodFor(ttb.PeriodMonthly, periodEnd))
	for channel, byClass := range req.TaxableRemovalsGal {
		for class, raw := range byClass {
			gallons, err := decimal.NewFromString(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("Invalid gallons for %s/%s", channel, class), err)
				return
			}
			snapshot.AddTaxableRemoval(ttb.SalesChannel(channel), ttb.TaxClass(class), gallons)
		}
	}

	table := h.Rates.TableFor(periodEnd)
	snapshot.ComputeTax(table, priorCredit)

	resp := ComputeTaxResponse{
		RateVersion: table.Version,
		TotalTaxDue: snapshot.TotalTaxDue.StringFixed(2),
	}
	for _, line := range snapshot.Taxes {
		resp.Lines = append(resp.Lines, ClassTaxDTO{
			Class:          string(line.Class),
			TaxableGallons: line.TaxableGallons.String(),
			GrossTax:       line.GrossTax.StringFixed(2),
			Credit:         line.Credit.StringFixed(2),
			NetTaxOwed:     line.NetTaxOwed.StringFixed(2),
			EffectiveRate:  line.EffectiveRate.StringFixed(4),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = map[string]any{"cause": err.Error()}
	}
	writeJSON(w, status, resp)
}

// writeGuardError maps a guard rejection to 400 with the structured
// code/kind, falling back to 500 for non-guard errors.
func writeGuardError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   verr.UserMessage,
			Code:    verr.Code,
			Kind:    string(verr.Kind),
			Details: verr.Details,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "Validation failed", err)
}

// writeLedgerError maps ledger sentinels to conflict responses.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cellar.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Duplicate idempotency key", err)
	case errors.Is(err, cellar.ErrVolumeConservation):
		writeError(w, http.StatusConflict, "Movement violates volume conservation", err)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to record movement", err)
	}
}

// purposeForBatch maps a batch's lifecycle stage to the vessel purpose
// its destination needs to serve.
func purposeForBatch(status cellar.BatchStatus) cellar.VesselPurpose {
	switch status {
	case cellar.BatchFermentation:
		return cellar.PurposeFermentation
	case cellar.BatchConditioning:
		return cellar.PurposeConditioning
	default:
		return cellar.PurposeStorage
	}
}

func batchDates(b cellar.Batch) validation.BatchDates {
	return validation.BatchDates{
		BatchNumber:    b.BatchNumber,
		StartDate:      b.StartDate,
		CreatedAt:      b.CreatedAt,
		OriginTransfer: b.OriginTransferDate,
	}
}

func toVesselDTO(v cellar.Vessel) VesselDTO {
	return VesselDTO{
		ID:             string(v.ID),
		Name:           v.Name,
		Type:           string(v.Type),
		CapacityL:      v.CapacityL.String(),
		Status:         string(v.Status),
		CurrentVolumeL: v.CurrentVolumeL.String(),
		Active:         v.Active,
		CreatedAt:      v.CreatedAt.Format(time.RFC3339),
	}
}

func toBatchDTO(b cellar.Batch) BatchDTO {
	dto := BatchDTO{
		ID:             string(b.ID),
		BatchNumber:    b.BatchNumber,
		CurrentVolumeL: b.CurrentVolumeL.String(),
		Status:         string(b.Status),
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
	if b.VesselID != nil {
		dto.VesselID = strPtr(string(*b.VesselID))
	}
	if b.StartDate != nil {
		dto.StartDate = strPtr(b.StartDate.Format("2006-01-02"))
	}
	if b.OriginTransferDate != nil {
		dto.OriginTransferDate = strPtr(b.OriginTransferDate.Format("2006-01-02"))
	}
	return dto
}

func toTransferDTO(t cellar.Transfer) TransferDTO {
	dto := TransferDTO{
		ID:           string(t.ID),
		BatchID:      string(t.BatchID),
		ToVesselID:   string(t.ToVesselID),
		VolumeL:      t.VolumeTransferredL.String(),
		TransferDate: t.TransferDate.Format("2006-01-02"),
		Reason:       t.Reason,
		Notes:        t.Notes,
	}
	if t.FromVesselID != nil {
		dto.FromVesselID = strPtr(string(*t.FromVesselID))
	}
	return dto
}

func toPackagingRunDTO(run cellar.PackagingRun) PackagingRunDTO {
	dto := PackagingRunDTO{
		ID:              string(run.ID),
		BatchID:         string(run.BatchID),
		PackageDate:     run.PackageDate.Format("2006-01-02"),
		VolumePackagedL: run.VolumePackagedL.String(),
		BottleSize:      run.BottleSize,
		BottleCount:     run.BottleCount,
		Notes:           run.Notes,
	}
	if run.ABVAtPackaging != nil {
		dto.ABVAtPackaging = strPtr(run.ABVAtPackaging.String())
	}
	if run.PasteurizedAt != nil {
		dto.PasteurizedAt = strPtr(run.PasteurizedAt.Format("2006-01-02"))
	}
	if run.LabeledAt != nil {
		dto.LabeledAt = strPtr(run.LabeledAt.Format("2006-01-02"))
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = strPtr(run.CompletedAt.Format("2006-01-02"))
	}
	return dto
}

func toMeasurementDTO(m cellar.Measurement) MeasurementDTO {
	dto := MeasurementDTO{
		ID:              string(m.ID),
		BatchID:         string(m.BatchID),
		MeasurementDate: m.MeasurementDate.Format("2006-01-02"),
		Notes:           m.Notes,
		TakenBy:         m.TakenBy,
	}
	if m.SpecificGravity != nil {
		dto.SpecificGravity = strPtr(m.SpecificGravity.String())
	}
	if m.ABV != nil {
		dto.ABV = strPtr(m.ABV.String())
	}
	if m.PH != nil {
		dto.PH = strPtr(m.PH.String())
	}
	if m.TotalAcidity != nil {
		dto.TotalAcidity = strPtr(m.TotalAcidity.String())
	}
	if m.Temperature != nil {
		dto.Temperature = strPtr(m.Temperature.String())
	}
	if m.VolumeL != nil {
		dto.VolumeL = strPtr(m.VolumeL.String())
	}
	return dto
}

func toReconciliationDTO(s ttb.ReconciliationSnapshot) ReconciliationDTO {
	return ReconciliationDTO{
		ID:                       s.ID,
		ReconciliationDate:       s.ReconciliationDate.Format("2006-01-02"),
		PeriodStartDate:          s.PeriodStartDate.Format("2006-01-02"),
		PeriodEndDate:            s.PeriodEndDate.Format("2006-01-02"),
		PreviousReconciliationID: s.PreviousReconciliationID,
		Status:                   string(s.Status),
		OpeningBalanceGal:        s.OpeningBalanceGal.StringFixed(2),
		CalculatedEndingGal:      s.CalculatedEndingGal.StringFixed(2),
		PhysicalCountGal:         s.PhysicalCountGal.StringFixed(2),
		VarianceGal:              s.VarianceGal.StringFixed(2),
		TTBBalanceGal:            s.TTBBalanceGal.StringFixed(2),
		TTBSourceType:            string(s.TTBSourceType),
		InventoryOnHandGal:       s.InventoryOnHandGal.StringFixed(2),
		InventoryAccountedForGal: s.InventoryAccountedForGal.StringFixed(2),
		InventoryDifferenceGal:   s.InventoryDifferenceGal.StringFixed(2),
		ProductionTotalGal:       s.ProductionTotalGal.StringFixed(2),
		RemovalsTaxPaidGal:       s.RemovalsTaxPaidGal.StringFixed(2),
		OtherLossesGal:           s.OtherLossesGal.StringFixed(2),
		IsReconciled:             s.IsReconciled,
		DiscrepancyExplanation:   s.DiscrepancyExplanation,
	}
}

func strPtr(s string) *string {
	return &s
}
