/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VOLUMES AS STRINGS:
  All volume/amount fields are JSON strings ("750.5"), not numbers.
  float64 cannot represent decimal liters exactly, and the domain is
  decimal end to end; strings keep the wire format lossless.

VALIDATION:
  Validation is done in handlers and guards, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - cellar/types.go: The domain records behind the DTOs
*/
package api

// =============================================================================
// VESSELS
// =============================================================================

// VesselDTO represents a vessel in API responses.
type VesselDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	CapacityL      string `json:"capacity_l"`
	Status         string `json:"status"`
	CurrentVolumeL string `json:"current_volume_l"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateVesselRequest is the request to create a vessel.
type CreateVesselRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CapacityL string `json:"capacity_l"`
}

// ChangeVesselStatusRequest moves a vessel through its status machine.
type ChangeVesselStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// BATCHES
// =============================================================================

// BatchDTO represents a batch in API responses.
type BatchDTO struct {
	ID                 string  `json:"id"`
	BatchNumber        string  `json:"batch_number"`
	CurrentVolumeL     string  `json:"current_volume_l"`
	Status             string  `json:"status"`
	VesselID           *string `json:"vessel_id,omitempty"`
	StartDate          *string `json:"start_date,omitempty"`
	OriginTransferDate *string `json:"origin_transfer_date,omitempty"`
	CreatedAt          string  `json:"created_at,omitempty"`
}

// CreateBatchRequest is the request to create a batch from a press run
// or juice purchase. The initial volume lands in the ledger as a
// production movement.
type CreateBatchRequest struct {
	ID             string  `json:"id"`
	BatchNumber    string  `json:"batch_number"`
	InitialVolumeL string  `json:"initial_volume_l"`
	VesselID       *string `json:"vessel_id,omitempty"`
	StartDate      *string `json:"start_date,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	RecordedBy     string  `json:"recorded_by,omitempty"`
}

// ChangeBatchStatusRequest moves a batch through its lifecycle.
type ChangeBatchStatusRequest struct {
	Status string `json:"status"`
}

// MovementDTO represents one ledger movement.
type MovementDTO struct {
	ID          string `json:"id"`
	BatchID     string `json:"batch_id"`
	At          string `json:"at"`
	DeltaL      string `json:"delta_l"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RecordedBy  string `json:"recorded_by,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

// SubmitTransferRequest is the request to transfer batch volume between
// vessels. FromVesselID is omitted for press-run receipts.
type SubmitTransferRequest struct {
	ID             string  `json:"id"`
	BatchID        string  `json:"batch_id"`
	FromVesselID   *string `json:"from_vessel_id,omitempty"`
	ToVesselID     string  `json:"to_vessel_id"`
	VolumeL        string  `json:"volume_l"`
	TransferDate   string  `json:"transfer_date"`
	Reason         string  `json:"reason,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	RecordedBy     string  `json:"recorded_by,omitempty"`
}

// TransferDTO represents a committed transfer. Warnings carry advisory
// findings (vessel type mismatch under override) that did not block the
// commit.
type TransferDTO struct {
	ID           string       `json:"id"`
	BatchID      string       `json:"batch_id"`
	FromVesselID *string      `json:"from_vessel_id,omitempty"`
	ToVesselID   string       `json:"to_vessel_id"`
	VolumeL      string       `json:"volume_l"`
	TransferDate string       `json:"transfer_date"`
	Reason       string       `json:"reason,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	Warnings     []WarningDTO `json:"warnings,omitempty"`
}

// =============================================================================
// PACKAGING
// =============================================================================

// SubmitPackagingRequest is the request to package batch volume.
type SubmitPackagingRequest struct {
	ID              string  `json:"id"`
	BatchID         string  `json:"batch_id"`
	PackageDate     string  `json:"package_date"`
	VolumePackagedL string  `json:"volume_packaged_l"`
	BottleSize      string  `json:"bottle_size"`
	BottleCount     int64   `json:"bottle_count"`
	ABVAtPackaging  *string `json:"abv_at_packaging,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	IdempotencyKey  string  `json:"idempotency_key,omitempty"`
	RecordedBy      string  `json:"recorded_by,omitempty"`
}

// PackagingRunDTO represents a committed packaging run.
type PackagingRunDTO struct {
	ID              string  `json:"id"`
	BatchID         string  `json:"batch_id"`
	PackageDate     string  `json:"package_date"`
	VolumePackagedL string  `json:"volume_packaged_l"`
	BottleSize      string  `json:"bottle_size"`
	BottleCount     int64   `json:"bottle_count"`
	ABVAtPackaging  *string `json:"abv_at_packaging,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	PasteurizedAt   *string `json:"pasteurized_at,omitempty"`
	LabeledAt       *string `json:"labeled_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

// =============================================================================
// MEASUREMENTS
// =============================================================================

// SubmitMeasurementRequest records lab readings against a batch. All
// reading fields are optional; present ones are range-checked.
type SubmitMeasurementRequest struct {
	ID              string  `json:"id"`
	MeasurementDate string  `json:"measurement_date"`
	SpecificGravity *string `json:"specific_gravity,omitempty"`
	ABV             *string `json:"abv,omitempty"`
	PH              *string `json:"ph,omitempty"`
	TotalAcidity    *string `json:"total_acidity,omitempty"`
	Temperature     *string `json:"temperature,omitempty"`
	VolumeL         *string `json:"volume_l,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	TakenBy         string  `json:"taken_by,omitempty"`
}

// MeasurementDTO represents a recorded measurement. Warnings carry
// advisory findings (unusually high ABV etc.) that did not block the
// write.
type MeasurementDTO struct {
	ID              string       `json:"id"`
	BatchID         string       `json:"batch_id"`
	MeasurementDate string       `json:"measurement_date"`
	SpecificGravity *string      `json:"specific_gravity,omitempty"`
	ABV             *string      `json:"abv,omitempty"`
	PH              *string      `json:"ph,omitempty"`
	TotalAcidity    *string      `json:"total_acidity,omitempty"`
	Temperature     *string      `json:"temperature,omitempty"`
	VolumeL         *string      `json:"volume_l,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	TakenBy         string       `json:"taken_by,omitempty"`
	Warnings        []WarningDTO `json:"warnings,omitempty"`
}

// WarningDTO is an advisory finding attached to an accepted write.
type WarningDTO struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// PhysicalCountRequest is one vessel's counted volume.
type PhysicalCountRequest struct {
	ID              string  `json:"id"`
	VesselID        string  `json:"vessel_id"`
	BatchID         *string `json:"batch_id,omitempty"`
	BookVolumeL     string  `json:"book_volume_l"`
	PhysicalVolumeL string  `json:"physical_volume_l"`
	CountedAt       string  `json:"counted_at"`
	CountedBy       string  `json:"counted_by"`
	Method          string  `json:"method"`
}

// BuildReconciliationRequest assembles a draft reconciliation snapshot.
// Physical quantities are liters; the engine converts to wine gallons.
type BuildReconciliationRequest struct {
	ID                 string `json:"id"`
	ReconciliationDate string `json:"reconciliation_date"`
	PeriodStartDate    string `json:"period_start_date"`
	PeriodEndDate      string `json:"period_end_date"`

	ProductionPressRunsL      string `json:"production_press_runs_l"`
	ProductionJuicePurchasesL string `json:"production_juice_purchases_l"`
	RemovalsTaxPaidL          string `json:"removals_tax_paid_l"`
	OtherLossesL              string `json:"other_losses_l"`

	Counts []PhysicalCountRequest `json:"counts"`

	TTBBalanceGal string `json:"ttb_balance_gal"`
	TTBSourceType string `json:"ttb_source_type"`

	InventoryBulkL     string `json:"inventory_bulk_l"`
	InventoryPackagedL string `json:"inventory_packaged_l"`
	InventoryRemovalsL string `json:"inventory_removals_l"`
	InventoryLegacyL   string `json:"inventory_legacy_l"`
}

// ReconciliationDTO represents a reconciliation snapshot. All gallon
// fields are wine gallons.
type ReconciliationDTO struct {
	ID                       string  `json:"id"`
	ReconciliationDate       string  `json:"reconciliation_date"`
	PeriodStartDate          string  `json:"period_start_date"`
	PeriodEndDate            string  `json:"period_end_date"`
	PreviousReconciliationID *string `json:"previous_reconciliation_id,omitempty"`
	Status                   string  `json:"status"`

	OpeningBalanceGal   string `json:"opening_balance_gal"`
	CalculatedEndingGal string `json:"calculated_ending_gal"`
	PhysicalCountGal    string `json:"physical_count_gal"`
	VarianceGal         string `json:"variance_gal"`

	TTBBalanceGal string `json:"ttb_balance_gal"`
	TTBSourceType string `json:"ttb_source_type"`

	InventoryOnHandGal       string `json:"inventory_on_hand_gal"`
	InventoryAccountedForGal string `json:"inventory_accounted_for_gal"`
	InventoryDifferenceGal   string `json:"inventory_difference_gal"`

	ProductionTotalGal string `json:"production_total_gal"`
	RemovalsTaxPaidGal string `json:"removals_tax_paid_gal"`
	OtherLossesGal     string `json:"other_losses_gal"`

	IsReconciled           bool   `json:"is_reconciled"`
	DiscrepancyExplanation string `json:"discrepancy_explanation,omitempty"`
}

// SubmitAdjustmentRequest explains part of a reconciliation variance.
type SubmitAdjustmentRequest struct {
	ID            string  `json:"id"`
	Reason        string  `json:"reason"`
	VolumeBeforeL string  `json:"volume_before_l"`
	VolumeAfterL  string  `json:"volume_after_l"`
	BatchID       *string `json:"batch_id,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	CreatedBy     string  `json:"created_by,omitempty"`
}

// FinalizeReconciliationRequest locks a reviewed snapshot.
type FinalizeReconciliationRequest struct {
	DiscrepancyExplanation string `json:"discrepancy_explanation,omitempty"`
}

// =============================================================================
// TAX
// =============================================================================

// ComputeTaxRequest computes excise tax for taxable removals during a
// period. Removals are keyed channel -> tax class -> wine gallons.
type ComputeTaxRequest struct {
	PeriodEndDate      string                       `json:"period_end_date"`
	TaxableRemovalsGal map[string]map[string]string `json:"taxable_removals_gal"`
	PriorCreditGallons string                       `json:"prior_credit_gallons,omitempty"`
}

// ClassTaxDTO is one computed tax line.
type ClassTaxDTO struct {
	Class          string `json:"class"`
	TaxableGallons string `json:"taxable_gallons"`
	GrossTax       string `json:"gross_tax"`
	Credit         string `json:"credit"`
	NetTaxOwed     string `json:"net_tax_owed"`
	EffectiveRate  string `json:"effective_rate"`
}

// ComputeTaxResponse is the full tax computation result.
type ComputeTaxResponse struct {
	RateVersion string        `json:"rate_version"`
	Lines       []ClassTaxDTO `json:"lines"`
	TotalTaxDue string        `json:"total_tax_due"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the JSON error envelope. Code and Kind are present
// for guard rejections so clients can branch without string matching.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
