/*
errors.go - Centralized validation error types for the cellar engine

PURPOSE:
  All guard failures across the engine are expressed as a single typed
  error carrying a machine code, a human sentence, and a structured
  details payload. Callers branch on Kind/Code and render UserMessage
  directly without string-parsing.

ERROR CATEGORIES (Kind):
  TransferValidation    - volume/capacity/self-transfer/state violations
  VolumeValidation      - generic volume positivity/bounds violations
  QuantityValidation    - quantity/count/price bounds violations
  PackagingValidation   - batch readiness, overrun, bottle-math mismatch
  MeasurementValidation - out-of-range readings, future-dated measurement
  VesselStateValidation - illegal status transition or unusable vessel
  PermissionValidation  - reserved for caller-side RBAC failures; never
                          raised by this engine

PROPAGATION POLICY:
  Guards fail fast: the first violated rule raises and no further rules
  are evaluated. Reconciliation "not balanced" is NOT an error - it is a
  normal result the caller must inspect.

USAGE:
  if err := cellar.ValidateTransfer(...); err != nil {
      var verr *validation.Error
      if errors.As(err, &verr) {
          render(verr.UserMessage, verr.Details)
      }
  }

SEE ALSO:
  - units.go: volume/quantity/price guards raising these errors
  - measurement.go: physical-reading guards
  - cellar/transfer.go, cellar/packaging.go: composite guards
*/
package validation

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind identifies which guard family rejected the input.
type Kind string

const (
	KindTransfer    Kind = "TransferValidation"
	KindVolume      Kind = "VolumeValidation"
	KindQuantity    Kind = "QuantityValidation"
	KindPackaging   Kind = "PackagingValidation"
	KindMeasurement Kind = "MeasurementValidation"
	KindVesselState Kind = "VesselStateValidation"
	KindPermission  Kind = "PermissionValidation"
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the single error type raised by every guard in the engine.
//
// INVARIANTS:
//   - Code is stable and machine-branchable (snake_case)
//   - UserMessage is a complete sentence naming the entity, the rule,
//     and, where derivable, the corrective value
//   - Details carries enough structure to render a field-level UI error
type Error struct {
	Kind        Kind
	Code        string
	Message     string
	UserMessage string
	Details     map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

// New creates a validation error. Details may be nil.
func New(kind Kind, code, message, userMessage string, details map[string]any) *Error {
	return &Error{
		Kind:        kind,
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
		Details:     details,
	}
}

// =============================================================================
// WARNINGS - advisory findings that do not block the operation
// =============================================================================

// Warning flags an unusual-but-legal value (e.g. ABV above 12%).
// Guards that can warn return (*Warning, error); a nil error with a
// non-nil warning means the operation proceeds.
type Warning struct {
	Code    string
	Message string
	Details map[string]any
}

// =============================================================================
// HELPERS
// =============================================================================

// KindOf extracts the validation kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind, true
	}
	return "", false
}

// CodeOf extracts the machine code from an error chain.
func CodeOf(err error) (string, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code, true
	}
	return "", false
}

// IsValidation reports whether err is (or wraps) a guard rejection.
// These map to HTTP 400 at the API boundary; everything else is a 500.
func IsValidation(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}
