package models

// ErrorType identifies the category of harness error behind an
// error-outcome run record. The taxonomy separates infrastructure
// malfunctions from assistant failures: an assistant that does not
// fix the bug is a fail outcome, never an error.
type ErrorType string

const (
	// History mining
	ErrScanFailed ErrorType = "scan_failed"

	// Artifact cache
	ErrCacheCorrupted ErrorType = "cache_corrupted"
	ErrLeaseConflict  ErrorType = "lease_conflict"
	ErrLeaseExpired   ErrorType = "lease_expired"

	// Workspace stages
	ErrWorkspaceFailed ErrorType = "workspace_failed"
	ErrCheckoutFailed  ErrorType = "checkout_failed"
	ErrSetupFailed     ErrorType = "setup_failed"

	// Treatment stage
	ErrTreatmentFailed ErrorType = "treatment_failed"

	// Assistant invocation
	ErrAssistantProtocol ErrorType = "assistant_protocol"
	ErrAssistantTimeout  ErrorType = "assistant_timeout"

	// Verification stage
	ErrVerificationTimeout ErrorType = "verification_timeout"

	// Catch-all
	ErrInternal ErrorType = "internal_error"
)

// RunError records why a run record carries the error outcome.
type RunError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}
