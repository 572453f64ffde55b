package governance

import "errors"

// Loading errors.
var (
	ErrTenantNotFound  = errors.New("tenant configuration not found")
	ErrInvalidTenantID = errors.New("invalid tenant id")
	ErrMissingRequired = errors.New("required configuration key missing")
	ErrUnknownKey      = errors.New("unknown configuration key")
	ErrTenantMismatch  = errors.New("tenant_id does not match requested tenant")
)

// Validation errors.
var (
	ErrInvalidConfig   = errors.New("invalid governance configuration")
	ErrCaptureOverlap  = errors.New("field appears in more than one capture tier")
	ErrDuplicateSource = errors.New("duplicate knowledge source id")
)
