package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes. Callers wrap them
// with fmt.Errorf("%w: ...") to attach trade ids and state context.
var (
	ErrTradeNotFound     = errors.New("trade_not_found")
	ErrAssetNotFound     = errors.New("asset_not_found")
	ErrInvalidState      = errors.New("invalid_state")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSelfTrade         = errors.New("self_trade_rejected")
	ErrAlreadyDone       = errors.New("already_done")
	ErrOwnershipMismatch = errors.New("ownership_mismatch")
	ErrApprovalMissing   = errors.New("approval_missing")
	ErrExpired           = errors.New("trade_expired")

	// ErrSwapInconsistent reports that the first leg of a swap was
	// transferred, the second leg failed, and the compensating reversal
	// of the first leg also failed. The two registries now disagree
	// with the trade record and manual intervention is required.
	ErrSwapInconsistent = errors.New("swap_inconsistent")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
