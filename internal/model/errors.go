package model

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrWalletNotFound      = errors.New("wallet_not_found")
	ErrCoinNotFound        = errors.New("coin_not_found")
	ErrInsufficientFunds   = errors.New("insufficient_funds")
	ErrInsufficientHolding = errors.New("insufficient_holding")

	// ErrStorageBusy marks transient storage failures (lock wait timeout,
	// dropped connection). The whole operation is safe to retry.
	ErrStorageBusy = errors.New("storage_busy")
)

// ValidationError rejects an order before any mutation happens.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
