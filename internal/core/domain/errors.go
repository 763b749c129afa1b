package domain

import "errors"

var (
	ErrProductNotFound              = errors.New("product not found")
	ErrUserNotFound                 = errors.New("user not found")
	ErrOrderNotFound                = errors.New("order not found")
	ErrInsufficientProductStock     = errors.New("insufficient product stock")
	ErrInsufficientFunds            = errors.New("insufficient funds")
	ErrNotAuthorizedToPerformAction = errors.New("not authorized to perform action")
	ErrInvalidQuantity              = errors.New("quantity must be positive")
	ErrInvalidAmount                = errors.New("amount must be positive")
	ErrInvalidRole                  = errors.New("invalid role")
	ErrInvalidUsername              = errors.New("username is required")
	ErrInvalidProduct               = errors.New("invalid product")
	ErrUserExists                   = errors.New("user already exists")
	ErrAmountOutOfRange             = errors.New("amount out of range")

	// ErrLockContention is transient: the caller may retry.
	ErrLockContention = errors.New("lock contention")

	ErrOrderNotCreated  = errors.New("order could not have been created")
	ErrDuplicateRequest = errors.New("duplicate request")
)
