package market

import "errors"

var (
	errNilState    = errors.New("market engine: state not configured")
	errNilAsset    = errors.New("market engine: asset ledger not configured")
	errNilRegistry = errors.New("market engine: role registry not configured")

	// Authorization errors.
	ErrNotAuthorized  = errors.New("market engine: caller role does not permit the operation")
	ErrNotController  = errors.New("market engine: caller is not the controller")
	ErrNotBorrower    = errors.New("market engine: caller is not the borrower")
	ErrAccountBlocked = errors.New("market engine: account is blocked")

	// Capacity errors.
	ErrMaxSupplyExceeded = errors.New("market engine: deposit exceeds maximum total supply")
	ErrZeroAmount        = errors.New("market engine: amount rounds to zero")
	ErrInvalidAmount     = errors.New("market engine: amount must be positive")

	// State errors.
	ErrBatchNotExpired           = errors.New("market engine: withdrawal batch not yet expired")
	ErrBatchNotFound             = errors.New("market engine: withdrawal batch not found")
	ErrNoUnpaidBatches           = errors.New("market engine: no unpaid withdrawal batches")
	ErrMaxSupplyBelowOutstanding = errors.New("market engine: new maximum below outstanding supply")
	ErrParameterOutOfBounds      = errors.New("market engine: parameter outside permitted bounds")
	ErrInsufficientBalance       = errors.New("market engine: insufficient balance")
	ErrInsufficientLiquidity     = errors.New("market engine: insufficient liquidity")

	// Arithmetic errors. These are safety-critical: solvency rests on the
	// scaled/normalized conversion never wrapping.
	ErrValueOutOfRange = errors.New("market engine: value exceeds 256 bits")
	ErrUnderflow       = errors.New("market engine: arithmetic underflow")
	ErrDivisionByZero  = errors.New("market engine: division by zero")

	// ErrEmptyQueue is returned by FIFOQueue.First and Shift when the queue
	// holds no batch expiries.
	ErrEmptyQueue = errors.New("market engine: queue is empty")
)

// IsAuthorizationError reports whether err belongs to the authorization
// failure class.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrNotController) ||
		errors.Is(err, ErrNotBorrower) ||
		errors.Is(err, ErrAccountBlocked)
}

// IsCapacityError reports whether err belongs to the capacity failure class.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrMaxSupplyExceeded) ||
		errors.Is(err, ErrZeroAmount) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsStateError reports whether err belongs to the state failure class.
func IsStateError(err error) bool {
	return errors.Is(err, ErrBatchNotExpired) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrNoUnpaidBatches) ||
		errors.Is(err, ErrMaxSupplyBelowOutstanding) ||
		errors.Is(err, ErrParameterOutOfBounds) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientLiquidity)
}

// IsArithmeticError reports whether err belongs to the arithmetic failure
// class.
func IsArithmeticError(err error) bool {
	return errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrUnderflow) ||
		errors.Is(err, ErrDivisionByZero)
}
