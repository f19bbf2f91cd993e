package service

import "errors"

// Service errors. Every operation reports failures in terms of one of
// these sentinels; callers match with errors.Is.
var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrDuplicateWallet     = errors.New("wallet already exists for this currency")
	ErrUserNotFound        = errors.New("user not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletInactive      = errors.New("wallet is inactive")
	ErrKYCRequired         = errors.New("KYC verification required")
	ErrLimitExceeded       = errors.New("daily or monthly limit exceeded")
	ErrInvalidAmount       = errors.New("amount must be positive with at most 2 decimal places")
	ErrInvalidDestination  = errors.New("destination account must not be empty")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrSelfTransfer        = errors.New("cannot transfer to self")
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
	ErrProviderUnreachable = errors.New("rate provider unreachable")
	ErrInvalidSignature    = errors.New("webhook signature invalid")
)
