package domain

import "errors"

// ErrorKind classifies engine rejections so transports can map them without
// enumerating every sentinel.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthorization
	KindState
	KindEconomic
	KindNotFound
)

// Error is a classified sentinel. Each rejection reason is its own *Error
// value, so errors.Is matches by identity.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func validation(msg string) *Error { return &Error{Kind: KindValidation, msg: msg} }
func authz(msg string) *Error      { return &Error{Kind: KindAuthorization, msg: msg} }
func state(msg string) *Error      { return &Error{Kind: KindState, msg: msg} }
func economic(msg string) *Error   { return &Error{Kind: KindEconomic, msg: msg} }
func notFound(msg string) *Error   { return &Error{Kind: KindNotFound, msg: msg} }

// KindOf returns the classification of err, or KindInternal when err does not
// wrap an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Infrastructure.
var (
	ErrNotFound       = notFound("not found")
	ErrAlreadyExists  = state("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrLockHeld       = errors.New("lock already held")
	ErrTransferFailed = errors.New("transfer failed")
)

// Validation.
var (
	ErrInvalidResolutionTime   = validation("invalid resolution time")
	ErrInvalidQuestion         = validation("invalid question")
	ErrInsufficientBond        = validation("insufficient creator bond")
	ErrInvalidBondAmount       = validation("invalid bond amount")
	ErrBetTooSmall             = validation("bet too small")
	ErrBetTooLarge             = validation("bet too large")
	ErrInvalidOutcome          = validation("invalid outcome")
	ErrInvalidEvidence         = validation("invalid evidence")
	ErrInsufficientDisputeBond = validation("insufficient dispute bond")
	ErrZeroAddress             = validation("zero address")
	ErrIncorrectPayment        = validation("payment does not match amount")
	ErrInvalidAmount           = validation("invalid amount")
	ErrArrayLengthMismatch     = validation("array length mismatch")
	ErrInvalidThreshold        = validation("Invalid threshold")
	ErrInvalidValue            = validation("invalid value")
	ErrInvalidVersion          = validation("invalid version")
	ErrValueBelowMinimum       = validation("value below minimum")
	ErrValueAboveMaximum       = validation("value above maximum")
	ErrNoRewardsToClaim        = validation("no rewards to claim")
	ErrNoFeesToCollect         = validation("no fees to collect")
	ErrNoUnclaimedWinnings     = validation("no unclaimed winnings")
	ErrNoWinnings              = validation("no winnings to claim")
)

// Authorization.
var (
	ErrUnauthorized          = authz("unauthorized")
	ErrOnlyFactory           = authz("only factory")
	ErrOnlyResolutionManager = authz("only resolution manager")
	ErrUnauthorizedResolver  = authz("unauthorized resolver")
	ErrOnlyAdmin             = authz("Only admin")
)

// State.
var (
	ErrMarketNotActive             = state("market not active")
	ErrMarketAlreadyApproved       = state("market already approved")
	ErrMarketAlreadyRejected       = state("market already rejected")
	ErrMarketNotApproved           = state("market not approved")
	ErrMarketNotResolved           = state("Market not resolved")
	ErrMarketAlreadyResolved       = state("market already resolved")
	ErrInvalidTransition           = state("invalid state transition")
	ErrAlreadyClaimed              = state("already claimed")
	ErrCannotChangeBet             = state("cannot change bet outcome")
	ErrDisputeAlreadyExists        = state("dispute already exists")
	ErrDisputeWindowClosed         = state("dispute window closed")
	ErrDisputeWindowActive         = state("dispute window still open")
	ErrResolutionTooEarly          = state("resolution time not reached")
	ErrResolutionDisputed          = state("resolution is disputed")
	ErrNoActiveCommunityDispute    = state("No active community dispute")
	ErrNoResolutionFound           = state("no resolution found")
	ErrNoDisputeFound              = state("no dispute found")
	ErrNoHeldBonds                 = state("No held bonds")
	ErrNoAccumulatedFees           = state("No accumulated fees")
	ErrTooEarlyForEmergency        = state("Too early for emergency withdrawal")
	ErrInsufficientTreasuryBalance = state("insufficient treasury balance")
	ErrBondAlreadyRefunded         = state("creator bond already refunded")
	ErrBondNotRefundable           = state("creator bond not refundable")
	ErrNoDefaultCurve              = state("no default curve set")
	ErrPaused                      = state("paused")
	ErrReentrantCall               = state("reentrant call")
	ErrNoFundsToWithdraw           = state("No funds to withdraw")
	ErrParameterNotFound           = notFound("parameter not found")
	ErrContractNotFound            = notFound("contract not found")
	ErrMarketNotFound              = notFound("market not found")
)

// Economic.
var (
	ErrSlippageTooHigh = economic("slippage too high")
	ErrDeadlineExpired = economic("deadline expired")
)
