package giveaway

import "errors"

// Precondition failures. The operation that returns one leaves state unchanged.
var (
	ErrNotInitialized      = errors.New("giveaway: not initialized")
	ErrAlreadyInitialized  = errors.New("giveaway: already initialized")
	ErrInactive            = errors.New("giveaway: contract disabled")
	ErrNoAccess            = errors.New("giveaway: caller has no access")
	ErrEventNotFound       = errors.New("giveaway: event not found")
	ErrWrongStatus         = errors.New("giveaway: event in wrong status")
	ErrWindowClosed        = errors.New("giveaway: registration window closed")
	ErrTooEarly            = errors.New("giveaway: event time not reached")
	ErrInvalidRewards      = errors.New("giveaway: rewards must be positive")
	ErrTooManyRewards      = errors.New("giveaway: reward count out of range")
	ErrTextTooLong         = errors.New("giveaway: text too long")
	ErrInvalidWindow       = errors.New("giveaway: registration window start after end")
	ErrUnreachable         = errors.New("giveaway: registration already ended and no participants")
	ErrInsufficientDeposit = errors.New("giveaway: not enough deposit")
	ErrTokenNotAllowed     = errors.New("giveaway: token not allowed")
	ErrNoParticipants      = errors.New("giveaway: no participants")
	ErrShortSeed           = errors.New("giveaway: random seed too short")
	ErrPayoutsPending      = errors.New("giveaway: payouts not complete")
	ErrBatchMismatch       = errors.New("giveaway: batch does not match payouts")
)

var preconditions = []error{
	ErrNotInitialized,
	ErrAlreadyInitialized,
	ErrInactive,
	ErrNoAccess,
	ErrEventNotFound,
	ErrWrongStatus,
	ErrWindowClosed,
	ErrTooEarly,
	ErrInvalidRewards,
	ErrTooManyRewards,
	ErrTextTooLong,
	ErrInvalidWindow,
	ErrUnreachable,
	ErrInsufficientDeposit,
	ErrTokenNotAllowed,
	ErrNoParticipants,
	ErrShortSeed,
	ErrPayoutsPending,
	ErrBatchMismatch,
}

// IsPrecondition reports whether err is a rejected operation rather than an
// infrastructure failure.
func IsPrecondition(err error) bool {
	for _, target := range preconditions {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
