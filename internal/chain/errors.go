package chain

import "errors"

// Validation errors returned by Assemble and Chain.Validate.
var (
	// ErrSelfLoop indicates a transition whose destination equals its source.
	ErrSelfLoop = errors.New("transition loops back to its source")

	// ErrNegativeDuration indicates a transition with a duration below zero.
	ErrNegativeDuration = errors.New("transition duration is negative")

	// ErrBadProbability indicates a probability outside (0, 1].
	ErrBadProbability = errors.New("transition probability out of range")

	// ErrProbabilitySum indicates outgoing probabilities that do not sum to 1.
	ErrProbabilitySum = errors.New("outgoing probabilities do not sum to 1")

	// ErrDuplicateTransition indicates the same destination and duration listed twice.
	ErrDuplicateTransition = errors.New("duplicate transition")

	// ErrOpenChain indicates a destination with no entry of its own.
	ErrOpenChain = errors.New("destination state has no outgoing distribution")

	// ErrSinkWeight indicates a sink policy weight below one.
	ErrSinkWeight = errors.New("sink weight must be at least 1")

	// ErrSinkDuration indicates a negative sink policy duration.
	ErrSinkDuration = errors.New("sink duration must not be negative")
)
