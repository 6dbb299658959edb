package repository

import (
	"errors"
	"fmt"
)

// Common errors for repository operations. The specific validation errors
// wrap ErrValidation so callers can match either the family or the case.
var (
	ErrValidation = errors.New("validation error")

	ErrSelfReferral    = fmt.Errorf("%w: user cannot refer themselves", ErrValidation)
	ErrAlreadyReferred = fmt.Errorf("%w: user already has a referrer", ErrValidation)
	ErrCyclicReferral  = fmt.Errorf("%w: referral would create a cycle", ErrValidation)

	ErrUserNotFound  = errors.New("user not found")
	ErrLevelNotFound = errors.New("level not found")

	// ErrStaleLevel is returned when a promotion's optimistic level check
	// fails because a concurrent promotion already moved the user.
	ErrStaleLevel = errors.New("user level changed concurrently")

	// ErrGraphIntegrity is returned when an ancestor walk exceeds the hard
	// safety bound. The cycle guard should make this unreachable.
	ErrGraphIntegrity = errors.New("referral graph integrity violation: ancestor chain too long")
)
