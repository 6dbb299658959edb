package service

import (
	"errors"
	"fmt"
	"strings"
)

// Service-level errors.
var (
	// ErrNoNextLevel is returned when a promotion is requested for a user
	// already at the terminal level.
	ErrNoNextLevel = errors.New("no next level available")

	// ErrForcedFlagRequired is returned when an administrative promotion is
	// attempted without the explicit forced flag.
	ErrForcedFlagRequired = errors.New("administrative promotion requires the forced flag")
)

// InsufficientRequirementsError is returned when a promotion is requested
// for a user whose referral structure does not qualify. It carries the
// per-branch deficits from the evaluation.
type InsufficientRequirementsError struct {
	MissingRequirements []string
}

func (e *InsufficientRequirementsError) Error() string {
	if len(e.MissingRequirements) == 0 {
		return "promotion requirements not met"
	}
	return fmt.Sprintf("promotion requirements not met: %s", strings.Join(e.MissingRequirements, "; "))
}

// IsInsufficientRequirements reports whether err is an
// InsufficientRequirementsError.
func IsInsufficientRequirements(err error) bool {
	var ire *InsufficientRequirementsError
	return errors.As(err, &ire)
}
