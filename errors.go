package ceremony

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSizeParameter is returned when a size parameter or circuit is
	// outside of what the engine supports.
	ErrInvalidSizeParameter = errors.New("invalid size parameter")
	// ErrVerificationFailed is returned when an artifact fails its structural
	// or cryptographic check.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrStaleBase is returned when a contribution was computed against an
	// artifact that is no longer the current one.
	ErrStaleBase = errors.New("stale base artifact")
	// ErrChallengeMismatch is returned when a response does not answer the
	// outstanding challenge.
	ErrChallengeMismatch = errors.New("response does not match the outstanding challenge")
	// ErrNoContributions is returned when closing a ceremony nobody
	// contributed to.
	ErrNoContributions = errors.New("no contributions")
	// ErrArtifactIO is returned on store or journal failures.
	ErrArtifactIO = errors.New("artifact i/o error")
	// ErrStage is returned when an operation is not allowed in the current
	// stage.
	ErrStage = errors.New("operation not allowed in this stage")
	// ErrFinalized is returned for any mutation of a finalized ceremony.
	ErrFinalized = errors.New("ceremony is finalized")
)

// PromotionError is an i/o failure after verification succeeded, while
// making the verified artifact visible. The verified bytes are left in the
// staging location Temp for the operator to inspect and move by hand.
type PromotionError struct {
	Name string
	Temp string
	Err  error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("%v: promoting %s (staged at %s) needs manual intervention: %v",
		ErrArtifactIO, e.Name, e.Temp, e.Err)
}

func (e *PromotionError) Unwrap() []error {
	return []error{ErrArtifactIO, e.Err}
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrArtifactIO, op, err)
}

func verificationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrVerificationFailed, fmt.Sprintf(format, args...))
}

// reason maps an error to the label used in rejection metrics.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrVerificationFailed):
		return "verification"
	case errors.Is(err, ErrStaleBase):
		return "stale-base"
	case errors.Is(err, ErrChallengeMismatch):
		return "challenge-mismatch"
	case errors.Is(err, ErrNoContributions):
		return "no-contributions"
	case errors.Is(err, ErrInvalidSizeParameter):
		return "size"
	case errors.Is(err, ErrArtifactIO):
		return "io"
	case errors.Is(err, ErrStage), errors.Is(err, ErrFinalized):
		return "stage"
	default:
		return "other"
	}
}
