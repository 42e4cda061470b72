// ABOUTME: Quota error types surfaced to callers
// ABOUTME: ExceededError carries the numbers behind a denial

package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is wrapped by every admission denial.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNegativeUnits is returned when asked to record a negative cost.
	ErrNegativeUnits = errors.New("units must not be negative")

	// ErrReservationClosed is returned when a reservation is settled twice.
	ErrReservationClosed = errors.New("reservation already settled")
)

// ExceededError describes why an admission was denied.
type ExceededError struct {
	PrincipalID string
	Period      Period
	Used        int64
	Reserved    int64
	Requested   int64
	Limit       int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d used + %d reserved + %d requested > limit %d for %s",
		e.Used, e.Reserved, e.Requested, e.Limit, e.Period)
}

func (e *ExceededError) Unwrap() error {
	return ErrQuotaExceeded
}
