// Package clock abstracts wall-clock access so the alert evaluator's
// time-based ladder can be tested deterministically.
package clock

import "time"

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns the current UTC instant.
func (System) Now() time.Time {
	return time.Now().UTC()
}
