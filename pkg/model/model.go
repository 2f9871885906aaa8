// Package model defines the core domain types for contribution-patrol.
package model

import "errors"

var (
	// ErrNotFound is returned when a username or repository has no stored identity.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDuration is returned for temp-ban durations that are not a positive
	// number of days within MaxTempBanDays.
	ErrInvalidDuration = errors.New("duration must be a positive number of days")
)
