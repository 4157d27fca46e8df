package domain

import "errors"

var (
	ErrNoQuote       = errors.New("no quote this tick")
	ErrVenueTimeout  = errors.New("venue fetch timed out")
	ErrOrderRejected = errors.New("order rejected")
	ErrLockHeld      = errors.New("lock already held")
)
