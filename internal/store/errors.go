package store

import "errors"

// Sentinel errors returned by the store. Callers match with errors.Is.
var (
	// ErrTradeNotFound is returned when a trade id has no row in this
	// run's trades table.
	ErrTradeNotFound = errors.New("trade not found")

	// ErrNoData is returned when the options chain has no rows at all
	// for the requested range.
	ErrNoData = errors.New("no options data")
)
