package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
)
