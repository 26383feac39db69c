package store

import "errors"

var (
	ErrNotFound       = errors.New("row not found")
	ErrDuplicateEvent = errors.New("event already in inbox")
)
