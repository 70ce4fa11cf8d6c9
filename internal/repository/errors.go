package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row. Callers treat it as
// a normal outcome (unknown callback ids, missing batches), not a failure.
var ErrNotFound = errors.New("record not found")
