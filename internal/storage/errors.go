package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrVersionConflict is returned when an optimistic-concurrency update loses
// the race: the row's version no longer matches the caller's.
var ErrVersionConflict = errors.New("storage: version conflict")

// ErrPatternRevoked is returned when an operation targets a revoked approval
// pattern. Revocation is terminal.
var ErrPatternRevoked = errors.New("storage: approval pattern revoked")
