package repositories

import "errors"

// ErrNotFound is returned when the requested record does not exist.
// Callers should check with errors.Is to distinguish missing records from
// other database errors.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert or update violates a unique
// constraint, e.g. creating a study with a code that already exists.
var ErrConflict = errors.New("record already exists")
