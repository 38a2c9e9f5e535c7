package ledger

import "errors"

var (
	// ErrAlreadyExists is returned by CreateEntry when an entry file for the
	// task ID is already present.
	ErrAlreadyExists = errors.New("ledger entry already exists")

	// ErrNotFound is returned by mutations that require an existing entry.
	// Reader queries report a miss as an empty result instead.
	ErrNotFound = errors.New("ledger entry not found")
)
