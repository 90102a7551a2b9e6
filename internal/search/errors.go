package search

import "errors"

var (
	// ErrInvalidField is returned when a condition names a field outside the node allow-list.
	ErrInvalidField = errors.New("invalid field")

	// ErrInvalidValue is returned when a condition value does not fit its field.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidPageToken is returned for any token that cannot be decoded
	// back into a page query. It is a client error.
	ErrInvalidPageToken = errors.New("invalid page token")

	// ErrEmptyTieBreakSequence means a keyset was requested for an empty sort sequence.
	ErrEmptyTieBreakSequence = errors.New("empty tie-break sequence")

	// ErrInvalidSortKey is returned by ParseSortKey for unknown names.
	ErrInvalidSortKey = errors.New("invalid sort key")
)
