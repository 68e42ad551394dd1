package storage

import "errors"

// Storage errors shared by all implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Purchase and vesting stores are
	// append-only and do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLimitExceeded is returned by RecordPurchase when the purchase
	// would push the wallet past its lifetime cap. The check runs inside
	// the store's transaction so concurrent purchases cannot both pass.
	ErrLimitExceeded = errors.New("wallet limit exceeded")

	// ErrAllocationExceeded is returned by Reserve when the round's
	// token allocation cannot cover the requested amount.
	ErrAllocationExceeded = errors.New("round allocation exceeded")

	// ErrAlreadyClaimed is returned by MarkClaimed when any requested
	// event has already been claimed. The store refuses the whole batch
	// so a stale snapshot can never issue tokens twice.
	ErrAlreadyClaimed = errors.New("event already claimed")
)
