package store

import "errors"

// Sentinel errors returned by store methods to signal well-known failure
// conditions. Callers should use [errors.Is] to match against these values.
var (
	// ErrResourceNotFound is returned when the requested record id has no
	// holder row, or the holder is soft-deleted and the caller did not ask
	// for deleted records.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrResourceDeleted is returned by Update when the target record's
	// holder carries the deleted flag. Updating a tombstoned record is a
	// consistency error on the caller's side, not a retryable condition.
	ErrResourceDeleted = errors.New("resource is deleted")

	// ErrBaseVersionNotFound is returned by Update when the requested base
	// version id does not exist for the record.
	ErrBaseVersionNotFound = errors.New("base version not found")

	// ErrInvalidQuery is returned when a query mixes predicate filtering
	// with search mode, or uses a column or operator outside the entity's
	// schema.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNestedTransaction is returned when RunExclusive is called from
	// inside a running exclusive transaction. The queue admits one
	// transaction at a time, so a nested start can only deadlock.
	ErrNestedTransaction = errors.New("nested exclusive transaction")
)

// Low-level database operation errors. These wrap driver failures that
// occur before any domain logic applies.
var (
	// ErrBuildingSQLQuery is returned when constructing a parameterised
	// SQL query fails.
	ErrBuildingSQLQuery = errors.New("error building sql query")

	// ErrExecutingQuery is returned when executing a query against the
	// database fails.
	ErrExecutingQuery = errors.New("error executing sql query")

	// ErrScanningRow is returned when scanning column values from a result
	// row fails.
	ErrScanningRow = errors.New("failed to scan resource row")

	// ErrBeginningTransaction is returned when the driver cannot start a
	// new transaction.
	ErrBeginningTransaction = errors.New("failed to begin transaction")

	// ErrCommittingTransaction is returned when committing an open
	// transaction fails. The transaction is rolled back at this point.
	ErrCommittingTransaction = errors.New("failed to commit transaction")
)
