package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a service wraps exactly one of
// these; callers route on them with [errors.Is]. Decryption failures are
// deliberately folded into ErrUnauthorized or ErrForbidden so that a wrong
// secret and a forged token are indistinguishable.
var (
	// ErrNotFound is returned when a record, file or user does not exist
	// or is soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned on insufficient access level, wrong owner
	// or a revoked grant.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidRequest is returned on malformed input: bad names, cyclic
	// moves, out-of-range offsets, stale base versions.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized is returned when a credential or session fails to
	// unlock: wrong secret, unknown or expired session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when a unique constraint is violated, such
	// as a taken username or an already existing initial credential.
	ErrConflict = errors.New("conflict")
)

// Specific sentinels. Each wraps its kind so both granular and kind-level
// matching work.
var (
	ErrUsernameInvalid = fmt.Errorf("%w: invalid username", ErrInvalidRequest)
	ErrUsernameTaken   = fmt.Errorf("%w: username already taken", ErrConflict)
	ErrUserSuspended   = fmt.Errorf("%w: user is suspended", ErrForbidden)

	ErrCredentialExists = fmt.Errorf("%w: user already has an initial credential", ErrConflict)
	ErrWrongSecret      = fmt.Errorf("%w: wrong secret", ErrUnauthorized)
	ErrSessionExpired   = fmt.Errorf("%w: session expired", ErrUnauthorized)
	ErrSessionUnknown   = fmt.Errorf("%w: unknown session", ErrUnauthorized)

	ErrFileNameInvalid     = fmt.Errorf("%w: invalid file name", ErrInvalidRequest)
	ErrFileExists          = fmt.Errorf("%w: destination already has a file with that name", ErrInvalidRequest)
	ErrCyclicMove          = fmt.Errorf("%w: cannot move a folder into itself or its descendant", ErrInvalidRequest)
	ErrCrossOwnerMove      = fmt.Errorf("%w: cannot move files between owners", ErrInvalidRequest)
	ErrNotAFolder          = fmt.Errorf("%w: target is not a folder", ErrInvalidRequest)
	ErrIsAFolder           = fmt.Errorf("%w: folders have no content", ErrInvalidRequest)
	ErrAccessLevelRequired = fmt.Errorf("%w: access level is required when not the owner", ErrForbidden)
	ErrOwnerAccess         = fmt.Errorf("%w: the owner's access cannot be granted or revoked", ErrInvalidRequest)

	ErrReadOutOfRange = fmt.Errorf("%w: read position is past the end of content", ErrInvalidRequest)
)
