// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package service implements the vault's API surface: user accounts, the
// credential and session vault, the encrypted file tree with its
// capability grants, and the chunked copy-on-write content store.
//
// All mutating operations run inside the store's single-writer exclusive
// transaction; decrypted key material only ever exists as transient
// in-memory values scoped to the unlocking call chain.
package service

import (
	"context"
	"time"

	"github.com/MKhiriev/go-file-vault/internal/store"
	"github.com/MKhiriev/go-file-vault/models"
)

// UserService manages accounts.
type UserService interface {
	// Register creates an account together with its initial password
	// credential. The first account of an empty vault is promoted to
	// SiteAdmin.
	Register(ctx context.Context, username, firstName, middleName, lastName string, password []byte) (models.User, models.UnlockedCredential, error)

	// GetByID returns an account by record id.
	GetByID(ctx context.Context, id int64) (models.User, error)

	// GetByUsername returns an account by its case-insensitive username.
	GetByUsername(ctx context.Context, username string) (models.User, error)

	// List returns accounts matching the query options.
	List(ctx context.Context, opts store.QueryOptions) ([]models.User, error)

	// Update patches an account's profile fields. Empty fields are left
	// unchanged; role and suspension are managed by their own methods.
	Update(ctx context.Context, userID int64, patch models.User) (models.User, error)

	// SetRole moves an account to another privilege tier.
	SetRole(ctx context.Context, userID int64, role models.UserRole) (models.User, error)

	// SetSuspended suspends or reinstates an account.
	SetSuspended(ctx context.Context, userID int64, suspended bool) (models.User, error)

	// SetupRequired reports whether the vault has no administrator yet.
	SetupRequired(ctx context.Context) (bool, error)
}

// VaultService wraps and unwraps user private keys behind payload-derived
// secrets and issues short-lived session keys.
type VaultService interface {
	// CreateCredential generates the user's key pair and stores the
	// private key encrypted under a key derived from payload. Fails with
	// [ErrCredentialExists] when the user already has a credential; use
	// AddCredential for additional factors.
	CreateCredential(ctx context.Context, user models.User, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error)

	// AddCredential stores an additional login factor wrapping the same
	// private key under a new payload-derived key.
	AddCredential(ctx context.Context, identity models.UnlockedCredential, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error)

	// Unlock re-derives the KDF key and decrypts the private key. A tag
	// mismatch is the wrong-secret signal and yields [ErrWrongSecret].
	Unlock(credential models.Credential, payload []byte) (models.UnlockedCredential, error)

	// FindByPayload tries Unlock against each of the user's credentials
	// of the given type, returning the first success or [ErrWrongSecret].
	FindByPayload(ctx context.Context, user models.User, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error)

	// SetPassword rotates the user's password credential in place,
	// re-wrapping the private key under the new payload.
	SetPassword(ctx context.Context, user models.User, oldPayload, newPayload []byte) (models.UnlockedCredential, error)

	// Authenticate resolves the user, unlocks a credential by payload and
	// issues a session. The returned session id and key together form the
	// bearer token.
	Authenticate(ctx context.Context, username string, credType models.CredentialType, payload []byte) (models.UnlockedSession, error)

	// CreateSession issues a session from an unlocked credential. A ttl
	// of zero uses the configured default (30 days).
	CreateSession(ctx context.Context, identity models.UnlockedCredential, ttl time.Duration) (models.UnlockedSession, error)

	// RestoreSession re-establishes an identity from a bearer token. It
	// verifies expiry, that the user is not suspended and that the
	// originating credential still exists.
	RestoreSession(ctx context.Context, sessionID int64, sessionKey []byte) (models.UnlockedCredential, error)

	// DeleteSession revokes a session.
	DeleteSession(ctx context.Context, sessionID int64) error

	// PurgeExpiredSessions hard-deletes sessions past their expiry and
	// returns how many were removed.
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// FileService maintains the per-owner encrypted file tree and its
// capability grants.
type FileService interface {
	// GetRoot returns the identity's root folder, creating it on first
	// use with a key sealed to the owner's public key.
	GetRoot(ctx context.Context, identity models.UnlockedCredential) (models.File, error)

	// GetByID returns a file by record id.
	GetByID(ctx context.Context, fileID int64) (models.File, error)

	// Create inserts a file or folder under an unlocked parent. A name
	// collision is resolved by appending a numeric suffix.
	Create(ctx context.Context, identity models.UnlockedCredential, parent models.UnlockedFile, name string, fileType models.FileType) (models.UnlockedFile, error)

	// Unlock recovers the file's symmetric key for the identity. Owners
	// unlock through the ancestor chain; non-owners need a grant on this
	// exact node at requiredLevel or higher, and requiredLevel must be
	// supplied (grants do not cascade to descendants).
	Unlock(ctx context.Context, file models.File, identity models.UnlockedCredential, requiredLevel models.FileAccessLevel) (models.UnlockedFile, error)

	// Children lists the live files directly under a folder.
	Children(ctx context.Context, folder models.File) ([]models.File, error)

	// GrantAccess re-wraps the file key for targetUser at the given
	// level, replacing any existing grant. The granter must unlock the
	// file at Manage. AccessNone revokes.
	GrantAccess(ctx context.Context, file models.File, granter models.UnlockedCredential, targetUser models.User, level models.FileAccessLevel) error

	// RevokeAccess deletes the grant for (file, targetUser). Targeting
	// the owner is rejected.
	RevokeAccess(ctx context.Context, file models.File, granter models.UnlockedCredential, targetUser models.User) error

	// AccessLevel reports the user's effective level on the file: Full
	// for the owner, the live grant's level otherwise.
	AccessLevel(ctx context.Context, file models.File, user models.User) (models.FileAccessLevel, error)

	// ListAccesses lists the live grants on a file.
	ListAccesses(ctx context.Context, file models.File) ([]models.FileAccess, error)

	// ListShared lists the grants held by a user across all files.
	ListShared(ctx context.Context, user models.User) ([]models.FileAccess, error)

	// Move re-parents a file. The destination must be a folder of the
	// same owner, must not collide on name and must not be the file
	// itself or one of its descendants.
	Move(ctx context.Context, identity models.UnlockedCredential, file models.File, newParent models.File) (models.File, error)

	// Delete tombstones a file. History remains for Restore.
	Delete(ctx context.Context, file models.File) error

	// Restore clears a file's tombstone.
	Restore(ctx context.Context, file models.File) error
}

// ContentService is the chunked copy-on-write content store.
type ContentService interface {
	// GetMainContent returns the file's primary byte stream, creating it
	// lazily. Folders are rejected.
	GetMainContent(ctx context.Context, file models.File) (models.FileContent, error)

	// GetMainSnapshot returns the root snapshot of a content stream,
	// creating it lazily.
	GetMainSnapshot(ctx context.Context, file models.UnlockedFile, content models.FileContent) (models.FileSnapshot, error)

	// ListSnapshots lists all snapshots of a content stream.
	ListSnapshots(ctx context.Context, file models.UnlockedFile, content models.FileContent) ([]models.FileSnapshot, error)

	// Fork creates a copy-on-write child snapshot. Blocks are shared with
	// the base until rewritten.
	Fork(ctx context.Context, file models.UnlockedFile, content models.FileContent, base models.FileSnapshot, creator models.User) (models.FileSnapshot, error)

	// Write splices data into the snapshot at position, re-encrypting
	// every touched block with a fresh IV and garbage-collecting buffers
	// that lose their last reference.
	Write(ctx context.Context, file models.UnlockedFile, content models.FileContent, snapshot models.FileSnapshot, position int64, data []byte) error

	// Truncate shortens a snapshot to size bytes. Growing is rejected;
	// the cut region reads as zeros afterwards, even on a forked snapshot
	// whose base still holds the bytes.
	Truncate(ctx context.Context, file models.UnlockedFile, content models.FileContent, snapshot models.FileSnapshot, size int64) error

	// Read decrypts the requested range. Absent block indices read as
	// zeros; a position at or past the content size is rejected and the
	// length is clamped to the remainder.
	Read(ctx context.Context, file models.UnlockedFile, content models.FileContent, snapshot models.FileSnapshot, position, length int64) ([]byte, error)

	// Open starts a positioned read/write session on the file's main
	// content. The first write in the session forks the snapshot.
	Open(ctx context.Context, identity models.UnlockedCredential, file models.File, snapshot *models.FileSnapshot) (*Handle, error)
}

// VirusScanner is the collaborator seam for the surrounding API layer:
// scanning consumes the content store through Read like any other reader.
// The core never invokes it.
type VirusScanner interface {
	// Scan returns the names of detections found in the file's content.
	Scan(ctx context.Context, file models.UnlockedFile) ([]string, error)
}
