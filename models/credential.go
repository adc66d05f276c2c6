// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// CredentialType distinguishes the kinds of login factors a user can hold.
type CredentialType int

const (
	// CredentialPassword is a secret payload typed by the user.
	CredentialPassword CredentialType = iota

	// CredentialRecoveryCode is a machine-generated payload handed to the
	// user once at creation time.
	CredentialRecoveryCode
)

// Credential is one login factor of a user. The asymmetric private key is
// stored encrypted under a key derived from the factor's secret payload;
// the public key is stored in the clear. All credentials of one user wrap
// the same private key, so any factor unlocks the same identity.
type Credential struct {
	Resource

	UserID int64
	Type   CredentialType

	// Iterations is the KDF time cost fixed at creation. It is persisted
	// per credential so the cost can be raised for new credentials without
	// invalidating old ones.
	Iterations int

	// Salt feeds the KDF together with the secret payload.
	Salt []byte

	// IV and AuthTag belong to the symmetric encryption of the private
	// key. A failed tag check is the wrong-secret signal: there is no
	// separate password check.
	IV      []byte
	AuthTag []byte

	EncryptedPrivateKey []byte
	PublicKey           []byte
}

// UnlockedCredential is a Credential whose private key has been decrypted.
// It exists only in memory, scoped to the unlocking call chain, and is the
// identity value passed to the file tree and content store.
type UnlockedCredential struct {
	Credential

	PrivateKey []byte
}

// Session re-wraps an unlocked credential's private key under a fresh
// random session key. The (session id, session key) pair is the bearer
// token; the password-derived key never leaves the credential row, so
// deleting a session revokes it without touching the credential.
type Session struct {
	Resource

	UserID int64

	// OriginCredentialID is the credential the session was minted from.
	// Restoring a session re-checks that this credential still exists, so
	// deleting a credential implicitly invalidates its sessions.
	OriginCredentialID int64

	// ExpireTime is the absolute expiry. Sessions past it fail to restore
	// and are eventually swept by the background worker.
	ExpireTime time.Time

	EncryptedPrivateKey []byte
	IV                  []byte
	AuthTag             []byte
}

// UnlockedSession pairs a Session with its transient key material.
type UnlockedSession struct {
	Session

	// Key is the random session key handed to the caller as half of the
	// bearer token.
	Key []byte

	// PrivateKey is the credential private key recovered through Key.
	PrivateKey []byte
}
