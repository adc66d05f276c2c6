// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MKhiriev/go-file-vault/internal/config"
	"github.com/MKhiriev/go-file-vault/internal/crypto"
	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/store"
	"github.com/MKhiriev/go-file-vault/models"
)

type vaultService struct {
	db       *store.DB
	storages *store.Storages
	keyChain crypto.KeyChainService
	cfg      config.App
	logger   *logger.Logger
}

func newVaultService(db *store.DB, storages *store.Storages, keyChain crypto.KeyChainService, cfg config.App, log *logger.Logger) *vaultService {
	return &vaultService{
		db:       db,
		storages: storages,
		keyChain: keyChain,
		cfg:      cfg,
		logger:   log,
	}
}

func (v *vaultService) CreateCredential(ctx context.Context, user models.User, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error) {
	var unlocked models.UnlockedCredential
	err := v.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		unlocked, err = v.createCredential(ctx, tx, user, credType, payload)
		return err
	})
	return unlocked, err
}

// createCredential generates the user's key pair and wraps the private key
// under a key derived from payload. Every user has exactly one key pair;
// additional factors go through addCredential.
func (v *vaultService) createCredential(ctx context.Context, q store.Querier, user models.User, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error) {
	var zero models.UnlockedCredential

	count, err := v.storages.Credentials.Count(ctx, q, []store.Condition{
		{Column: "user_id", Op: "=", Value: user.RecordID},
	})
	if err != nil {
		return zero, err
	}
	if count > 0 {
		return zero, ErrCredentialExists
	}

	publicKey, privateKey, err := v.keyChain.GenerateKeyPair()
	if err != nil {
		return zero, fmt.Errorf("error generating user key pair: %w", err)
	}

	return v.wrapPrivateKey(ctx, q, user.RecordID, credType, payload, publicKey, privateKey)
}

func (v *vaultService) AddCredential(ctx context.Context, identity models.UnlockedCredential, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error) {
	var unlocked models.UnlockedCredential
	err := v.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		unlocked, err = v.wrapPrivateKey(ctx, tx, identity.UserID, credType, payload, identity.PublicKey, identity.PrivateKey)
		return err
	})
	return unlocked, err
}

// wrapPrivateKey stores one credential row wrapping privateKey under a key
// derived from payload at the configured KDF time cost.
func (v *vaultService) wrapPrivateKey(ctx context.Context, q store.Querier, userID int64, credType models.CredentialType, payload, publicKey, privateKey []byte) (models.UnlockedCredential, error) {
	var zero models.UnlockedCredential

	salt, err := v.keyChain.GenerateSalt()
	if err != nil {
		return zero, fmt.Errorf("error generating KDF salt: %w", err)
	}
	derived := v.keyChain.DeriveKey(payload, salt, v.cfg.KDFTimeCost)

	iv, ciphertext, authTag, err := v.keyChain.EncryptSymmetric(derived, privateKey)
	if err != nil {
		return zero, fmt.Errorf("error wrapping private key: %w", err)
	}

	credential, err := v.storages.Credentials.Create(ctx, q, models.Credential{
		UserID:              userID,
		Type:                credType,
		Iterations:          int(v.cfg.KDFTimeCost),
		Salt:                salt,
		IV:                  iv,
		AuthTag:             authTag,
		EncryptedPrivateKey: ciphertext,
		PublicKey:           publicKey,
	})
	if err != nil {
		return zero, err
	}

	logger.FromContext(ctx).Info().
		Int64("user_id", userID).
		Int64("credential_id", credential.RecordID).
		Msg("credential created")

	return models.UnlockedCredential{Credential: credential, PrivateKey: privateKey}, nil
}

func (v *vaultService) Unlock(credential models.Credential, payload []byte) (models.UnlockedCredential, error) {
	var zero models.UnlockedCredential

	derived := v.keyChain.DeriveKey(payload, credential.Salt, uint32(credential.Iterations))
	privateKey, err := v.keyChain.DecryptSymmetric(derived, credential.IV, credential.EncryptedPrivateKey, credential.AuthTag)
	if errors.Is(err, crypto.ErrDecryptionFailed) {
		return zero, ErrWrongSecret
	}
	if err != nil {
		return zero, err
	}

	return models.UnlockedCredential{Credential: credential, PrivateKey: privateKey}, nil
}

func (v *vaultService) FindByPayload(ctx context.Context, user models.User, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error) {
	return v.findByPayload(ctx, v.db, user, credType, payload)
}

// findByPayload tries every credential of the given type in creation
// order. The KDF makes each attempt slow, which is acceptable because the
// set is small (a password plus a handful of recovery codes).
func (v *vaultService) findByPayload(ctx context.Context, q store.Querier, user models.User, credType models.CredentialType, payload []byte) (models.UnlockedCredential, error) {
	var zero models.UnlockedCredential

	credentials, err := v.storages.Credentials.Query(ctx, q, store.QueryOptions{
		Where: []store.Condition{
			{Column: "user_id", Op: "=", Value: user.RecordID},
			{Column: "type", Op: "=", Value: credType},
		},
		OrderBy: []store.Order{{Column: "record_id"}},
	})
	if err != nil {
		return zero, err
	}

	for _, credential := range credentials {
		unlocked, err := v.Unlock(credential, payload)
		if err == nil {
			return unlocked, nil
		}
		if !errors.Is(err, ErrWrongSecret) {
			return zero, err
		}
	}
	return zero, ErrWrongSecret
}

func (v *vaultService) SetPassword(ctx context.Context, user models.User, oldPayload, newPayload []byte) (models.UnlockedCredential, error) {
	var unlocked models.UnlockedCredential
	err := v.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		current, err := v.findByPayload(ctx, tx, user, models.CredentialPassword, oldPayload)
		if err != nil {
			return err
		}

		salt, err := v.keyChain.GenerateSalt()
		if err != nil {
			return fmt.Errorf("error generating KDF salt: %w", err)
		}
		derived := v.keyChain.DeriveKey(newPayload, salt, v.cfg.KDFTimeCost)

		iv, ciphertext, authTag, err := v.keyChain.EncryptSymmetric(derived, current.PrivateKey)
		if err != nil {
			return fmt.Errorf("error wrapping private key: %w", err)
		}

		updated, err := v.storages.Credentials.Update(ctx, tx, current.Credential, models.Credential{
			Iterations:          int(v.cfg.KDFTimeCost),
			Salt:                salt,
			IV:                  iv,
			AuthTag:             authTag,
			EncryptedPrivateKey: ciphertext,
		}, store.UpdateOptions{})
		if err != nil {
			return err
		}

		logger.FromContext(ctx).Info().
			Int64("user_id", user.RecordID).
			Int64("credential_id", updated.RecordID).
			Msg("password rotated")

		unlocked = models.UnlockedCredential{Credential: updated, PrivateKey: current.PrivateKey}
		return nil
	})
	return unlocked, err
}

func (v *vaultService) Authenticate(ctx context.Context, username string, credType models.CredentialType, payload []byte) (models.UnlockedSession, error) {
	var session models.UnlockedSession
	err := v.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		user, err := v.storages.Users.First(ctx, tx, store.QueryOptions{
			Where: []store.Condition{{Column: "username", Op: "=", Value: username}},
		})
		if errors.Is(err, store.ErrResourceNotFound) {
			return fmt.Errorf("%w: user %q", ErrNotFound, username)
		}
		if err != nil {
			return err
		}
		if user.Suspended {
			return ErrUserSuspended
		}

		identity, err := v.findByPayload(ctx, tx, user, credType, payload)
		if err != nil {
			return err
		}

		session, err = v.createSession(ctx, tx, identity, 0)
		return err
	})
	return session, err
}

func (v *vaultService) CreateSession(ctx context.Context, identity models.UnlockedCredential, ttl time.Duration) (models.UnlockedSession, error) {
	var session models.UnlockedSession
	err := v.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		session, err = v.createSession(ctx, tx, identity, ttl)
		return err
	})
	return session, err
}

// createSession re-wraps the private key under a fresh random session key.
// The session key never touches storage; together with the session id it
// forms the bearer token.
func (v *vaultService) createSession(ctx context.Context, q store.Querier, identity models.UnlockedCredential, ttl time.Duration) (models.UnlockedSession, error) {
	var zero models.UnlockedSession

	if ttl <= 0 {
		ttl = v.cfg.SessionTTL
	}

	sessionKey, err := v.keyChain.GenerateKey()
	if err != nil {
		return zero, fmt.Errorf("error generating session key: %w", err)
	}

	iv, ciphertext, authTag, err := v.keyChain.EncryptSymmetric(sessionKey, identity.PrivateKey)
	if err != nil {
		return zero, fmt.Errorf("error wrapping private key for session: %w", err)
	}

	session, err := v.storages.Sessions.Create(ctx, q, models.Session{
		UserID:              identity.UserID,
		OriginCredentialID:  identity.RecordID,
		ExpireTime:          time.Now().Add(ttl),
		EncryptedPrivateKey: ciphertext,
		IV:                  iv,
		AuthTag:             authTag,
	})
	if err != nil {
		return zero, err
	}

	logger.FromContext(ctx).Info().
		Int64("user_id", identity.UserID).
		Int64("session_id", session.RecordID).
		Time("expire_time", session.ExpireTime).
		Msg("session issued")

	return models.UnlockedSession{Session: session, Key: sessionKey, PrivateKey: identity.PrivateKey}, nil
}

func (v *vaultService) RestoreSession(ctx context.Context, sessionID int64, sessionKey []byte) (models.UnlockedCredential, error) {
	var zero models.UnlockedCredential

	session, err := v.storages.Sessions.GetByID(ctx, v.db, sessionID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return zero, ErrSessionUnknown
	}
	if err != nil {
		return zero, err
	}
	if time.Now().After(session.ExpireTime) {
		return zero, ErrSessionExpired
	}

	user, err := v.storages.Users.GetByID(ctx, v.db, session.UserID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return zero, ErrSessionUnknown
	}
	if err != nil {
		return zero, err
	}
	if user.Suspended {
		return zero, ErrUserSuspended
	}

	// Deleting a credential invalidates every session minted from it.
	credential, err := v.storages.Credentials.GetByID(ctx, v.db, session.OriginCredentialID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return zero, ErrSessionUnknown
	}
	if err != nil {
		return zero, err
	}

	privateKey, err := v.keyChain.DecryptSymmetric(sessionKey, session.IV, session.EncryptedPrivateKey, session.AuthTag)
	if errors.Is(err, crypto.ErrDecryptionFailed) {
		return zero, ErrWrongSecret
	}
	if err != nil {
		return zero, err
	}

	return models.UnlockedCredential{Credential: credential, PrivateKey: privateKey}, nil
}

func (v *vaultService) DeleteSession(ctx context.Context, sessionID int64) error {
	return v.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		session, err := v.storages.Sessions.GetByID(ctx, tx, sessionID, store.GetOptions{})
		if errors.Is(err, store.ErrResourceNotFound) {
			return ErrSessionUnknown
		}
		if err != nil {
			return err
		}
		// Revocation is a hard delete: a revoked token must not be
		// restorable from version history.
		return v.storages.Sessions.Purge(ctx, tx, session)
	})
}

func (v *vaultService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	var purged int64
	err := v.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		expired, err := v.storages.Sessions.Query(ctx, tx, store.QueryOptions{
			Where: []store.Condition{
				{Column: "expire_time", Op: "<", Value: time.Now().UnixMilli()},
			},
			IncludeDeleted: true,
		})
		if err != nil {
			return err
		}
		for _, session := range expired {
			if err := v.storages.Sessions.Purge(ctx, tx, session); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		v.logger.Info().Int64("count", purged).Msg("expired sessions purged")
	}
	return purged, nil
}
