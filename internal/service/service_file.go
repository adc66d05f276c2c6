// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-file-vault/internal/crypto"
	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/store"
	"github.com/MKhiriev/go-file-vault/models"
)

type fileService struct {
	db       *store.DB
	storages *store.Storages
	keyChain crypto.KeyChainService
	logger   *logger.Logger
}

func newFileService(db *store.DB, storages *store.Storages, keyChain crypto.KeyChainService, log *logger.Logger) *fileService {
	return &fileService{
		db:       db,
		storages: storages,
		keyChain: keyChain,
		logger:   log,
	}
}

func (f *fileService) GetRoot(ctx context.Context, identity models.UnlockedCredential) (models.File, error) {
	var root models.File
	err := f.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		root, err = f.getRoot(ctx, tx, identity)
		return err
	})
	return root, err
}

// getRoot returns the identity's root folder, creating it on first use.
// The root key is sealed to the owner's public key; every other file key
// in the tree is wrapped under its parent's key, so the chain always
// terminates here.
func (f *fileService) getRoot(ctx context.Context, q store.Querier, identity models.UnlockedCredential) (models.File, error) {
	root, err := f.storages.Files.First(ctx, q, store.QueryOptions{
		Where: []store.Condition{
			{Column: "owner_user_id", Op: "=", Value: identity.UserID},
			{Column: "parent_file_id", Op: "is", Value: nil},
		},
	})
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, store.ErrResourceNotFound) {
		return models.File{}, err
	}

	key, err := f.keyChain.GenerateKey()
	if err != nil {
		return models.File{}, fmt.Errorf("error generating root key: %w", err)
	}
	sealed, err := f.keyChain.EncryptAsymmetric(identity.PublicKey, key)
	if err != nil {
		return models.File{}, fmt.Errorf("error sealing root key: %w", err)
	}

	// The sealed root key carries no IV or auth tag; the columns are
	// still NOT NULL, so store empty blobs rather than nulls.
	root, err = f.storages.Files.Create(ctx, q, models.File{
		OwnerUserID:         identity.UserID,
		CreatorUserID:       identity.UserID,
		Type:                models.FileTypeFolder,
		EncryptedKey:        sealed,
		EncryptedKeyIV:      []byte{},
		EncryptedKeyAuthTag: []byte{},
	})
	if err != nil {
		return models.File{}, err
	}

	logger.FromContext(ctx).Info().
		Int64("user_id", identity.UserID).
		Int64("file_id", root.RecordID).
		Msg("root folder created")
	return root, nil
}

func (f *fileService) GetByID(ctx context.Context, fileID int64) (models.File, error) {
	file, err := f.storages.Files.GetByID(ctx, f.db, fileID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return models.File{}, fmt.Errorf("%w: file %d", ErrNotFound, fileID)
	}
	return file, err
}

func (f *fileService) Create(ctx context.Context, identity models.UnlockedCredential, parent models.UnlockedFile, name string, fileType models.FileType) (models.UnlockedFile, error) {
	var created models.UnlockedFile
	err := f.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		created, err = f.create(ctx, tx, identity, parent, name, fileType)
		return err
	})
	return created, err
}

func (f *fileService) create(ctx context.Context, q store.Querier, identity models.UnlockedCredential, parent models.UnlockedFile, name string, fileType models.FileType) (models.UnlockedFile, error) {
	var zero models.UnlockedFile

	if flag := models.VerifyFileName(name); flag != models.FileNameOK {
		return zero, fmt.Errorf("%w: %q", ErrFileNameInvalid, name)
	}
	if parent.Type != models.FileTypeFolder {
		return zero, ErrNotAFolder
	}

	name, err := f.uniqueChildName(ctx, q, parent.RecordID, name)
	if err != nil {
		return zero, err
	}

	key, err := f.keyChain.GenerateKey()
	if err != nil {
		return zero, fmt.Errorf("error generating file key: %w", err)
	}
	iv, wrapped, authTag, err := f.keyChain.EncryptSymmetric(parent.Key, key)
	if err != nil {
		return zero, fmt.Errorf("error wrapping file key: %w", err)
	}

	parentID := parent.RecordID
	file, err := f.storages.Files.Create(ctx, q, models.File{
		ParentFileID:        &parentID,
		OwnerUserID:         parent.OwnerUserID,
		CreatorUserID:       identity.UserID,
		Name:                name,
		Type:                fileType,
		EncryptedKey:        wrapped,
		EncryptedKeyIV:      iv,
		EncryptedKeyAuthTag: authTag,
	})
	if err != nil {
		return zero, err
	}

	logger.FromContext(ctx).Info().
		Int64("file_id", file.RecordID).
		Int64("parent_file_id", parentID).
		Str("name", file.Name).
		Msg("file created")
	return models.UnlockedFile{File: file, Key: key}, nil
}

// uniqueChildName resolves a name collision inside a folder by appending
// a numeric suffix, the way desktop file managers do.
func (f *fileService) uniqueChildName(ctx context.Context, q store.Querier, parentID int64, name string) (string, error) {
	candidate := name
	for i := 1; ; i++ {
		count, err := f.storages.Files.Count(ctx, q, []store.Condition{
			{Column: "parent_file_id", Op: "=", Value: parentID},
			{Column: "name", Op: "=", Value: candidate},
		})
		if err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)", name, i)
	}
}

func (f *fileService) Unlock(ctx context.Context, file models.File, identity models.UnlockedCredential, requiredLevel models.FileAccessLevel) (models.UnlockedFile, error) {
	return f.unlock(ctx, f.db, file, identity, requiredLevel)
}

// unlock recovers the file key. Owners walk the ancestor chain, unwrapping
// each key under its parent's until the asymmetrically sealed root.
// Non-owners must hold a grant on this exact node at requiredLevel or
// higher; grants do not cascade, so requiredLevel is mandatory for them.
// Every cryptographic failure surfaces as ErrForbidden so that a missing
// grant and a corrupted wrap are indistinguishable to the caller.
func (f *fileService) unlock(ctx context.Context, q store.Querier, file models.File, identity models.UnlockedCredential, requiredLevel models.FileAccessLevel) (models.UnlockedFile, error) {
	var zero models.UnlockedFile

	if file.OwnerUserID == identity.UserID {
		if file.IsRoot() {
			key, err := f.keyChain.DecryptAsymmetric(identity.PublicKey, identity.PrivateKey, file.EncryptedKey)
			if errors.Is(err, crypto.ErrDecryptionFailed) {
				return zero, ErrForbidden
			}
			if err != nil {
				return zero, err
			}
			return models.UnlockedFile{File: file, Key: key}, nil
		}

		parent, err := f.storages.Files.GetByID(ctx, q, *file.ParentFileID, store.GetOptions{IncludeDeleted: true})
		if errors.Is(err, store.ErrResourceNotFound) {
			return zero, fmt.Errorf("%w: parent of file %d", ErrNotFound, file.RecordID)
		}
		if err != nil {
			return zero, err
		}
		unlockedParent, err := f.unlock(ctx, q, parent, identity, models.AccessNone)
		if err != nil {
			return zero, err
		}

		key, err := f.keyChain.DecryptSymmetric(unlockedParent.Key, file.EncryptedKeyIV, file.EncryptedKey, file.EncryptedKeyAuthTag)
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return zero, ErrForbidden
		}
		if err != nil {
			return zero, err
		}
		return models.UnlockedFile{File: file, Key: key}, nil
	}

	// Roots are never shared; anyone but the owner is turned away before
	// the grant lookup.
	if file.IsRoot() {
		return zero, ErrForbidden
	}

	if requiredLevel == models.AccessNone {
		return zero, ErrAccessLevelRequired
	}

	grant, err := f.storages.FileAccesses.First(ctx, q, store.QueryOptions{
		Where: []store.Condition{
			{Column: "file_id", Op: "=", Value: file.RecordID},
			{Column: "user_id", Op: "=", Value: identity.UserID},
			{Column: "level", Op: ">=", Value: requiredLevel},
		},
		OrderBy: []store.Order{{Column: "level", Descending: true}},
	})
	if errors.Is(err, store.ErrResourceNotFound) {
		return zero, ErrForbidden
	}
	if err != nil {
		return zero, err
	}

	key, err := f.keyChain.DecryptAsymmetric(identity.PublicKey, identity.PrivateKey, grant.EncryptedKey)
	if errors.Is(err, crypto.ErrDecryptionFailed) {
		return zero, ErrForbidden
	}
	if err != nil {
		return zero, err
	}
	return models.UnlockedFile{File: file, Key: key}, nil
}

func (f *fileService) Children(ctx context.Context, folder models.File) ([]models.File, error) {
	if folder.Type != models.FileTypeFolder {
		return nil, ErrNotAFolder
	}
	return f.storages.Files.Query(ctx, f.db, store.QueryOptions{
		Where:   []store.Condition{{Column: "parent_file_id", Op: "=", Value: folder.RecordID}},
		OrderBy: []store.Order{{Column: "name"}},
	})
}

func (f *fileService) GrantAccess(ctx context.Context, file models.File, granter models.UnlockedCredential, targetUser models.User, level models.FileAccessLevel) error {
	return f.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if file.IsRoot() {
			return fmt.Errorf("%w: the root folder cannot be shared", ErrInvalidRequest)
		}
		if targetUser.RecordID == file.OwnerUserID {
			return ErrOwnerAccess
		}

		unlocked, err := f.unlock(ctx, tx, file, granter, models.AccessManage)
		if err != nil {
			return err
		}

		existing, err := f.storages.FileAccesses.First(ctx, tx, store.QueryOptions{
			Where: []store.Condition{
				{Column: "file_id", Op: "=", Value: file.RecordID},
				{Column: "user_id", Op: "=", Value: targetUser.RecordID},
			},
		})
		found := err == nil
		if err != nil && !errors.Is(err, store.ErrResourceNotFound) {
			return err
		}

		// AccessNone is the revoke request; it is never stored. Revoking
		// a grant that does not exist is a no-op.
		if level == models.AccessNone {
			if !found {
				return nil
			}
			return f.storages.FileAccesses.SoftDelete(ctx, tx, existing)
		}

		credential, err := f.storages.Credentials.First(ctx, tx, store.QueryOptions{
			Where:   []store.Condition{{Column: "user_id", Op: "=", Value: targetUser.RecordID}},
			OrderBy: []store.Order{{Column: "record_id"}},
		})
		if errors.Is(err, store.ErrResourceNotFound) {
			return fmt.Errorf("%w: user %d has no credential to seal the key to", ErrNotFound, targetUser.RecordID)
		}
		if err != nil {
			return err
		}

		sealed, err := f.keyChain.EncryptAsymmetric(credential.PublicKey, unlocked.Key)
		if err != nil {
			return fmt.Errorf("error sealing file key for grantee: %w", err)
		}

		if found {
			_, err = f.storages.FileAccesses.Update(ctx, tx, existing, models.FileAccess{
				GranterUserID: granter.UserID,
				Level:         level,
				EncryptedKey:  sealed,
			}, store.UpdateOptions{})
		} else {
			_, err = f.storages.FileAccesses.Create(ctx, tx, models.FileAccess{
				FileID:        file.RecordID,
				UserID:        targetUser.RecordID,
				GranterUserID: granter.UserID,
				Level:         level,
				EncryptedKey:  sealed,
			})
		}
		if err != nil {
			return err
		}

		logger.FromContext(ctx).Info().
			Int64("file_id", file.RecordID).
			Int64("user_id", targetUser.RecordID).
			Stringer("level", level).
			Msg("access granted")
		return nil
	})
}

func (f *fileService) RevokeAccess(ctx context.Context, file models.File, granter models.UnlockedCredential, targetUser models.User) error {
	return f.GrantAccess(ctx, file, granter, targetUser, models.AccessNone)
}

func (f *fileService) AccessLevel(ctx context.Context, file models.File, user models.User) (models.FileAccessLevel, error) {
	if file.OwnerUserID == user.RecordID {
		return models.AccessFull, nil
	}
	grant, err := f.storages.FileAccesses.First(ctx, f.db, store.QueryOptions{
		Where: []store.Condition{
			{Column: "file_id", Op: "=", Value: file.RecordID},
			{Column: "user_id", Op: "=", Value: user.RecordID},
		},
	})
	if errors.Is(err, store.ErrResourceNotFound) {
		return models.AccessNone, nil
	}
	if err != nil {
		return models.AccessNone, err
	}
	return grant.Level, nil
}

func (f *fileService) ListAccesses(ctx context.Context, file models.File) ([]models.FileAccess, error) {
	return f.storages.FileAccesses.Query(ctx, f.db, store.QueryOptions{
		Where: []store.Condition{{Column: "file_id", Op: "=", Value: file.RecordID}},
	})
}

func (f *fileService) ListShared(ctx context.Context, user models.User) ([]models.FileAccess, error) {
	return f.storages.FileAccesses.Query(ctx, f.db, store.QueryOptions{
		Where:   []store.Condition{{Column: "user_id", Op: "=", Value: user.RecordID}},
		OrderBy: []store.Order{{Column: "file_id"}},
	})
}

func (f *fileService) Move(ctx context.Context, identity models.UnlockedCredential, file models.File, newParent models.File) (models.File, error) {
	var moved models.File
	err := f.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if file.IsRoot() {
			return fmt.Errorf("%w: the root folder cannot be moved", ErrInvalidRequest)
		}
		if newParent.Type != models.FileTypeFolder {
			return ErrNotAFolder
		}
		if newParent.OwnerUserID != file.OwnerUserID {
			return ErrCrossOwnerMove
		}

		if err := f.checkNoCycle(ctx, tx, file, newParent); err != nil {
			return err
		}

		collisions, err := f.storages.Files.Count(ctx, tx, []store.Condition{
			{Column: "parent_file_id", Op: "=", Value: newParent.RecordID},
			{Column: "name", Op: "=", Value: file.Name},
			{Column: "record_id", Op: "!=", Value: file.RecordID},
		})
		if err != nil {
			return err
		}
		if collisions > 0 {
			return fmt.Errorf("%w: %q", ErrFileExists, file.Name)
		}

		unlockedFile, err := f.unlock(ctx, tx, file, identity, models.AccessManage)
		if err != nil {
			return err
		}
		unlockedParent, err := f.unlock(ctx, tx, newParent, identity, models.AccessManage)
		if err != nil {
			return err
		}

		iv, wrapped, authTag, err := f.keyChain.EncryptSymmetric(unlockedParent.Key, unlockedFile.Key)
		if err != nil {
			return fmt.Errorf("error re-wrapping file key: %w", err)
		}

		parentID := newParent.RecordID
		moved, err = f.storages.Files.Update(ctx, tx, file, models.File{
			ParentFileID:        &parentID,
			EncryptedKey:        wrapped,
			EncryptedKeyIV:      iv,
			EncryptedKeyAuthTag: authTag,
		}, store.UpdateOptions{})
		if err != nil {
			return err
		}

		logger.FromContext(ctx).Info().
			Int64("file_id", file.RecordID).
			Int64("new_parent_id", parentID).
			Msg("file moved")
		return nil
	})
	return moved, err
}

// checkNoCycle walks up from the destination; meeting the moved file on
// the way to the root means the move would detach a subtree into itself.
func (f *fileService) checkNoCycle(ctx context.Context, q store.Querier, file models.File, newParent models.File) error {
	current := newParent
	for {
		if current.RecordID == file.RecordID {
			return ErrCyclicMove
		}
		if current.IsRoot() {
			return nil
		}
		next, err := f.storages.Files.GetByID(ctx, q, *current.ParentFileID, store.GetOptions{IncludeDeleted: true})
		if errors.Is(err, store.ErrResourceNotFound) {
			return fmt.Errorf("%w: parent of file %d", ErrNotFound, current.RecordID)
		}
		if err != nil {
			return err
		}
		current = next
	}
}

func (f *fileService) Delete(ctx context.Context, file models.File) error {
	return f.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if file.IsRoot() {
			return fmt.Errorf("%w: the root folder cannot be deleted", ErrInvalidRequest)
		}
		return f.storages.Files.SoftDelete(ctx, tx, file)
	})
}

func (f *fileService) Restore(ctx context.Context, file models.File) error {
	return f.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return f.storages.Files.Restore(ctx, tx, file)
	})
}
