// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/store"
	"github.com/MKhiriev/go-file-vault/models"
)

type userService struct {
	db       *store.DB
	storages *store.Storages
	vault    *vaultService
	logger   *logger.Logger
}

func newUserService(db *store.DB, storages *store.Storages, vault *vaultService, log *logger.Logger) *userService {
	return &userService{
		db:       db,
		storages: storages,
		vault:    vault,
		logger:   log,
	}
}

func (u *userService) Register(ctx context.Context, username, firstName, middleName, lastName string, password []byte) (models.User, models.UnlockedCredential, error) {
	var (
		user     models.User
		identity models.UnlockedCredential
	)
	err := u.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		flag := models.VerifyUsername(username)
		if flag != models.UsernameOK {
			return fmt.Errorf("%w: %q", ErrUsernameInvalid, username)
		}

		// The username column is declared COLLATE NOCASE, so equality here
		// is case-insensitive.
		taken, err := u.storages.Users.Count(ctx, tx, []store.Condition{
			{Column: "username", Op: "=", Value: username},
		})
		if err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("%w: %q", ErrUsernameTaken, username)
		}

		role := models.RoleMember
		total, err := u.storages.Users.Count(ctx, tx, nil)
		if err != nil {
			return err
		}
		if total == 0 {
			role = models.RoleSiteAdmin
		}

		user, err = u.storages.Users.Create(ctx, tx, models.User{
			Username:   username,
			FirstName:  firstName,
			MiddleName: middleName,
			LastName:   lastName,
			Role:       role,
		})
		if err != nil {
			return err
		}

		identity, err = u.vault.createCredential(ctx, tx, user, models.CredentialPassword, password)
		if err != nil {
			return err
		}

		logger.FromContext(ctx).Info().
			Int64("user_id", user.RecordID).
			Str("username", user.Username).
			Stringer("role", user.Role).
			Msg("user registered")
		return nil
	})
	if err != nil {
		return models.User{}, models.UnlockedCredential{}, err
	}
	return user, identity, nil
}

func (u *userService) GetByID(ctx context.Context, id int64) (models.User, error) {
	user, err := u.storages.Users.GetByID(ctx, u.db, id, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return models.User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return user, err
}

func (u *userService) GetByUsername(ctx context.Context, username string) (models.User, error) {
	user, err := u.storages.Users.First(ctx, u.db, store.QueryOptions{
		Where: []store.Condition{{Column: "username", Op: "=", Value: username}},
	})
	if errors.Is(err, store.ErrResourceNotFound) {
		return models.User{}, fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	return user, err
}

func (u *userService) List(ctx context.Context, opts store.QueryOptions) ([]models.User, error) {
	return u.storages.Users.Query(ctx, u.db, opts)
}

// Update patches the mutable profile fields of an account. Empty fields in
// patch are left as they are; a username change is validated and checked for
// collisions the same way Register does.
func (u *userService) Update(ctx context.Context, userID int64, patch models.User) (models.User, error) {
	var updated models.User
	err := u.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		current, err := u.storages.Users.GetByID(ctx, tx, userID, store.GetOptions{})
		if errors.Is(err, store.ErrResourceNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		if err != nil {
			return err
		}

		if patch.Username != "" && patch.Username != current.Username {
			if flag := models.VerifyUsername(patch.Username); flag != models.UsernameOK {
				return fmt.Errorf("%w: %q", ErrUsernameInvalid, patch.Username)
			}
			taken, err := u.storages.Users.Count(ctx, tx, []store.Condition{
				{Column: "username", Op: "=", Value: patch.Username},
			})
			if err != nil {
				return err
			}
			if taken > 0 {
				return fmt.Errorf("%w: %q", ErrUsernameTaken, patch.Username)
			}
		}

		// Suspension and role changes go through their dedicated paths.
		patch.Suspended = false
		patch.Role = 0

		updated, err = u.storages.Users.Update(ctx, tx, current, patch, store.UpdateOptions{})
		if err != nil {
			return err
		}

		logger.FromContext(ctx).Info().
			Int64("user_id", userID).
			Msg("user profile updated")
		return nil
	})
	return updated, err
}

// SetRole moves an account to another privilege tier.
func (u *userService) SetRole(ctx context.Context, userID int64, role models.UserRole) (models.User, error) {
	var updated models.User
	err := u.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		current, err := u.storages.Users.GetByID(ctx, tx, userID, store.GetOptions{})
		if errors.Is(err, store.ErrResourceNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		if err != nil {
			return err
		}

		// Demotion to RoleMember sets the field to its zero value, which a
		// sparse patch cannot express.
		patch := current
		patch.Role = role

		updated, err = u.storages.Users.Update(ctx, tx, current, patch, store.UpdateOptions{ReplaceAll: true})
		if err != nil {
			return err
		}

		logger.FromContext(ctx).Info().
			Int64("user_id", userID).
			Stringer("role", role).
			Msg("user role changed")
		return nil
	})
	return updated, err
}

func (u *userService) SetSuspended(ctx context.Context, userID int64, suspended bool) (models.User, error) {
	var updated models.User
	err := u.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		current, err := u.storages.Users.GetByID(ctx, tx, userID, store.GetOptions{})
		if errors.Is(err, store.ErrResourceNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		if err != nil {
			return err
		}

		// Clearing the flag needs full-state replacement: a sparse patch
		// cannot carry a field back to its zero value.
		patch := current
		patch.Suspended = suspended

		updated, err = u.storages.Users.Update(ctx, tx, current, patch, store.UpdateOptions{ReplaceAll: true})
		if err != nil {
			return err
		}

		logger.FromContext(ctx).Info().
			Int64("user_id", userID).
			Bool("suspended", suspended).
			Msg("user suspension changed")
		return nil
	})
	return updated, err
}

func (u *userService) SetupRequired(ctx context.Context) (bool, error) {
	admins, err := u.storages.Users.Count(ctx, u.db, []store.Condition{
		{Column: "role", Op: ">=", Value: models.RoleSiteAdmin},
	})
	if err != nil {
		return false, err
	}
	return admins == 0, nil
}
