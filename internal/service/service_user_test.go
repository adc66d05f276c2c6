// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-file-vault/internal/config"
	"github.com/MKhiriev/go-file-vault/internal/crypto"
	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/service"
	"github.com/MKhiriev/go-file-vault/internal/store"
	"github.com/MKhiriev/go-file-vault/models"
)

func newTestStack(t *testing.T) (*service.Services, *store.Storages, *store.DB) {
	t.Helper()

	cfg := config.Storage{DSN: filepath.Join(t.TempDir(), "test.db")}
	db, err := store.NewConnectSQLite(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	storages := store.NewStorages(db, logger.Nop())

	// Time cost 1 keeps the KDF fast enough for tests; production uses
	// the configured default.
	app := config.App{SessionTTL: time.Hour, KDFTimeCost: 1}
	return service.NewServices(db, storages, crypto.NewKeyChainService(), app, logger.Nop()), storages, db
}

func newTestServices(t *testing.T) *service.Services {
	t.Helper()
	services, _, _ := newTestStack(t)
	return services
}

func register(t *testing.T, services *service.Services, username, password string) (models.User, models.UnlockedCredential) {
	t.Helper()
	user, identity, err := services.Users.Register(context.Background(), username, "", "", "", []byte(password))
	require.NoError(t, err)
	return user, identity
}

func TestRegister_FirstUserBecomesSiteAdmin(t *testing.T) {
	services := newTestServices(t)

	alice, identity := register(t, services, "alice-a", "correct horse")
	assert.Equal(t, models.RoleSiteAdmin, alice.Role)
	assert.Equal(t, alice.RecordID, identity.UserID)
	assert.NotEmpty(t, identity.PublicKey)
	assert.NotEmpty(t, identity.PrivateKey)

	bob, _ := register(t, services, "bob-bb", "hunter22")
	assert.Equal(t, models.RoleMember, bob.Role)

	required, err := services.Users.SetupRequired(context.Background())
	require.NoError(t, err)
	assert.False(t, required)
}

func TestRegister_InvalidUsername(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	for _, name := range []string{"ab", "has space", "way-too-long-username", "bad/char"} {
		_, _, err := services.Users.Register(ctx, name, "", "", "", []byte("pw"))
		assert.ErrorIs(t, err, service.ErrUsernameInvalid, "username %q", name)
		assert.ErrorIs(t, err, service.ErrInvalidRequest)
	}
}

func TestRegister_TakenUsername_CaseInsensitive(t *testing.T) {
	services := newTestServices(t)

	register(t, services, "alice-a", "pw")

	_, _, err := services.Users.Register(context.Background(), "ALICE-A", "", "", "", []byte("pw"))
	assert.ErrorIs(t, err, service.ErrUsernameTaken)
	assert.ErrorIs(t, err, service.ErrConflict)
}

func TestGetByUsername(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	alice, _ := register(t, services, "alice-a", "pw")

	got, err := services.Users.GetByUsername(ctx, "alice-a")
	require.NoError(t, err)
	assert.Equal(t, alice.RecordID, got.RecordID)

	_, err = services.Users.GetByUsername(ctx, "nobody-here")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestSetSuspended_RoundTrip(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	alice, _ := register(t, services, "alice-a", "pw")

	suspended, err := services.Users.SetSuspended(ctx, alice.RecordID, true)
	require.NoError(t, err)
	assert.True(t, suspended.Suspended)

	_, err = services.Vault.Authenticate(ctx, "alice-a", models.CredentialPassword, []byte("pw"))
	assert.ErrorIs(t, err, service.ErrUserSuspended)

	// Reinstating must carry the flag back to its zero value.
	reinstated, err := services.Users.SetSuspended(ctx, alice.RecordID, false)
	require.NoError(t, err)
	assert.False(t, reinstated.Suspended)
	assert.Equal(t, "alice-a", reinstated.Username)

	_, err = services.Vault.Authenticate(ctx, "alice-a", models.CredentialPassword, []byte("pw"))
	require.NoError(t, err)
}

func TestUserUpdate_PatchesProfile(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	alice, _ := register(t, services, "alice-a", "pw")

	updated, err := services.Users.Update(ctx, alice.RecordID, models.User{
		FirstName: "Alice",
		LastName:  "Anders",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.FirstName)
	assert.Equal(t, "Anders", updated.LastName)
	assert.Equal(t, "alice-a", updated.Username)

	// Renames go through the same validation as registration.
	_, err = services.Users.Update(ctx, alice.RecordID, models.User{Username: "a b"})
	assert.ErrorIs(t, err, service.ErrUsernameInvalid)

	register(t, services, "bob-bb", "pw")
	_, err = services.Users.Update(ctx, alice.RecordID, models.User{Username: "BOB-BB"})
	assert.ErrorIs(t, err, service.ErrUsernameTaken)

	renamed, err := services.Users.Update(ctx, alice.RecordID, models.User{Username: "alice-renamed"})
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", renamed.Username)
	assert.Equal(t, "Alice", renamed.FirstName)

	_, err = services.Users.Update(ctx, 9999, models.User{FirstName: "X"})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestSetRole_RoundTrip(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	register(t, services, "alice-a", "pw")
	bob, _ := register(t, services, "bob-bb", "pw")
	assert.Equal(t, models.RoleMember, bob.Role)
	assert.False(t, bob.HasRole(models.RoleSiteAdmin))

	promoted, err := services.Users.SetRole(ctx, bob.RecordID, models.RoleSystemAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSystemAdmin, promoted.Role)
	assert.True(t, promoted.HasRole(models.RoleSiteAdmin))

	// Demotion lands on the zero-valued role.
	demoted, err := services.Users.SetRole(ctx, bob.RecordID, models.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, demoted.Role)
	assert.Equal(t, "bob-bb", demoted.Username)
}
