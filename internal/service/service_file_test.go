// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-file-vault/internal/service"
	"github.com/MKhiriev/go-file-vault/models"
)

// unlockRoot is the common preamble of most file tests: resolve the root
// folder and recover its key.
func unlockRoot(t *testing.T, services *service.Services, identity models.UnlockedCredential) models.UnlockedFile {
	t.Helper()
	ctx := context.Background()

	root, err := services.Files.GetRoot(ctx, identity)
	require.NoError(t, err)

	unlocked, err := services.Files.Unlock(ctx, root, identity, models.AccessNone)
	require.NoError(t, err)
	return unlocked
}

func TestGetRoot_LazyAndIdempotent(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")

	root, err := services.Files.GetRoot(ctx, identity)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, models.FileTypeFolder, root.Type)
	assert.Equal(t, identity.UserID, root.OwnerUserID)

	// The root key is sealed asymmetrically; the symmetric wrap columns
	// hold empty blobs.
	assert.NotEmpty(t, root.EncryptedKey)
	assert.Empty(t, root.EncryptedKeyIV)
	assert.Empty(t, root.EncryptedKeyAuthTag)

	again, err := services.Files.GetRoot(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, root.RecordID, again.RecordID)
}

func TestCreateAndUnlock(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	created, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", created.Name)
	assert.NotEmpty(t, created.Key)

	// A fresh unlock through the ancestor chain recovers the same key.
	unlocked, err := services.Files.Unlock(ctx, created.File, identity, models.AccessNone)
	require.NoError(t, err)
	assert.Equal(t, created.Key, unlocked.Key)
}

func TestCreate_NestedFolders(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	docs, err := services.Files.Create(ctx, identity, root, "docs", models.FileTypeFolder)
	require.NoError(t, err)
	work, err := services.Files.Create(ctx, identity, docs, "work", models.FileTypeFolder)
	require.NoError(t, err)
	report, err := services.Files.Create(ctx, identity, work, "report.txt", models.FileTypeFile)
	require.NoError(t, err)

	// Unlocking the deepest file walks up through work and docs to the
	// sealed root.
	unlocked, err := services.Files.Unlock(ctx, report.File, identity, models.AccessNone)
	require.NoError(t, err)
	assert.Equal(t, report.Key, unlocked.Key)
}

func TestCreate_NameCollisionGetsSuffix(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	first, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", first.Name)

	second, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt (1)", second.Name)

	third, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt (2)", third.Name)
}

func TestCreate_InvalidName(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	for _, name := range []string{"", "bad/name", "bad|name", `bad"name`} {
		_, err := services.Files.Create(ctx, identity, root, name, models.FileTypeFile)
		assert.ErrorIs(t, err, service.ErrFileNameInvalid, "name %q", name)
	}
}

func TestCreate_UnderFileRejected(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	file, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)

	_, err = services.Files.Create(ctx, identity, file, "child", models.FileTypeFile)
	assert.ErrorIs(t, err, service.ErrNotAFolder)
}

func TestUnlock_StrangerIsForbidden(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, alice := register(t, services, "alice-a", "pw")
	_, bob := register(t, services, "bob-bb", "pw")

	root := unlockRoot(t, services, alice)
	file, err := services.Files.Create(ctx, alice, root, "secret.txt", models.FileTypeFile)
	require.NoError(t, err)

	// Without a level a non-owner cannot even ask.
	_, err = services.Files.Unlock(ctx, file.File, bob, models.AccessNone)
	assert.ErrorIs(t, err, service.ErrAccessLevelRequired)

	_, err = services.Files.Unlock(ctx, file.File, bob, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestUnlock_RootIsOwnerOnly(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, alice := register(t, services, "alice-a", "pw")
	bobUser, bob := register(t, services, "bob-bb", "pw")

	root, err := services.Files.GetRoot(ctx, alice)
	require.NoError(t, err)

	_, err = services.Files.Unlock(ctx, root, bob, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrForbidden)

	// Roots cannot be shared, so no grant can ever open one.
	err = services.Files.GrantAccess(ctx, root, alice, bobUser, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)

	_, err = services.Files.Unlock(ctx, root, bob, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestGrantAccess_RoundTrip(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, alice := register(t, services, "alice-a", "pw")
	bobUser, bob := register(t, services, "bob-bb", "pw")

	root := unlockRoot(t, services, alice)
	file, err := services.Files.Create(ctx, alice, root, "shared.txt", models.FileTypeFile)
	require.NoError(t, err)

	require.NoError(t, services.Files.GrantAccess(ctx, file.File, alice, bobUser, models.AccessRead))

	unlocked, err := services.Files.Unlock(ctx, file.File, bob, models.AccessRead)
	require.NoError(t, err)
	assert.Equal(t, file.Key, unlocked.Key)

	// The grant is bounded: Read does not satisfy ReadWrite.
	_, err = services.Files.Unlock(ctx, file.File, bob, models.AccessReadWrite)
	assert.ErrorIs(t, err, service.ErrForbidden)

	level, err := services.Files.AccessLevel(ctx, file.File, bobUser)
	require.NoError(t, err)
	assert.Equal(t, models.AccessRead, level)

	shared, err := services.Files.ListShared(ctx, bobUser)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, file.RecordID, shared[0].FileID)
}

func TestGrantAccess_ReplacesExisting(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, alice := register(t, services, "alice-a", "pw")
	bobUser, bob := register(t, services, "bob-bb", "pw")

	root := unlockRoot(t, services, alice)
	file, err := services.Files.Create(ctx, alice, root, "shared.txt", models.FileTypeFile)
	require.NoError(t, err)

	require.NoError(t, services.Files.GrantAccess(ctx, file.File, alice, bobUser, models.AccessRead))
	require.NoError(t, services.Files.GrantAccess(ctx, file.File, alice, bobUser, models.AccessManage))

	grants, err := services.Files.ListAccesses(ctx, file.File)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, models.AccessManage, grants[0].Level)

	// Manage lets bob grant onward.
	carolUser, _ := register(t, services, "carol-cc", "pw")
	require.NoError(t, services.Files.GrantAccess(ctx, file.File, bob, carolUser, models.AccessRead))
}

func TestGrantAccess_DoesNotCascade(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, alice := register(t, services, "alice-a", "pw")
	bobUser, bob := register(t, services, "bob-bb", "pw")

	root := unlockRoot(t, services, alice)
	folder, err := services.Files.Create(ctx, alice, root, "docs", models.FileTypeFolder)
	require.NoError(t, err)
	inner, err := services.Files.Create(ctx, alice, folder, "inner.txt", models.FileTypeFile)
	require.NoError(t, err)

	require.NoError(t, services.Files.GrantAccess(ctx, folder.File, alice, bobUser, models.AccessRead))

	// The grant applies to the folder node only.
	_, err = services.Files.Unlock(ctx, folder.File, bob, models.AccessRead)
	require.NoError(t, err)
	_, err = services.Files.Unlock(ctx, inner.File, bob, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestRevokeAccess(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	aliceUser, alice := register(t, services, "alice-a", "pw")
	bobUser, bob := register(t, services, "bob-bb", "pw")

	root := unlockRoot(t, services, alice)
	file, err := services.Files.Create(ctx, alice, root, "shared.txt", models.FileTypeFile)
	require.NoError(t, err)

	require.NoError(t, services.Files.GrantAccess(ctx, file.File, alice, bobUser, models.AccessRead))
	require.NoError(t, services.Files.RevokeAccess(ctx, file.File, alice, bobUser))

	_, err = services.Files.Unlock(ctx, file.File, bob, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrForbidden)

	level, err := services.Files.AccessLevel(ctx, file.File, bobUser)
	require.NoError(t, err)
	assert.Equal(t, models.AccessNone, level)

	// Revoking an absent grant is a no-op.
	require.NoError(t, services.Files.RevokeAccess(ctx, file.File, alice, bobUser))

	// The owner's access is structural, not a grant.
	err = services.Files.RevokeAccess(ctx, file.File, alice, aliceUser)
	assert.ErrorIs(t, err, service.ErrOwnerAccess)
}

func TestMove(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	docs, err := services.Files.Create(ctx, identity, root, "docs", models.FileTypeFolder)
	require.NoError(t, err)
	file, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)

	moved, err := services.Files.Move(ctx, identity, file.File, docs.File)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentFileID)
	assert.Equal(t, docs.RecordID, *moved.ParentFileID)

	// The key survives the move: it is re-wrapped, not regenerated.
	unlocked, err := services.Files.Unlock(ctx, moved, identity, models.AccessNone)
	require.NoError(t, err)
	assert.Equal(t, file.Key, unlocked.Key)

	children, err := services.Files.Children(ctx, docs.File)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, file.RecordID, children[0].RecordID)
}

func TestMove_CycleRejected(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	outer, err := services.Files.Create(ctx, identity, root, "outer", models.FileTypeFolder)
	require.NoError(t, err)
	inner, err := services.Files.Create(ctx, identity, outer, "inner", models.FileTypeFolder)
	require.NoError(t, err)

	_, err = services.Files.Move(ctx, identity, outer.File, inner.File)
	assert.ErrorIs(t, err, service.ErrCyclicMove)

	_, err = services.Files.Move(ctx, identity, outer.File, outer.File)
	assert.ErrorIs(t, err, service.ErrCyclicMove)
}

func TestMove_CrossOwnerRejected(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, alice := register(t, services, "alice-a", "pw")
	_, bob := register(t, services, "bob-bb", "pw")

	aliceRoot := unlockRoot(t, services, alice)
	bobRoot := unlockRoot(t, services, bob)

	file, err := services.Files.Create(ctx, alice, aliceRoot, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)

	_, err = services.Files.Move(ctx, alice, file.File, bobRoot.File)
	assert.ErrorIs(t, err, service.ErrCrossOwnerMove)
}

func TestMove_NameCollisionRejected(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	docs, err := services.Files.Create(ctx, identity, root, "docs", models.FileTypeFolder)
	require.NoError(t, err)
	_, err = services.Files.Create(ctx, identity, docs, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)
	file, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)

	_, err = services.Files.Move(ctx, identity, file.File, docs.File)
	assert.ErrorIs(t, err, service.ErrFileExists)
}

func TestDeleteAndRestore(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root := unlockRoot(t, services, identity)

	file, err := services.Files.Create(ctx, identity, root, "notes.txt", models.FileTypeFile)
	require.NoError(t, err)

	require.NoError(t, services.Files.Delete(ctx, file.File))

	_, err = services.Files.GetByID(ctx, file.RecordID)
	assert.ErrorIs(t, err, service.ErrNotFound)

	children, err := services.Files.Children(ctx, root.File)
	require.NoError(t, err)
	assert.Empty(t, children)

	require.NoError(t, services.Files.Restore(ctx, file.File))
	restored, err := services.Files.GetByID(ctx, file.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", restored.Name)
}

func TestDelete_RootRejected(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	_, identity := register(t, services, "alice-a", "pw")
	root, err := services.Files.GetRoot(ctx, identity)
	require.NoError(t, err)

	err = services.Files.Delete(ctx, root)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)
}
