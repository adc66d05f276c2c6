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

// TestVault_EndToEnd walks the whole surface the way two users would: the
// owner registers, logs in through a session, builds a tree and writes
// content; a second user receives a grant, reads through it, loses it and
// is locked out again.
func TestVault_EndToEnd(t *testing.T) {
	services := newTestServices(t)
	ctx := context.Background()

	// Alice registers (becoming site admin in the empty vault) and logs
	// in with a session token.
	_, _ = register(t, services, "alice-a", "alice password")
	session, err := services.Vault.Authenticate(ctx, "alice-a", models.CredentialPassword, []byte("alice password"))
	require.NoError(t, err)

	alice, err := services.Vault.RestoreSession(ctx, session.RecordID, session.Key)
	require.NoError(t, err)

	// She builds a small tree and writes a report.
	aliceRoot := unlockRoot(t, services, alice)
	docs, err := services.Files.Create(ctx, alice, aliceRoot, "docs", models.FileTypeFolder)
	require.NoError(t, err)
	report, err := services.Files.Create(ctx, alice, docs, "report.txt", models.FileTypeFile)
	require.NoError(t, err)

	content, err := services.Contents.GetMainContent(ctx, report.File)
	require.NoError(t, err)
	snapshot, err := services.Contents.GetMainSnapshot(ctx, report, content)
	require.NoError(t, err)

	body := []byte("quarterly numbers, eyes only")
	require.NoError(t, services.Contents.Write(ctx, report, content, snapshot, 0, body))

	// Bob registers and cannot see anything of Alice's.
	bobUser, bob := register(t, services, "bob-bb", "bob password")
	_, err = services.Files.Unlock(ctx, report.File, bob, models.AccessRead)
	require.ErrorIs(t, err, service.ErrForbidden)

	// Alice shares the report read-only. Bob reads it through his grant.
	require.NoError(t, services.Files.GrantAccess(ctx, report.File, alice, bobUser, models.AccessRead))

	bobView, err := services.Files.Unlock(ctx, report.File, bob, models.AccessRead)
	require.NoError(t, err)

	content, err = services.Contents.GetMainContent(ctx, bobView.File)
	require.NoError(t, err)
	got, err := services.Contents.Read(ctx, bobView, content, snapshot, 0, int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	// Read does not let Bob grant onward.
	carolUser, _ := register(t, services, "carol-cc", "carol password")
	err = services.Files.GrantAccess(ctx, report.File, bob, carolUser, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrForbidden)

	// Revoked, Bob is locked out again; Alice still gets in.
	require.NoError(t, services.Files.RevokeAccess(ctx, report.File, alice, bobUser))
	_, err = services.Files.Unlock(ctx, report.File, bob, models.AccessRead)
	assert.ErrorIs(t, err, service.ErrForbidden)

	mine, err := services.Files.Unlock(ctx, report.File, alice, models.AccessNone)
	require.NoError(t, err)
	got, err = services.Contents.Read(ctx, mine, content, snapshot, 0, int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	// Logging out revokes the session.
	require.NoError(t, services.Vault.DeleteSession(ctx, session.RecordID))
	_, err = services.Vault.RestoreSession(ctx, session.RecordID, session.Key)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}
