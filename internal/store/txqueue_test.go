// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-file-vault/internal/store"
	"github.com/MKhiriev/go-file-vault/models"
)

func TestRunExclusive_Commit(t *testing.T) {
	db, storages := newTestDB(t)
	ctx := context.Background()

	err := db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := storages.Users.Create(ctx, tx, models.User{Username: "alice-a"})
		return err
	})
	require.NoError(t, err)

	count, err := storages.Users.Count(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunExclusive_RollbackOnError(t *testing.T) {
	db, storages := newTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := storages.Users.Create(ctx, tx, models.User{Username: "alice-a"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := storages.Users.Count(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRunExclusive_Nested(t *testing.T) {
	db, _ := newTestDB(t)

	err := db.RunExclusive(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		return db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return nil
		})
	})
	assert.ErrorIs(t, err, store.ErrNestedTransaction)
}

func TestRunExclusive_SerializesWriters(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "transactions must never overlap")
}

func TestRunExclusive_CancelWhileQueued(t *testing.T) {
	db, _ := newTestDB(t)

	holding := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := db.RunExclusive(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
			close(holding)
			<-release
			return nil
		})
		assert.NoError(t, err)
	}()

	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return nil
		})
	}()

	// The second transaction is queued behind the first; cancelling must
	// abandon the wait without waiting for the holder.
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	close(release)
	wg.Wait()
}
