// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/service"
	"github.com/MKhiriev/go-file-vault/internal/workers"
)

// fakeVault overrides just the method the sweeper calls; the embedded
// interface panics on anything else.
type fakeVault struct {
	service.VaultService

	mu     sync.Mutex
	sweeps int
}

func (f *fakeVault) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func (f *fakeVault) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestSessionSweeper_SweepsAndStops(t *testing.T) {
	vault := &fakeVault{}
	sweeper := workers.NewSessionSweeper(vault, 10*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	// The first sweep happens immediately, further ones on ticks.
	assert.Eventually(t, func() bool { return vault.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
