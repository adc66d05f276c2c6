// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"time"

	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/service"
)

// SessionSweeper periodically purges expired sessions. Expired sessions
// already fail to restore; the sweeper only reclaims their rows.
type SessionSweeper struct {
	vault    service.VaultService
	interval time.Duration
	logger   *logger.Logger
}

// NewSessionSweeper builds a sweeper running every interval.
func NewSessionSweeper(vault service.VaultService, interval time.Duration, log *logger.Logger) *SessionSweeper {
	return &SessionSweeper{
		vault:    vault,
		interval: interval,
		logger:   log,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("session sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	if _, err := s.vault.PurgeExpiredSessions(ctx); err != nil {
		s.logger.Err(err).Msg("error purging expired sessions")
	}
}
