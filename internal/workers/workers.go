// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package workers runs the vault's background maintenance loops.
package workers

import (
	"context"

	"github.com/MKhiriev/go-file-vault/internal/config"
	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/service"
)

// Worker is a background loop. Run blocks until ctx is cancelled.
type Worker interface {
	Run(ctx context.Context)
}

// Workers bundles every background loop of the process.
type Workers struct {
	SessionSweeper *SessionSweeper
}

// NewWorkers wires the workers to the services.
func NewWorkers(services *service.Services, cfg config.Workers, log *logger.Logger) *Workers {
	return &Workers{
		SessionSweeper: NewSessionSweeper(services.Vault, cfg.SessionSweepInterval, log),
	}
}

// Run starts every worker and blocks until ctx is cancelled.
func (w *Workers) Run(ctx context.Context) {
	w.SessionSweeper.Run(ctx)
}
