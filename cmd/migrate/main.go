// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Command migrate applies the embedded schema migrations and exits.
package main

import (
	"context"

	"github.com/MKhiriev/go-file-vault/internal/config"
	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/store"
)

func main() {
	log := logger.NewLogger("file-vault-migrate")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	db, err := store.NewConnectSQLite(context.Background(), cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("error applying migrations")
	}

	log.Info().Str("dsn", cfg.Storage.DSN).Msg("migrations applied")
}
