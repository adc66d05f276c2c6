// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"github.com/MKhiriev/go-file-vault/internal/config"
	"github.com/MKhiriev/go-file-vault/internal/crypto"
	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/store"
)

// Services bundles every service behind its interface.
type Services struct {
	Users    UserService
	Vault    VaultService
	Files    FileService
	Contents ContentService
}

// NewServices wires the services over shared storages and key chain.
func NewServices(db *store.DB, storages *store.Storages, keyChain crypto.KeyChainService, cfg config.App, log *logger.Logger) *Services {
	vault := newVaultService(db, storages, keyChain, cfg, log)
	files := newFileService(db, storages, keyChain, log)
	return &Services{
		Users:    newUserService(db, storages, vault, log),
		Vault:    vault,
		Files:    files,
		Contents: newContentService(db, storages, files, keyChain, log),
	}
}
