// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"time"

	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/models"
)

// scanMeta reads the six envelope columns every entity row starts with.
// Each schema's Scan function chains it with the entity columns.
func scanMeta(meta *models.Resource) ([]any, func()) {
	var createTime int64
	dest := []any{
		&meta.VersionID,
		&meta.RecordID,
		&createTime,
		&meta.PreviousVersionID,
		&meta.NextVersionID,
		&meta.Deleted,
	}
	return dest, func() { meta.CreateTime = time.UnixMilli(createTime) }
}

// UserSchema describes the users entity to the generic store.
var UserSchema = Schema[models.User]{
	Table:      "users",
	Columns:    []string{"username", "first_name", "middle_name", "last_name", "role", "suspended"},
	Searchable: []string{"username", "first_name", "middle_name", "last_name"},
	Scan: func(row RowScanner) (models.User, error) {
		var u models.User
		dest, finish := scanMeta(&u.Resource)
		dest = append(dest, &u.Username, &u.FirstName, &u.MiddleName, &u.LastName, &u.Role, &u.Suspended)
		if err := row.Scan(dest...); err != nil {
			return u, err
		}
		finish()
		return u, nil
	},
	Values: func(u *models.User) []any {
		return []any{u.Username, u.FirstName, u.MiddleName, u.LastName, u.Role, u.Suspended}
	},
	Meta: func(u *models.User) *models.Resource { return &u.Resource },
}

// CredentialSchema describes the credentials entity to the generic store.
var CredentialSchema = Schema[models.Credential]{
	Table:   "credentials",
	Columns: []string{"user_id", "type", "iterations", "salt", "iv", "auth_tag", "encrypted_private_key", "public_key"},
	Scan: func(row RowScanner) (models.Credential, error) {
		var c models.Credential
		dest, finish := scanMeta(&c.Resource)
		dest = append(dest, &c.UserID, &c.Type, &c.Iterations, &c.Salt, &c.IV, &c.AuthTag, &c.EncryptedPrivateKey, &c.PublicKey)
		if err := row.Scan(dest...); err != nil {
			return c, err
		}
		finish()
		return c, nil
	},
	Values: func(c *models.Credential) []any {
		return []any{c.UserID, c.Type, c.Iterations, c.Salt, c.IV, c.AuthTag, c.EncryptedPrivateKey, c.PublicKey}
	},
	Meta: func(c *models.Credential) *models.Resource { return &c.Resource },
}

// SessionSchema describes the sessions entity to the generic store.
var SessionSchema = Schema[models.Session]{
	Table:   "sessions",
	Columns: []string{"user_id", "origin_credential_id", "expire_time", "encrypted_private_key", "iv", "auth_tag"},
	Scan: func(row RowScanner) (models.Session, error) {
		var s models.Session
		var expire int64
		dest, finish := scanMeta(&s.Resource)
		dest = append(dest, &s.UserID, &s.OriginCredentialID, &expire, &s.EncryptedPrivateKey, &s.IV, &s.AuthTag)
		if err := row.Scan(dest...); err != nil {
			return s, err
		}
		finish()
		s.ExpireTime = time.UnixMilli(expire)
		return s, nil
	},
	Values: func(s *models.Session) []any {
		return []any{s.UserID, s.OriginCredentialID, s.ExpireTime.UnixMilli(), s.EncryptedPrivateKey, s.IV, s.AuthTag}
	},
	Meta: func(s *models.Session) *models.Resource { return &s.Resource },
}

// FileSchema describes the files entity to the generic store.
var FileSchema = Schema[models.File]{
	Table:      "files",
	Columns:    []string{"parent_file_id", "owner_user_id", "creator_user_id", "name", "type", "encrypted_key", "encrypted_key_iv", "encrypted_key_auth_tag"},
	Searchable: []string{"name"},
	Scan: func(row RowScanner) (models.File, error) {
		var f models.File
		dest, finish := scanMeta(&f.Resource)
		dest = append(dest, &f.ParentFileID, &f.OwnerUserID, &f.CreatorUserID, &f.Name, &f.Type, &f.EncryptedKey, &f.EncryptedKeyIV, &f.EncryptedKeyAuthTag)
		if err := row.Scan(dest...); err != nil {
			return f, err
		}
		finish()
		return f, nil
	},
	Values: func(f *models.File) []any {
		return []any{f.ParentFileID, f.OwnerUserID, f.CreatorUserID, f.Name, f.Type, f.EncryptedKey, f.EncryptedKeyIV, f.EncryptedKeyAuthTag}
	},
	Meta: func(f *models.File) *models.Resource { return &f.Resource },
}

// FileAccessSchema describes the capability grants to the generic store.
var FileAccessSchema = Schema[models.FileAccess]{
	Table:   "file_accesses",
	Columns: []string{"file_id", "user_id", "granter_user_id", "level", "encrypted_key"},
	Scan: func(row RowScanner) (models.FileAccess, error) {
		var a models.FileAccess
		dest, finish := scanMeta(&a.Resource)
		dest = append(dest, &a.FileID, &a.UserID, &a.GranterUserID, &a.Level, &a.EncryptedKey)
		if err := row.Scan(dest...); err != nil {
			return a, err
		}
		finish()
		return a, nil
	},
	Values: func(a *models.FileAccess) []any {
		return []any{a.FileID, a.UserID, a.GranterUserID, a.Level, a.EncryptedKey}
	},
	Meta: func(a *models.FileAccess) *models.Resource { return &a.Resource },
}

// FileContentSchema describes the content streams to the generic store.
var FileContentSchema = Schema[models.FileContent]{
	Table:   "file_contents",
	Columns: []string{"file_id", "is_main", "size"},
	Scan: func(row RowScanner) (models.FileContent, error) {
		var c models.FileContent
		dest, finish := scanMeta(&c.Resource)
		dest = append(dest, &c.FileID, &c.IsMain, &c.Size)
		if err := row.Scan(dest...); err != nil {
			return c, err
		}
		finish()
		return c, nil
	},
	Values: func(c *models.FileContent) []any {
		return []any{c.FileID, c.IsMain, c.Size}
	},
	Meta: func(c *models.FileContent) *models.Resource { return &c.Resource },
}

// FileSnapshotSchema describes the snapshot tree to the generic store.
var FileSnapshotSchema = Schema[models.FileSnapshot]{
	Table:   "file_snapshots",
	Columns: []string{"file_id", "file_content_id", "base_file_snapshot_id", "creator_user_id", "size"},
	Scan: func(row RowScanner) (models.FileSnapshot, error) {
		var s models.FileSnapshot
		dest, finish := scanMeta(&s.Resource)
		dest = append(dest, &s.FileID, &s.FileContentID, &s.BaseFileSnapshotID, &s.CreatorUserID, &s.Size)
		if err := row.Scan(dest...); err != nil {
			return s, err
		}
		finish()
		return s, nil
	},
	Values: func(s *models.FileSnapshot) []any {
		return []any{s.FileID, s.FileContentID, s.BaseFileSnapshotID, s.CreatorUserID, s.Size}
	},
	Meta: func(s *models.FileSnapshot) *models.Resource { return &s.Resource },
}

// FileBufferSchema describes the encrypted blocks to the generic store.
var FileBufferSchema = Schema[models.FileBuffer]{
	Table:   "file_buffers",
	Columns: []string{"iv", "auth_tag", "ciphertext"},
	Scan: func(row RowScanner) (models.FileBuffer, error) {
		var b models.FileBuffer
		dest, finish := scanMeta(&b.Resource)
		dest = append(dest, &b.IV, &b.AuthTag, &b.Ciphertext)
		if err := row.Scan(dest...); err != nil {
			return b, err
		}
		finish()
		return b, nil
	},
	Values: func(b *models.FileBuffer) []any {
		return []any{b.IV, b.AuthTag, b.Ciphertext}
	},
	Meta: func(b *models.FileBuffer) *models.Resource { return &b.Resource },
}

// FileDataSchema describes the sparse block index to the generic store.
var FileDataSchema = Schema[models.FileData]{
	Table:   "file_data",
	Columns: []string{"file_id", "file_content_id", "file_snapshot_id", "file_buffer_id", "block_index"},
	Scan: func(row RowScanner) (models.FileData, error) {
		var d models.FileData
		dest, finish := scanMeta(&d.Resource)
		dest = append(dest, &d.FileID, &d.FileContentID, &d.FileSnapshotID, &d.FileBufferID, &d.Index)
		if err := row.Scan(dest...); err != nil {
			return d, err
		}
		finish()
		return d, nil
	},
	Values: func(d *models.FileData) []any {
		return []any{d.FileID, d.FileContentID, d.FileSnapshotID, d.FileBufferID, d.Index}
	},
	Meta: func(d *models.FileData) *models.Resource { return &d.Resource },
}

// Storages bundles one generic store per entity kind around a shared
// connection. Services receive the whole bundle.
type Storages struct {
	DB *DB

	Users         *Store[models.User]
	Credentials   *Store[models.Credential]
	Sessions      *Store[models.Session]
	Files         *Store[models.File]
	FileAccesses  *Store[models.FileAccess]
	FileContents  *Store[models.FileContent]
	FileSnapshots *Store[models.FileSnapshot]
	FileBuffers   *Store[models.FileBuffer]
	FileData      *Store[models.FileData]
}

// NewStorages wires every entity store to the shared connection.
func NewStorages(db *DB, log *logger.Logger) *Storages {
	log.Debug().Msg("creating resource storages")
	return &Storages{
		DB:            db,
		Users:         NewStore(UserSchema, log),
		Credentials:   NewStore(CredentialSchema, log),
		Sessions:      NewStore(SessionSchema, log),
		Files:         NewStore(FileSchema, log),
		FileAccesses:  NewStore(FileAccessSchema, log),
		FileContents:  NewStore(FileContentSchema, log),
		FileSnapshots: NewStore(FileSnapshotSchema, log),
		FileBuffers:   NewStore(FileBufferSchema, log),
		FileData:      NewStore(FileDataSchema, log),
	}
}
