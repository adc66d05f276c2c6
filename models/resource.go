// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package models defines the persisted entity types of the file vault and
// the value types (roles, access levels, validation flags) shared between
// the storage and service layers.
//
// Every persisted entity embeds [Resource], the versioning envelope: an
// entity is never updated in place, a new version row is appended and the
// previous row's forward pointer is rewired. The stable identity of an
// entity is RecordID; VersionID identifies one immutable version row.
package models

import "time"

// Resource is the versioning envelope embedded by every persisted entity.
//
// For every live record there is exactly one version row whose
// NextVersionID is nil; that row is the current state. Following
// PreviousVersionID from it reconstructs the full history. Version rows
// are immutable once written: an update appends a new row and sets the
// retired row's NextVersionID.
type Resource struct {
	// RecordID is the stable identity of the entity, shared by all of its
	// version rows. It references the holder row that carries the Deleted
	// flag.
	RecordID int64

	// VersionID uniquely identifies this version row. Monotonically
	// increasing across all rows of the same entity kind.
	VersionID int64

	// CreateTime is the moment this version row was written, not the
	// moment the record first came into existence.
	CreateTime time.Time

	// PreviousVersionID points at the version this row was derived from.
	// Nil for the first version of a record.
	PreviousVersionID *int64

	// NextVersionID points at the version that superseded this row.
	// Nil means this row is the current version.
	NextVersionID *int64

	// Deleted mirrors the holder row's soft-delete flag. It is a property
	// of the record, not of any single version: restoring a record brings
	// its whole history back.
	Deleted bool
}

// IsCurrent reports whether this version row is the record's present state.
func (r Resource) IsCurrent() bool {
	return r.NextVersionID == nil
}
