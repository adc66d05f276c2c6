// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/MKhiriev/go-file-vault/models"
)

// Handle is a positioned read/write session on one content stream. Reads
// go against the snapshot the handle was opened on; the first write forks
// a private child snapshot so the opened snapshot stays immutable under
// the session. Handles are not safe for concurrent use.
type Handle struct {
	contents *contentService
	identity models.UnlockedCredential
	file     models.UnlockedFile
	content  models.FileContent
	snapshot models.FileSnapshot

	position   int64
	hasWritten bool
}

// Snapshot returns the snapshot the handle currently targets. After the
// first write this is the forked child, not the snapshot passed to Open.
func (h *Handle) Snapshot() models.FileSnapshot { return h.snapshot }

// Size returns the logical length of the snapshot the handle targets.
func (h *Handle) Size() int64 { return h.snapshot.Size }

// Position returns the current offset.
func (h *Handle) Position() int64 { return h.position }

// Seek moves the offset to an absolute position.
func (h *Handle) Seek(position int64) error {
	if position < 0 {
		return fmt.Errorf("%w: negative seek position", ErrInvalidRequest)
	}
	h.position = position
	return nil
}

// Read returns up to length bytes from the current position and advances
// it. A position at or past the end of the snapshot yields [io.EOF].
func (h *Handle) Read(ctx context.Context, length int64) ([]byte, error) {
	if h.position >= h.snapshot.Size {
		return nil, io.EOF
	}
	// The content stream's size is a high-water mark across snapshots;
	// bound the read by this snapshot's own length. Clamp by subtraction
	// so a huge length cannot overflow the sum.
	if length > h.snapshot.Size-h.position {
		length = h.snapshot.Size - h.position
	}
	data, err := h.contents.Read(ctx, h.file, h.content, h.snapshot, h.position, length)
	if err != nil {
		return nil, err
	}
	h.position += int64(len(data))
	return data, nil
}

// Write splices data at the current position and advances it. The first
// mutation of the session forks the snapshot; a non-owner is re-checked
// for ReadWrite access at that point.
func (h *Handle) Write(ctx context.Context, data []byte) error {
	err := h.contents.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := h.forkForWrite(ctx, tx); err != nil {
			return err
		}

		content, snapshot, err := h.contents.writeData(ctx, tx, h.file, h.content, h.snapshot, h.position, data)
		if err != nil {
			return err
		}
		h.content = content
		h.snapshot = snapshot
		return nil
	})
	if err != nil {
		return err
	}
	h.position += int64(len(data))
	return nil
}

// Truncate shortens the handle's snapshot to size bytes and, like Write,
// forks it first if this is the session's first mutation. A position past
// the new end is pulled back to it.
func (h *Handle) Truncate(ctx context.Context, size int64) error {
	if size < 0 || size > h.snapshot.Size {
		return fmt.Errorf("%w: truncate to %d outside [0, %d]", ErrInvalidRequest, size, h.snapshot.Size)
	}
	err := h.contents.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := h.forkForWrite(ctx, tx); err != nil {
			return err
		}

		snapshot, err := h.contents.truncate(ctx, tx, h.file, h.snapshot, size)
		if err != nil {
			return err
		}
		h.snapshot = snapshot
		return nil
	})
	if err != nil {
		return err
	}
	if h.position > size {
		h.position = size
	}
	return nil
}

func (h *Handle) forkForWrite(ctx context.Context, tx *sql.Tx) error {
	if h.hasWritten {
		return nil
	}
	if h.identity.UserID != h.file.OwnerUserID {
		if _, err := h.contents.files.unlock(ctx, tx, h.file.File, h.identity, models.AccessReadWrite); err != nil {
			return err
		}
	}
	forked, err := h.contents.fork(ctx, tx, h.content, h.snapshot, h.identity.UserID)
	if err != nil {
		return err
	}
	h.snapshot = forked
	h.hasWritten = true
	return nil
}
