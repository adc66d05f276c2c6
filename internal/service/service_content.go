// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-file-vault/internal/crypto"
	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/internal/store"
	"github.com/MKhiriev/go-file-vault/models"
)

type contentService struct {
	db       *store.DB
	storages *store.Storages
	files    *fileService
	keyChain crypto.KeyChainService
	logger   *logger.Logger
}

func newContentService(db *store.DB, storages *store.Storages, files *fileService, keyChain crypto.KeyChainService, log *logger.Logger) *contentService {
	return &contentService{
		db:       db,
		storages: storages,
		files:    files,
		keyChain: keyChain,
		logger:   log,
	}
}

func (c *contentService) GetMainContent(ctx context.Context, file models.File) (models.FileContent, error) {
	var content models.FileContent
	err := c.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		content, err = c.getMainContent(ctx, tx, file)
		return err
	})
	return content, err
}

func (c *contentService) getMainContent(ctx context.Context, q store.Querier, file models.File) (models.FileContent, error) {
	if file.Type == models.FileTypeFolder {
		return models.FileContent{}, ErrIsAFolder
	}

	content, err := c.storages.FileContents.First(ctx, q, store.QueryOptions{
		Where: []store.Condition{
			{Column: "file_id", Op: "=", Value: file.RecordID},
			{Column: "is_main", Op: "=", Value: true},
		},
	})
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, store.ErrResourceNotFound) {
		return models.FileContent{}, err
	}

	return c.storages.FileContents.Create(ctx, q, models.FileContent{
		FileID: file.RecordID,
		IsMain: true,
	})
}

func (c *contentService) GetMainSnapshot(ctx context.Context, file models.UnlockedFile, content models.FileContent) (models.FileSnapshot, error) {
	var snapshot models.FileSnapshot
	err := c.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		snapshot, err = c.getMainSnapshot(ctx, tx, file, content)
		return err
	})
	return snapshot, err
}

func (c *contentService) getMainSnapshot(ctx context.Context, q store.Querier, file models.UnlockedFile, content models.FileContent) (models.FileSnapshot, error) {
	snapshot, err := c.storages.FileSnapshots.First(ctx, q, store.QueryOptions{
		Where: []store.Condition{
			{Column: "file_content_id", Op: "=", Value: content.RecordID},
			{Column: "base_file_snapshot_id", Op: "is", Value: nil},
		},
	})
	if err == nil {
		return snapshot, nil
	}
	if !errors.Is(err, store.ErrResourceNotFound) {
		return models.FileSnapshot{}, err
	}

	return c.storages.FileSnapshots.Create(ctx, q, models.FileSnapshot{
		FileID:        content.FileID,
		FileContentID: content.RecordID,
		CreatorUserID: file.OwnerUserID,
		Size:          content.Size,
	})
}

func (c *contentService) ListSnapshots(ctx context.Context, file models.UnlockedFile, content models.FileContent) ([]models.FileSnapshot, error) {
	return c.storages.FileSnapshots.Query(ctx, c.db, store.QueryOptions{
		Where:   []store.Condition{{Column: "file_content_id", Op: "=", Value: content.RecordID}},
		OrderBy: []store.Order{{Column: "record_id"}},
	})
}

func (c *contentService) Fork(ctx context.Context, file models.UnlockedFile, content models.FileContent, base models.FileSnapshot, creator models.User) (models.FileSnapshot, error) {
	var snapshot models.FileSnapshot
	err := c.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		snapshot, err = c.fork(ctx, tx, content, base, creator.RecordID)
		return err
	})
	return snapshot, err
}

// fork creates a copy-on-write child of base. No blocks are copied; reads
// fall through the base chain until a block is rewritten in the child.
func (c *contentService) fork(ctx context.Context, q store.Querier, content models.FileContent, base models.FileSnapshot, creatorID int64) (models.FileSnapshot, error) {
	baseID := base.RecordID
	snapshot, err := c.storages.FileSnapshots.Create(ctx, q, models.FileSnapshot{
		FileID:             content.FileID,
		FileContentID:      content.RecordID,
		BaseFileSnapshotID: &baseID,
		CreatorUserID:      creatorID,
		Size:               base.Size,
	})
	if err != nil {
		return models.FileSnapshot{}, err
	}

	logger.FromContext(ctx).Info().
		Int64("content_id", content.RecordID).
		Int64("base_snapshot_id", baseID).
		Int64("snapshot_id", snapshot.RecordID).
		Msg("snapshot forked")
	return snapshot, nil
}

func (c *contentService) Write(ctx context.Context, file models.UnlockedFile, content models.FileContent, snapshot models.FileSnapshot, position int64, data []byte) error {
	return c.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, _, err := c.writeData(ctx, tx, file, content, snapshot, position, data)
		return err
	})
}

// writeData splices data into the snapshot block by block. Every touched
// block is decrypted (or materialized from the base chain, or as zeros),
// patched in memory and re-encrypted into a brand-new buffer under a fresh
// IV; buffers are immutable. A buffer that loses its last FileData
// reference is purged on the spot.
func (c *contentService) writeData(ctx context.Context, q store.Querier, file models.UnlockedFile, content models.FileContent, snapshot models.FileSnapshot, position int64, data []byte) (models.FileContent, models.FileSnapshot, error) {
	if position < 0 {
		return content, snapshot, fmt.Errorf("%w: negative write position", ErrInvalidRequest)
	}
	if len(data) == 0 {
		return content, snapshot, nil
	}

	// Callers tend to hold on to content and snapshot values across
	// writes; re-fetch the current versions so the size updates below
	// build on the head of the chain, not on a stale row.
	content, err := c.storages.FileContents.GetByID(ctx, q, content.RecordID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return content, snapshot, fmt.Errorf("%w: content %d", ErrNotFound, content.RecordID)
	}
	if err != nil {
		return content, snapshot, err
	}
	snapshot, err = c.storages.FileSnapshots.GetByID(ctx, q, snapshot.RecordID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return content, snapshot, fmt.Errorf("%w: snapshot %d", ErrNotFound, snapshot.RecordID)
	}
	if err != nil {
		return content, snapshot, err
	}

	end := position + int64(len(data))

	for index := position / models.BlockSize; index*models.BlockSize < end; index++ {
		blockStart := index * models.BlockSize
		from := max(position, blockStart) - blockStart
		to := min(end, blockStart+models.BlockSize) - blockStart

		own, hasOwn, err := c.ownBlock(ctx, q, content.RecordID, snapshot.RecordID, index)
		if err != nil {
			return content, snapshot, err
		}

		var plain []byte
		if hasOwn {
			plain, err = c.decryptBuffer(ctx, q, file.Key, own.FileBufferID)
		} else {
			var inherited models.FileData
			var found bool
			inherited, found, err = c.resolveBlock(ctx, q, content.RecordID, snapshot, index)
			if err == nil && found {
				plain, err = c.decryptBuffer(ctx, q, file.Key, inherited.FileBufferID)
			}
		}
		if err != nil {
			return content, snapshot, err
		}

		// Blocks are stored at their written length; extend with zeros up
		// to the end of the range being spliced in.
		if int64(len(plain)) < to {
			plain = append(plain, make([]byte, to-int64(len(plain)))...)
		}
		copy(plain[from:to], data[blockStart+from-position:blockStart+to-position])

		iv, ciphertext, authTag, err := c.keyChain.EncryptSymmetric(file.Key, plain)
		if err != nil {
			return content, snapshot, fmt.Errorf("error encrypting block: %w", err)
		}
		buffer, err := c.storages.FileBuffers.Create(ctx, q, models.FileBuffer{
			IV:         iv,
			AuthTag:    authTag,
			Ciphertext: ciphertext,
		})
		if err != nil {
			return content, snapshot, err
		}

		if hasOwn {
			oldBufferID := own.FileBufferID
			if _, err := c.storages.FileData.Update(ctx, q, own, models.FileData{
				FileBufferID: buffer.RecordID,
			}, store.UpdateOptions{}); err != nil {
				return content, snapshot, err
			}
			if err := c.collectBuffer(ctx, q, oldBufferID); err != nil {
				return content, snapshot, err
			}
		} else {
			if _, err := c.storages.FileData.Create(ctx, q, models.FileData{
				FileID:         content.FileID,
				FileContentID:  content.RecordID,
				FileSnapshotID: snapshot.RecordID,
				FileBufferID:   buffer.RecordID,
				Index:          index,
			}); err != nil {
				return content, snapshot, err
			}
		}
	}

	if end > content.Size {
		updated, err := c.storages.FileContents.Update(ctx, q, content, models.FileContent{Size: end}, store.UpdateOptions{})
		if err != nil {
			return content, snapshot, err
		}
		content = updated
	}
	if end > snapshot.Size {
		updated, err := c.storages.FileSnapshots.Update(ctx, q, snapshot, models.FileSnapshot{Size: end}, store.UpdateOptions{})
		if err != nil {
			return content, snapshot, err
		}
		snapshot = updated
	}
	return content, snapshot, nil
}

func (c *contentService) Truncate(ctx context.Context, file models.UnlockedFile, content models.FileContent, snapshot models.FileSnapshot, size int64) error {
	return c.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := c.truncate(ctx, tx, file, snapshot, size)
		return err
	})
}

// truncate shortens a snapshot to size bytes. Growing through Truncate is
// rejected; only Write extends a stream. The partially cut tail block is
// re-encrypted at its new length and every block past the cut is pointed
// at an empty buffer, so an extension after the truncate reads zeros
// rather than the cut bytes or, on a forked snapshot, the base's bytes.
func (c *contentService) truncate(ctx context.Context, q store.Querier, file models.UnlockedFile, snapshot models.FileSnapshot, size int64) (models.FileSnapshot, error) {
	snapshot, err := c.storages.FileSnapshots.GetByID(ctx, q, snapshot.RecordID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return snapshot, fmt.Errorf("%w: snapshot %d", ErrNotFound, snapshot.RecordID)
	}
	if err != nil {
		return snapshot, err
	}
	if size < 0 || size > snapshot.Size {
		return snapshot, fmt.Errorf("%w: truncate to %d outside [0, %d]", ErrInvalidRequest, size, snapshot.Size)
	}
	if size == snapshot.Size {
		return snapshot, nil
	}

	lastOld := (snapshot.Size - 1) / models.BlockSize
	for index := size / models.BlockSize; index <= lastOld; index++ {
		blockStart := index * models.BlockSize
		keep := max(size-blockStart, 0)

		row, found, err := c.resolveBlock(ctx, q, snapshot.FileContentID, snapshot, index)
		if err != nil {
			return snapshot, err
		}
		if !found {
			continue
		}

		var plain []byte
		if keep > 0 {
			plain, err = c.decryptBuffer(ctx, q, file.Key, row.FileBufferID)
			if err != nil {
				return snapshot, err
			}
			if int64(len(plain)) > keep {
				plain = plain[:keep]
			}
		}

		iv, ciphertext, authTag, err := c.keyChain.EncryptSymmetric(file.Key, plain)
		if err != nil {
			return snapshot, fmt.Errorf("error encrypting block: %w", err)
		}
		buffer, err := c.storages.FileBuffers.Create(ctx, q, models.FileBuffer{
			IV:         iv,
			AuthTag:    authTag,
			Ciphertext: ciphertext,
		})
		if err != nil {
			return snapshot, err
		}

		if row.FileSnapshotID == snapshot.RecordID {
			oldBufferID := row.FileBufferID
			if _, err := c.storages.FileData.Update(ctx, q, row, models.FileData{
				FileBufferID: buffer.RecordID,
			}, store.UpdateOptions{}); err != nil {
				return snapshot, err
			}
			if err := c.collectBuffer(ctx, q, oldBufferID); err != nil {
				return snapshot, err
			}
		} else {
			// The block lives in a base snapshot; mask it with an own row.
			if _, err := c.storages.FileData.Create(ctx, q, models.FileData{
				FileID:         snapshot.FileID,
				FileContentID:  snapshot.FileContentID,
				FileSnapshotID: snapshot.RecordID,
				FileBufferID:   buffer.RecordID,
				Index:          index,
			}); err != nil {
				return snapshot, err
			}
		}
	}

	// Size zero cannot be expressed as a sparse patch.
	patch := snapshot
	patch.Size = size
	updated, err := c.storages.FileSnapshots.Update(ctx, q, snapshot, patch, store.UpdateOptions{ReplaceAll: true})
	if err != nil {
		return snapshot, err
	}

	logger.FromContext(ctx).Info().
		Int64("snapshot_id", updated.RecordID).
		Int64("size", size).
		Msg("snapshot truncated")
	return updated, nil
}

func (c *contentService) Read(ctx context.Context, file models.UnlockedFile, content models.FileContent, snapshot models.FileSnapshot, position, length int64) ([]byte, error) {
	if position < 0 || length < 0 {
		return nil, fmt.Errorf("%w: negative read range", ErrInvalidRequest)
	}
	if position >= content.Size {
		return nil, ErrReadOutOfRange
	}
	// Clamp by subtraction: position+length can overflow int64.
	if length > content.Size-position {
		length = content.Size - position
	}
	if length == 0 {
		return []byte{}, nil
	}

	result := make([]byte, length)
	end := position + length

	for index := position / models.BlockSize; index*models.BlockSize < end; index++ {
		blockStart := index * models.BlockSize
		from := max(position, blockStart) - blockStart
		to := min(end, blockStart+models.BlockSize) - blockStart

		row, found, err := c.resolveBlock(ctx, c.db, content.RecordID, snapshot, index)
		if err != nil {
			return nil, err
		}
		if !found {
			// Sparse region: never written, reads as zeros. The result
			// slice is already zeroed.
			continue
		}

		plain, err := c.decryptBuffer(ctx, c.db, file.Key, row.FileBufferID)
		if err != nil {
			return nil, err
		}
		if int64(len(plain)) < to {
			plain = append(plain, make([]byte, to-int64(len(plain)))...)
		}
		copy(result[blockStart+from-position:blockStart+to-position], plain[from:to])
	}

	return result, nil
}

// ownBlock looks up the FileData row of (snapshot, index) itself, without
// falling through to the base chain.
func (c *contentService) ownBlock(ctx context.Context, q store.Querier, contentID, snapshotID, index int64) (models.FileData, bool, error) {
	row, err := c.storages.FileData.First(ctx, q, store.QueryOptions{
		Where: []store.Condition{
			{Column: "file_content_id", Op: "=", Value: contentID},
			{Column: "file_snapshot_id", Op: "=", Value: snapshotID},
			{Column: "block_index", Op: "=", Value: index},
		},
	})
	if errors.Is(err, store.ErrResourceNotFound) {
		return models.FileData{}, false, nil
	}
	if err != nil {
		return models.FileData{}, false, err
	}
	return row, true, nil
}

// resolveBlock walks the snapshot's base chain until a snapshot owns the
// block. Not finding it anywhere means the block was never written.
func (c *contentService) resolveBlock(ctx context.Context, q store.Querier, contentID int64, snapshot models.FileSnapshot, index int64) (models.FileData, bool, error) {
	current := snapshot
	for {
		row, found, err := c.ownBlock(ctx, q, contentID, current.RecordID, index)
		if err != nil || found {
			return row, found, err
		}
		if current.BaseFileSnapshotID == nil {
			return models.FileData{}, false, nil
		}
		current, err = c.storages.FileSnapshots.GetByID(ctx, q, *current.BaseFileSnapshotID, store.GetOptions{IncludeDeleted: true})
		if errors.Is(err, store.ErrResourceNotFound) {
			return models.FileData{}, false, fmt.Errorf("%w: base snapshot of %d", ErrNotFound, snapshot.RecordID)
		}
		if err != nil {
			return models.FileData{}, false, err
		}
	}
}

func (c *contentService) decryptBuffer(ctx context.Context, q store.Querier, key []byte, bufferID int64) ([]byte, error) {
	buffer, err := c.storages.FileBuffers.GetByID(ctx, q, bufferID, store.GetOptions{})
	if errors.Is(err, store.ErrResourceNotFound) {
		return nil, fmt.Errorf("%w: buffer %d", ErrNotFound, bufferID)
	}
	if err != nil {
		return nil, err
	}
	plain, err := c.keyChain.DecryptSymmetric(key, buffer.IV, buffer.Ciphertext, buffer.AuthTag)
	if errors.Is(err, crypto.ErrDecryptionFailed) {
		return nil, ErrForbidden
	}
	return plain, err
}

// collectBuffer purges a buffer once no current FileData row references
// it. Historical FileData versions do not pin buffers; history records
// which buffer a block pointed at, not the bytes themselves.
func (c *contentService) collectBuffer(ctx context.Context, q store.Querier, bufferID int64) error {
	refs, err := c.storages.FileData.Count(ctx, q, []store.Condition{
		{Column: "file_buffer_id", Op: "=", Value: bufferID},
	})
	if err != nil {
		return err
	}
	if refs > 0 {
		return nil
	}

	buffer, err := c.storages.FileBuffers.GetByID(ctx, q, bufferID, store.GetOptions{IncludeDeleted: true})
	if errors.Is(err, store.ErrResourceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.storages.FileBuffers.Purge(ctx, q, buffer)
}

func (c *contentService) Open(ctx context.Context, identity models.UnlockedCredential, file models.File, snapshot *models.FileSnapshot) (*Handle, error) {
	var handle *Handle
	err := c.db.RunExclusive(ctx, func(ctx context.Context, tx *sql.Tx) error {
		unlocked, err := c.files.unlock(ctx, tx, file, identity, models.AccessRead)
		if err != nil {
			return err
		}
		content, err := c.getMainContent(ctx, tx, unlocked.File)
		if err != nil {
			return err
		}

		var snap models.FileSnapshot
		if snapshot != nil {
			snap = *snapshot
		} else {
			snap, err = c.getMainSnapshot(ctx, tx, unlocked, content)
			if err != nil {
				return err
			}
		}

		handle = &Handle{
			contents: c,
			identity: identity,
			file:     unlocked,
			content:  content,
			snapshot: snap,
		}
		return nil
	})
	return handle, err
}
