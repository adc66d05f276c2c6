// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// BlockSize is the fixed plaintext block size of the chunked content
// store. Writes always re-encrypt whole blocks; absent block indices read
// as zeros.
const BlockSize = 64 * 1024

// FileContent is a named byte stream of a file. The main content holds
// the file's primary data; additional contents hold derived streams.
type FileContent struct {
	Resource

	FileID int64
	IsMain bool

	// Size is the logical length of the stream: the highest byte offset
	// ever written plus one. It only grows.
	Size int64
}

// FileSnapshot is an immutable point-in-time view of a FileContent.
// Snapshots form a tree: writing to an existing snapshot first forks a
// child with BaseFileSnapshotID pointing at it, and unmodified blocks are
// resolved through that chain (copy-on-write at block granularity).
type FileSnapshot struct {
	Resource

	FileID        int64
	FileContentID int64

	// BaseFileSnapshotID is nil for the root ("main") snapshot.
	BaseFileSnapshotID *int64

	CreatorUserID int64

	Size int64
}

// FileBuffer is one encrypted block. Buffers are immutable and are the
// only entity that is hard-deleted: once no current FileData row
// references a buffer it is purged.
type FileBuffer struct {
	Resource

	IV         []byte
	AuthTag    []byte
	Ciphertext []byte
}

// FileData maps a block index of (content, snapshot) to a FileBuffer.
// The mapping is sparse: a missing index is an all-zero block.
type FileData struct {
	Resource

	FileID         int64
	FileContentID  int64
	FileSnapshotID int64
	FileBufferID   int64
	Index          int64
}
