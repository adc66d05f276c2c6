// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// FileType distinguishes regular files from folders.
type FileType int

const (
	FileTypeFile FileType = iota
	FileTypeFolder
)

// File name constraints.
const (
	FileNameMinLength = 1
	FileNameMaxLength = 256

	FileNameInvalidCharacters = `\/:*?'"<>|`
)

// FileNameVerificationFlag is a bit set describing everything wrong with a
// proposed file name. Zero means the name is acceptable.
type FileNameVerificationFlag int

const FileNameOK FileNameVerificationFlag = 0

const (
	FileNameInvalidChars FileNameVerificationFlag = 1 << iota
	FileNameInvalidLength
	FileNameExists
)

// File is a node of the per-owner tree. Its symmetric key is wrapped under
// the parent file's key, or under the owner's public key for the lazily
// created root folder. The tree keeps parent pointers only; child listings
// are derived by query.
type File struct {
	Resource

	// ParentFileID is nil only for an owner's root folder.
	ParentFileID *int64

	// OwnerUserID is inherited from the parent on creation and is the
	// identity allowed to unlock the file through ancestor traversal.
	OwnerUserID int64

	// CreatorUserID records who created the node; it never changes on
	// move or rename.
	CreatorUserID int64

	Name string
	Type FileType

	// EncryptedKey holds the wrapped symmetric key. For non-root files it
	// is an AES-GCM wrap under the parent key using EncryptedKeyIV and
	// EncryptedKeyAuthTag; for roots it is a sealed asymmetric wrap under
	// the owner's public key and the IV and tag columns are empty.
	EncryptedKey        []byte
	EncryptedKeyIV      []byte
	EncryptedKeyAuthTag []byte
}

// IsRoot reports whether the file is an owner's root folder.
func (f File) IsRoot() bool {
	return f.ParentFileID == nil
}

// UnlockedFile is a File whose symmetric key has been recovered. Like
// UnlockedCredential it is a transient in-memory value and is never
// persisted.
type UnlockedFile struct {
	File

	Key []byte
}

// VerifyFileName checks name against the length and character constraints.
// Collisions within a parent are checked by the file service.
func VerifyFileName(name string) FileNameVerificationFlag {
	flag := FileNameOK

	if len(name) < FileNameMinLength || len(name) > FileNameMaxLength {
		flag |= FileNameInvalidLength
	}

	for _, r := range name {
		for _, invalid := range FileNameInvalidCharacters {
			if r == invalid {
				return flag | FileNameInvalidChars
			}
		}
	}

	return flag
}
