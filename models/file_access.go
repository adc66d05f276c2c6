package models

// FileAccessLevel orders the capability levels a grant can carry. Checks
// are numeric comparisons; AccessNone is never stored, it is the revoke
// request.
type FileAccessLevel int

const (
	AccessNone FileAccessLevel = iota
	AccessRead
	AccessReadWrite
	AccessManage
	AccessFull
)

// String returns the level's canonical name for logs and errors.
func (l FileAccessLevel) String() string {
	switch l {
	case AccessNone:
		return "None"
	case AccessRead:
		return "Read"
	case AccessReadWrite:
		return "ReadWrite"
	case AccessManage:
		return "Manage"
	case AccessFull:
		return "Full"
	default:
		return "Invalid"
	}
}

// FileAccess is a capability grant: the file's symmetric key re-wrapped
// under the grantee's public key, bounded by an access level. At most one
// live grant exists per (file, user) pair.
type FileAccess struct {
	Resource

	FileID        int64
	UserID        int64
	GranterUserID int64

	Level FileAccessLevel

	// EncryptedKey is the file key sealed to the grantee's public key.
	EncryptedKey []byte
}

// UnlockedFileAccess pairs a grant with the recovered file key.
type UnlockedFileAccess struct {
	FileAccess

	Key []byte
}
