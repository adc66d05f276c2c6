// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// UserRole orders the privilege tiers of an account. Authorization checks
// are plain numeric comparisons against this value.
type UserRole int

const (
	RoleMember UserRole = iota
	RoleSiteAdmin
	RoleSystemAdmin
)

// Username constraints. Usernames are compared case-insensitively.
const (
	UsernameMinLength = 6
	UsernameMaxLength = 16

	UsernameValidCharacters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_."
)

// UsernameVerificationFlag is a bit set describing everything wrong with a
// proposed username. Zero means the name is acceptable.
type UsernameVerificationFlag int

const UsernameOK UsernameVerificationFlag = 0

const (
	UsernameInvalidCharacters UsernameVerificationFlag = 1 << iota
	UsernameInvalidLength
	UsernameTaken
)

// String returns the role's canonical name for logs and errors.
func (r UserRole) String() string {
	switch r {
	case RoleMember:
		return "Member"
	case RoleSiteAdmin:
		return "SiteAdmin"
	case RoleSystemAdmin:
		return "SystemAdmin"
	default:
		return "Invalid"
	}
}

// User is an account in the vault. It carries no secrets itself: all key
// material hangs off the user's [Credential] rows.
type User struct {
	Resource

	// Username is the unique, case-insensitive login identifier.
	Username string

	// FirstName, MiddleName and LastName are display attributes only.
	FirstName  string
	MiddleName string
	LastName   string

	// Role determines the account's privilege tier. The first account
	// created in an empty vault is promoted to RoleSiteAdmin.
	Role UserRole

	// Suspended blocks authentication and session restoration without
	// deleting the account or its files.
	Suspended bool
}

// HasRole reports whether the account holds at least the given privilege
// tier. Authorization is a plain numeric comparison.
func (u User) HasRole(role UserRole) bool {
	return u.Role >= role
}

// VerifyUsername checks name against the length and character constraints.
// Uniqueness is checked separately by the user service because it needs
// storage access.
func VerifyUsername(name string) UsernameVerificationFlag {
	flag := UsernameOK

	if len(name) < UsernameMinLength || len(name) > UsernameMaxLength {
		flag |= UsernameInvalidLength
	}

	for _, r := range name {
		valid := false
		for _, v := range UsernameValidCharacters {
			if r == v {
				valid = true
				break
			}
		}
		if !valid {
			flag |= UsernameInvalidCharacters
			break
		}
	}

	return flag
}
