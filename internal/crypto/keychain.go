// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"
)

const (
	saltLength = 16
	keyLength  = 32
	ivLength   = 12
	tagLength  = 16

	// Argon2id memory cost and parallelism are fixed; only the time cost
	// is persisted per credential so it can be raised over time.
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
)

// ErrDecryptionFailed is returned by both symmetric and asymmetric
// decryption for every failure mode: wrong key, truncated input, tampered
// ciphertext. Collapsing them prevents callers from accidentally building
// a padding/tag oracle out of error messages.
var ErrDecryptionFailed = errors.New("decryption failed")

// keyChainService is the private implementation of [KeyChainService].
type keyChainService struct{}

// NewKeyChainService constructs a [KeyChainService] backed by AES-256-GCM,
// argon2id and NaCl sealed boxes.
func NewKeyChainService() KeyChainService {
	return &keyChainService{}
}

// GenerateSalt implements [KeyChainService]. It reads 16 random bytes from
// the OS CSPRNG.
func (k *keyChainService) GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// GenerateKey implements [KeyChainService]. It reads 32 random bytes from
// the OS CSPRNG.
func (k *keyChainService) GenerateKey() ([]byte, error) {
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKey implements [KeyChainService]. The memory cost (64 MiB) and
// parallelism (4 lanes) are constants; timeCost comes from the credential
// row so old credentials keep the cost they were created with.
func (k *keyChainService) DeriveKey(payload, salt []byte, timeCost uint32) []byte {
	return argon2.IDKey(payload, salt, timeCost, argonMemory, argonThreads, keyLength)
}

// EncryptSymmetric implements [KeyChainService]. The 12-byte IV is drawn
// fresh from the CSPRNG for every call; the GCM tag is split off the
// sealed output so the three parts can be stored in separate columns.
func (k *keyChainService) EncryptSymmetric(key, plaintext []byte) (iv, ciphertext, authTag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagLength]
	authTag = sealed[len(sealed)-tagLength:]
	return iv, ciphertext, authTag, nil
}

// DecryptSymmetric implements [KeyChainService]. Any failure, including a
// tag mismatch, is reported as [ErrDecryptionFailed].
func (k *keyChainService) DecryptSymmetric(key, iv, ciphertext, authTag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(iv) != ivLength || len(authTag) != tagLength {
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, authTag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateKeyPair implements [KeyChainService].
func (k *keyChainService) GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub[:], priv[:], nil
}

// EncryptAsymmetric implements [KeyChainService] with an anonymous sealed
// box: an ephemeral key pair is generated per message, so the output is
// self-contained and non-deterministic.
func (k *keyChainService) EncryptAsymmetric(publicKey, plaintext []byte) ([]byte, error) {
	pub, err := toBoxKey(publicKey)
	if err != nil {
		return nil, err
	}
	return box.SealAnonymous(nil, plaintext, pub, rand.Reader)
}

// DecryptAsymmetric implements [KeyChainService]. Any failure is reported
// as [ErrDecryptionFailed].
func (k *keyChainService) DecryptAsymmetric(publicKey, privateKey, ciphertext []byte) ([]byte, error) {
	pub, err := toBoxKey(publicKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	priv, err := toBoxKey(privateKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, pub, priv)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func toBoxKey(key []byte) (*[32]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("key must be 32 bytes")
	}
	var out [32]byte
	copy(out[:], key)
	return &out, nil
}
