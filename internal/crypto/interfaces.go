package crypto

// KeyChainService bundles the primitives of the vault's key hierarchy:
// a slow KDF for payload-derived keys, authenticated symmetric wrapping
// for keys and content blocks, and sealed asymmetric wrapping for handing
// a key to a specific public key holder.
//
// Symmetric operations return and accept the IV, ciphertext and
// authentication tag as separate values because they are persisted in
// separate columns. A tag verification failure is the only wrong-key
// signal the vault has; callers fold it into their own error taxonomy and
// never surface it as a distinct crypto error.
type KeyChainService interface {
	// GenerateSalt returns a fresh 16-byte KDF salt.
	GenerateSalt() ([]byte, error)

	// GenerateKey returns a fresh random 256-bit symmetric key.
	GenerateKey() ([]byte, error)

	// DeriveKey stretches a secret payload and salt into a 256-bit key
	// using argon2id with the given time cost.
	DeriveKey(payload, salt []byte, timeCost uint32) []byte

	// EncryptSymmetric seals plaintext under key with AES-256-GCM and a
	// fresh random IV.
	EncryptSymmetric(key, plaintext []byte) (iv, ciphertext, authTag []byte, err error)

	// DecryptSymmetric reverses EncryptSymmetric. It returns an error if
	// the key is wrong or the ciphertext was tampered with; the two cases
	// are indistinguishable.
	DecryptSymmetric(key, iv, ciphertext, authTag []byte) ([]byte, error)

	// GenerateKeyPair returns a fresh X25519 key pair.
	GenerateKeyPair() (publicKey, privateKey []byte, err error)

	// EncryptAsymmetric seals plaintext to publicKey so that only the
	// matching private key holder can recover it. The sender stays
	// anonymous; there is no sender authentication.
	EncryptAsymmetric(publicKey, plaintext []byte) ([]byte, error)

	// DecryptAsymmetric opens a sealed message using the recipient key
	// pair.
	DecryptAsymmetric(publicKey, privateKey, ciphertext []byte) ([]byte, error)
}
