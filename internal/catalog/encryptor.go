package catalog

import "io"

// Encryptor handles encryption of catalog snapshots and unlocking for
// decryption. Encryption uses the public key only; decryption requires a
// passphrase to unlock the private key.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext, and
	// encrypts the private key with the passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase. Returns an
	// error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
