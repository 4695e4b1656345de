package testutil

import (
	"skycat/internal/catalog"
	"skycat/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() catalog.Encryptor {
	return encryption.NewTestEncryptor()
}
