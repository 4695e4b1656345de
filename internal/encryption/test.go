package encryption

import (
	"bytes"
	"fmt"
	"io"

	"skycat/internal/catalog"
)

// testMarker is prepended by TestEncryptor so sealed snapshots are
// visibly different from plain SQLite files.
var testMarker = []byte("SKYENC\x00\x00")

// TestEncryptor is a reversible stand-in for age in tests. It has no keys;
// Unlock only rejects an empty passphrase.
type TestEncryptor struct {
	setupCalled bool
}

var _ catalog.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return ErrEmptyPassphrase
	}
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMarker); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (catalog.DecryptionContext, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext strips the marker written by TestEncryptor.
type TestDecryptionContext struct{}

var _ catalog.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(testMarker))
	if _, err := io.ReadFull(r, marker); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(marker, testMarker) {
		return fmt.Errorf("data was not sealed by the test encryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
