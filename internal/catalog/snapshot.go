package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// EncryptedSnapshotName is the vault item holding an age-encrypted
// catalog snapshot.
const EncryptedSnapshotName = SnapshotName + ".age"

// ErrNoSnapshot is returned when a vault holds no snapshot for a catalog.
var ErrNoSnapshot = errors.New("no catalog snapshot in vault")

// Snapshot uploads a consistent copy of the catalog to the vault, tagged
// with version. The copy is encrypted when an encryptor is configured.
func (s *Service) Snapshot(version int64) error {
	if s.vault == nil {
		return fmt.Errorf("no vault configured")
	}

	tmp, err := os.CreateTemp("", "skycat-snapshot-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.database.BackupTo(tmpPath); err != nil {
		return fmt.Errorf("backing up catalog: %w", err)
	}

	name := SnapshotName
	uploadPath := tmpPath
	if s.encryptor != nil {
		encPath := tmpPath + ".age"
		defer os.Remove(encPath)
		if err := encryptFile(s.encryptor, tmpPath, encPath); err != nil {
			return err
		}
		name, uploadPath = EncryptedSnapshotName, encPath
	}

	f, err := os.Open(uploadPath)
	if err != nil {
		return fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	if err := s.vault.PutSnapshot(s.catalogID, name, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading snapshot to vault: %w", err)
	}
	s.logger.Info("catalog snapshot uploaded", "name", name, "version", version, "size", info.Size())
	return nil
}

func encryptFile(enc Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return out.Close()
}

// LatestSnapshot returns the name and version of the newest snapshot of
// a catalog in v, or ErrNoSnapshot.
func LatestSnapshot(v Vault, catalogID string) (string, int64, error) {
	plain, err := v.SnapshotVersion(catalogID, SnapshotName)
	if err != nil {
		return "", 0, fmt.Errorf("checking snapshot version: %w", err)
	}
	encrypted, err := v.SnapshotVersion(catalogID, EncryptedSnapshotName)
	if err != nil {
		return "", 0, fmt.Errorf("checking encrypted snapshot version: %w", err)
	}
	switch {
	case plain == 0 && encrypted == 0:
		return "", 0, ErrNoSnapshot
	case encrypted > plain:
		return EncryptedSnapshotName, encrypted, nil
	default:
		return SnapshotName, plain, nil
	}
}

// RestoreSnapshot writes the newest snapshot of a catalog to w and
// returns its version. dctx is required when that snapshot is encrypted.
func RestoreSnapshot(v Vault, catalogID string, w io.Writer, dctx DecryptionContext) (int64, error) {
	name, version, err := LatestSnapshot(v, catalogID)
	if err != nil {
		return 0, err
	}
	if name == SnapshotName {
		if err := v.GetSnapshot(catalogID, name, w); err != nil {
			return 0, fmt.Errorf("downloading snapshot: %w", err)
		}
		return version, nil
	}

	if dctx == nil {
		return 0, fmt.Errorf("snapshot is encrypted but no decryption context provided")
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(v.GetSnapshot(catalogID, name, pw))
	}()
	err = dctx.Decrypt(pr, w)
	pr.CloseWithError(err)
	if err != nil {
		return 0, fmt.Errorf("decrypting snapshot: %w", err)
	}
	return version, nil
}

// SnapshotEncrypted reports whether the newest snapshot of a catalog
// needs a passphrase to restore.
func SnapshotEncrypted(v Vault, catalogID string) (bool, error) {
	name, _, err := LatestSnapshot(v, catalogID)
	if err != nil {
		return false, err
	}
	return name == EncryptedSnapshotName, nil
}
