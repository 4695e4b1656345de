package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"skycat/internal/catalog"
	"skycat/internal/config"
	"skycat/internal/database"
	"skycat/internal/encryption"
	"skycat/internal/fs"
	"skycat/internal/model"
	"skycat/internal/platesolve"
	"skycat/internal/search"
	"skycat/internal/vault"
)

// SkycatApp is the application layer between the CLI and catalog.Service.
// It constructs all dependencies from config, records mutating commands
// as operations, and snapshots the catalog to the vault on Close.
type SkycatApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	vault   catalog.Vault
	service *catalog.Service
	op      *Operation
	logFile *os.File
}

// NewSkycatApp creates a fully wired SkycatApp from the given config.
// operation identifies the CLI command being run (e.g. "AddRoot", "Scan").
// verbose sends debug output to stderr as well as the log file.
// The caller must call Close when done.
func NewSkycatApp(cfg *config.Config, operation string, verbose bool) (*SkycatApp, error) {
	fsmgr := fs.NewOSFilesystemManager(cfg.Scan.Ignore)

	v, err := newVault(cfg)
	if err != nil {
		return nil, err
	}

	solver, err := newSolver(cfg.PlateSolve)
	if err != nil {
		return nil, fmt.Errorf("creating plate solver: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.CatalogID)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog schema out of date: %w", err)
	}

	if v != nil {
		if err := checkSnapshotVersion(db, v, cfg.CatalogID); err != nil {
			db.Close()
			return nil, err
		}
	}

	stderrLevel := slog.LevelInfo
	if verbose {
		stderrLevel = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, stderrLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	opts := catalog.Options{
		CatalogID: cfg.CatalogID,
		Vault:     v,
		Encryptor: enc,
		Workers:   cfg.Scan.Workers,
	}
	if solver != nil {
		opts.Solver = solver
	}
	svc := catalog.NewService(db, fsmgr, &slogAdapter{l: logger}, catalog.RealClock{}, catalog.UUIDGenerator{}, opts)

	return &SkycatApp{
		cfg:     cfg,
		db:      db,
		vault:   v,
		service: svc,
		op:      NewOperation(operation),
		logFile: logFile,
	}, nil
}

// newVault returns the first configured vault, or nil when none is.
func newVault(cfg *config.Config) (catalog.Vault, error) {
	if len(cfg.Vaults) == 0 {
		return nil, nil
	}
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	return v, nil
}

// newSolver returns nil when plate solving is disabled.
func newSolver(cfg config.PlateSolveConfig) (*platesolve.ASTAPSolver, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "astap":
		if cfg.ASTAPPath == "" {
			return nil, fmt.Errorf("astap_path required for astap solver")
		}
		s := platesolve.NewASTAPSolver(cfg.ASTAPPath, cfg.FallbackFOV)
		s.ExtraArgs = cfg.ExtraArgs
		s.Timeout = cfg.Timeout.Duration
		return s, nil
	default:
		return nil, fmt.Errorf("unknown plate solver type: %s", cfg.Type)
	}
}

// checkSnapshotVersion refuses to run against a catalog older than the
// newest snapshot in the vault.
func checkSnapshotVersion(db *database.SQLiteDatabase, v catalog.Vault, catalogID string) error {
	_, remote, err := catalog.LatestSnapshot(v, catalogID)
	if err != nil && !errors.Is(err, catalog.ErrNoSnapshot) {
		return fmt.Errorf("checking remote snapshot version: %w", err)
	}

	local, err := db.MaxOperationID(context.Background())
	if err != nil {
		return fmt.Errorf("checking local catalog version: %w", err)
	}

	if remote > local {
		return fmt.Errorf("local catalog is behind vault snapshot (local=%d, remote=%d): run `skycat catalog restore`", local, remote)
	}
	return nil
}

// persistOperation saves the operation to the database, giving it an
// auto-increment ID. Only commands that change the catalog call it.
func (a *SkycatApp) persistOperation(ctx context.Context, args ...string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op = NewOperation(a.op.Operation, args...)
	dbOp, err := a.service.StartOperation(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// AddRoot registers a storage root under name.
func (a *SkycatApp) AddRoot(ctx context.Context, name, rawPath string) (*model.StorageRoot, error) {
	if err := a.persistOperation(ctx, name, rawPath); err != nil {
		return nil, err
	}
	root, err := a.service.AddRoot(ctx, name, rawPath)
	return root, a.op.Record(err)
}

// ListRoots returns every registered storage root.
func (a *SkycatApp) ListRoots(ctx context.Context) ([]*model.StorageRoot, error) {
	return a.service.ListRoots(ctx)
}

// RemoveRoot unregisters a root and drops everything cataloged under it.
func (a *SkycatApp) RemoveRoot(ctx context.Context, name string) error {
	if err := a.persistOperation(ctx, name); err != nil {
		return err
	}
	return a.op.Record(a.service.RemoveRoot(ctx, name))
}

// Scan scans one root, or all of them when name is "". Roots that
// failed are reported in the ScanReport and also mark the operation as
// failed.
func (a *SkycatApp) Scan(ctx context.Context, name string) (*catalog.ScanReport, error) {
	if err := a.persistOperation(ctx, name); err != nil {
		return nil, err
	}
	report, err := a.service.Scan(ctx, name)
	if err == nil && len(report.Failed()) > 0 {
		a.op.Status = "error"
	}
	return report, a.op.Record(err)
}

// Rebuild re-derives canonical metadata from the header cache.
func (a *SkycatApp) Rebuild(ctx context.Context) (catalog.RebuildStats, error) {
	if err := a.persistOperation(ctx); err != nil {
		return catalog.RebuildStats{}, err
	}
	stats, err := a.service.Rebuild(ctx)
	return stats, a.op.Record(err)
}

// Search runs a catalog query.
func (a *SkycatApp) Search(ctx context.Context, f search.Filter) ([]*model.SearchResult, []*search.ValidationError, error) {
	return a.service.Search(ctx, f)
}

// FindCalibration searches for darks or flats that match the image fileID.
func (a *SkycatApp) FindCalibration(ctx context.Context, fileID string, kind catalog.CalibrationKind) ([]*model.SearchResult, search.Filter, error) {
	return a.service.FindCalibration(ctx, fileID, kind)
}

// Values lists the distinct values of column among matching records.
func (a *SkycatApp) Values(ctx context.Context, f search.Filter, column search.Column) ([]string, error) {
	return a.service.Values(ctx, f, column)
}

// Keywords lists every header keyword seen in the catalog.
func (a *SkycatApp) Keywords(ctx context.Context) ([]string, error) {
	return a.service.Keywords(ctx)
}

// GetHistory returns the most recent operations.
func (a *SkycatApp) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(ctx, limit)
}

// Solve plate solves the given files, or every unsolved file when ids
// is empty.
func (a *SkycatApp) Solve(ctx context.Context, ids []string) ([]*catalog.SolveResult, error) {
	if err := a.persistOperation(ctx, ids...); err != nil {
		return nil, err
	}
	var (
		results []*catalog.SolveResult
		err     error
	)
	if len(ids) == 0 {
		results, err = a.service.SolveAll(ctx)
	} else {
		results, err = a.service.Solve(ctx, ids)
	}
	return results, a.op.Record(err)
}

// Backup records an operation so that Close uploads a snapshot. It fails
// when no vault is configured.
func (a *SkycatApp) Backup(ctx context.Context) error {
	if a.vault == nil {
		return fmt.Errorf("no vaults configured")
	}
	return a.persistOperation(ctx)
}

// Close finalizes the operation and closes all resources. For persisted
// operations it finishes the operation record and, when a vault is
// configured, uploads a catalog snapshot versioned by the operation ID.
func (a *SkycatApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		if err := a.service.FinishOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			errs = append(errs, err)
		}
		if a.vault != nil {
			if err := a.service.Snapshot(a.op.ID); err != nil {
				errs = append(errs, fmt.Errorf("snapshotting catalog: %w", err))
			}
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing catalog: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// Migrate applies pending schema migrations to the configured catalog.
func Migrate(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.CatalogID)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	return nil
}

// InitEncryption generates the snapshot key pair, sealing the private key
// with passphrase.
func InitEncryption(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption is not enabled in the configuration")
	}
	if enc.IsConfigured() {
		return fmt.Errorf("encryption keys already exist at %s", cfg.Encryption.PublicKeyPath)
	}
	return enc.Setup(passphrase)
}

// RestoreCatalog replaces the local catalog with the newest vault
// snapshot and returns its version. passphrase is only called when the
// snapshot is encrypted. An existing catalog is kept unless force is set.
func RestoreCatalog(cfg *config.Config, passphrase func() (string, error), force bool) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite database, not %q", cfg.Database.Type)
	}
	v, err := newVault(cfg)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("no vaults configured")
	}

	dest := database.Path(cfg.Database, cfg.CatalogID)
	if _, err := os.Stat(dest); err == nil && !force {
		return 0, fmt.Errorf("catalog already exists at %s", dest)
	}

	var dctx catalog.DecryptionContext
	encrypted, err := catalog.SnapshotEncrypted(v, cfg.CatalogID)
	if err != nil {
		return 0, err
	}
	if encrypted {
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return 0, fmt.Errorf("creating encryptor: %w", err)
		}
		if enc == nil {
			return 0, fmt.Errorf("snapshot is encrypted but encryption is not configured")
		}
		pass, err := passphrase()
		if err != nil {
			return 0, fmt.Errorf("reading passphrase: %w", err)
		}
		if dctx, err = enc.Unlock(pass); err != nil {
			return 0, fmt.Errorf("unlocking private key: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	tmp, err := os.CreateTemp(cfg.Database.DataDir, ".restore-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	version, err := catalog.RestoreSnapshot(v, cfg.CatalogID, tmp, dctx)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing temp file: %w", cerr)
	}
	if err != nil {
		return 0, err
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dest + suffix); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("removing %s: %w", filepath.Base(dest+suffix), err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("installing restored catalog: %w", err)
	}
	return version, nil
}
