package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"skycat/internal/app"
	"skycat/internal/catalog"
	"skycat/internal/config"
	"skycat/internal/model"
	"skycat/internal/platesolve"
	"skycat/internal/search"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a SkycatApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "AddRoot", "Scan").
func newApp(cmd *cobra.Command, operation string) (*app.SkycatApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewSkycatApp(cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "skycat",
	Short:        "Catalog of FITS and XISF astronomical images",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		catalogID := uuid.New().String()
		cfg := config.NewConfig(catalogID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.Migrate(cfg); err != nil {
			return fmt.Errorf("creating catalog: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Catalog ID: %s\n", catalogID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Catalog ID:  %s\n", cfg.CatalogID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Ignore:      %s\n", strings.Join(cfg.Scan.Ignore, " "))
		fmt.Printf("Plate solve: %s %s\n", cfg.PlateSolve.Type, cfg.PlateSolve.ASTAPPath)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalog database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cfg); err != nil {
			return err
		}
		fmt.Println("Catalog schema is up to date.")
		return nil
	},
}

// root command
var storageCmd = &cobra.Command{
	Use:   "root",
	Short: "Manage storage roots",
}

var storageAddCmd = &cobra.Command{
	Use:   "add NAME PATH",
	Short: "Register a storage root",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "AddRoot")
		if err != nil {
			return err
		}
		defer a.Close()

		root, err := a.AddRoot(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("adding root: %w", err)
		}
		fmt.Printf("Storage root %s: %s\n", root.Name, root.Path)
		return nil
	},
}

var storageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List storage roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListRoots")
		if err != nil {
			return err
		}
		defer a.Close()

		roots, err := a.ListRoots(cmd.Context())
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			fmt.Println("No storage roots registered.")
			return nil
		}
		for _, r := range roots {
			fmt.Printf("%-20s  %s\n", r.Name, r.Path)
		}
		return nil
	},
}

var storageRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Unregister a storage root and drop its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "RemoveRoot")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveRoot(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed storage root %s\n", args[0])
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Bring the catalog in line with the storage roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		rootName, _ := cmd.Flags().GetString("root")

		a, err := newApp(cmd, "Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Scan(cmd.Context(), rootName)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		for _, rr := range report.Roots {
			switch {
			case rr.Err != nil:
				fmt.Printf("%-20s  FAILED: %v\n", rr.Root.Name, rr.Err)
			case rr.Skipped:
				fmt.Printf("%-20s  skipped (empty listing)\n", rr.Root.Name)
			default:
				fmt.Printf("%-20s  %d new, %d changed, %d removed, %d headers, %d unreadable\n",
					rr.Root.Name, rr.New, rr.Changed, rr.Removed, rr.Ingest.Headers, rr.Ingest.Failed)
			}
		}
		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d storage root(s) could not be scanned", len(failed))
		}
		return nil
	},
}

// rebuild command
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-derive image metadata from cached headers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Rebuild")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Rebuild(cmd.Context())
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		fmt.Printf("Rebuilt %d of %d header(s), %d failed\n", stats.Normalized, stats.Headers, stats.Failed)
		return nil
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Search")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := filterFromFlags(cmd.Context(), cmd, a)
		if err != nil {
			return err
		}
		if s, _ := cmd.Flags().GetString("sort"); s != "" {
			if f.Sort, err = search.ParseColumn(s); err != nil {
				return err
			}
		}
		f.Ascending, _ = cmd.Flags().GetBool("asc")
		f.Limit, _ = cmd.Flags().GetInt("limit")

		results, dropped, err := a.Search(cmd.Context(), f)
		if err != nil {
			return err
		}
		for _, d := range dropped {
			fmt.Fprintf(os.Stderr, "ignoring --%s: %v\n", d.Column, d.Err)
		}
		if len(results) == 0 {
			fmt.Println("No images found.")
			return nil
		}
		for _, r := range results {
			printResult(r)
		}
		return nil
	},
}

func printResult(r *model.SearchResult) {
	var typ, filter, exposure, object, date string
	if img := r.Image; img != nil {
		typ, filter, object = img.ImageType, img.Filter, img.ObjectName
		if img.Exposure != nil {
			exposure = fmt.Sprintf("%gs", *img.Exposure)
		}
		if img.DateObs != nil {
			date = img.DateObs.Format("2006-01-02 15:04")
		}
	}
	fmt.Printf("%s  %-6s  %-6s  %7s  %-16s  %-16s  %s:%s\n",
		r.File.ID[:8], typ, filter, exposure, object, date, r.RootName, r.File.RelativePath())
}

// calibration commands
var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Find calibration frames for an image",
}

func calibrationRunner(kind catalog.CalibrationKind) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Calibration")
		if err != nil {
			return err
		}
		defer a.Close()

		results, f, err := a.FindCalibration(cmd.Context(), args[0], kind)
		if err != nil {
			return err
		}
		if from, to := f.From, f.To; from != nil && to != nil {
			fmt.Printf("Taken between %s and %s\n", from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"))
		}
		if len(results) == 0 {
			fmt.Printf("No matching %ss found.\n", kind)
			return nil
		}
		for _, r := range results {
			printResult(r)
		}
		return nil
	}
}

var calibrationDarkCmd = &cobra.Command{
	Use:   "dark FILE_ID",
	Short: "Find darks (or darkflats for a flat) with the same camera settings",
	Args:  cobra.ExactArgs(1),
	RunE:  calibrationRunner(catalog.CalibrationDark),
}

var calibrationFlatCmd = &cobra.Command{
	Use:   "flat FILE_ID",
	Short: "Find flats with the same camera, filter and binning taken within a day",
	Args:  cobra.ExactArgs(1),
	RunE:  calibrationRunner(catalog.CalibrationFlat),
}

// values command
var valuesCmd = &cobra.Command{
	Use:   "values FIELD",
	Short: "List the distinct values of a field among matching images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		column, err := search.ParseColumn(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Values")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := filterFromFlags(cmd.Context(), cmd, a)
		if err != nil {
			return err
		}
		values, err := a.Values(cmd.Context(), f, column)
		if err != nil {
			return err
		}
		for _, v := range values {
			if v == "" {
				v = "(none)"
			}
			fmt.Println(v)
		}
		return nil
	},
}

// solve command
var solveCmd = &cobra.Command{
	Use:   "solve [FILE_ID...]",
	Short: "Plate solve images",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) > 0) {
			return fmt.Errorf("pass either --all or file ids")
		}

		a, err := newApp(cmd, "Solve")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Solve(cmd.Context(), args)
		if err != nil {
			return fmt.Errorf("solve failed: %w", err)
		}

		var failed int
		for _, r := range results {
			name := r.File.RelativePath()
			switch {
			case r.Err != nil:
				failed++
				fmt.Printf("FAILED  %s: %v\n", name, r.Err)
				var sf *platesolve.SolverFailure
				if errors.As(r.Err, &sf) && len(sf.Log) > 0 {
					fmt.Println(sf.LogText())
				}
			case r.Position == nil:
				fmt.Printf("solved  %s (no center)\n", name)
			default:
				via := ""
				if r.FromHeader {
					via = " (from header)"
				}
				fmt.Printf("solved  %s  RA %.4f  Dec %+.4f%s\n", name, r.Position.RA, r.Position.Dec, via)
			}
		}
		fmt.Printf("Solved %d of %d image(s)\n", len(results)-failed, len(results))
		return nil
	},
}

// keywords command
var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "List header keywords seen in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Keywords")
		if err != nil {
			return err
		}
		defer a.Close()

		keywords, err := a.Keywords(cmd.Context())
		if err != nil {
			return err
		}
		for _, k := range keywords {
			fmt.Println(k)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View catalog operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Back up and restore the catalog",
}

var catalogBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a catalog snapshot to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Backup")
		if err != nil {
			return err
		}
		if err := a.Backup(cmd.Context()); err != nil {
			a.Close()
			return err
		}
		if err := a.Close(); err != nil {
			return err
		}
		fmt.Println("Catalog snapshot uploaded.")
		return nil
	},
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local catalog with the newest vault snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		version, err := app.RestoreCatalog(cfg, func() (string, error) {
			return readPassphrase("Passphrase: ")
		}, force)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored catalog snapshot version %d\n", version)
		return nil
	},
}

// encryption command
var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage snapshot encryption",
}

var encryptionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.InitEncryption(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	dbCmd.AddCommand(dbMigrateCmd)

	// root subcommands
	storageCmd.AddCommand(storageAddCmd)
	storageCmd.AddCommand(storageListCmd)
	storageCmd.AddCommand(storageRemoveCmd)

	scanCmd.Flags().String("root", "", "Scan only this storage root")

	addFilterFlags(searchCmd)
	searchCmd.Flags().String("sort", "", "Sort column (path, name, date, exposure, ...)")
	searchCmd.Flags().Bool("asc", false, "Sort ascending")
	searchCmd.Flags().IntP("limit", "n", 0, "Maximum number of results")

	addFilterFlags(valuesCmd)

	calibrationCmd.AddCommand(calibrationDarkCmd)
	calibrationCmd.AddCommand(calibrationFlatCmd)

	solveCmd.Flags().Bool("all", false, "Solve every image that has no solution yet")

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	catalogCmd.AddCommand(catalogBackupCmd)
	catalogCmd.AddCommand(catalogRestoreCmd)
	catalogRestoreCmd.Flags().Bool("force", false, "Overwrite an existing local catalog")

	encryptionCmd.AddCommand(encryptionInitCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(valuesCmd)
	rootCmd.AddCommand(calibrationCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(keywordsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(encryptionCmd)
}
