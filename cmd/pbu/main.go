package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowjay/portal-backup/internal/app"
	"github.com/rowjay/portal-backup/internal/config"
	"github.com/rowjay/portal-backup/internal/ledger"
	"github.com/rowjay/portal-backup/internal/logging"
	"github.com/rowjay/portal-backup/internal/notify"
	"github.com/rowjay/portal-backup/internal/portal"
	"github.com/rowjay/portal-backup/internal/storage"
	"github.com/rowjay/portal-backup/internal/util"
	"github.com/rowjay/portal-backup/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	PortalURL     string
	Username      string
	Password      string
	Tag           string
	DownloadRoot  string
	FullBackup    bool
	SleepInterval time.Duration
	RetryInterval time.Duration
	RetryCount    int
	MaxResults    int
	KeepExports   bool
	Mirror        string
	MirrorPath    string
	S3Endpoint    string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      string
	S3PathStyle   string
	Compression   string
	EncryptionKey string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:          "pbu",
		Short:        "Incremental backup of hosted feature services from an ArcGIS portal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, root, overrides)
		},
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.PortalURL, "portal-url", "", "Portal URL")
	rootCmd.PersistentFlags().StringVar(&overrides.Username, "username", "", "Portal username")
	rootCmd.PersistentFlags().StringVar(&overrides.Password, "password", "", "Portal password")
	rootCmd.PersistentFlags().StringVar(&overrides.Tag, "tag", "", "Tag marking datasets to back up")
	rootCmd.PersistentFlags().StringVar(&overrides.DownloadRoot, "download-root", "", "Root folder for archives, run logs and the ledger")
	rootCmd.PersistentFlags().IntVar(&overrides.MaxResults, "max-results", 0, "Maximum search results")

	rootCmd.PersistentFlags().StringVar(&overrides.Mirror, "mirror", "", "Mirror backend (local, s3); enables mirroring")
	rootCmd.PersistentFlags().StringVar(&overrides.MirrorPath, "mirror-path", "", "Local mirror path")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.Compression, "compression", "", "Mirror compression (none/gzip/zstd)")
	rootCmd.PersistentFlags().StringVar(&overrides.EncryptionKey, "encryption-key", "", "Mirror encryption key (base64 or hex); enables encryption")

	addRunFlags(rootCmd, overrides)
	rootCmd.AddCommand(newRunCmd(root, overrides))
	rootCmd.AddCommand(newStatusCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newMirrorCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command, overrides *overrideFlags) {
	cmd.Flags().BoolVar(&overrides.FullBackup, "full-backup", false, "Export every dataset regardless of edits")
	cmd.Flags().DurationVar(&overrides.SleepInterval, "sleep-interval", 0, "Pause between exporting and downloading")
	cmd.Flags().DurationVar(&overrides.RetryInterval, "retry-interval", 0, "Pause between retry rounds")
	cmd.Flags().IntVar(&overrides.RetryCount, "retry", -1, "Retry rounds for failed downloads")
	cmd.Flags().BoolVar(&overrides.KeepExports, "keep-exports", false, "Leave exported items on the portal")
}

func newRunCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one incremental backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, root, overrides)
		},
	}
	addRunFlags(cmd, overrides)
	return cmd
}

func runBackup(cmd *cobra.Command, root *rootFlags, overrides *overrideFlags) error {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	appSvc, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := operationContext(cmd.Context(), cfg)
	defer cancel()

	res, err := appSvc.Run(ctx)
	if err != nil {
		return err
	}
	if res.Summary.Fail > 0 {
		logger.Warn().Int("failed", res.Summary.Fail).Msg("some datasets were not backed up")
	}
	return nil
}

func newStatusCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last successful backup of every dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			store := ledger.NewStore(util.LedgerPath(cfg.Backup.DownloadRoot, cfg.Backup.LedgerFile))
			l, err := store.Load(cmd.Context())
			if errors.Is(err, ledger.ErrCorrupt) {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			} else if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ITEM ID\tNAME\tLAST EDIT\tLAST BACKUP\tARCHIVE")
			for _, e := range l.Entries() {
				backup := "never"
				if e.BackedUp() {
					backup = e.BackupText
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ItemID, e.ItemName, e.LastEditText, backup, e.ZipPath)
			}
			return w.Flush()
		},
	}
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and portal connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
			appSvc, err := newApp(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(cmd.Context(), cfg)
			defer cancel()
			records, err := appSvc.Check(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("datasets", len(records)).Str("tag", cfg.Backup.Tag).Msg("validation succeeded")
			return nil
		},
	}
}

func newMirrorCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Inspect the off-site mirror",
	}
	ls := &cobra.Command{
		Use:   "ls [dataset]",
		Short: "List mirrored archives",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			appSvc, err := newApp(cfg)
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			ctx, cancel := operationContext(cmd.Context(), cfg)
			defer cancel()
			items, err := appSvc.MirrorList(ctx, prefix)
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("%s\t%d\t%s\n", item.Key, item.Size, item.Modified.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.AddCommand(ls)
	return cmd
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pbu %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func newApp(cfg *config.Config) (*app.App, error) {
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	client := portal.NewArcGIS(portal.Options{
		URL:             cfg.Portal.URL,
		Username:        cfg.Portal.Username,
		Password:        cfg.Portal.Password,
		Referer:         cfg.Portal.Referer,
		TokenExpiration: cfg.Portal.TokenExpiration,
		Timeout:         cfg.Portal.RequestTimeout,
		AuthRetries:     cfg.Portal.AuthRetries,
		AuthBackoff:     cfg.Portal.AuthBackoff,
	})
	var mirror storage.Storage
	if cfg.Mirror.Enabled {
		store, err := storage.New(cfg.Mirror.Storage)
		if err != nil {
			return nil, err
		}
		mirror = store
	}
	return app.New(cfg, client, mirror, logger, notify.FromConfig(cfg.Notifications)), nil
}

// operationContext applies global.operation_timeout; zero means no deadline.
func operationContext(parent context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if cfg.Global.OperationTimeout > 0 {
		return context.WithTimeout(parent, cfg.Global.OperationTimeout)
	}
	return context.WithCancel(parent)
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.PortalURL != "" {
		cfg.Portal.URL = overrides.PortalURL
	}
	if overrides.Username != "" {
		cfg.Portal.Username = overrides.Username
	}
	if overrides.Password != "" {
		cfg.Portal.Password = overrides.Password
	}
	if overrides.Tag != "" {
		cfg.Backup.Tag = overrides.Tag
	}
	if overrides.DownloadRoot != "" {
		cfg.Backup.DownloadRoot = overrides.DownloadRoot
	}
	if overrides.MaxResults > 0 {
		cfg.Backup.MaxResults = overrides.MaxResults
	}
	if overrides.FullBackup {
		cfg.Backup.FullBackup = true
	}
	if overrides.SleepInterval > 0 {
		cfg.Backup.SleepInterval = overrides.SleepInterval
	}
	if overrides.RetryInterval > 0 {
		cfg.Backup.RetryInterval = overrides.RetryInterval
	}
	if overrides.RetryCount >= 0 {
		cfg.Backup.RetryCount = overrides.RetryCount
	}
	if overrides.KeepExports {
		cfg.Backup.DeleteExports = false
	}

	if overrides.Mirror != "" {
		cfg.Mirror.Enabled = true
		cfg.Mirror.Storage.Backend = overrides.Mirror
	}
	if overrides.MirrorPath != "" {
		cfg.Mirror.Storage.Local.Path = overrides.MirrorPath
	}
	if overrides.S3Endpoint != "" {
		cfg.Mirror.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Mirror.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Mirror.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Mirror.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Mirror.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Mirror.Storage.S3.UseSSL = strings.EqualFold(overrides.S3UseSSL, "true") || overrides.S3UseSSL == "1"
	}
	if overrides.S3PathStyle != "" {
		cfg.Mirror.Storage.S3.ForcePathStyle = strings.EqualFold(overrides.S3PathStyle, "true") || overrides.S3PathStyle == "1"
	}
	if overrides.Compression != "" {
		cfg.Mirror.Compression = overrides.Compression
	}
	if overrides.EncryptionKey != "" {
		cfg.Mirror.Encryption = true
		cfg.Mirror.EncryptionKey = overrides.EncryptionKey
	}

	cfg.Mirror.Compression = strings.ToLower(cfg.Mirror.Compression)
	cfg.Mirror.Storage.Backend = strings.ToLower(cfg.Mirror.Storage.Backend)
}
