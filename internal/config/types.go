package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rowjay/portal-backup/internal/compress"
	"github.com/rowjay/portal-backup/internal/util"
)

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Portal        PortalConfig        `mapstructure:"portal"`
	Backup        BackupConfig        `mapstructure:"backup"`
	Mirror        MirrorConfig        `mapstructure:"mirror"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`  // empty disables locking
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

type PortalConfig struct {
	URL             string        `mapstructure:"url"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Referer         string        `mapstructure:"referer"`
	TokenExpiration time.Duration `mapstructure:"token_expiration"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AuthRetries     int           `mapstructure:"auth_retries"`
	AuthBackoff     time.Duration `mapstructure:"auth_backoff"`
}

type BackupConfig struct {
	Tag           string        `mapstructure:"tag"`
	ItemType      string        `mapstructure:"item_type"`
	ExportFormat  string        `mapstructure:"export_format"`
	DownloadRoot  string        `mapstructure:"download_root"`
	LedgerFile    string        `mapstructure:"ledger_file"`
	FullBackup    bool          `mapstructure:"full_backup"`
	SleepInterval time.Duration `mapstructure:"sleep_interval"` // pause between export and first download
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	RetryCount    int           `mapstructure:"retry_count"`
	MaxResults    int           `mapstructure:"max_results"`
	DeleteExports bool          `mapstructure:"delete_exports"`
}

type MirrorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Storage       StorageConfig `mapstructure:"storage"`
	Compression   string        `mapstructure:"compression"` // none, gzip, zstd
	Encryption    bool          `mapstructure:"encryption"`
	EncryptionKey string        `mapstructure:"encryption_key"`
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, s3
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
	Prefix  string     `mapstructure:"prefix"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}

// Validate rejects configurations the run cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Portal.URL == "" {
		errs = append(errs, errors.New("portal.url is required"))
	}
	if c.Backup.Tag == "" {
		errs = append(errs, errors.New("backup.tag is required"))
	}
	if c.Backup.DownloadRoot == "" {
		errs = append(errs, errors.New("backup.download_root is required"))
	}
	if c.Backup.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("backup.max_results must be positive, got %d", c.Backup.MaxResults))
	}
	if c.Backup.RetryCount < 0 {
		errs = append(errs, fmt.Errorf("backup.retry_count must not be negative, got %d", c.Backup.RetryCount))
	}
	if c.Backup.SleepInterval < 0 || c.Backup.RetryInterval < 0 {
		errs = append(errs, errors.New("backup intervals must not be negative"))
	}
	if c.Mirror.Enabled && c.Mirror.Encryption && c.Mirror.EncryptionKey == "" {
		errs = append(errs, errors.New("mirror encryption is enabled but encryption_key is empty"))
	}
	if _, err := compress.ParseKind(c.Mirror.Compression); err != nil {
		errs = append(errs, fmt.Errorf("mirror: %w", err))
	}
	if _, err := util.ParseWindow(c.Schedule.WindowStart, c.Schedule.WindowEnd, c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	return errors.Join(errs...)
}
