package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rowjay/portal-backup/internal/cryptoutil"
)

const (
	envPrefix = "PBU"
)

// Load reads configuration from a file (optionally encrypted), .env, env vars, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("PBU_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but PBU_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("PBU_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"pbu.yaml",
		"pbu.yml",
		"pbu.toml",
		"pbu.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "pbu")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"pbu.yaml.enc", "pbu.yml.enc", "pbu.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "0s")
	vp.SetDefault("global.lock_file", "")
	vp.SetDefault("portal.url", "https://www.arcgis.com")
	vp.SetDefault("portal.username", "")
	vp.SetDefault("portal.password", "")
	vp.SetDefault("portal.referer", "pbu")
	vp.SetDefault("portal.token_expiration", "120m")
	vp.SetDefault("portal.request_timeout", "5m")
	vp.SetDefault("portal.auth_retries", 3)
	vp.SetDefault("portal.auth_backoff", "10s")
	vp.SetDefault("backup.tag", "backmeup")
	vp.SetDefault("backup.item_type", "Feature Service")
	vp.SetDefault("backup.export_format", "File Geodatabase")
	vp.SetDefault("backup.download_root", ".")
	vp.SetDefault("backup.ledger_file", "Last_Successful_Backup.csv")
	vp.SetDefault("backup.full_backup", false)
	vp.SetDefault("backup.sleep_interval", "90m")
	vp.SetDefault("backup.retry_interval", "30m")
	vp.SetDefault("backup.retry_count", 3)
	vp.SetDefault("backup.max_results", 50)
	vp.SetDefault("backup.delete_exports", true)
	vp.SetDefault("mirror.enabled", false)
	vp.SetDefault("mirror.compression", "zstd")
	vp.SetDefault("mirror.encryption_key", "")
	vp.SetDefault("mirror.storage.backend", "local")
	vp.SetDefault("mirror.storage.local.path", "./mirror")
	vp.SetDefault("metrics.textfile_path", "")
	vp.SetDefault("schedule.timezone", "")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Portal.TokenExpiration == 0 {
		cfg.Portal.TokenExpiration = 2 * time.Hour
	}
	if cfg.Backup.ExportFormat == "" {
		cfg.Backup.ExportFormat = "File Geodatabase"
	}
	cfg.Portal.URL = strings.TrimRight(cfg.Portal.URL, "/")
	cfg.Mirror.Compression = strings.ToLower(cfg.Mirror.Compression)
	cfg.Mirror.Storage.Backend = strings.ToLower(cfg.Mirror.Storage.Backend)
}

func expandEnv(cfg *Config) {
	cfg.Portal.Username = os.ExpandEnv(cfg.Portal.Username)
	cfg.Portal.Password = os.ExpandEnv(cfg.Portal.Password)
	cfg.Backup.DownloadRoot = os.ExpandEnv(cfg.Backup.DownloadRoot)
	cfg.Mirror.EncryptionKey = os.ExpandEnv(cfg.Mirror.EncryptionKey)
	cfg.Mirror.Storage.S3.AccessKey = os.ExpandEnv(cfg.Mirror.Storage.S3.AccessKey)
	cfg.Mirror.Storage.S3.SecretKey = os.ExpandEnv(cfg.Mirror.Storage.S3.SecretKey)
	cfg.Mirror.Storage.S3.SessionToken = os.ExpandEnv(cfg.Mirror.Storage.S3.SessionToken)
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = os.ExpandEnv(cfg.Mattermost[i].URL)
	}
	for i := range cfg.Matrix {
		cfg.Matrix[i].ServerURL = os.ExpandEnv(cfg.Matrix[i].ServerURL)
		cfg.Matrix[i].AccessToken = os.ExpandEnv(cfg.Matrix[i].AccessToken)
		cfg.Matrix[i].RoomID = os.ExpandEnv(cfg.Matrix[i].RoomID)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.Open(ciphertext, parsed)
}
