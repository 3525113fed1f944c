package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pbu.yaml")
	if err := os.WriteFile(path, []byte("backup:\n  download_root: /srv/backups\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backup.DownloadRoot != "/srv/backups" {
		t.Fatalf("unexpected download root: %s", cfg.Backup.DownloadRoot)
	}
	if cfg.Backup.Tag != "backmeup" {
		t.Fatalf("unexpected tag: %s", cfg.Backup.Tag)
	}
	if cfg.Backup.SleepInterval != 90*time.Minute {
		t.Fatalf("unexpected sleep interval: %s", cfg.Backup.SleepInterval)
	}
	if cfg.Backup.RetryCount != 3 || cfg.Backup.RetryInterval != 30*time.Minute {
		t.Fatalf("unexpected retry settings: %d/%s", cfg.Backup.RetryCount, cfg.Backup.RetryInterval)
	}
	if !cfg.Backup.DeleteExports {
		t.Fatalf("expected delete_exports to default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pbu.yaml")
	content := "portal:\n  username: gis_admin\n  password: ${PBU_TEST_SECRET}\nbackup:\n  full_backup: false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PBU_TEST_SECRET", "hunter2")
	t.Setenv("PBU_BACKUP_FULL_BACKUP", "true")
	t.Setenv("PBU_BACKUP_RETRY_COUNT", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Portal.Password != "hunter2" {
		t.Fatalf("expected password to be expanded, got %q", cfg.Portal.Password)
	}
	if !cfg.Backup.FullBackup {
		t.Fatalf("expected env to force a full backup")
	}
	if cfg.Backup.RetryCount != 5 {
		t.Fatalf("unexpected retry count: %d", cfg.Backup.RetryCount)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Portal.URL = "https://portal.example"
	cfg.Backup.Tag = "backmeup"
	cfg.Backup.DownloadRoot = "/tmp"
	cfg.Backup.MaxResults = 0
	cfg.Backup.RetryCount = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	cfg.Backup.MaxResults = 10
	cfg.Backup.RetryCount = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadEncrypted(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "pbu.yaml")
	if err := os.WriteFile(plain, []byte("backup:\n  tag: nightly\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	key := "base64:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	enc := filepath.Join(dir, "pbu.yaml.enc")
	if err := EncryptConfigFile(plain, enc, key); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	t.Setenv("PBU_CONFIG_KEY", key)
	cfg, err := Load(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backup.Tag != "nightly" {
		t.Fatalf("unexpected tag: %s", cfg.Backup.Tag)
	}
}
