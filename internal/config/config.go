package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Portal  PortalConfig  `mapstructure:"portal"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// PortalConfig holds the connection to the GIS content portal. Credentials
// may come from the environment (PORTAL_URL, PORTAL_USERNAME,
// PORTAL_PASSWORD) instead of the file.
type PortalConfig struct {
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	VerifyCert     bool          `mapstructure:"verify_cert"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type BackupConfig struct {
	LocalPath     string         `mapstructure:"local_path"`
	RetentionDays int            `mapstructure:"retention_days"`
	MaxItems      int            `mapstructure:"max_items"`
	Schedule      string         `mapstructure:"schedule"`
	LogFile       string         `mapstructure:"log_file"`
	ItemTimeout   time.Duration  `mapstructure:"item_timeout"`
	UploadTargets []UploadTarget `mapstructure:"upload_targets"`
}

type CleanupConfig struct {
	MaxItems int    `mapstructure:"max_items"`
	Schedule string `mapstructure:"schedule"`
	LogFile  string `mapstructure:"log_file"`
}

type UploadTarget struct {
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`

	// Telegram
	BotToken   string `mapstructure:"bot_token"`
	ChatID     string `mapstructure:"chat_id"`
	SendFile   bool   `mapstructure:"send_file"`
	NotifyOnly bool   `mapstructure:"notify_only"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "layerkeeper")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("portal.verify_cert", false)
	v.SetDefault("portal.request_timeout", "0s")
	v.SetDefault("backup.retention_days", 15)
	v.SetDefault("backup.max_items", 700)
	v.SetDefault("backup.log_file", "logs/backup.log")
	v.SetDefault("backup.item_timeout", "0s")
	v.SetDefault("cleanup.max_items", 2000)
	v.SetDefault("cleanup.log_file", "logs/cleanup.log")

	// Credentials can live in the environment so the yaml file stays
	// secret-free: PORTAL_URL, PORTAL_USERNAME, PORTAL_PASSWORD.
	_ = v.BindEnv("portal.url", "PORTAL_URL")
	_ = v.BindEnv("portal.username", "PORTAL_USERNAME")
	_ = v.BindEnv("portal.password", "PORTAL_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Portal.URL == "" {
		return fmt.Errorf("portal.url is required")
	}
	if c.Portal.Username == "" {
		return fmt.Errorf("portal.username is required")
	}
	if c.Portal.Password == "" {
		return fmt.Errorf("portal.password is required")
	}
	if c.Backup.LocalPath == "" {
		return fmt.Errorf("backup.local_path is required")
	}
	if c.Backup.RetentionDays <= 0 {
		return fmt.Errorf("backup.retention_days must be positive")
	}
	if c.Backup.MaxItems <= 0 {
		return fmt.Errorf("backup.max_items must be positive")
	}
	if c.Cleanup.MaxItems <= 0 {
		return fmt.Errorf("cleanup.max_items must be positive")
	}

	for i, target := range c.Backup.UploadTargets {
		if !target.Enabled {
			continue
		}
		switch target.Type {
		case "s3":
			if target.Bucket == "" {
				return fmt.Errorf("upload_targets[%d]: bucket is required for s3", i)
			}
		case "gdrive":
			if target.CredentialsFile == "" {
				return fmt.Errorf("upload_targets[%d]: credentials_file is required for gdrive", i)
			}
		case "telegram":
			if target.BotToken == "" || target.ChatID == "" {
				return fmt.Errorf("upload_targets[%d]: bot_token and chat_id are required for telegram", i)
			}
		default:
			return fmt.Errorf("upload_targets[%d]: unknown type %q", i, target.Type)
		}
	}

	return nil
}

// GetEnabledUploadTargets filters targets down to the enabled ones.
func (c *Config) GetEnabledUploadTargets() []UploadTarget {
	var enabled []UploadTarget
	for _, target := range c.Backup.UploadTargets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}
