package config

import (
	"fmt"
	"slices"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	Port              string `mapstructure:"PORT"`
	RecordCount       int    `mapstructure:"RECORD_COUNT"`
	MaxRecordCount    int    `mapstructure:"MAX_RECORD_COUNT"`
	Seed              uint64 `mapstructure:"SEED"`
	Workers           int    `mapstructure:"WORKERS"`
	OutputPath        string `mapstructure:"OUTPUT_PATH"`
	StoreDriver       string `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	SQLitePath        string `mapstructure:"SQLITE_PATH"`
	MigrationsEnabled bool   `mapstructure:"MIGRATIONS_ENABLED"`
	ExportDriver      string `mapstructure:"EXPORT_DRIVER"`
	ExportDir         string `mapstructure:"EXPORT_DIR"`
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle       bool   `mapstructure:"S3_PATH_STYLE"`
	FontPath          string `mapstructure:"FONT_PATH"`
	TelegramBotToken  string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	ReportChatID      int64  `mapstructure:"REPORT_CHAT_ID"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "PORT", "RECORD_COUNT", "MAX_RECORD_COUNT", "SEED", "WORKERS", "OUTPUT_PATH",
	"STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "MIGRATIONS_ENABLED",
	"EXPORT_DRIVER", "EXPORT_DIR", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE",
	"FONT_PATH", "TELEGRAM_BOT_TOKEN", "REPORT_CHAT_ID",
}

// Load reads the configuration from the environment and an optional .env
// file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("RECORD_COUNT", 1000)
	v.SetDefault("MAX_RECORD_COUNT", 100000)
	v.SetDefault("SEED", 0)
	v.SetDefault("WORKERS", 4)
	v.SetDefault("OUTPUT_PATH", "data/dataset.csv")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("SQLITE_PATH", "data/cohort.db")
	v.SetDefault("MIGRATIONS_ENABLED", true)
	v.SetDefault("EXPORT_DRIVER", "fs")
	v.SetDefault("EXPORT_DIR", "data/exports")
	v.SetDefault("S3_REGION", "us-east-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// TelegramEnabled reports whether report delivery is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.ReportChatID != 0
}

// Validate checks driver names, sizes and the keys each driver requires.
func (c *Config) Validate() error {
	if c.RecordCount <= 0 {
		return fmt.Errorf("RECORD_COUNT must be positive, got %d", c.RecordCount)
	}
	if c.MaxRecordCount < c.RecordCount {
		return fmt.Errorf("MAX_RECORD_COUNT (%d) must be at least RECORD_COUNT (%d)", c.MaxRecordCount, c.RecordCount)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if !slices.Contains([]string{"memory", "postgres", "sqlite"}, c.StoreDriver) {
		return fmt.Errorf("STORE_DRIVER must be \"memory\", \"postgres\", or \"sqlite\", got %q", c.StoreDriver)
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}
	if c.StoreDriver == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is sqlite")
	}
	switch c.ExportDriver {
	case "fs":
		if c.ExportDir == "" {
			return fmt.Errorf("EXPORT_DIR is required when EXPORT_DRIVER is fs")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when EXPORT_DRIVER is s3")
		}
	default:
		return fmt.Errorf("EXPORT_DRIVER must be \"fs\" or \"s3\", got %q", c.ExportDriver)
	}
	if (c.TelegramBotToken == "") != (c.ReportChatID == 0) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and REPORT_CHAT_ID must be set together")
	}
	return nil
}
