package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TANGRA_ASSETS_HOME.
const EnvPrefix = "TANGRA_ASSETS"

// LogConfig controls the zap logger and its rotating file.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Config holds the asset store configuration.
type Config struct {
	Home            string        `mapstructure:"home" yaml:"home"`
	DatabaseFile    string        `mapstructure:"database_file" yaml:"database_file"`
	BackupRetention int           `mapstructure:"backup_retention" yaml:"backup_retention"`
	BackupInterval  time.Duration `mapstructure:"backup_interval" yaml:"backup_interval"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	HTTPListen      string        `mapstructure:"http_listen" yaml:"http_listen"`
	EnableSwagger   bool          `mapstructure:"enable_swagger" yaml:"enable_swagger"`
	ClientSecret    string        `mapstructure:"client_secret" yaml:"client_secret"`
	ApiSecret       string        `mapstructure:"api_secret" yaml:"api_secret"`
	ImageCacheSize  int           `mapstructure:"image_cache_size" yaml:"image_cache_size"`
	Log             LogConfig     `mapstructure:"log" yaml:"log"`
}

// Load reads configuration from file and environment. A missing config
// file is not an error; an unreadable or malformed one is.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("home", "")
	v.SetDefault("database_file", "inventory.db")
	v.SetDefault("backup_retention", 20)
	v.SetDefault("backup_interval", "0s")
	v.SetDefault("busy_timeout", "5s")
	v.SetDefault("listen", "127.0.0.1:9650")
	v.SetDefault("http_listen", "127.0.0.1:9651")
	v.SetDefault("enable_swagger", true)
	v.SetDefault("client_secret", "")
	v.SetDefault("api_secret", "")
	v.SetDefault("image_cache_size", 256)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("assets")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := ResolveHome(v.GetString("home")); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
