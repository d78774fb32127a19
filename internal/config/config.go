// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. SLIDEEDIT_EDITOR_CONTAINER.
const EnvPrefix = "SLIDEEDIT"

// UserConfigDir is searched after the working directory.
const UserConfigDir = "~/.slide-edit"

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Editor   EditorConfig   `mapstructure:"editor" yaml:"editor"`
	Feedback FeedbackConfig `mapstructure:"feedback" yaml:"feedback"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL
// disables the document store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EditorConfig tunes the edit engine.
type EditorConfig struct {
	// LoadTimeout bounds how long an operation waits for a mounted document.
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	// RetryDelay is waited once before retrying an operation on a document
	// that was not yet queryable.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// Container is the selector of the element paths are computed against.
	Container    string `mapstructure:"container" yaml:"container"`
	SaveOnCommit bool   `mapstructure:"save_on_commit" yaml:"save_on_commit"`
}

// FeedbackConfig sizes the feedback bus.
type FeedbackConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; this cannot fail.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "slide-edit")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Editor --
	v.SetDefault("editor.load_timeout", "5s")
	v.SetDefault("editor.retry_delay", "100ms")
	v.SetDefault("editor.container", "body")
	v.SetDefault("editor.save_on_commit", true)

	// -- Feedback --
	v.SetDefault("feedback.buffer_size", 32)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries credentials; keep it out of files.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load wires defaults, the config file and environment overrides into v and
// returns the resulting configuration. An explicit cfgFile must exist; the
// default search path (./config.yaml, then ~/.slide-edit/config.yaml) may not.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path '%s': %w", cfgFile, err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if dir, err := homedir.Expand(UserConfigDir); err == nil {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment only.
	}
	return NewConfigFromViper(v)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Editor.LoadTimeout <= 0 {
		return fmt.Errorf("editor.load_timeout must be a positive duration")
	}
	if c.Editor.RetryDelay < 0 {
		return fmt.Errorf("editor.retry_delay must not be negative")
	}
	if strings.TrimSpace(c.Editor.Container) == "" {
		return fmt.Errorf("editor.container is a required configuration field")
	}
	if c.Feedback.BufferSize <= 0 {
		return fmt.Errorf("feedback.buffer_size must be a positive integer")
	}
	return nil
}
