package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/types"
)

// EnvPrefix prefixes every environment override (FINGERPRINT_WORK_DIR).
const EnvPrefix = "FINGERPRINT"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ScanConfig configures the walker.
type ScanConfig struct {
	Quick      bool     `mapstructure:"quick"`
	Exclude    []string `mapstructure:"exclude"`
	UseCatalog bool     `mapstructure:"use_catalog"`
}

// TemplatesConfig overrides the metadata hash templates. Empty lists keep
// the defaults.
type TemplatesConfig struct {
	File    []string `mapstructure:"file"`
	Symlink []string `mapstructure:"symlink"`
	Dir     []string `mapstructure:"dir"`
}

// StoreConfig configures the content-addressed store.
type StoreConfig struct {
	// Root is the store directory. Empty disables the store during scans.
	Root string `mapstructure:"root"`
}

// HistoryConfig configures the stage journal.
type HistoryConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	WorkDir   string          `mapstructure:"work_dir"`
	Overwrite bool            `mapstructure:"overwrite"`
	Policy    string          `mapstructure:"policy"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Store     StoreConfig     `mapstructure:"store"`
	Output    struct {
		Format string `mapstructure:"format"`
	} `mapstructure:"output"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SetDefaults installs every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", DefaultWorkDir)
	v.SetDefault("overwrite", false)
	v.SetDefault("policy", DefaultPolicy)

	v.SetDefault("scan.quick", false)
	v.SetDefault("scan.exclude", DefaultExclusions)
	v.SetDefault("scan.use_catalog", false)

	v.SetDefault("templates.file", []string{})
	v.SetDefault("templates.symlink", []string{})
	v.SetDefault("templates.dir", []string{})

	v.SetDefault("store.root", "")
	v.SetDefault("output.format", DefaultOutputFormat)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means use DefaultLogPath
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_backups", DefaultLogMaxBackups)
	v.SetDefault("logging.components", map[string]string{
		"walker":    "info",
		"filedupes": "info",
		"dirdupes":  "info",
		"store":     "info",
		"pipeline":  "info",
		"export":    "info",
		"cli":       "info",
	})
}

// Prepare points v at the config file and the environment. An empty path
// searches the config directory for config.yaml; an explicit path must exist.
func Prepare(v *viper.Viper, path string) error {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return nil
}

// Read reads the config file into v. A missing file is not an error.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// FromViper decodes v into a Config and expands its paths.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.WorkDir, &cfg.Store.Root, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return &cfg, nil
}

// Load loads configuration from the default config file and environment
// variables.
//
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/fingerprint/config.yaml
//   - $HOME/.config/fingerprint/config.yaml
func Load() (*Config, error) {
	v := viper.New()
	if err := Prepare(v, ""); err != nil {
		return nil, err
	}
	if err := Read(v); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// DigestTemplates resolves the configured templates on top of the defaults.
func (c *Config) DigestTemplates() (digest.Templates, error) {
	t := digest.DefaultTemplates()
	for _, o := range []struct {
		dst    *digest.Template
		fields []string
		kind   string
	}{
		{&t.File, c.Templates.File, "file"},
		{&t.Symlink, c.Templates.Symlink, "symlink"},
		{&t.Dir, c.Templates.Dir, "dir"},
	} {
		if len(o.fields) == 0 {
			continue
		}
		parsed, err := digest.FromStrings(o.fields)
		if err != nil {
			return digest.Templates{}, fmt.Errorf("templates.%s: %w", o.kind, err)
		}
		*o.dst = parsed
	}
	if err := t.Validate(); err != nil {
		return digest.Templates{}, err
	}
	return t, nil
}

// LogConfig converts the logging section for logging.Init.
func (c *Config) LogConfig() (logging.Config, error) {
	lc := logging.DefaultConfig()
	if c.Logging.Level != "" {
		lc.Level = c.Logging.Level
	}
	if c.Logging.Path != "" {
		lc.Path = c.Logging.Path
	}
	if c.Logging.Rotation.MaxSize != "" {
		n, err := types.ParseSize(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		lc.Rotation.MaxSize = n
	}
	lc.Rotation.MaxBackups = c.Logging.Rotation.MaxBackups
	lc.Components = c.Logging.Components
	return lc, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "fingerprint"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "fingerprint"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultStoreRoot returns $XDG_DATA_HOME/fingerprint/store, the suggested
// store location.
func DefaultStoreRoot() string {
	return filepath.Join(xdg.DataHome, "fingerprint", "store")
}

// WriteDefault writes a default config file if none exists and returns its
// path. An existing file is left untouched.
func WriteDefault() (string, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# fingerprint configuration

# Directory holding scan.fpr and the analysis artifacts
work_dir: %s

# Replace existing artifacts instead of refusing
overwrite: false

# Stage policy for "fingerprint run": always, lazy, dependency
policy: %s

scan:
  # Skip content hashing; duplicate stages hash candidates on demand
  quick: false
  # Glob patterns matched against relative paths and base names
  exclude:
    - .git
    - /proc
    - /sys
    - /dev
  # Reuse digests recorded in the store catalog for unchanged files
  use_catalog: false

# Metadata hash templates; empty lists keep the defaults
templates:
  file: []
  symlink: []
  dir: []

store:
  # Content-addressed store root (empty disables ingestion), e.g. %s
  root: ""

output:
  # pretty, plain, csv, json, jsonl, yaml
  format: %s

history:
  enabled: true
  retention_days: %d

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/fingerprint/fingerprint.log)
  path: ""
  rotation:
    max_size: %s
    max_backups: %d
  components:
    walker: info
    filedupes: info
    dirdupes: info
    store: info
    pipeline: info
    export: info
    cli: info
`, DefaultWorkDir, DefaultPolicy, DefaultStoreRoot(), DefaultOutputFormat,
		DefaultRetentionDays, DefaultLogMaxSize, DefaultLogMaxBackups)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return configPath, nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}
