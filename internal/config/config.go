package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
// A double underscore separates nesting levels, e.g.
// MBEDSYNC_FRAMEWORK__ROOT sets framework.root.
const EnvPrefix = "MBEDSYNC_"

// Log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// PlatformIO build variables picked up from the environment
const (
	EnvProjectDir = "PROJECT_DIR"
	EnvPIOEnv     = "PIOENV"
	EnvLibDepsDir = "PROJECT_LIBDEPS_DIR"
)

// Config represents the complete mbedsync configuration
type Config struct {
	Framework   FrameworkConfig   `koanf:"framework"`
	Log         LogConfig         `koanf:"log"`
	PlatformIO  PlatformIOConfig  `koanf:"platformio"`
	LibraryJSON LibraryJSONConfig `koanf:"library_json"`
}

// FrameworkConfig locates the mbed-os framework and the manifests applied to it
type FrameworkConfig struct {
	Root     string `koanf:"root"`
	Manifest string `koanf:"manifest"`
	// Baseline overrides <root>/.mbedignore as the record of the last run
	Baseline string `koanf:"baseline"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PlatformIOConfig holds the PlatformIO build variables
type PlatformIOConfig struct {
	ProjectDir string `koanf:"project_dir"`
	Env        string `koanf:"env"`
	LibDepsDir string `koanf:"libdeps_dir"`
}

// LibraryJSONConfig configures the library.json copier
type LibraryJSONConfig struct {
	// SourceDir is relative to the PlatformIO project directory
	SourceDir string   `koanf:"source_dir"`
	Libraries []string `koanf:"libraries"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":  "info",
		"log.format": LogFormatText,
	}
}

// DefaultPath returns the config file looked up when no path is given
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "mbedsync", "config.yaml")
}

// Load builds the configuration from defaults, the config file at path, the
// PlatformIO build variables and MBEDSYNC_ environment variables, in that
// order of precedence. An empty path uses DefaultPath when it exists.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultPath()); err == nil {
			path = DefaultPath()
		}
	}
	if path != "" {
		path = os.ExpandEnv(path)
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := k.Load(confmap.Provider(platformIOVars(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load PlatformIO variables: %w", err)
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (must be .yaml, .yml, or .toml)", path)
	}
}

// platformIOVars maps the PlatformIO build variables that are set onto
// their config keys
func platformIOVars() map[string]interface{} {
	vars := make(map[string]interface{})
	for name, key := range map[string]string{
		EnvProjectDir: "platformio.project_dir",
		EnvPIOEnv:     "platformio.env",
		EnvLibDepsDir: "platformio.libdeps_dir",
	} {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			vars[key] = v
		}
	}
	return vars
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Framework.Root = os.ExpandEnv(c.Framework.Root)
	c.Framework.Manifest = os.ExpandEnv(c.Framework.Manifest)
	c.Framework.Baseline = os.ExpandEnv(c.Framework.Baseline)
	c.PlatformIO.ProjectDir = os.ExpandEnv(c.PlatformIO.ProjectDir)
	c.PlatformIO.LibDepsDir = os.ExpandEnv(c.PlatformIO.LibDepsDir)
	c.LibraryJSON.SourceDir = os.ExpandEnv(c.LibraryJSON.SourceDir)
}

// applyDefaults fills in fields that were overridden with empty values.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = LogFormatText
	}
	if c.PlatformIO.LibDepsDir == "" && c.PlatformIO.ProjectDir != "" {
		c.PlatformIO.LibDepsDir = filepath.Join(c.PlatformIO.ProjectDir, ".pio", "libdeps")
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid log.level: %s (must be trace, debug, info, warn, or error)", c.Log.Level)
	}

	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	// A manifest without a framework to apply it to is a mistake
	if c.Framework.Manifest != "" && c.Framework.Root == "" {
		return fmt.Errorf("framework.root is required when framework.manifest is set")
	}

	for _, lib := range c.LibraryJSON.Libraries {
		if strings.TrimSpace(lib) == "" {
			return fmt.Errorf("library_json.libraries must not contain empty names")
		}
	}

	return nil
}

// BaselinePath returns the configured baseline, falling back to the marker
// file of the framework root
func (c *Config) BaselinePath() string {
	if c.Framework.Baseline != "" {
		return c.Framework.Baseline
	}
	if c.Framework.Root == "" {
		return ""
	}
	return filepath.Join(c.Framework.Root, ".mbedignore")
}

// PlatformIOVars returns the PlatformIO build variables keyed by their
// PlatformIO names
func (c *Config) PlatformIOVars() map[string]string {
	return map[string]string{
		EnvProjectDir: c.PlatformIO.ProjectDir,
		EnvPIOEnv:     c.PlatformIO.Env,
		EnvLibDepsDir: c.PlatformIO.LibDepsDir,
	}
}
