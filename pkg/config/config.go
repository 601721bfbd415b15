/*
Package config manages TOML config for nextword.

The file is read over built-in defaults, so a config only needs the keys it
changes. Keys holding the wrong TOML type are skipped with a warning and keep
their default. Values of the right type that are out of range fail loading
with an *Error naming the field; nextword refuses to start on those rather
than guess.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bastiangx/nextword/internal/utils"
	"github.com/charmbracelet/log"
)

// Config holds the entire config structure
type Config struct {
	Engine EngineConfig `toml:"engine"`
	Remote RemoteConfig `toml:"remote"`
	Cache  CacheConfig  `toml:"cache"`
	Model  ModelConfig  `toml:"model"`
	Server ServerConfig `toml:"server"`
	CLI    CliConfig    `toml:"cli"`
}

// EngineConfig has merge and mode options.
type EngineConfig struct {
	OnlineModeEnabled bool    `toml:"online_mode_enabled"`
	MergeStrategy     string  `toml:"merge_strategy"`
	APIWeight         float64 `toml:"api_weight"`
	OfflineWeight     float64 `toml:"offline_weight"`
	DebugLogging      bool    `toml:"debug_logging"`
}

// RemoteConfig has prediction service options. Durations are in seconds.
type RemoteConfig struct {
	BaseURL              string  `toml:"base_url"`
	APITimeout           float64 `toml:"api_timeout"`
	APIMaxRetries        int     `toml:"api_max_retries"`
	APIVocabulary        string  `toml:"api_vocabulary"`
	APISafeMode          bool    `toml:"api_safe_mode"`
	APILanguage          string  `toml:"api_language"`
	NetworkCheckInterval float64 `toml:"network_check_interval"`
}

// CacheConfig has response cache options.
type CacheConfig struct {
	CacheTTL   float64 `toml:"cache_ttl"`
	MaxEntries int     `toml:"max_entries"`
}

// ModelConfig has n-gram model and persistence options.
type ModelConfig struct {
	Order          int     `toml:"order"`
	MinTokenLength int     `toml:"min_token_length"`
	Discount       float64 `toml:"discount"`
	CorpusPath     string  `toml:"corpus_path"`
	SnapshotPath   string  `toml:"snapshot_path"`
	Store          string  `toml:"store"`
	AutosaveEvery  int     `toml:"autosave_every"`
}

// ServerConfig has IPC server options.
type ServerConfig struct {
	MaxLimit     int `toml:"max_limit"`
	DefaultLimit int `toml:"default_limit"`
	MaxText      int `toml:"max_text"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	DefaultLimit int `toml:"default_limit"`
}

// Store backends for the learned model.
const (
	StoreMsgpack = "msgpack"
	StoreSQLite  = "sqlite"
)

// Error reports a config value that failed validation.
type Error struct {
	Field  string
	Value  any
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// GetConfigDir returns the config directory with fallback priority:
// 1. platform config dir (~/.config/nextword, $XDG_CONFIG_HOME, %APPDATA%)
// 2. ~/Library/Application Support/ (macOS)
// 3. Current executable dir
func GetConfigDir() (string, error) {
	primaryPath, err := utils.UserConfigDir()
	if err != nil {
		log.Errorf("Failed to get home directory: %v", err)
		return utils.GetExecutableDir()
	}
	if result := utils.CheckDirStatus(primaryPath); result.Writable {
		return primaryPath, nil
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		macOSPath := filepath.Join(homeDir, "Library", "Application Support", utils.AppName)
		if result := utils.CheckDirStatus(macOSPath); result.Writable {
			return macOSPath, nil
		}
	}
	execDir, err := utils.GetExecutableDir()
	if err != nil {
		log.Errorf("Failed to get executable directory: %v", err)
		return "", err
	}
	return execDir, nil
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from -config flag
// 2. Default path: [UserConfigDir]/nextword/config.toml
// 3. Builtin defaults
//
// A missing or unreadable file falls through to the next source. A file that
// loads but fails validation is returned as an error.
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if _, statErr := os.Stat(customConfigPath); statErr == nil {
			config, err := LoadConfig(customConfigPath)
			if err != nil {
				return nil, customConfigPath, err
			}
			log.Debugf("Loaded config from custom path: %s", customConfigPath)
			return config, customConfigPath, nil
		} else {
			log.Warnf("Custom config file not found at %s: %v. Trying default path...", customConfigPath, statErr)
		}
	}
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		return nil, defaultPath, err
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			OnlineModeEnabled: true,
			MergeStrategy:     string(MergeWeighted),
			APIWeight:         0.7,
			OfflineWeight:     0.3,
			DebugLogging:      false,
		},
		Remote: RemoteConfig{
			BaseURL:              "https://api.imagineville.org",
			APITimeout:           5,
			APIMaxRetries:        2,
			APIVocabulary:        "100k",
			APISafeMode:          true,
			APILanguage:          "en",
			NetworkCheckInterval: 30,
		},
		Cache: CacheConfig{
			CacheTTL:   300,
			MaxEntries: 100,
		},
		Model: ModelConfig{
			Order:          3,
			MinTokenLength: 2,
			Discount:       0.5,
			CorpusPath:     "",
			SnapshotPath:   "model.msgpack",
			Store:          StoreMsgpack,
			AutosaveEvery:  50,
		},
		Server: ServerConfig{
			MaxLimit:     10,
			DefaultLimit: 6,
			MaxText:      512,
		},
		CLI: CliConfig{
			DefaultLimit: 6,
		},
	}
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)

	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}
	return LoadConfig(configPath)
}

// LoadConfig loads from a TOML file and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		config = tryPartialParse(configPath)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// tryPartialParse keeps every well-typed key of a file the strict decoder
// rejected.
func tryPartialParse(configPath string) *Config {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config
	}

	if section, ok := utils.ExtractSection(tempConfig, "engine"); ok {
		extractEngineConfig(section, &config.Engine)
	}
	if section, ok := utils.ExtractSection(tempConfig, "remote"); ok {
		extractRemoteConfig(section, &config.Remote)
	}
	if section, ok := utils.ExtractSection(tempConfig, "cache"); ok {
		extractCacheConfig(section, &config.Cache)
	}
	if section, ok := utils.ExtractSection(tempConfig, "model"); ok {
		extractModelConfig(section, &config.Model)
	}
	if section, ok := utils.ExtractSection(tempConfig, "server"); ok {
		extractServerConfig(section, &config.Server)
	}
	if section, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		if val, ok := utils.ExtractInt64(section, "default_limit"); ok {
			config.CLI.DefaultLimit = val
		}
	}
	return config
}

func extractEngineConfig(data map[string]any, engine *EngineConfig) {
	if val, ok := utils.ExtractBool(data, "online_mode_enabled"); ok {
		engine.OnlineModeEnabled = val
	}
	if val, ok := utils.ExtractString(data, "merge_strategy"); ok {
		engine.MergeStrategy = val
	}
	if val, ok := utils.ExtractFloat(data, "api_weight"); ok {
		engine.APIWeight = val
	}
	if val, ok := utils.ExtractFloat(data, "offline_weight"); ok {
		engine.OfflineWeight = val
	}
	if val, ok := utils.ExtractBool(data, "debug_logging"); ok {
		engine.DebugLogging = val
	}
}

func extractRemoteConfig(data map[string]any, remote *RemoteConfig) {
	if val, ok := utils.ExtractString(data, "base_url"); ok {
		remote.BaseURL = val
	}
	if val, ok := utils.ExtractFloat(data, "api_timeout"); ok {
		remote.APITimeout = val
	}
	if val, ok := utils.ExtractInt64(data, "api_max_retries"); ok {
		remote.APIMaxRetries = val
	}
	if val, ok := utils.ExtractString(data, "api_vocabulary"); ok {
		remote.APIVocabulary = val
	}
	if val, ok := utils.ExtractBool(data, "api_safe_mode"); ok {
		remote.APISafeMode = val
	}
	if val, ok := utils.ExtractString(data, "api_language"); ok {
		remote.APILanguage = val
	}
	if val, ok := utils.ExtractFloat(data, "network_check_interval"); ok {
		remote.NetworkCheckInterval = val
	}
}

func extractCacheConfig(data map[string]any, cache *CacheConfig) {
	if val, ok := utils.ExtractFloat(data, "cache_ttl"); ok {
		cache.CacheTTL = val
	}
	if val, ok := utils.ExtractInt64(data, "max_entries"); ok {
		cache.MaxEntries = val
	}
}

func extractModelConfig(data map[string]any, model *ModelConfig) {
	if val, ok := utils.ExtractInt64(data, "order"); ok {
		model.Order = val
	}
	if val, ok := utils.ExtractInt64(data, "min_token_length"); ok {
		model.MinTokenLength = val
	}
	if val, ok := utils.ExtractFloat(data, "discount"); ok {
		model.Discount = val
	}
	if val, ok := utils.ExtractString(data, "corpus_path"); ok {
		model.CorpusPath = val
	}
	if val, ok := utils.ExtractString(data, "snapshot_path"); ok {
		model.SnapshotPath = val
	}
	if val, ok := utils.ExtractString(data, "store"); ok {
		model.Store = val
	}
	if val, ok := utils.ExtractInt64(data, "autosave_every"); ok {
		model.AutosaveEvery = val
	}
}

func extractServerConfig(data map[string]any, server *ServerConfig) {
	if val, ok := utils.ExtractInt64(data, "max_limit"); ok {
		server.MaxLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "default_limit"); ok {
		server.DefaultLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "max_text"); ok {
		server.MaxText = val
	}
}

// Validate checks every field and joins all problems into one error. Each
// problem is an *Error.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, value any, reason string) {
		errs = append(errs, &Error{Field: field, Value: value, Reason: reason})
	}

	// Durations are converted from seconds; NaN or Inf has no duration.
	finiteSeconds := true
	for _, d := range []struct {
		field string
		value float64
	}{
		{"remote.api_timeout", c.Remote.APITimeout},
		{"remote.network_check_interval", c.Remote.NetworkCheckInterval},
		{"cache.cache_ttl", c.Cache.CacheTTL},
	} {
		if !finite(d.value) {
			add(d.field, d.value, "must be a finite number of seconds")
			finiteSeconds = false
		}
	}
	if finiteSeconds {
		if _, err := c.EngineSnapshot(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Model.Order < 1 {
		add("model.order", c.Model.Order, "must be at least 1")
	}
	if c.Model.MinTokenLength < 1 {
		add("model.min_token_length", c.Model.MinTokenLength, "must be at least 1")
	}
	if !(c.Model.Discount > 0 && c.Model.Discount < 1) {
		add("model.discount", c.Model.Discount, "must be between 0 and 1, exclusive")
	}
	if c.Model.Store != StoreMsgpack && c.Model.Store != StoreSQLite {
		add("model.store", c.Model.Store, "must be msgpack or sqlite")
	}
	if c.Model.AutosaveEvery < 0 {
		add("model.autosave_every", c.Model.AutosaveEvery, "must not be negative")
	}
	if c.Server.MaxLimit < 1 {
		add("server.max_limit", c.Server.MaxLimit, "must be at least 1")
	}
	if c.Server.DefaultLimit < 1 || c.Server.DefaultLimit > c.Server.MaxLimit {
		add("server.default_limit", c.Server.DefaultLimit, "must be between 1 and server.max_limit")
	}
	if c.Server.MaxText < 1 {
		add("server.max_text", c.Server.MaxText, "must be at least 1")
	}
	if c.CLI.DefaultLimit < 1 {
		add("cli.default_limit", c.CLI.DefaultLimit, "must be at least 1")
	}
	return errors.Join(errs...)
}

// EngineSnapshot converts the engine-facing sections into a validated Engine.
func (c *Config) EngineSnapshot() (Engine, error) {
	e := Engine{
		OnlineEnabled:        c.Engine.OnlineModeEnabled,
		APITimeout:           seconds(c.Remote.APITimeout),
		APIMaxRetries:        c.Remote.APIMaxRetries,
		APIVocabulary:        c.Remote.APIVocabulary,
		APISafeMode:          c.Remote.APISafeMode,
		APILanguage:          c.Remote.APILanguage,
		MergeStrategy:        MergeStrategy(c.Engine.MergeStrategy),
		APIWeight:            c.Engine.APIWeight,
		OfflineWeight:        c.Engine.OfflineWeight,
		CacheTTL:             seconds(c.Cache.CacheTTL),
		CacheCapacity:        c.Cache.MaxEntries,
		NetworkCheckInterval: seconds(c.Remote.NetworkCheckInterval),
		DebugLogging:         c.Engine.DebugLogging,
	}
	if err := e.Validate(); err != nil {
		return Engine{}, err
	}
	return e, nil
}

// ApplyEngine writes an Engine back into the file sections, the inverse of
// EngineSnapshot.
func (c *Config) ApplyEngine(e Engine) {
	c.Engine.OnlineModeEnabled = e.OnlineEnabled
	c.Engine.MergeStrategy = string(e.MergeStrategy)
	c.Engine.APIWeight = e.APIWeight
	c.Engine.OfflineWeight = e.OfflineWeight
	c.Engine.DebugLogging = e.DebugLogging
	c.Remote.APITimeout = e.APITimeout.Seconds()
	c.Remote.APIMaxRetries = e.APIMaxRetries
	c.Remote.APIVocabulary = e.APIVocabulary
	c.Remote.APISafeMode = e.APISafeMode
	c.Remote.APILanguage = e.APILanguage
	c.Remote.NetworkCheckInterval = e.NetworkCheckInterval.Seconds()
	c.Cache.CacheTTL = e.CacheTTL.Seconds()
	c.Cache.MaxEntries = e.CacheCapacity
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RebuildConfigFile force creates a new config.toml at default
func RebuildConfigFile() error {
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		return err
	}
	configDir := filepath.Dir(defaultPath)
	if err := utils.EnsureDir(configDir); err != nil {
		return err
	}
	return SaveConfig(DefaultConfig(), defaultPath)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			return defaultPath
		}
		return "unknown"
	}
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}
