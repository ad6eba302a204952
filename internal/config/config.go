package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Cloud       CloudConfig       `yaml:"cloud" json:"cloud"`
	Acquisition AcquisitionConfig `yaml:"acquisition" json:"acquisition"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"CINERELAY_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"CINERELAY_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"CINERELAY_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"CINERELAY_WRITE_TIMEOUT" default:"60s"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"CINERELAY_TRUSTED_PROXIES"`
}

// CloudConfig describes the cloud backend and how the proxy talks to it
type CloudConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url" env:"SEEDR_BASE_URL" default:"https://www.seedr.cc"`
	RestPrefix        string        `yaml:"rest_prefix" json:"rest_prefix" env:"SEEDR_REST_PREFIX" default:"/rest"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent" env:"SEEDR_USER_AGENT"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout" env:"SEEDR_REQUEST_TIMEOUT" default:"30s"`
	ProxyURL          string        `yaml:"proxy_url" json:"proxy_url" env:"CINERELAY_PROXY_URL"` // empty means in-process
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second" env:"SEEDR_REQUESTS_PER_SECOND" default:"8"`
	StreamURLTTL      time.Duration `yaml:"stream_url_ttl" json:"stream_url_ttl" env:"SEEDR_STREAM_URL_TTL" default:"30s"`
}

// AcquisitionConfig controls the acquisition state machine
type AcquisitionConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval" env:"ACQUISITION_POLL_INTERVAL" default:"2s"`
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts" env:"ACQUISITION_MAX_ATTEMPTS" default:"120"`
	PollTimeout       time.Duration `yaml:"poll_timeout" json:"poll_timeout" env:"ACQUISITION_POLL_TIMEOUT" default:"5m"`
	DeleteConcurrency int           `yaml:"delete_concurrency" json:"delete_concurrency" env:"ACQUISITION_DELETE_CONCURRENCY" default:"4"`
	WalkConcurrency   int           `yaml:"walk_concurrency" json:"walk_concurrency" env:"ACQUISITION_WALK_CONCURRENCY" default:"4"`
	MaxWalkDepth      int           `yaml:"max_walk_depth" json:"max_walk_depth" env:"ACQUISITION_MAX_WALK_DEPTH" default:"8"`
	Trackers          []string      `yaml:"trackers" json:"trackers" env:"ACQUISITION_TRACKERS"`
}

// DatabaseConfig selects where run history lives
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"DATABASE_ENABLED" default:"true"`
	Type     string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL      string `yaml:"url" json:"url" env:"DATABASE_URL"`
	DataDir  string `yaml:"data_dir" json:"data_dir" env:"CINERELAY_DATA_DIR" default:"./data"`
	Path     string `yaml:"path" json:"path" env:"CINERELAY_DATABASE_PATH"`
	LogLevel string `yaml:"log_level" json:"log_level" env:"DB_LOG_LEVEL" default:"warn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"CINERELAY_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"CINERELAY_LOG_FORMAT" default:"text"`
}

// MetricsConfig toggles the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"CINERELAY_METRICS" default:"true"`
	Path    string `yaml:"path" json:"path" env:"CINERELAY_METRICS_PATH" default:"/metrics"`
}

// DefaultTrackers are public announce URLs appended to magnets built from a bare hash.
var DefaultTrackers = []string{
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://glotorrents.pw:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://torrent.gresille.org:80/announce",
	"udp://p4p.arenabg.com:1337",
	"udp://tracker.leechers-paradise.org:6969",
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			TrustedProxies: []string{},
		},
		Cloud: CloudConfig{
			BaseURL:           "https://www.seedr.cc",
			RestPrefix:        "/rest",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 8,
			StreamURLTTL:      30 * time.Second,
		},
		Acquisition: AcquisitionConfig{
			PollInterval:      2 * time.Second,
			MaxAttempts:       120,
			PollTimeout:       5 * time.Minute,
			DeleteConcurrency: 4,
			WalkConcurrency:   4,
			MaxWalkDepth:      8,
			Trackers:          append([]string(nil), DefaultTrackers...),
		},
		Database: DatabaseConfig{
			Enabled:  true,
			Type:     "sqlite",
			DataDir:  "./data",
			LogLevel: "warn",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(newConfig)

	cm.config = newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	for _, watcher := range watchers {
		watcher(&oldConfig, newConfig)
	}
	return nil
}

// Reload re-reads the file the manager was last loaded from
func (cm *ConfigManager) Reload() error {
	cm.mu.RLock()
	path := cm.configPath
	cm.mu.RUnlock()
	return cm.LoadConfig(path)
}

// Path returns the file the configuration was loaded from, if any
func (cm *ConfigManager) Path() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	configCopy.Acquisition.Trackers = append([]string(nil), cm.config.Acquisition.Trackers...)
	return &configCopy
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// Update applies fn to a copy of the configuration, validates it and swaps it
// in. Watchers are notified as on a reload.
func (cm *ConfigManager) Update(fn func(*Config)) error {
	cm.mu.Lock()
	oldConfig := *cm.config
	newConfig := oldConfig
	newConfig.Acquisition.Trackers = append([]string(nil), oldConfig.Acquisition.Trackers...)
	fn(&newConfig)
	if err := newConfig.Validate(); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	cm.config = &newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	for _, watcher := range watchers {
		watcher(&oldConfig, &newConfig)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}
	if c.Cloud.BaseURL == "" {
		return &ValidationError{Field: "cloud.base_url", Message: "must not be empty"}
	}
	if c.Acquisition.PollInterval <= 0 {
		return &ValidationError{Field: "acquisition.poll_interval", Message: "must be positive"}
	}
	if c.Acquisition.MaxAttempts < 1 {
		return &ValidationError{Field: "acquisition.max_attempts", Message: "must be at least 1"}
	}
	if c.Acquisition.DeleteConcurrency < 1 || c.Acquisition.WalkConcurrency < 1 {
		return &ValidationError{Field: "acquisition.*_concurrency", Message: "must be at least 1"}
	}
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return &ValidationError{Field: "database.type", Message: "unsupported database type " + c.Database.Type}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error in field '" + e.Field + "': " + e.Message
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadStructFromEnv only overrides fields whose env var is set; defaults come
// from DefaultConfig so a file value is never clobbered by a default tag.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.Path == "" && config.Database.Type == "sqlite" {
		config.Database.Path = filepath.Join(config.Database.DataDir, "cinerelay.db")
	}
	if len(config.Acquisition.Trackers) == 0 {
		config.Acquisition.Trackers = append([]string(nil), DefaultTrackers...)
	}
	config.Cloud.BaseURL = strings.TrimRight(config.Cloud.BaseURL, "/")
	if config.Cloud.RestPrefix != "" && !strings.HasPrefix(config.Cloud.RestPrefix, "/") {
		config.Cloud.RestPrefix = "/" + config.Cloud.RestPrefix
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}
