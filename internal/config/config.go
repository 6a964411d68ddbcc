package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelbay/modelbay/internal/logger"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Object storage configuration
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Import engine configuration
	Import ImportConfig `yaml:"import" json:"import"`

	// Render service configuration
	Render RenderConfig `yaml:"render" json:"render"`

	// AI metadata service configuration
	AI AIConfig `yaml:"ai" json:"ai"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Performance configuration
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"MODELBAY_HOST"`
	Port           int           `yaml:"port" json:"port" env:"MODELBAY_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"MODELBAY_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"MODELBAY_WRITE_TIMEOUT"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"MODELBAY_MAX_HEADER_BYTES"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"MODELBAY_ENABLE_CORS"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"MODELBAY_TRUSTED_PROXIES"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER"`
	Password        string        `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"MODELBAY_DATA_DIR"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"MODELBAY_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	DataDir       string `yaml:"data_dir" json:"data_dir" env:"MODELBAY_STORAGE_DIR"`
	PublicBaseURL string `yaml:"public_base_url" json:"public_base_url" env:"MODELBAY_PUBLIC_BASE_URL"`
	MaxFileSize   int64  `yaml:"max_file_size" json:"max_file_size" env:"MODELBAY_MAX_FILE_SIZE"`
	WebPQuality   int    `yaml:"webp_quality" json:"webp_quality" env:"MODELBAY_WEBP_QUALITY"`
	EnableWebP    bool   `yaml:"enable_webp" json:"enable_webp" env:"MODELBAY_ENABLE_WEBP"`
}

// ImportConfig holds import engine defaults and limits
type ImportConfig struct {
	DefaultConcurrency  int           `yaml:"default_concurrency" json:"default_concurrency" env:"MODELBAY_IMPORT_CONCURRENCY"`
	CheckpointInterval  int           `yaml:"checkpoint_interval" json:"checkpoint_interval" env:"MODELBAY_CHECKPOINT_INTERVAL"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries" env:"MODELBAY_IMPORT_MAX_RETRIES"`
	SimilarityThreshold int           `yaml:"similarity_threshold" json:"similarity_threshold" env:"MODELBAY_SIMILARITY_THRESHOLD"`
	PreviewTypePriority string        `yaml:"preview_type_priority" json:"preview_type_priority" env:"MODELBAY_PREVIEW_PRIORITY"`
	StagingDir          string        `yaml:"staging_dir" json:"staging_dir" env:"MODELBAY_STAGING_DIR"`
	MaxArchiveSize      int64         `yaml:"max_archive_size" json:"max_archive_size" env:"MODELBAY_MAX_ARCHIVE_SIZE"`
	WatchDebounce       time.Duration `yaml:"watch_debounce" json:"watch_debounce" env:"MODELBAY_WATCH_DEBOUNCE"`
	IgnorePatterns      []string      `yaml:"ignore_patterns" json:"ignore_patterns" env:"MODELBAY_IGNORE_PATTERNS"`
}

// RenderConfig holds preview render service configuration
type RenderConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url" env:"MODELBAY_RENDER_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"MODELBAY_RENDER_TIMEOUT"`
	MultiViewCount int           `yaml:"multi_view_count" json:"multi_view_count" env:"MODELBAY_RENDER_VIEWS"`
}

// AIConfig holds AI metadata service configuration
type AIConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url" env:"MODELBAY_AI_URL"`
	APIKey         string        `yaml:"api_key" json:"-" env:"MODELBAY_AI_API_KEY"`
	Model          string        `yaml:"model" json:"model" env:"MODELBAY_AI_MODEL"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"MODELBAY_AI_TIMEOUT"`
	MaxTags        int           `yaml:"max_tags" json:"max_tags" env:"MODELBAY_AI_MAX_TAGS"`
	PDFHintPages   int           `yaml:"pdf_hint_pages" json:"pdf_hint_pages" env:"MODELBAY_AI_PDF_PAGES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" json:"output" env:"MODELBAY_LOG_OUTPUT"`
}

// PerformanceConfig holds performance-related configuration
type PerformanceConfig struct {
	EnableAdaptiveThrottling bool          `yaml:"enable_adaptive_throttling" json:"enable_adaptive_throttling" env:"MODELBAY_ADAPTIVE_THROTTLING"`
	CPUThreshold             float64       `yaml:"cpu_threshold" json:"cpu_threshold" env:"MODELBAY_CPU_THRESHOLD"`
	MemoryThreshold          float64       `yaml:"memory_threshold" json:"memory_threshold" env:"MODELBAY_MEMORY_THRESHOLD"`
	MonitorInterval          time.Duration `yaml:"monitor_interval" json:"monitor_interval" env:"MODELBAY_MONITOR_INTERVAL"`
	MaxConcurrentJobs        int           `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs" env:"MODELBAY_MAX_CONCURRENT_JOBS"`
}

// ConfigManager manages application configuration with reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

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
			WriteTimeout:   30 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
			EnableCORS:     true,
			TrustedProxies: []string{},
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			Host:            "localhost",
			Port:            5432,
			Username:        "modelbay",
			Database:        "modelbay",
			DataDir:         "./modelbay-data",
			MaxOpenConns:    100,
			MaxIdleConns:    20,
			ConnMaxLifetime: 2 * time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
			LogQueries:      false,
		},
		Storage: StorageConfig{
			PublicBaseURL: "/files",
			MaxFileSize:   2 * 1024 * 1024 * 1024, // 2GB
			WebPQuality:   90,
			EnableWebP:    true,
		},
		Import: ImportConfig{
			DefaultConcurrency:  5,
			CheckpointInterval:  25,
			MaxRetries:          3,
			SimilarityThreshold: 85,
			PreviewTypePriority: "3mf,stl,obj,gltf,glb,ply",
			MaxArchiveSize:      4 * 1024 * 1024 * 1024, // 4GB
			WatchDebounce:       5 * time.Second,
			IgnorePatterns:      []string{".*", "Thumbs.db", ".DS_Store", "__MACOSX"},
		},
		Render: RenderConfig{
			BaseURL:        "http://localhost:9090",
			RequestTimeout: 60 * time.Second,
			MultiViewCount: 4,
		},
		AI: AIConfig{
			BaseURL:        "http://localhost:9091",
			Model:          "gpt-4o-mini",
			RequestTimeout: 45 * time.Second,
			MaxTags:        8,
			PDFHintPages:   2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Performance: PerformanceConfig{
			EnableAdaptiveThrottling: true,
			CPUThreshold:             80.0,
			MemoryThreshold:          85.0,
			MonitorInterval:          10 * time.Second,
			MaxConcurrentJobs:        2,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		logger.Info("✅ Configuration loaded from file: %s", configPath)
	}

	// Override with environment variables
	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Apply derived configurations
	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig

	// Notify watchers of config change
	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// Reload re-runs the file and environment pipeline using the path from
// the previous LoadConfig call.
func (cm *ConfigManager) Reload() error {
	cm.mu.RLock()
	path := cm.configPath
	cm.mu.RUnlock()
	return cm.LoadConfig(path)
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// Helper methods

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
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

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		// Get environment variable name
		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		// Unset variables leave the default or file value in place
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
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
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		} else if field.Type().Elem().Kind() == reflect.Int {
			stringValues := strings.Split(value, ",")
			intValues := make([]int, len(stringValues))
			for i, v := range stringValues {
				intVal, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil {
					return err
				}
				intValues[i] = intVal
			}
			field.Set(reflect.ValueOf(intValues))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Import.DefaultConcurrency < 1 {
		return fmt.Errorf("invalid default concurrency: %d", config.Import.DefaultConcurrency)
	}

	if config.Import.SimilarityThreshold < 0 || config.Import.SimilarityThreshold > 100 {
		return fmt.Errorf("invalid similarity threshold: %d", config.Import.SimilarityThreshold)
	}

	if config.Import.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", config.Import.MaxRetries)
	}

	if config.Storage.WebPQuality < 1 || config.Storage.WebPQuality > 100 {
		return fmt.Errorf("invalid webp quality: %d", config.Storage.WebPQuality)
	}

	if config.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("invalid max file size: %d", config.Storage.MaxFileSize)
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	// Set derived database path if not explicitly set
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "modelbay.db")
	}

	// Set derived storage dir if not explicitly set
	if config.Storage.DataDir == "" {
		config.Storage.DataDir = filepath.Join(config.Database.DataDir, "storage")
	}

	// Set derived archive staging dir if not explicitly set
	if config.Import.StagingDir == "" {
		config.Import.StagingDir = filepath.Join(config.Database.DataDir, "staging")
	}

	// Cap default concurrency to something sane on small machines
	if config.Import.DefaultConcurrency > maxReasonableConcurrency() {
		config.Import.DefaultConcurrency = maxReasonableConcurrency()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func maxReasonableConcurrency() int {
	n := runtime.NumCPU() * 2
	if n < 4 {
		n = 4
	}
	if n > 32 {
		n = 32
	}
	return n
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// Reload re-reads configuration from the last loaded path
func Reload() error {
	return GetConfigManager().Reload()
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}
