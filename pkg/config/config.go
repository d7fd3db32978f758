package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const Version = "0.3.0"

// Config holds application configuration
type Config struct {
	// Server configuration
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Storage configuration
	StorageType string `yaml:"storage_type"` // "jsonfile" or "sqlite"
	BaseDir     string `yaml:"base_dir"`
	DBPath      string `yaml:"db_path"` // SQLite database path

	// Cache configuration
	CacheType string `yaml:"cache_type"` // "memory", "redis" or "none"
	CacheTTL  int    `yaml:"cache_ttl"`  // seconds
	CacheSize int    `yaml:"cache_size"`
	RedisHost string `yaml:"redis_host"`
	RedisPort int    `yaml:"redis_port"`

	// Relation engine
	RelationLocking bool `yaml:"relation_locking"`

	// Request limits
	MaxEntitySize  int `yaml:"max_entity_size"` // bytes
	RequestTimeout int `yaml:"request_timeout"` // seconds

	// Logging
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// Debug
	Debug bool `yaml:"debug"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8000,
		CORSOrigins:     []string{"*"},
		StorageType:     "sqlite",
		BaseDir:         "data",
		DBPath:          "quill.db",
		CacheType:       "memory",
		CacheTTL:        300,
		CacheSize:       1024,
		RedisHost:       "localhost",
		RedisPort:       6379,
		RelationLocking: true,
		MaxEntitySize:   1048576, // 1MB
		RequestTimeout:  60,
		LogLevel:        "info",
		LogMaxSizeMB:    50,
		LogMaxBackups:   3,
		LogMaxAgeDays:   28,
		Debug:           false,
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Load builds the effective configuration: defaults, then the YAML file
// named by path or CONFIG_FILE, then environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	return cfg, cfg.Validate()
}

// Validate checks option values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.StorageType {
	case "jsonfile", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}
	switch c.CacheType {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported cache type: %s", c.CacheType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// Save writes cfg as YAML to path
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if val := os.Getenv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv("CORS_ORIGINS"); val != "" {
		cfg.CORSOrigins = splitList(val)
	}
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		cfg.StorageType = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.DBPath = val
	}
	if val := os.Getenv("BASE_DIR"); val != "" {
		cfg.BaseDir = val
	}
	if val := os.Getenv("CACHE_TYPE"); val != "" {
		cfg.CacheType = val
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if val := os.Getenv("CACHE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.CacheSize = size
		}
	}
	if val := os.Getenv("REDIS_HOST"); val != "" {
		cfg.RedisHost = val
	}
	if val := os.Getenv("REDIS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.RedisPort = port
		}
	}
	if val := os.Getenv("RELATION_LOCKING"); val != "" {
		cfg.RelationLocking = parseBool(val)
	}
	if val := os.Getenv("MAX_ENTITY_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.MaxEntitySize = size
		}
	}
	if val := os.Getenv("REQUEST_TIMEOUT"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			cfg.RequestTimeout = secs
		}
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("LOG_FILE"); val != "" {
		cfg.LogFile = val
	}
	if val := os.Getenv("LOG_MAX_SIZE_MB"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.LogMaxSizeMB = size
		}
	}
	if val := os.Getenv("LOG_MAX_BACKUPS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.LogMaxBackups = n
		}
	}
	if val := os.Getenv("DEBUG"); val != "" {
		cfg.Debug = parseBool(val)
	}
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
