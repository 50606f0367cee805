// Package config loads service configuration from a YAML file and
// environment variables. Environment variables take the TITANX_ prefix
// with dots replaced by underscores, e.g. TITANX_SERVER_PORT.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// RedisConfig holds the remote cache tier configuration
type RedisConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	TTL              time.Duration `mapstructure:"ttl"`
	DisabledPrefixes []string      `mapstructure:"disabled_prefixes"`
}

// EthereumConfig holds RPC and batching configuration
type EthereumConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	MulticallAddress    string        `mapstructure:"multicall_address"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchConcurrency    int           `mapstructure:"batch_concurrency"`
	BatchSlotDelay      time.Duration `mapstructure:"batch_slot_delay"`
	LogRangeSize        uint64        `mapstructure:"log_range_size"`
	MinLogRangeSize     uint64        `mapstructure:"min_log_range_size"`
	LogRangeConcurrency int           `mapstructure:"log_range_concurrency"`
}

// IndexerConfig holds the NFT indexing service configuration
type IndexerConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// CacheConfig holds the filesystem cache tier configuration
type CacheConfig struct {
	Dir        string        `mapstructure:"dir"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	BaseConfig   `mapstructure:",squash"`
	Server       ServerConfig   `mapstructure:"server"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Ethereum     EthereumConfig `mapstructure:"ethereum"`
	Indexer      IndexerConfig  `mapstructure:"indexer"`
	Cache        CacheConfig    `mapstructure:"cache"`
	RegistryPath string         `mapstructure:"registry_path"`
}

// LoadAPIConfig loads configuration for the API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("ethereum.multicall_address", "0xcA11bde05977b3631167028862bE2a173976CA11")
	v.SetDefault("ethereum.batch_size", 100)
	v.SetDefault("ethereum.batch_concurrency", 4)
	v.SetDefault("ethereum.batch_slot_delay", "100ms")
	v.SetDefault("ethereum.log_range_size", 50000)
	v.SetDefault("ethereum.min_log_range_size", 500)
	v.SetDefault("ethereum.log_range_concurrency", 4)
	v.SetDefault("indexer.timeout", "30s")
	v.SetDefault("indexer.retries", 3)
	v.SetDefault("indexer.retry_delay", "1s")
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.stale_after", "10m")
	v.SetDefault("registry_path", "config/contracts.json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if config.Ethereum.RPCURL == "" {
		return nil, errors.New("ethereum.rpc_url is required")
	}
	if config.Indexer.BaseURL == "" {
		return nil, errors.New("indexer.base_url is required")
	}
	if config.Indexer.APIKey == "" {
		return nil, errors.New("indexer.api_key is required")
	}

	return &config, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("TITANX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.ttl",
		"redis.disabled_prefixes",
		// Ethereum
		"ethereum.rpc_url",
		"ethereum.multicall_address",
		"ethereum.batch_size",
		"ethereum.batch_concurrency",
		"ethereum.batch_slot_delay",
		"ethereum.log_range_size",
		"ethereum.min_log_range_size",
		"ethereum.log_range_concurrency",
		// Indexer
		"indexer.base_url",
		"indexer.api_key",
		"indexer.timeout",
		"indexer.retries",
		"indexer.retry_delay",
		// Cache
		"cache.dir",
		"cache.stale_after",
		// Registry
		"registry_path",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}
