package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MEDLEDGER_STORAGE_DRIVER
const EnvPrefix = "MEDLEDGER"

// Storage drivers
const (
	DriverMemory  = "memory"
	DriverLevelDB = "leveldb"
)

// Config holds all configuration for the ledger host
type Config struct {
	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Persistence configuration
	Storage StorageConfig `mapstructure:"storage"`

	// First administrator seeded into an empty ledger
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`

	// Monitoring configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StorageConfig selects the state backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// BootstrapConfig identifies the initial administrator
type BootstrapConfig struct {
	AdminAddress   string `mapstructure:"admin_address"`
	PublicKey      string `mapstructure:"public_key"`
	ProfessionalID string `mapstructure:"professional_id"`
}

// MetricsConfig holds prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration from an optional .env file, the config file at
// path (or config.yaml in the usual locations when path is empty) and
// MEDLEDGER_ prefixed environment variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/medledger")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.path", "./data/medledger")

	v.SetDefault("bootstrap.admin_address", "0xADMIN123")
	v.SetDefault("bootstrap.public_key", "admin_public_key")
	v.SetDefault("bootstrap.professional_id", "ADMIN_001")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "medledger")
}

// validate validates the configuration
func validate(config *Config) error {
	config.Storage.Driver = strings.ToLower(strings.TrimSpace(config.Storage.Driver))
	switch config.Storage.Driver {
	case DriverMemory:
	case DriverLevelDB:
		if config.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the leveldb driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", config.Storage.Driver)
	}

	if strings.TrimSpace(config.Bootstrap.AdminAddress) == "" {
		return fmt.Errorf("bootstrap admin address is required")
	}

	if config.Metrics.Enabled && config.Metrics.Namespace == "" {
		return fmt.Errorf("metrics namespace is required when metrics are enabled")
	}

	return nil
}
