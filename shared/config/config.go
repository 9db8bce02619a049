package config

import (
	"log"
	"sync"

	"github.com/spf13/viper"
)

// BotConfig defines a single bot identity served by the gateway.
type BotConfig struct {
	Name    string `mapstructure:"name"`
	Token   string `mapstructure:"token"`
	Enabled bool   `mapstructure:"enabled"`
}

// Config defines the global configuration structure
type Config struct {
	App struct {
		Port        string `mapstructure:"port"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"app"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Database struct {
		URI string `mapstructure:"uri"`
	} `mapstructure:"database"`

	Events struct {
		// "redis" or "websocket"
		Source string `mapstructure:"source"`
	} `mapstructure:"events"`

	Bots []BotConfig `mapstructure:"bots"`
}

var (
	globalConfig *Config
	configLock   sync.RWMutex
)

// LoadConfig loads configuration from the specified file path and merges it with environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	viper.SetEnvPrefix("APP")
	viper.BindEnv("app.port", "PORT")
	viper.BindEnv("app.environment", "ENVIRONMENT")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("database.uri", "DATABASE_URL")
	viper.BindEnv("events.source", "EVENT_SOURCE")

	var cfg Config

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Printf("Error unmarshalling configuration: %v", err)
		return nil, err
	}

	if cfg.Events.Source == "" {
		cfg.Events.Source = "redis"
	}

	log.Printf("Loaded configuration from file: %s", path)
	return &cfg, nil
}

// SetGlobalConfig sets the loaded configuration globally
func SetGlobalConfig(cfg *Config) {
	configLock.Lock()
	defer configLock.Unlock()
	globalConfig = cfg
}

// GetGlobalConfig retrieves the globally set configuration
func GetGlobalConfig() *Config {
	configLock.RLock()
	defer configLock.RUnlock()
	return globalConfig
}

// EnabledBots returns the bot identities that should be instantiated at startup.
func (c *Config) EnabledBots() []BotConfig {
	var bots []BotConfig
	for _, b := range c.Bots {
		if b.Enabled {
			bots = append(bots, b)
		}
	}
	return bots
}
