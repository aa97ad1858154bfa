package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is empty")
	ErrInvalidGeocodeRate = errors.New("GEOCODER_RATE must be positive")
)

// Config holds settings for the server and the reformctl commands.
type Config struct {
	DatabaseURL string
	Port        string

	// Enrichment run metadata
	EnrichmentVersion string
	AIProvider        string
	AIModel           string

	LogLevel  string
	LogFormat string

	// AdminKeyHash is a bcrypt hash of the X-Admin-Key header value. Admin
	// routes are disabled when it is empty.
	AdminKeyHash string

	GeocoderRate      float64
	GeocoderUserAgent string

	SlowQuery time.Duration

	ConfigFile string
}

// Load reads configuration in order of precedence:
//  1. Environment variables
//  2. .env.local, then .env
//  3. Config file (--config, or reformctl.yaml in the working directory)
//  4. Defaults
func Load(configFile string) (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("reformctl")
		v.SetConfigType("yaml")
		_ = v.ReadInConfig()
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "5050")
	v.SetDefault("ENRICHMENT_VERSION", "v1")
	v.SetDefault("AI_PROVIDER", "anthropic")
	v.SetDefault("AI_MODEL", "claude-sonnet-4-5")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "auto")
	v.SetDefault("GEOCODER_RATE", 1.0)
	v.SetDefault("GEOCODER_USER_AGENT", "EV-Reforms/1.0 (reforms@empowered.vote)")
	v.SetDefault("DB_SLOW_QUERY_MS", 100)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DatabaseURL:       strings.TrimSpace(v.GetString("DATABASE_URL")),
		Port:              v.GetString("PORT"),
		EnrichmentVersion: v.GetString("ENRICHMENT_VERSION"),
		AIProvider:        v.GetString("AI_PROVIDER"),
		AIModel:           v.GetString("AI_MODEL"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
		AdminKeyHash:      v.GetString("ADMIN_KEY_HASH"),
		GeocoderRate:      v.GetFloat64("GEOCODER_RATE"),
		GeocoderUserAgent: v.GetString("GEOCODER_USER_AGENT"),
		SlowQuery:         time.Duration(v.GetInt("DB_SLOW_QUERY_MS")) * time.Millisecond,
		ConfigFile:        v.ConfigFileUsed(),
	}
}

// Validate checks the settings every database-backed command needs.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.GeocoderRate <= 0 {
		return ErrInvalidGeocodeRate
	}
	return nil
}
