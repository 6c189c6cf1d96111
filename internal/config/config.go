/**
 * @description
 * This package handles the configuration management for the payment-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Profile store backends.
const (
	ProfileStorePostgres = "postgres"
	ProfileStoreNeo4j    = "neo4j"
	ProfileStoreHTTP     = "http"
	ProfileStoreNone     = "none"
)

const (
	defaultServerPort             = "8080"
	defaultRateLimitPrefix        = "securepay:rate_limit"
	defaultEventsExchange         = "payment_events"
	defaultDirectoryWarnThreshold = 80
	defaultRemoteWarnThreshold    = 50
	defaultEvaluateRateLimit      = 30
	defaultMaxPaymentAmount       = 100000
	defaultSettlementDelayMs      = 1000
	defaultSpeechLanguage         = "en-IN"
	defaultSessionIdleMinutes     = 30
	defaultSessionSweepSchedule   = "@every 5m"
)

// Config holds all the configuration variables for the payment-service.
// Numeric settings are parsed after Unmarshal so bad values fall back to defaults.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	Neo4jURI             string `mapstructure:"NEO4J_URI"`
	Neo4jUsername        string `mapstructure:"NEO4J_USERNAME"`
	Neo4jPassword        string `mapstructure:"NEO4J_PASSWORD"`
	Neo4jDatabase        string `mapstructure:"NEO4J_DATABASE"`
	ProfileStore         string `mapstructure:"PROFILE_STORE"`
	ProfileServiceURL    string `mapstructure:"PROFILE_SERVICE_URL"`
	ProfileServiceAPIKey string `mapstructure:"PROFILE_SERVICE_API_KEY"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	ClerkJWKSURL         string `mapstructure:"CLERK_JWKS_URL"`
	DirectoryFile        string `mapstructure:"DIRECTORY_FILE"`
	DirectoryCountryCode string `mapstructure:"DIRECTORY_COUNTRY_CODE"`
	SpeechServiceURL     string `mapstructure:"SPEECH_SERVICE_URL"`
	SpeechServiceAPIKey  string `mapstructure:"SPEECH_SERVICE_API_KEY"`
	SpeechLanguage       string `mapstructure:"SPEECH_LANGUAGE"`
	SessionSweepSchedule string `mapstructure:"SESSION_SWEEP_SCHEDULE"`

	DirectoryWarnThreshold     int     `mapstructure:"-"`
	RemoteWarnThreshold        int     `mapstructure:"-"`
	EvaluateRateLimitPerMinute int     `mapstructure:"-"`
	LargeTransferAmount        float64 `mapstructure:"-"`
	MaxPaymentAmount           float64 `mapstructure:"-"`
	SettlementDelayMs          int     `mapstructure:"-"`
	SessionIdleTimeoutMinutes  int     `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("PROFILE_STORE", ProfileStoreNone)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("NEO4J_DATABASE", "neo4j")
	viper.SetDefault("SPEECH_LANGUAGE", defaultSpeechLanguage)
	viper.SetDefault("SESSION_SWEEP_SCHEDULE", defaultSessionSweepSchedule)

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL",
		"NEO4J_URI", "NEO4J_USERNAME", "NEO4J_PASSWORD", "NEO4J_DATABASE",
		"PROFILE_STORE", "PROFILE_SERVICE_URL",
		"REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "RABBITMQ_URL", "EVENTS_EXCHANGE",
		"CLERK_JWKS_URL", "DIRECTORY_FILE", "DIRECTORY_COUNTRY_CODE",
		"SPEECH_SERVICE_URL", "SPEECH_SERVICE_API_KEY", "SPEECH_LANGUAGE",
		"SESSION_SWEEP_SCHEDULE",
		"DIRECTORY_WARN_THRESHOLD", "REMOTE_WARN_THRESHOLD", "EVALUATE_RATE_LIMIT_PER_MINUTE",
		"LARGE_TRANSFER_AMOUNT", "MAX_PAYMENT_AMOUNT", "SETTLEMENT_DELAY_MS",
		"SESSION_IDLE_TIMEOUT_MINUTES",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PROFILE_SERVICE_API_KEY", "PROFILE_SERVICE_API_KEY", "INTERNAL_API_KEY")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.ProfileStore = strings.ToLower(strings.TrimSpace(config.ProfileStore))
	switch config.ProfileStore {
	case ProfileStorePostgres, ProfileStoreNeo4j, ProfileStoreHTTP, ProfileStoreNone:
	default:
		log.Printf("level=warn component=config msg=\"unknown PROFILE_STORE; remote lookups disabled\" value=%q", config.ProfileStore)
		config.ProfileStore = ProfileStoreNone
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.DirectoryCountryCode = strings.TrimPrefix(strings.TrimSpace(config.DirectoryCountryCode), "+")
	config.SpeechLanguage = strings.TrimSpace(config.SpeechLanguage)

	config.DirectoryWarnThreshold = scoreSetting("DIRECTORY_WARN_THRESHOLD", defaultDirectoryWarnThreshold)
	config.RemoteWarnThreshold = scoreSetting("REMOTE_WARN_THRESHOLD", defaultRemoteWarnThreshold)
	config.EvaluateRateLimitPerMinute = intSetting("EVALUATE_RATE_LIMIT_PER_MINUTE", defaultEvaluateRateLimit, 0)
	config.SettlementDelayMs = intSetting("SETTLEMENT_DELAY_MS", defaultSettlementDelayMs, 0)
	config.SessionIdleTimeoutMinutes = intSetting("SESSION_IDLE_TIMEOUT_MINUTES", defaultSessionIdleMinutes, 1)
	config.LargeTransferAmount = amountSetting("LARGE_TRANSFER_AMOUNT", 0)
	config.MaxPaymentAmount = amountSetting("MAX_PAYMENT_AMOUNT", defaultMaxPaymentAmount)

	return
}

// intSetting parses key as an integer no smaller than floor, falling back to def.
func intSetting(key string, def, floor int) int {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid integer setting; using default\" key=%s value=%q default=%d", key, raw, def)
		return def
	}
	if value < floor {
		log.Printf("level=warn component=config msg=\"setting below minimum; using default\" key=%s value=%d default=%d", key, value, def)
		return def
	}
	return value
}

func scoreSetting(key string, def int) int {
	value := intSetting(key, def, 0)
	if value > 100 {
		log.Printf("level=warn component=config msg=\"trust threshold above 100; using default\" key=%s value=%d default=%d", key, value, def)
		return def
	}
	return value
}

// amountSetting parses key as a non-negative finite amount; zero disables the feature.
func amountSetting(key string, def float64) float64 {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return def
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		log.Printf("level=warn component=config msg=\"invalid amount setting; using default\" key=%s value=%q default=%.2f", key, raw, def)
		return def
	}
	return value
}
