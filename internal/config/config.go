/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	PaystackBaseURL    string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey  string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackWebhookKey string `mapstructure:"PAYSTACK_WEBHOOK_KEY"`
	DepositCallbackURL string `mapstructure:"DEPOSIT_CALLBACK_URL"`

	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	LimitCheckFailureMode string `mapstructure:"LIMIT_CHECK_FAILURE_MODE"`

	WithdrawalRateLimitPerHour     int `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_HOUR"`
	DepositRateLimitPerQuarterHour int `mapstructure:"DEPOSIT_RATE_LIMIT_PER_QUARTER_HOUR"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "terravault:rate_limit")
	viper.SetDefault("LIMIT_CHECK_FAILURE_MODE", "open")
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT_PER_HOUR", 3)
	viper.SetDefault("DEPOSIT_RATE_LIMIT_PER_QUARTER_HOUR", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_WEBHOOK_KEY")
	_ = viper.BindEnv("DEPOSIT_CALLBACK_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WALLET_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("LIMIT_CHECK_FAILURE_MODE")
	_ = viper.BindEnv("WITHDRAWAL_RATE_LIMIT_PER_HOUR")
	_ = viper.BindEnv("DEPOSIT_RATE_LIMIT_PER_QUARTER_HOUR")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("WALLET_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "terravault:rate_limit"
	}

	// The webhook key defaults to the secret key: Paystack signs deliveries
	// with the account's secret key unless a dedicated one is configured.
	if strings.TrimSpace(config.PaystackWebhookKey) == "" {
		config.PaystackWebhookKey = config.PaystackSecretKey
	}

	mode := strings.ToLower(strings.TrimSpace(config.LimitCheckFailureMode))
	if mode != "closed" {
		if mode != "open" && mode != "" {
			log.Printf("level=warn component=config msg=\"unknown LIMIT_CHECK_FAILURE_MODE; using open\" value=%q", config.LimitCheckFailureMode)
		}
		mode = "open"
	}
	config.LimitCheckFailureMode = mode

	if config.WithdrawalRateLimitPerHour <= 0 {
		config.WithdrawalRateLimitPerHour = 3
	}
	if config.DepositRateLimitPerQuarterHour <= 0 {
		config.DepositRateLimitPerQuarterHour = 5
	}

	return
}
