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
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the collab-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	GatewayEventQueue    string `mapstructure:"GATEWAY_EVENT_QUEUE"`

	PaystackBaseURL       string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey     string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackWebhookSecret string `mapstructure:"PAYSTACK_WEBHOOK_SECRET"`
	InternalAPIKey        string `mapstructure:"INTERNAL_API_KEY"`

	PlatformFeeBPS        int32 `mapstructure:"PLATFORM_FEE_BPS"`
	MinimumPayoutKobo     int64 `mapstructure:"MINIMUM_PAYOUT_KOBO"`
	RequestExpiryHours    int   `mapstructure:"REQUEST_EXPIRY_HOURS"`
	EscrowAutoReleaseDays int   `mapstructure:"ESCROW_AUTO_RELEASE_DAYS"`
	MaxNegotiationRounds  int   `mapstructure:"MAX_NEGOTIATION_ROUNDS"`
	MaxRevisions          int   `mapstructure:"MAX_REVISIONS"`

	DeclineSuspensionThreshold int `mapstructure:"DECLINE_SUSPENSION_THRESHOLD"`
	DeclineSuspensionDays      int `mapstructure:"DECLINE_SUSPENSION_DAYS"`
	MinDeclineReasonLength     int `mapstructure:"MIN_DECLINE_REASON_LENGTH"`

	RequestExpirySchedule     string `mapstructure:"REQUEST_EXPIRY_SCHEDULE"`
	EscrowAutoReleaseSchedule string `mapstructure:"ESCROW_AUTO_RELEASE_SCHEDULE"`
	AutoReleaseBatchSize      int    `mapstructure:"AUTO_RELEASE_BATCH_SIZE"`
	PayoutRateLimitPerMinute  int    `mapstructure:"PAYOUT_RATE_LIMIT_PER_MINUTE"`
	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("GATEWAY_EVENT_QUEUE", "collab_service.gateway_events")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "collab:rate_limit")
	viper.SetDefault("PLATFORM_FEE_BPS", 1000) // 10%
	viper.SetDefault("MINIMUM_PAYOUT_KOBO", 5000)
	viper.SetDefault("REQUEST_EXPIRY_HOURS", 24)
	viper.SetDefault("ESCROW_AUTO_RELEASE_DAYS", 7)
	viper.SetDefault("MAX_NEGOTIATION_ROUNDS", 3)
	viper.SetDefault("MAX_REVISIONS", 2)
	viper.SetDefault("DECLINE_SUSPENSION_THRESHOLD", 2)
	viper.SetDefault("DECLINE_SUSPENSION_DAYS", 3)
	viper.SetDefault("MIN_DECLINE_REASON_LENGTH", 10)
	viper.SetDefault("REQUEST_EXPIRY_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("ESCROW_AUTO_RELEASE_SCHEDULE", "0 * * * *")
	viper.SetDefault("AUTO_RELEASE_BATCH_SIZE", 100)
	viper.SetDefault("PAYOUT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 300)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "COLLAB_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_EVENT_QUEUE")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_WEBHOOK_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "COLLAB_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PLATFORM_FEE_BPS")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("MINIMUM_PAYOUT_KOBO")
	_ = viper.BindEnv("MINIMUM_PAYOUT_NAIRA")
	_ = viper.BindEnv("REQUEST_EXPIRY_HOURS")
	_ = viper.BindEnv("ESCROW_AUTO_RELEASE_DAYS")
	_ = viper.BindEnv("MAX_NEGOTIATION_ROUNDS")
	_ = viper.BindEnv("MAX_REVISIONS")
	_ = viper.BindEnv("DECLINE_SUSPENSION_THRESHOLD")
	_ = viper.BindEnv("DECLINE_SUSPENSION_DAYS")
	_ = viper.BindEnv("MIN_DECLINE_REASON_LENGTH")
	_ = viper.BindEnv("REQUEST_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("ESCROW_AUTO_RELEASE_SCHEDULE")
	_ = viper.BindEnv("AUTO_RELEASE_BATCH_SIZE")
	_ = viper.BindEnv("PAYOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("COLLAB_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "collab:rate_limit"
	}

	// Allow specifying the platform fee as a percentage via PLATFORM_FEE_PERCENT.
	if viper.IsSet("PLATFORM_FEE_PERCENT") {
		percentStr := strings.TrimSpace(viper.GetString("PLATFORM_FEE_PERCENT"))
		if percentStr != "" {
			percentValue, parseErr := strconv.ParseFloat(percentStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid PLATFORM_FEE_PERCENT\" value=%q err=%v", percentStr, parseErr)
			} else {
				config.PlatformFeeBPS = int32(math.Round(percentValue * 100))
			}
		}
	}

	if config.PlatformFeeBPS < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee configured; coercing to zero\" fee_bps=%d", config.PlatformFeeBPS)
		config.PlatformFeeBPS = 0
	}
	if config.PlatformFeeBPS > 10000 {
		log.Printf("level=warn component=config msg=\"platform fee above 100%%; capping\" fee_bps=%d", config.PlatformFeeBPS)
		config.PlatformFeeBPS = 10000
	}

	// Allow specifying the payout floor in whole currency units via MINIMUM_PAYOUT_NAIRA.
	if viper.IsSet("MINIMUM_PAYOUT_NAIRA") {
		amountStr := strings.TrimSpace(viper.GetString("MINIMUM_PAYOUT_NAIRA"))
		if amountStr != "" {
			amountValue, parseErr := strconv.ParseFloat(amountStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MINIMUM_PAYOUT_NAIRA\" value=%q err=%v", amountStr, parseErr)
			} else {
				config.MinimumPayoutKobo = int64(math.Round(amountValue * 100))
			}
		}
	}
	if config.MinimumPayoutKobo < 0 {
		log.Printf("level=warn component=config msg=\"negative minimum payout configured; coercing to zero\" minimum_kobo=%d", config.MinimumPayoutKobo)
		config.MinimumPayoutKobo = 0
	}

	if config.RequestExpiryHours <= 0 {
		config.RequestExpiryHours = 24
	}
	if config.EscrowAutoReleaseDays <= 0 {
		config.EscrowAutoReleaseDays = 7
	}
	if config.MaxNegotiationRounds <= 0 {
		config.MaxNegotiationRounds = 3
	}
	if config.MaxRevisions <= 0 {
		config.MaxRevisions = 2
	}
	if config.DeclineSuspensionThreshold <= 0 {
		config.DeclineSuspensionThreshold = 2
	}
	if config.DeclineSuspensionDays <= 0 {
		config.DeclineSuspensionDays = 3
	}
	if config.MinDeclineReasonLength <= 0 {
		config.MinDeclineReasonLength = 10
	}
	if config.AutoReleaseBatchSize <= 0 {
		config.AutoReleaseBatchSize = 100
	}
	if config.PayoutRateLimitPerMinute <= 0 {
		config.PayoutRateLimitPerMinute = 10
	}
	if config.WebhookRateLimitPerMinute <= 0 {
		config.WebhookRateLimitPerMinute = 300
	}

	return
}
