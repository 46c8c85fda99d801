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
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ScoreTier maps a minimum ego score to the trust points granted when a
// user's balance is initialized from that score.
type ScoreTier struct {
	MinScore float64
	Points   int64
}

// Config holds all the configuration variables for the trust-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string  `mapstructure:"SERVER_PORT"`
	DatabaseURL              string  `mapstructure:"DATABASE_URL"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string  `mapstructure:"RABBITMQ_URL"`
	CourseEventQueue         string  `mapstructure:"COURSE_EVENT_QUEUE"`
	TrustScoreAPIBaseURL     string  `mapstructure:"TRUST_SCORE_API_BASE_URL"`
	TrustScoreAPIKey         string  `mapstructure:"TRUST_SCORE_API_KEY"`
	DepositAPIBaseURL        string  `mapstructure:"DEPOSIT_API_BASE_URL"`
	DepositAPIKey            string  `mapstructure:"DEPOSIT_API_KEY"`
	WalletAPIBaseURL         string  `mapstructure:"WALLET_API_BASE_URL"`
	WalletAPIKey             string  `mapstructure:"WALLET_API_KEY"`
	AuthJWKSURL              string  `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey           string  `mapstructure:"INTERNAL_API_KEY"`
	DailyGrantPoints         int64   `mapstructure:"DAILY_GRANT_POINTS"`
	DailyGrantMinIntervalHrs int     `mapstructure:"DAILY_GRANT_MIN_INTERVAL_HOURS"`
	ReferralPointsAwarded    int64   `mapstructure:"REFERRAL_POINTS_AWARDED"`
	EligibilityMinBalance    int64   `mapstructure:"ELIGIBILITY_MIN_BALANCE"`
	EligibilityMinVouches    int     `mapstructure:"ELIGIBILITY_MIN_TRUSTWORTHY_VOUCHES"`
	InitGraceWindowHours     int     `mapstructure:"INIT_GRACE_WINDOW_HOURS"`
	TrustTierThresholds      string  `mapstructure:"TRUST_TIER_THRESHOLDS"`
	ScoreCacheTTLMinutes     int     `mapstructure:"SCORE_CACHE_TTL_MINUTES"`
	AutoCheckMinScore        float64 `mapstructure:"AUTO_CHECK_MIN_SCORE"`
	MinDepositAmount         int64   `mapstructure:"MIN_DEPOSIT_AMOUNT"`
	DepositFeeBuffer         int64   `mapstructure:"DEPOSIT_FEE_BUFFER"`
	BalancePollSchedule      string  `mapstructure:"BALANCE_POLL_SCHEDULE"`
	VouchRateLimitPerMinute  int     `mapstructure:"VOUCH_RATE_LIMIT_PER_MINUTE"`
	RedeemRateLimitPerMinute int     `mapstructure:"REDEEM_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("COURSE_EVENT_QUEUE", "trust_service.course_completions")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "lendcircle:rate_limit")
	viper.SetDefault("DAILY_GRANT_POINTS", 1)
	viper.SetDefault("DAILY_GRANT_MIN_INTERVAL_HOURS", 24)
	viper.SetDefault("REFERRAL_POINTS_AWARDED", 1)
	viper.SetDefault("ELIGIBILITY_MIN_BALANCE", 5)
	viper.SetDefault("ELIGIBILITY_MIN_TRUSTWORTHY_VOUCHES", 1)
	viper.SetDefault("INIT_GRACE_WINDOW_HOURS", 24)
	viper.SetDefault("TRUST_TIER_THRESHOLDS", "0.5:5,0.8:10")
	viper.SetDefault("SCORE_CACHE_TTL_MINUTES", 10)
	viper.SetDefault("AUTO_CHECK_MIN_SCORE", 0.5)
	viper.SetDefault("MIN_DEPOSIT_AMOUNT", 10000000) // 10 USDC in base units
	viper.SetDefault("DEPOSIT_FEE_BUFFER", 1000000)  // 1 USDC in base units
	viper.SetDefault("BALANCE_POLL_SCHEDULE", "@every 1m")
	viper.SetDefault("VOUCH_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("REDEEM_RATE_LIMIT_PER_MINUTE", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRUST_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("COURSE_EVENT_QUEUE")
	_ = viper.BindEnv("TRUST_SCORE_API_BASE_URL")
	_ = viper.BindEnv("TRUST_SCORE_API_KEY")
	_ = viper.BindEnv("DEPOSIT_API_BASE_URL")
	_ = viper.BindEnv("DEPOSIT_API_KEY")
	_ = viper.BindEnv("WALLET_API_BASE_URL")
	_ = viper.BindEnv("WALLET_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TRUST_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DAILY_GRANT_POINTS")
	_ = viper.BindEnv("DAILY_GRANT_MIN_INTERVAL_HOURS")
	_ = viper.BindEnv("REFERRAL_POINTS_AWARDED")
	_ = viper.BindEnv("ELIGIBILITY_MIN_BALANCE")
	_ = viper.BindEnv("ELIGIBILITY_MIN_TRUSTWORTHY_VOUCHES")
	_ = viper.BindEnv("INIT_GRACE_WINDOW_HOURS")
	_ = viper.BindEnv("TRUST_TIER_THRESHOLDS")
	_ = viper.BindEnv("SCORE_CACHE_TTL_MINUTES")
	_ = viper.BindEnv("AUTO_CHECK_MIN_SCORE")
	_ = viper.BindEnv("MIN_DEPOSIT_AMOUNT")
	_ = viper.BindEnv("DEPOSIT_FEE_BUFFER")
	_ = viper.BindEnv("BALANCE_POLL_SCHEDULE")
	_ = viper.BindEnv("VOUCH_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REDEEM_RATE_LIMIT_PER_MINUTE")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("TRUST_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "lendcircle:rate_limit"
	}

	if config.DailyGrantPoints <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive daily grant configured; coercing to one\" points=%d", config.DailyGrantPoints)
		config.DailyGrantPoints = 1
	}
	if config.DailyGrantMinIntervalHrs <= 0 {
		config.DailyGrantMinIntervalHrs = 24
	}
	if config.ReferralPointsAwarded <= 0 {
		config.ReferralPointsAwarded = 1
	}
	if config.EligibilityMinVouches <= 0 {
		config.EligibilityMinVouches = 1
	}
	if config.InitGraceWindowHours < 0 {
		config.InitGraceWindowHours = 0
	}
	if config.ScoreCacheTTLMinutes <= 0 {
		config.ScoreCacheTTLMinutes = 10
	}
	if config.MinDepositAmount <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive deposit threshold configured; using default\" amount=%d", config.MinDepositAmount)
		config.MinDepositAmount = 10000000
	}
	if config.DepositFeeBuffer < 0 {
		config.DepositFeeBuffer = 0
	}
	if config.VouchRateLimitPerMinute <= 0 {
		config.VouchRateLimitPerMinute = 10
	}
	if config.RedeemRateLimitPerMinute <= 0 {
		config.RedeemRateLimitPerMinute = 5
	}

	return
}

// ParseScoreTiers parses a "score:points,score:points" threshold list into
// tiers sorted by ascending score. Returns an error on any malformed entry
// rather than silently dropping it.
func ParseScoreTiers(spec string) ([]ScoreTier, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var tiers []ScoreTier
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed tier entry %q; want score:points", entry)
		}
		minScore, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed tier score in %q: %w", entry, err)
		}
		points, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed tier points in %q: %w", entry, err)
		}
		if minScore < 0 || minScore > 1 {
			return nil, fmt.Errorf("tier score %f out of range [0,1]", minScore)
		}
		if points < 0 {
			return nil, fmt.Errorf("tier points %d must not be negative", points)
		}
		tiers = append(tiers, ScoreTier{MinScore: minScore, Points: points})
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinScore < tiers[j].MinScore })
	return tiers, nil
}
