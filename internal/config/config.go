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
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the donation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	RazorpayKeyID         string `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `mapstructure:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `mapstructure:"RAZORPAY_WEBHOOK_SECRET"`
	RazorpayBaseURL       string `mapstructure:"RAZORPAY_BASE_URL"`
	AdminJWTSecret        string `mapstructure:"ADMIN_JWT_SECRET"`
	CORSAllowedOrigins    string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// Pre-provisioned Razorpay plan ids for the monthly donation tiers.
	Plan500  string `mapstructure:"PLAN_500"`
	Plan1000 string `mapstructure:"PLAN_1000"`
	Plan2500 string `mapstructure:"PLAN_2500"`
	Plan5000 string `mapstructure:"PLAN_5000"`
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
	viper.SetDefault("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RAZORPAY_KEY_ID")
	_ = viper.BindEnv("RAZORPAY_KEY_SECRET")
	_ = viper.BindEnv("RAZORPAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("RAZORPAY_BASE_URL")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PLAN_500")
	_ = viper.BindEnv("PLAN_1000")
	_ = viper.BindEnv("PLAN_2500")
	_ = viper.BindEnv("PLAN_5000")

	// Attempt to read the .env file; missing file is fine when real env vars are set.
	if readErr := viper.ReadInConfig(); readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			return config, readErr
		}
	}

	err = viper.Unmarshal(&config)
	return config, err
}

// PlanIDs builds the amount-to-plan map the subscription flow keys on.
// Amounts without a configured plan id are omitted.
func (c *Config) PlanIDs() map[int64]string {
	plans := map[int64]string{}
	for amount, id := range map[int64]string{
		500:  c.Plan500,
		1000: c.Plan1000,
		2500: c.Plan2500,
		5000: c.Plan5000,
	} {
		if strings.TrimSpace(id) != "" {
			plans[amount] = strings.TrimSpace(id)
		}
	}
	return plans
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
