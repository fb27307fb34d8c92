package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with STENCIL_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or STENCIL_DATA_DATABASE_SOURCE: MySQL connection string
//   - JWT_SECRET or STENCIL_AUTH_JWT_SECRET: JWT signing secret
//   - ENCRYPTION_KEY or STENCIL_AUTH_ENCRYPTION_KEY: Data encryption key
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with STENCIL_ prefix
	v.SetEnvPrefix("STENCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without STENCIL_ prefix) for
	// compatibility. Bind specific environment variables for required fields.
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "STENCIL_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "STENCIL_DATA_REDIS_ADDR")
	_ = v.BindEnv("auth.jwt.secret", "JWT_SECRET", "STENCIL_AUTH_JWT_SECRET")
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "STENCIL_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("app.env", "STENCIL_ENV", "STENCIL_APP_ENV")
	_ = v.BindEnv("vendors.razorpay.key", "RAZORPAY_KEY", "STENCIL_VENDORS_RAZORPAY_KEY")
	_ = v.BindEnv("vendors.razorpay.secret", "RAZORPAY_SECRET", "STENCIL_VENDORS_RAZORPAY_SECRET")
	_ = v.BindEnv("vendors.razorpay.webhook_secret", "RAZORPAY_WEBHOOK_SECRET", "STENCIL_VENDORS_RAZORPAY_WEBHOOK_SECRET")
	_ = v.BindEnv("vendors.weather.api_key", "WEATHER_API_KEY", "STENCIL_VENDORS_WEATHER_API_KEY")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		App: &App{
			Env:               v.GetString("app.env"),
			CorrelationHeader: v.GetString("app.correlation_header"),
		},
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			LogStore: &Data_LogStore{
				RequestTable:    v.GetString("data.log_store.request_table"),
				VendorCallTable: v.GetString("data.log_store.vendor_call_table"),
			},
			ConfigStore: &Data_ConfigStore{
				Dir: v.GetString("data.config_store.dir"),
			},
		},
		Auth: &Auth{
			Jwt: &Auth_JWT{
				Secret:  v.GetString("auth.jwt.secret"),
				Expires: durationpb.New(v.GetDuration("auth.jwt.expires")),
			},
			Encryption: &Auth_Encryption{
				Key: v.GetString("auth.encryption.key"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Vendors: &Vendors{
			Razorpay: &Vendors_Razorpay{
				Key:           v.GetString("vendors.razorpay.key"),
				Secret:        v.GetString("vendors.razorpay.secret"),
				WebhookSecret: v.GetString("vendors.razorpay.webhook_secret"),
				BaseUrl:       v.GetString("vendors.razorpay.base_url"),
				Timeout:       durationpb.New(v.GetDuration("vendors.razorpay.timeout")),
			},
			Weather: &Vendors_Weather{
				BaseUrl:          v.GetString("vendors.weather.base_url"),
				FallbackUrl:      v.GetString("vendors.weather.fallback_url"),
				ApiKey:           v.GetString("vendors.weather.api_key"),
				Timeout:          durationpb.New(v.GetDuration("vendors.weather.timeout")),
				BreakerThreshold: v.GetInt32("vendors.weather.breaker_threshold"),
				BreakerCooldown:  durationpb.New(v.GetDuration("vendors.weather.breaker_cooldown")),
			},
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.correlation_header", "X-Correlation-ID")

	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 1*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.log_store.request_table", "api_request_logs")
	v.SetDefault("data.log_store.vendor_call_table", "vendor_call_logs")
	v.SetDefault("data.config_store.dir", "configs/redis")

	// Auth defaults
	// Note: auth.jwt.secret and auth.encryption.key are required from environment
	v.SetDefault("auth.jwt.expires", 30*time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Vendor defaults
	v.SetDefault("vendors.razorpay.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("vendors.razorpay.timeout", 30*time.Second)
	v.SetDefault("vendors.weather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("vendors.weather.timeout", 10*time.Second)
	v.SetDefault("vendors.weather.breaker_threshold", 5)
	v.SetDefault("vendors.weather.breaker_cooldown", 30*time.Second)
}

// validEnvs are the supported deployment environments.
var validEnvs = map[string]bool{"dev": true, "uat": true, "preprod": true, "prod": true}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	// Check required auth configuration
	if bc.Auth == nil || bc.Auth.Jwt == nil || bc.Auth.Jwt.Secret == "" {
		missingFields = append(missingFields, "auth.jwt.secret (JWT_SECRET)")
	}

	if bc.Auth == nil || bc.Auth.Encryption == nil || bc.Auth.Encryption.Key == "" {
		missingFields = append(missingFields, "auth.encryption.key (ENCRYPTION_KEY)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if bc.App != nil && bc.App.Env != "" && !validEnvs[bc.App.Env] {
		return fmt.Errorf("invalid app.env %q: must be one of dev, uat, preprod, prod", bc.App.Env)
	}

	return nil
}
