// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration for the service.
type Bootstrap struct {
	App     *App
	Server  *Server
	Data    *Data
	Auth    *Auth
	Log     *Log
	Vendors *Vendors
}

// App holds application-wide settings.
type App struct {
	// Env is the deployment environment: dev, uat, preprod or prod.
	Env string
	// CorrelationHeader is the inbound/outbound correlation header name.
	CorrelationHeader string
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database    *Data_Database
	Redis       *Data_Redis
	LogStore    *Data_LogStore
	ConfigStore *Data_ConfigStore
}

// Data_Database holds relational database configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Data_LogStore holds the request/vendor-call log table names.
// The two tables are independently configurable.
type Data_LogStore struct {
	RequestTable    string
	VendorCallTable string
}

// Data_ConfigStore holds the file-backed configuration store settings.
type Data_ConfigStore struct {
	// Dir is the directory containing per-environment JSON config files,
	// one file per environment: {env}.json.
	Dir string
}

// Auth holds authentication configuration.
type Auth struct {
	Jwt        *Auth_JWT
	Encryption *Auth_Encryption
}

// Auth_JWT holds JWT signing configuration.
type Auth_JWT struct {
	Secret  string
	Expires *durationpb.Duration
}

// Auth_Encryption holds the at-rest encryption key (AES-256, 32 bytes).
type Auth_Encryption struct {
	Key string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Vendors holds third-party upstream configuration.
type Vendors struct {
	Razorpay *Vendors_Razorpay
	Weather  *Vendors_Weather
}

// Vendors_Razorpay holds payment gateway credentials and endpoints.
type Vendors_Razorpay struct {
	Key           string
	Secret        string
	WebhookSecret string
	BaseUrl       string
	Timeout       *durationpb.Duration
}

// Vendors_Weather holds the demo weather upstream configuration.
type Vendors_Weather struct {
	BaseUrl          string
	FallbackUrl      string
	ApiKey           string
	Timeout          *durationpb.Duration
	BreakerThreshold int32
	BreakerCooldown  *durationpb.Duration
}
