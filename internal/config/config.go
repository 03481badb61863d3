// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package config defines accountd's configuration and loads it from
// defaults, a YAML file, command-line flags and the environment, in that
// order of increasing precedence.
package config

import (
	"time"

	"github.com/samber/oops"

	"github.com/vidloom/accounts/internal/notify"
	"github.com/vidloom/accounts/internal/store"
	"github.com/vidloom/accounts/internal/token"
)

// EnvPrefix prefixes every environment variable accountd reads.
const EnvPrefix = "ACCOUNTD_"

// Mail drivers.
const (
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

// Config is the complete accountd configuration.
type Config struct {
	Log       LogConfig       `koanf:"log" json:"log,omitempty" envPrefix:"LOG_"`
	HTTP      HTTPConfig      `koanf:"http" json:"http,omitempty" envPrefix:"HTTP_"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics,omitempty" envPrefix:"METRICS_"`
	Store     StoreConfig     `koanf:"store" json:"store,omitempty" envPrefix:"STORE_"`
	Token     TokenConfig     `koanf:"token" json:"token,omitempty" envPrefix:"TOKEN_"`
	Mail      MailConfig      `koanf:"mail" json:"mail,omitempty" envPrefix:"MAIL_"`
	RateLimit RateLimitConfig `koanf:"ratelimit" json:"ratelimit,omitempty" envPrefix:"RATELIMIT_"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `koanf:"level" json:"level,omitempty" env:"LEVEL" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format,omitempty" env:"FORMAT" jsonschema:"enum=json,enum=text"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" json:"addr,omitempty" env:"ADDR"`
	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout,omitempty" env:"READ_TIMEOUT" jsonschema:"type=string"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout,omitempty" env:"WRITE_TIMEOUT" jsonschema:"type=string"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty" env:"SHUTDOWN_TIMEOUT" jsonschema:"type=string"`
	// TrustedProxies lists proxy CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `koanf:"trusted_proxies" json:"trusted_proxies,omitempty" env:"TRUSTED_PROXIES"`
}

// MetricsConfig controls the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" env:"ADDR"`
}

// StoreConfig selects the user store.
type StoreConfig struct {
	Driver         string        `koanf:"driver" json:"driver,omitempty" env:"DRIVER" jsonschema:"enum=mongo,enum=postgres,enum=memory"`
	PostgresURL    string        `koanf:"postgres_url" json:"postgres_url,omitempty" env:"POSTGRES_URL"`
	MongoURI       string        `koanf:"mongo_uri" json:"mongo_uri,omitempty" env:"MONGO_URI"`
	MongoDatabase  string        `koanf:"mongo_database" json:"mongo_database,omitempty" env:"MONGO_DATABASE"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" json:"connect_timeout,omitempty" env:"CONNECT_TIMEOUT" jsonschema:"type=string"`
	AutoMigrate    bool          `koanf:"auto_migrate" json:"auto_migrate,omitempty" env:"AUTO_MIGRATE"`
}

// TokenConfig configures JWT issuance. Secrets are normally supplied through
// the environment.
type TokenConfig struct {
	AccessSecret  string        `koanf:"access_secret" json:"access_secret,omitempty" env:"ACCESS_SECRET"`
	RefreshSecret string        `koanf:"refresh_secret" json:"refresh_secret,omitempty" env:"REFRESH_SECRET"`
	Issuer        string        `koanf:"issuer" json:"issuer,omitempty" env:"ISSUER"`
	Audience      string        `koanf:"audience" json:"audience,omitempty" env:"AUDIENCE"`
	AccessTTL     time.Duration `koanf:"access_ttl" json:"access_ttl,omitempty" env:"ACCESS_TTL" jsonschema:"type=string"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl" json:"refresh_ttl,omitempty" env:"REFRESH_TTL" jsonschema:"type=string"`
}

// MailConfig selects and configures the notification gateway.
type MailConfig struct {
	Driver      string        `koanf:"driver" json:"driver,omitempty" env:"DRIVER" jsonschema:"enum=smtp,enum=log"`
	Host        string        `koanf:"host" json:"host,omitempty" env:"HOST"`
	Port        int           `koanf:"port" json:"port,omitempty" env:"PORT" jsonschema:"minimum=1,maximum=65535"`
	Username    string        `koanf:"username" json:"username,omitempty" env:"USERNAME"`
	Password    string        `koanf:"password" json:"password,omitempty" env:"PASSWORD"`
	From        string        `koanf:"from" json:"from,omitempty" env:"FROM"`
	FromName    string        `koanf:"from_name" json:"from_name,omitempty" env:"FROM_NAME"`
	AppName     string        `koanf:"app_name" json:"app_name,omitempty" env:"APP_NAME"`
	MaxAttempts int           `koanf:"max_attempts" json:"max_attempts,omitempty" env:"MAX_ATTEMPTS" jsonschema:"minimum=1"`
	SendTimeout time.Duration `koanf:"send_timeout" json:"send_timeout,omitempty" env:"SEND_TIMEOUT" jsonschema:"type=string"`
}

// RateLimitConfig configures per-client limiting of the public auth
// endpoints. An empty RedisAddr disables limiting.
type RateLimitConfig struct {
	RedisAddr     string  `koanf:"redis_addr" json:"redis_addr,omitempty" env:"REDIS_ADDR"`
	RedisPassword string  `koanf:"redis_password" json:"redis_password,omitempty" env:"REDIS_PASSWORD"`
	RedisDB       int     `koanf:"redis_db" json:"redis_db,omitempty" env:"REDIS_DB" jsonschema:"minimum=0"`
	Rate          float64 `koanf:"rate" json:"rate,omitempty" env:"RATE" jsonschema:"exclusiveMinimum=0"`
	Burst         int     `koanf:"burst" json:"burst,omitempty" env:"BURST" jsonschema:"minimum=1"`
}

// Default returns the built-in configuration. It is suitable for local
// development except for the token secrets, which must always be set.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Store: StoreConfig{
			Driver:         store.DriverMongo,
			MongoURI:       "mongodb://localhost:27017",
			MongoDatabase:  "vidloom",
			ConnectTimeout: store.DefaultConnectTimeout,
		},
		Token: TokenConfig{
			Issuer:     "vidloom",
			Audience:   "vidloom-app",
			AccessTTL:  token.DefaultAccessTTL,
			RefreshTTL: token.DefaultRefreshTTL,
		},
		Mail: MailConfig{
			Driver:      MailDriverLog,
			Port:        587,
			FromName:    "Vidloom",
			AppName:     "Vidloom",
			MaxAttempts: notify.DefaultMaxAttempts,
			SendTimeout: notify.DefaultSendTimeout,
		},
		RateLimit: RateLimitConfig{Rate: 0.2, Burst: 10},
	}
}

// Validate checks cross-field rules the schema cannot express.
func (c Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	switch c.Store.Driver {
	case store.DriverMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return invalid("store.mongo_uri", "mongo driver requires store.mongo_uri and store.mongo_database")
		}
	case store.DriverPostgres:
		if c.Store.PostgresURL == "" {
			return invalid("store.postgres_url", "postgres driver requires store.postgres_url")
		}
	case store.DriverMemory:
	default:
		return invalid("store.driver", "unknown store driver %q", c.Store.Driver)
	}

	if c.Token.AccessSecret == "" || c.Token.RefreshSecret == "" {
		return invalid("token", "token.access_secret and token.refresh_secret are required")
	}
	if c.Token.AccessSecret == c.Token.RefreshSecret {
		return invalid("token", "access and refresh secrets must differ")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return invalid("token", "token lifetimes must be positive")
	}

	switch c.Mail.Driver {
	case MailDriverSMTP:
		if c.Mail.Host == "" || c.Mail.From == "" {
			return invalid("mail", "smtp driver requires mail.host and mail.from")
		}
	case MailDriverLog:
	default:
		return invalid("mail.driver", "unknown mail driver %q", c.Mail.Driver)
	}

	if c.RateLimit.RedisAddr != "" && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return invalid("ratelimit", "rate and burst must be positive when limiting is enabled")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	return nil
}

// StoreOptions converts to the store package's configuration.
func (c Config) StoreOptions() store.Config {
	return store.Config{
		Driver:         c.Store.Driver,
		PostgresURL:    c.Store.PostgresURL,
		MongoURI:       c.Store.MongoURI,
		MongoDatabase:  c.Store.MongoDatabase,
		ConnectTimeout: c.Store.ConnectTimeout,
		AutoMigrate:    c.Store.AutoMigrate,
	}
}

// TokenOptions converts to the token package's configuration.
func (c Config) TokenOptions() token.Config {
	return token.Config{
		AccessSecret:  c.Token.AccessSecret,
		RefreshSecret: c.Token.RefreshSecret,
		Issuer:        c.Token.Issuer,
		Audience:      c.Token.Audience,
		AccessTTL:     c.Token.AccessTTL,
		RefreshTTL:    c.Token.RefreshTTL,
	}
}

// SMTPOptions converts to the notify package's SMTP configuration.
func (c Config) SMTPOptions() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:        c.Mail.Host,
		Port:        c.Mail.Port,
		Username:    c.Mail.Username,
		Password:    c.Mail.Password,
		From:        c.Mail.From,
		FromName:    c.Mail.FromName,
		AppName:     c.Mail.AppName,
		MaxAttempts: c.Mail.MaxAttempts,
		SendTimeout: c.Mail.SendTimeout,
	}
}
