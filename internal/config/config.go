// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads and validates the accounts service configuration.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/logging"
	"github.com/holomush/accounts/internal/mail"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config is the complete service configuration. Field tags name the keys
// used in YAML files, environment variables and the generated schema.
type Config struct {
	BaseURL  string         `koanf:"base_url" json:"base_url,omitempty" jsonschema:"description=Public origin prefixed to links in emails,format=uri"`
	HTTP     HTTPConfig     `koanf:"http" json:"http,omitempty"`
	Session  SessionConfig  `koanf:"session" json:"session,omitempty"`
	Tokens   TokensConfig   `koanf:"tokens" json:"tokens,omitempty"`
	Database DatabaseConfig `koanf:"database" json:"database,omitempty"`
	Mongo    MongoConfig    `koanf:"mongo" json:"mongo,omitempty"`
	Mail     MailConfig     `koanf:"mail" json:"mail,omitempty"`
	Log      LogConfig      `koanf:"log" json:"log,omitempty"`
	Metrics  MetricsConfig  `koanf:"metrics" json:"metrics,omitempty"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr         string        `koanf:"addr" json:"addr,omitempty" jsonschema:"description=API listen address,default=:4000"`
	CORSOrigins  []string      `koanf:"cors_origins" json:"cors_origins,omitempty" jsonschema:"description=Allowed browser origins; glob patterns such as https://*.example.com are accepted"`
	ReadTimeout  time.Duration `koanf:"read_timeout" json:"read_timeout,omitempty" jsonschema:"type=string,description=Request read timeout (Go duration),default=10s"`
	WriteTimeout time.Duration `koanf:"write_timeout" json:"write_timeout,omitempty" jsonschema:"type=string,description=Response write timeout (Go duration),default=30s"`
}

// SessionConfig configures login sessions.
type SessionConfig struct {
	Secret       string        `koanf:"secret" json:"secret,omitempty" jsonschema:"description=HMAC signing secret of at least 32 bytes,minLength=32"`
	TTL          time.Duration `koanf:"ttl" json:"ttl,omitempty" jsonschema:"type=string,description=Session lifetime (Go duration),default=24h"`
	Issuer       string        `koanf:"issuer" json:"issuer,omitempty" jsonschema:"default=accounts"`
	CookieName   string        `koanf:"cookie_name" json:"cookie_name,omitempty" jsonschema:"default=token"`
	CookieSecure bool          `koanf:"cookie_secure" json:"cookie_secure,omitempty" jsonschema:"description=Mark the session cookie Secure,default=true"`
}

// TokensConfig configures one-time tokens.
type TokensConfig struct {
	ResetTTL time.Duration `koanf:"reset_ttl" json:"reset_ttl,omitempty" jsonschema:"type=string,description=Password reset token lifetime (Go duration),default=1h"`
}

// DatabaseConfig selects and configures the user store.
type DatabaseConfig struct {
	Driver         string        `koanf:"driver" json:"driver,omitempty" jsonschema:"enum=postgres,enum=mongo,default=postgres"`
	URL            string        `koanf:"url" json:"url,omitempty" jsonschema:"description=PostgreSQL connection URL"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" json:"connect_timeout,omitempty" jsonschema:"type=string,default=30s"`
	AutoMigrate    bool          `koanf:"auto_migrate" json:"auto_migrate,omitempty" jsonschema:"description=Apply pending migrations at startup"`
}

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URI      string `koanf:"uri" json:"uri,omitempty"`
	Database string `koanf:"database" json:"database,omitempty" jsonschema:"default=accounts"`
}

// MailConfig configures the SMTP relay. Without a host, emails are logged.
type MailConfig struct {
	Host        string `koanf:"host" json:"host,omitempty"`
	Port        int    `koanf:"port" json:"port,omitempty" jsonschema:"minimum=1,maximum=65535,default=587"`
	Username    string `koanf:"username" json:"username,omitempty"`
	Password    string `koanf:"password" json:"password,omitempty"`
	From        string `koanf:"from" json:"from,omitempty" jsonschema:"format=email"`
	TLSPolicy   string `koanf:"tls_policy" json:"tls_policy,omitempty" jsonschema:"enum=opportunistic,enum=mandatory,enum=none,default=opportunistic"`
	MaxAttempts int    `koanf:"max_attempts" json:"max_attempts,omitempty" jsonschema:"minimum=1,default=3"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text,default=json"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
}

// MetricsConfig configures the observability listener.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" jsonschema:"description=Metrics and health probe address; empty disables,default=127.0.0.1:9100"`
}

// defaults are loaded before any other source.
func defaults() map[string]any {
	return map[string]any{
		"http.addr":                ":4000",
		"http.read_timeout":        "10s",
		"http.write_timeout":       "30s",
		"session.ttl":              account.DefaultSessionTTL.String(),
		"session.issuer":           account.DefaultSessionIssuer,
		"session.cookie_name":      "token",
		"session.cookie_secure":    true,
		"tokens.reset_ttl":         account.DefaultResetTokenTTL.String(),
		"database.driver":          DriverPostgres,
		"database.connect_timeout": "30s",
		"database.auto_migrate":    false,
		"mongo.database":           "accounts",
		"mail.port":                mail.DefaultPort,
		"mail.tls_policy":          mail.TLSOpportunistic,
		"mail.max_attempts":        mail.DefaultMaxAttempts,
		"log.format":               "json",
		"log.level":                "info",
		"metrics.addr":             "127.0.0.1:9100",
	}
}

// Validate checks required values and enumerations. All problems are
// reported together under the "problems" context key.
func (c *Config) Validate() error {
	var problems []string
	add := func(p string) { problems = append(problems, p) }

	if c.BaseURL == "" {
		add("base_url is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("base_url must be an absolute http(s) URL")
	}

	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}

	if len(c.Session.Secret) < account.MinSessionSecretLen {
		add("session.secret must be at least 32 bytes")
	}
	if c.Session.TTL <= 0 {
		add("session.ttl must be positive")
	}
	if c.Session.CookieName == "" {
		add("session.cookie_name is required")
	}
	if c.Tokens.ResetTTL <= 0 {
		add("tokens.reset_ttl must be positive")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			add("database.url is required for the postgres driver")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			add("mongo.uri is required for the mongo driver")
		}
		if c.Mongo.Database == "" {
			add("mongo.database is required for the mongo driver")
		}
	default:
		add("database.driver must be postgres or mongo")
	}

	if c.Mail.Host != "" {
		if c.Mail.From == "" {
			add("mail.from is required when mail.host is set")
		}
		if c.Mail.Port < 1 || c.Mail.Port > 65535 {
			add("mail.port must be between 1 and 65535")
		}
		if !slices.Contains([]string{mail.TLSOpportunistic, mail.TLSMandatory, mail.TLSNone}, strings.ToLower(c.Mail.TLSPolicy)) {
			add("mail.tls_policy must be opportunistic, mandatory or none")
		}
		if c.Mail.MaxAttempts < 1 {
			add("mail.max_attempts must be at least 1")
		}
	}

	if !logging.ValidFormat(c.Log.Format) {
		add("log.format must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level must be debug, info, warn or error")
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MailEnabled reports whether an SMTP relay is configured.
func (c *Config) MailEnabled() bool {
	return c.Mail.Host != ""
}

// MailConfig converts the mail section for the mail package.
func (c *Config) MailConfig() mail.Config {
	return mail.Config{
		Host:        c.Mail.Host,
		Port:        c.Mail.Port,
		Username:    c.Mail.Username,
		Password:    c.Mail.Password,
		From:        c.Mail.From,
		TLSPolicy:   c.Mail.TLSPolicy,
		MaxAttempts: c.Mail.MaxAttempts,
	}
}

// SessionConfig converts the session section for the account package.
func (c *Config) SessionConfig() account.SessionConfig {
	return account.SessionConfig{
		Secret: []byte(c.Session.Secret),
		TTL:    c.Session.TTL,
		Issuer: c.Session.Issuer,
	}
}
