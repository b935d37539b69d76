package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "SSA"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabasePath     = "ssa.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultSessionIssuer    = "ssa-api"
	defaultSessionCookie    = "ssa_session"
	defaultSessionTTLMinute = 7 * 24 * 60
	defaultAnalyticsStream  = "ssa:analytics"
)

// AppConfig captures runtime configuration for the API server and the maintenance commands.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel  string
	LogFormat string

	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	SessionTTL           time.Duration

	IdentityJWKSURL  string
	IdentityAudience string
	IdentityIssuers  []string

	MigrationSecret string

	AnalyticsRedisAddress string
	AnalyticsStream       string

	LegacyDatabaseURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultSessionCookie)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinute)
	configViper.SetDefault("identity.jwks_url", "")
	configViper.SetDefault("identity.audience", "")
	configViper.SetDefault("identity.issuers", []string{})
	configViper.SetDefault("migration.secret", "")
	configViper.SetDefault("analytics.redis_address", "")
	configViper.SetDefault("analytics.stream", defaultAnalyticsStream)
	configViper.SetDefault("legacy.database_url", "")
}

// Load parses runtime configuration for the API server from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := parse(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadMaintenance parses configuration for the offline maintenance commands,
// which need the database and the migration secret but no session settings.
func LoadMaintenance(configViper *viper.Viper) (AppConfig, error) {
	cfg := parse(configViper)
	if err := cfg.validateDatabase(); err != nil {
		return AppConfig{}, err
	}
	if strings.TrimSpace(cfg.MigrationSecret) == "" {
		return AppConfig{}, fmt.Errorf("migration.secret is required")
	}
	return cfg, nil
}

func parse(configViper *viper.Viper) AppConfig {
	return AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		AllowedOrigins:        cleanList(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          configViper.GetString("database.path"),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		LogLevel:              configViper.GetString("log.level"),
		LogFormat:             configViper.GetString("log.format"),
		SessionSigningSecret:  configViper.GetString("session.signing_secret"),
		SessionIssuer:         configViper.GetString("session.issuer"),
		SessionCookieName:     configViper.GetString("session.cookie_name"),
		SessionTTL:            time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		IdentityJWKSURL:       strings.TrimSpace(configViper.GetString("identity.jwks_url")),
		IdentityAudience:      strings.TrimSpace(configViper.GetString("identity.audience")),
		IdentityIssuers:       cleanList(configViper.GetStringSlice("identity.issuers")),
		MigrationSecret:       configViper.GetString("migration.secret"),
		AnalyticsRedisAddress: strings.TrimSpace(configViper.GetString("analytics.redis_address")),
		AnalyticsStream:       configViper.GetString("analytics.stream"),
		LegacyDatabaseURL:     strings.TrimSpace(configViper.GetString("legacy.database_url")),
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	if c.IdentityJWKSURL != "" && len(c.IdentityIssuers) == 0 {
		return fmt.Errorf("identity.issuers is required when identity.jwks_url is set")
	}
	return c.validateDatabase()
}

func (c AppConfig) validateDatabase() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "mysql":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	return nil
}

func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
	}
	return cleaned
}
