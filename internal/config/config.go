package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Session SessionConfig `mapstructure:"session"`
	OIDC    OIDCConfig    `mapstructure:"oidc"`
	Log     LogConfig     `mapstructure:"log"`
	Wiki    WikiConfig    `mapstructure:"wiki"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port string    `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds TLS-specific configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// DBConfig holds database-specific configuration. Driver selects the
// SQL dialect ("mysql" or "sqlite3"); migrations are resolved per driver.
type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig holds configuration for the rendered-content cache.
// TTLSeconds is a safety net on top of explicit invalidation.
type CacheConfig struct {
	FilePath   string `mapstructure:"file_path"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// SessionConfig holds session management configuration.
type SessionConfig struct {
	SecretKey string `mapstructure:"secretkey"`
	Lifetime  int    `mapstructure:"lifetime"` // hours
}

// OIDCConfig holds OIDC client configuration.
type OIDCConfig struct {
	IssuerURL    string `mapstructure:"issuer_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json", "console"
}

// WikiConfig holds wiki content behavior settings.
type WikiConfig struct {
	// Site scopes the URL path tree. Each site has exactly one root.
	Site string `mapstructure:"site"`
	// URLCaseSensitive controls slug matching and sibling uniqueness.
	URLCaseSensitive bool `mapstructure:"url_case_sensitive"`
	// ReservedSlugs cannot be used as path segments.
	ReservedSlugs []string `mapstructure:"reserved_slugs"`
	// LostAndFoundSlug names the node that adopts children of purged articles.
	LostAndFoundSlug string `mapstructure:"lost_and_found_slug"`
	// LogIPsUsers / LogIPsAnonymous control IP attribution on revisions.
	LogIPsUsers     bool `mapstructure:"log_ips_users"`
	LogIPsAnonymous bool `mapstructure:"log_ips_anonymous"`
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("db.driver", "sqlite3")
	viper.SetDefault("db.dsn", "wiki.db")
	viper.SetDefault("cache.file_path", "wiki-cache.db")
	viper.SetDefault("cache.ttl_seconds", 3600)
	viper.SetDefault("session.lifetime", 24)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("wiki.site", "default")
	viper.SetDefault("wiki.url_case_sensitive", false)
	viper.SetDefault("wiki.reserved_slugs", []string{"admin", "_plugin", "_revision"})
	viper.SetDefault("wiki.lost_and_found_slug", "lost-and-found")
	viper.SetDefault("wiki.log_ips_users", false)
	viper.SetDefault("wiki.log_ips_anonymous", true)

	// Set up viper to read from config file
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/go-wiki-engine/")
	viper.AddConfigPath("$HOME/.go-wiki-engine")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// Config file not found; proceed with defaults and env vars
	}

	// Set up viper to read from environment variables
	viper.SetEnvPrefix("WIKI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal the config into the Config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
