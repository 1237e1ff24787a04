package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Config holds the application configuration
type Config struct {
	DatabasePath  string        `mapstructure:"database_path" json:"database_path"`
	DatabaseURL   string        `mapstructure:"database_url" json:"database_url"` // postgres DSN，为空时使用 SQLite
	APIPort       string        `mapstructure:"api_port" json:"api_port"`
	LogLevel      string        `mapstructure:"log_level" json:"log_level"`
	DataDir       string        `mapstructure:"data_dir" json:"data_dir"`
	JWTSecret     string        `mapstructure:"jwt_secret" json:"jwt_secret"`
	JWTExpiry     time.Duration `mapstructure:"jwt_expiry" json:"jwt_expiry"`
	EncryptionKey string        `mapstructure:"encryption_key" json:"encryption_key"` // 用于加密 Google refresh token
	CORSOrigins   string        `mapstructure:"cors_origins" json:"cors_origins"`
	RequireAPIKey bool          `mapstructure:"require_api_key" json:"require_api_key"`

	// MailProvider selects how Gmail is read: "gmail" (REST API) or "imap".
	MailProvider string        `mapstructure:"mail_provider" json:"mail_provider"`
	SyncInterval time.Duration `mapstructure:"sync_interval" json:"sync_interval"` // 0 关闭后台同步
	RedisAddr    string        `mapstructure:"redis_addr" json:"redis_addr"`

	Google GoogleConfig `mapstructure:"google" json:"google"`
	AI     AIConfig     `mapstructure:"ai" json:"ai"`
}

// GoogleConfig holds the OAuth client used for Gmail, Calendar and identity tokens.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" json:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" json:"redirect_url"`
}

// AIConfig configures the chat completion endpoint used by the classifier.
type AIConfig struct {
	Provider string        `mapstructure:"provider" json:"provider"`
	APIKey   string        `mapstructure:"api_key" json:"api_key"`
	Model    string        `mapstructure:"model" json:"model"`
	BaseURL  string        `mapstructure:"base_url" json:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// Default configuration values
const (
	DefaultDatabasePath = "data/secretary.db"
	DefaultAPIPort      = "8080"
	DefaultLogLevel     = "INFO"
	DefaultDataDir      = "data"
	DefaultJWTSecret    = "secretary-default-secret-change-in-production"
	DefaultJWTExpiry    = 60 * time.Minute
	DefaultCORSOrigins  = "*"
	DefaultMailProvider = "gmail"
	DefaultRedirectURL  = "http://localhost:8080/api/oauth/google/callback"
	DefaultAIProvider   = "groq"
	DefaultAITimeout    = 30 * time.Second

	// EnvPrefix is prepended to every configuration key when read from the environment.
	EnvPrefix = "SECRETARY"
)

// plain environment names honoured alongside the prefixed ones
var legacyEnv = map[string]string{
	"database_url":         "DATABASE_URL",
	"jwt_secret":           "JWT_SECRET_KEY",
	"google.client_id":     "GOOGLE_CLIENT_ID",
	"google.client_secret": "GOOGLE_CLIENT_SECRET",
	"google.redirect_url":  "GOOGLE_REDIRECT_URL",
	"ai.api_key":           "GROQ_API_KEY",
	"redis_addr":           "REDIS_ADDR",
}

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath(DefaultDataDir)
	if dir := os.Getenv(EnvPrefix + "_DATA_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyAIPreset()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_url", "")
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("jwt_secret", DefaultJWTSecret)
	v.SetDefault("jwt_expiry", DefaultJWTExpiry)
	v.SetDefault("encryption_key", "")
	v.SetDefault("cors_origins", DefaultCORSOrigins)
	v.SetDefault("require_api_key", false)
	v.SetDefault("mail_provider", DefaultMailProvider)
	v.SetDefault("sync_interval", time.Duration(0))
	v.SetDefault("redis_addr", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", DefaultRedirectURL)
	v.SetDefault("ai.provider", DefaultAIProvider)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.timeout", DefaultAITimeout)
}

// applyAIPreset fills base URL and model from the provider name when they are not set.
func (c *Config) applyAIPreset() {
	switch strings.ToLower(c.AI.Provider) {
	case "openai":
		if c.AI.BaseURL == "" {
			c.AI.BaseURL = "https://api.openai.com/v1"
		}
		if c.AI.Model == "" {
			c.AI.Model = "gpt-4o-mini"
		}
	case "custom":
		// base_url and model must come from the config file
	default:
		c.AI.Provider = DefaultAIProvider
		if c.AI.BaseURL == "" {
			c.AI.BaseURL = "https://api.groq.com/openai/v1"
		}
		if c.AI.Model == "" {
			c.AI.Model = "llama-3.1-8b-instant"
		}
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = DefaultAITimeout
	}
}

// IsPostgres reports whether DatabaseURL points at a postgres server.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// GoogleConfigured reports whether an OAuth client is available.
func (c *Config) GoogleConfigured() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// OAuth2Config builds the Google OAuth client for the given scopes
func (g GoogleConfig) OAuth2Config(scopes ...string) *oauth2.Config {
	redirectURL := g.RedirectURL
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}
	return &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}
}

// GetEncryptionKey returns the key used for refresh token encryption
// If EncryptionKey is set, use it; otherwise derive from JWTSecret
func (c *Config) GetEncryptionKey() []byte {
	if c.EncryptionKey != "" {
		// 使用 SHA-256 确保密钥长度为 32 字节
		hash := sha256.Sum256([]byte(c.EncryptionKey))
		return hash[:]
	}
	hash := sha256.Sum256([]byte(c.JWTSecret + "-encryption"))
	return hash[:]
}

// EnsureDataDir creates the data directory and the SQLite directory if needed.
func (c *Config) EnsureDataDir() error {
	dirs := []string{c.DataDir}
	if c.DatabaseURL == "" {
		dirs = append(dirs, filepath.Dir(c.DatabasePath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
