package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"mailbridge/vault"
)

// Duration is a time.Duration decoded from strings like "15s"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Port       int      `toml:"port"`
	RateLimit  int      `toml:"rate_limit"`  // requests per window per client
	RateWindow Duration `toml:"rate_window"` // window for RateLimit
}

type VaultConfig struct {
	Key string `toml:"key"` // 64 hex chars, 32-byte AES-256 key
}

type JWTConfig struct {
	Secret string   `toml:"secret"`
	TTL    Duration `toml:"ttl"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// MailConfig tunes the IMAP and SMTP sessions opened per request
type MailConfig struct {
	ConnectTimeout  Duration `toml:"connect_timeout"`
	GreetingTimeout Duration `toml:"greeting_timeout"`
	CommandTimeout  Duration `toml:"command_timeout"`
	SubmitTimeout   Duration `toml:"submit_timeout"`
	TLSSkipVerify   bool     `toml:"tls_skip_verify"`
	DefaultPageSize int      `toml:"default_page_size"`
	MaxPageSize     int      `toml:"max_page_size"`
	SanitizeHTML    bool     `toml:"sanitize_html"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Vault   VaultConfig   `toml:"vault"`
	JWT     JWTConfig     `toml:"jwt"`
	Storage StorageConfig `toml:"storage"`
	Mail    MailConfig    `toml:"mail"`
	Log     LogConfig     `toml:"log"`
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       3000,
			RateLimit:  120,
			RateWindow: Duration{time.Minute},
		},
		JWT: JWTConfig{
			TTL: Duration{24 * time.Hour},
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Mail: MailConfig{
			ConnectTimeout:  Duration{15 * time.Second},
			GreetingTimeout: Duration{15 * time.Second},
			CommandTimeout:  Duration{60 * time.Second},
			SubmitTimeout:   Duration{30 * time.Second},
			DefaultPageSize: 50,
			MaxPageSize:     200,
			SanitizeHTML:    true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the TOML file at path on top of the defaults, then applies
// .env and environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, config); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.Vault.Key = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks the settings the process cannot run without. A missing or
// malformed vault key fails here, at startup, instead of on the first request.
func (c *Config) Validate() error {
	if _, err := vault.New(c.Vault.Key); err != nil {
		return fmt.Errorf("vault key: %w", err)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.Mail.DefaultPageSize <= 0 || c.Mail.MaxPageSize < c.Mail.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default %d, max %d", c.Mail.DefaultPageSize, c.Mail.MaxPageSize)
	}
	return nil
}
