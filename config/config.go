package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the chat server configuration, read from TALKX_* variables.
type Config struct {
	Port            int           `env:"TALKX_PORT"              envDefault:"3215"`
	DBPath          string        `env:"TALKX_DB_PATH"           envDefault:"talkx.db"`
	ReadTimeout     time.Duration `env:"TALKX_READ_TIMEOUT"      envDefault:"120s"`
	WriteTimeout    time.Duration `env:"TALKX_WRITE_TIMEOUT"     envDefault:"30s"`
	JWTSecret       string        `env:"TALKX_JWT_SECRET"        envDefault:"talkx-dev-secret"`
	TokenTTL        time.Duration `env:"TALKX_TOKEN_TTL"         envDefault:"24h"`
	HistoryLimit    int           `env:"TALKX_HISTORY_LIMIT"     envDefault:"50"`
	FramesPerSecond float64       `env:"TALKX_FRAMES_PER_SECOND" envDefault:"20"`
	ControlSocket   string        `env:"TALKX_CONTROL_SOCKET"    envDefault:"/tmp/talkx.sock"`
}

// Load reads the server configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return cfg, nil
}

// ClientConfig is the terminal client configuration.
type ClientConfig struct {
	APIURL       string        `toml:"api_url"        env:"TALKX_API_URL"`
	SocketURL    string        `toml:"socket_url"     env:"TALKX_SOCKET_URL"`
	DataDir      string        `toml:"data_dir"       env:"TALKX_DATA_DIR"`
	MaxAttempts  int           `toml:"max_attempts"   env:"TALKX_MAX_ATTEMPTS"`
	RetryDelay   time.Duration `toml:"retry_delay"    env:"TALKX_RETRY_DELAY"`
	DialTimeout  time.Duration `toml:"dial_timeout"   env:"TALKX_DIAL_TIMEOUT"`
	TypingIdle   time.Duration `toml:"typing_idle"    env:"TALKX_TYPING_IDLE"`
	TypingExpiry time.Duration `toml:"typing_expiry"  env:"TALKX_TYPING_EXPIRY"`
	LogLevel     string        `toml:"log_level"      env:"TALKX_LOG_LEVEL"`
}

// DefaultClient returns the built-in client settings.
func DefaultClient() *ClientConfig {
	dataDir := ".talkx"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".talkx")
	}
	return &ClientConfig{
		APIURL:       "http://localhost:3215/api",
		SocketURL:    "ws://localhost:3215/ws",
		DataDir:      dataDir,
		MaxAttempts:  5,
		RetryDelay:   2 * time.Second,
		DialTimeout:  10 * time.Second,
		TypingIdle:   1500 * time.Millisecond,
		TypingExpiry: 2 * time.Second,
		LogLevel:     "info",
	}
}

// DefaultClientPath is ~/.talkx/client.toml.
func DefaultClientPath() string {
	return filepath.Join(DefaultClient().DataDir, "client.toml")
}

// LoadClient layers the TOML file at path (if it exists) and then the
// environment over the defaults. An empty path means DefaultClientPath.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClient()
	if path == "" {
		path = DefaultClientPath()
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c *ClientConfig) Validate() error {
	switch {
	case c.APIURL == "":
		return errors.New("api_url is empty")
	case c.SocketURL == "":
		return errors.New("socket_url is empty")
	case c.MaxAttempts <= 0:
		return fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts)
	case c.RetryDelay <= 0:
		return fmt.Errorf("retry_delay must be positive, got %s", c.RetryDelay)
	}
	return nil
}
