package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	API     APIConfig     `toml:"api"`
	Login   LoginConfig   `toml:"login"`
	Browser BrowserConfig `toml:"browser"`
	Cache   CacheConfig   `toml:"cache"`
	Scrape  ScrapeConfig  `toml:"scrape"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

type APIConfig struct {
	// Key gates /api routes when set.
	Key string `toml:"key"`
}

type LoginConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

type BrowserConfig struct {
	RemoteURL        string   `toml:"remote_url"`
	Bin              string   `toml:"bin"`
	Headful          bool     `toml:"headful"`
	NoSandbox        bool     `toml:"no_sandbox"`
	OperationTimeout string   `toml:"operation_timeout"`
	BlockResources   []string `toml:"block_resources"`
}

type CacheConfig struct {
	Capacity int    `toml:"capacity"`
	TTL      string `toml:"ttl"`
}

type ScrapeConfig struct {
	PauseMin string `toml:"pause_min"`
	PauseMax string `toml:"pause_max"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = "10s"
	cfg.Server.WriteTimeout = "2m"
	cfg.Browser.OperationTimeout = "30s"
	cfg.Cache.Capacity = 200
	cfg.Cache.TTL = "30m"
	cfg.Scrape.PauseMin = "1500ms"
	cfg.Scrape.PauseMax = "2500ms"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

// Load reads path over the defaults. A missing file is not an error.
// Environment variables override both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	setString(&c.API.Key, "API_KEY")
	setString(&c.Login.Email, "PINTEREST_EMAIL")
	setString(&c.Login.Password, "PINTEREST_PASSWORD")
	setString(&c.Browser.RemoteURL, "BROWSER_REMOTE_URL")
	setString(&c.Browser.Bin, "BROWSER_BIN")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Logging.Level, "LOG_LEVEL")
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) GetReadTimeout() time.Duration {
	return duration(c.ReadTimeout, 10*time.Second)
}

func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return duration(c.WriteTimeout, 2*time.Minute)
}

func (c *BrowserConfig) GetOperationTimeout() time.Duration {
	return duration(c.OperationTimeout, 30*time.Second)
}

func (c *CacheConfig) GetTTL() time.Duration {
	return duration(c.TTL, 30*time.Minute)
}

func (c *ScrapeConfig) GetPauseMin() time.Duration {
	return duration(c.PauseMin, 1500*time.Millisecond)
}

func (c *ScrapeConfig) GetPauseMax() time.Duration {
	return duration(c.PauseMax, 2500*time.Millisecond)
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
