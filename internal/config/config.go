// Package config handles orchestrator configuration.
//
// Values are layered: built-in defaults, then the TOML config file, then
// a .env file in the working directory, then the process environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
)

// Config holds every knob the orchestrator reads at startup.
type Config struct {
	BackendURL string `toml:"backend_url"`
	StreamURL  string `toml:"stream_url"`
	AuthToken  string `toml:"auth_token"`
	UserID     string `toml:"user_id"`
	Language   string `toml:"language"`

	PollInterval         time.Duration `toml:"poll_interval"`
	InitialChunk         time.Duration `toml:"initial_chunk"`
	ReconnectChunk       time.Duration `toml:"reconnect_chunk"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `toml:"reconnect_backoff"`
	AutoOpen             bool          `toml:"auto_open"`

	SampleRate           int      `toml:"sample_rate"`
	ExcludedAudioDevices []string `toml:"excluded_audio_devices"`

	HTTPTimeout      time.Duration `toml:"http_timeout"`
	BreakerThreshold int           `toml:"breaker_threshold"`
	BreakerReset     time.Duration `toml:"breaker_reset"`

	HTTPAddr    string `toml:"http_addr"`
	DownloadDir string `toml:"download_dir"`
	LogLevel    string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BackendURL:           "http://localhost:8000",
		Language:             "en",
		PollInterval:         3 * time.Second,
		InitialChunk:         5 * time.Second,
		ReconnectChunk:       time.Second,
		MaxReconnectAttempts: 3,
		AutoOpen:             true,
		SampleRate:           16000,
		ExcludedAudioDevices: []string{"iphone", "teams"},
		HTTPTimeout:          30 * time.Second,
		BreakerThreshold:     5,
		BreakerReset:         30 * time.Second,
		HTTPAddr:             ":8080",
		DownloadDir:          ".",
		LogLevel:             "info",
	}
}

// Load builds the configuration from every source. A missing config file
// or .env file is not an error; a malformed one is.
func Load() (*Config, error) {
	cfg := Default()

	if path := FilePath(); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "parse config file").
				WithMetadata("path", path)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "parse .env file")
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FilePath returns the config file location: TALKTOTEXT_CONFIG if set,
// otherwise talktotext/config.toml under the user config directory.
func FilePath() string {
	if p := os.Getenv("TALKTOTEXT_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "talktotext", "config.toml")
}

func (c *Config) applyEnv() {
	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.StreamURL = getEnv("STREAM_URL", c.StreamURL)
	c.AuthToken = getEnv("AUTH_TOKEN", c.AuthToken)
	c.UserID = getEnv("USER_ID", c.UserID)
	c.Language = getEnv("LANGUAGE", c.Language)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.InitialChunk = getEnvDuration("INITIAL_CHUNK", c.InitialChunk)
	c.ReconnectChunk = getEnvDuration("RECONNECT_CHUNK", c.ReconnectChunk)
	c.MaxReconnectAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", c.MaxReconnectAttempts)
	c.ReconnectBackoff = getEnvDuration("RECONNECT_BACKOFF", c.ReconnectBackoff)
	c.AutoOpen = getEnvBool("AUTO_OPEN", c.AutoOpen)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", c.HTTPTimeout)
	c.BreakerThreshold = getEnvInt("BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerReset = getEnvDuration("BREAKER_RESET", c.BreakerReset)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.DownloadDir = getEnv("DOWNLOAD_DIR", c.DownloadDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate rejects values the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BackendURL == "":
		return apperrors.New(apperrors.InvalidArgument, "backend_url is required")
	case c.PollInterval <= 0:
		return apperrors.New(apperrors.InvalidArgument, "poll_interval must be positive")
	case c.InitialChunk <= 0 || c.ReconnectChunk <= 0:
		return apperrors.New(apperrors.InvalidArgument, "chunk durations must be positive")
	case c.MaxReconnectAttempts < 0:
		return apperrors.New(apperrors.InvalidArgument, "max_reconnect_attempts must not be negative")
	case c.SampleRate <= 0:
		return apperrors.New(apperrors.InvalidArgument, "sample_rate must be positive")
	}
	return nil
}

// StreamEndpoint returns the live transcription websocket URL, derived
// from BackendURL when STREAM_URL is unset.
func (c *Config) StreamEndpoint() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	u := strings.TrimRight(c.BackendURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/live-transcribe"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

// getEnvDuration accepts Go durations ("750ms") or bare seconds ("3").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
