// ABOUTME: Configuration loading and parsing for chatrelay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatrelay configuration
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Groups    GroupsConfig    `yaml:"groups"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TelegramConfig holds Bot API connection configuration
type TelegramConfig struct {
	BotToken     string `yaml:"bot_token"`
	BaseURL      string `yaml:"base_url"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`

	PollTimeout    time.Duration `yaml:"-"`
	PollTimeoutRaw string        `yaml:"poll_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig holds credentials for one OpenAI-compatible provider
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ProvidersConfig holds per-provider backend configuration.
// OpenAI is the primary provider; the rest are optional.
type ProvidersConfig struct {
	OpenAI   ProviderConfig `yaml:"openai"`
	Gemini   ProviderConfig `yaml:"gemini"`
	DeepSeek ProviderConfig `yaml:"deepseek"`
	Groq     ProviderConfig `yaml:"groq"`
	Grok     ProviderConfig `yaml:"grok"`
	GLM      ProviderConfig `yaml:"glm"`
}

// GroupsConfig holds media-group aggregation timing configuration
type GroupsConfig struct {
	Debounce    time.Duration `yaml:"-"`
	DebounceRaw string        `yaml:"debounce"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves fields unset
const (
	DefaultTelegramBaseURL = "https://api.telegram.org"
	DefaultPollTimeout     = 30 * time.Second
	DefaultDebounce        = 2 * time.Second
	DefaultMaxFileBytes    = 20 << 20 // Bot API download ceiling
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = DefaultTelegramBaseURL
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Telegram.MaxFileBytes == 0 {
		c.Telegram.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.Groups.Debounce == 0 {
		c.Groups.Debounce = DefaultDebounce
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("providers.openai.api_key is required (primary provider)")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Telegram.PollTimeoutRaw != "" {
		cfg.Telegram.PollTimeout, err = time.ParseDuration(cfg.Telegram.PollTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_timeout %q: %w", cfg.Telegram.PollTimeoutRaw, err)
		}
	}

	if cfg.Groups.DebounceRaw != "" {
		cfg.Groups.Debounce, err = time.ParseDuration(cfg.Groups.DebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing debounce %q: %w", cfg.Groups.DebounceRaw, err)
		}
	}

	return nil
}
