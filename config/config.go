// Package config loads the client configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget-digital/momo/auth"
	"github.com/nugget-digital/momo/collections"
)

// FallbackCallbackHost is the sandbox mock host; the platform requires
// some callback host when creating a sandbox api user.
const FallbackCallbackHost = "www.mocky.io"

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is everything a caller needs to construct the token source,
// collection client and poller.
type Config struct {
	SubscriptionKey string `yaml:"subscription_key"`
	APIUser         string `yaml:"api_user"`
	APIKey          string `yaml:"api_key"`
	// BaseURL defaults to the sandbox platform. Point it at the
	// production host to target production.
	BaseURL string `yaml:"base_url"`
	// CallbackHost is the host callbacks are delivered to; required by
	// the platform when provisioning sandbox credentials.
	CallbackHost string `yaml:"callback_host"`
	// CallbackURL, when set, is attached to every submission.
	CallbackURL string `yaml:"callback_url"`

	TokenMargin     Duration `yaml:"token_margin"`
	PollInterval    Duration `yaml:"poll_interval"`
	PollTimeout     Duration `yaml:"poll_timeout"`
	MaxPollFailures int      `yaml:"max_poll_failures"`
}

// Load reads and parses a config file, applies defaults and MOMO_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// FromEnv builds a config from environment variables alone.
func FromEnv() (*Config, error) {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	setenv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setenv(&c.SubscriptionKey, "MOMO_SUBSCRIPTION_KEY")
	setenv(&c.APIUser, "MOMO_API_USER")
	setenv(&c.APIKey, "MOMO_API_KEY")
	setenv(&c.BaseURL, "MOMO_BASE_URL")
	setenv(&c.CallbackHost, "MOMO_CALLBACK_HOST")
	setenv(&c.CallbackURL, "MOMO_CALLBACK_URL")
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = collections.SandboxBaseURL
	}
	if c.CallbackHost == "" {
		c.CallbackHost = FallbackCallbackHost
	}
	if c.TokenMargin <= 0 {
		c.TokenMargin = Duration(auth.DefaultMargin)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(collections.DefaultPollInterval)
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = Duration(collections.DefaultPollTimeout)
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = collections.DefaultMaxTransientPoll
	}
}

// Validate checks the fields every platform call depends on.
func (c *Config) Validate() error {
	if c.SubscriptionKey == "" {
		return fmt.Errorf("subscription_key is required")
	}
	if c.APIUser == "" {
		return fmt.Errorf("api_user is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	return nil
}

// Credentials returns the auth credentials this config carries.
func (c *Config) Credentials() auth.Credentials {
	return auth.Credentials{
		SubscriptionKey: c.SubscriptionKey,
		APIUser:         c.APIUser,
		APIKey:          c.APIKey,
	}
}
