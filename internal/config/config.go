// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail-merge CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in the provider field and PROVIDER env var.
const (
	ProviderStdout = "stdout"
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderResend = "resend"
	ProviderGraph  = "graph"
)

const (
	defaultSMTPPort    = 587
	defaultSMTPTimeout = 30 * time.Second
	defaultConcurrency = 4
	defaultJournalPath = "mailmerge.db"
)

// ErrUnknownProvider is returned by Validate for an unrecognized provider.
var ErrUnknownProvider = errors.New("unknown provider")

// Config holds the complete application configuration.
type Config struct {
	Provider string         `yaml:"provider"`
	Sender   SenderConfig   `yaml:"sender"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	Resend   ResendConfig   `yaml:"resend"`
	Graph    GraphConfig    `yaml:"graph"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Journal  JournalConfig  `yaml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SenderConfig holds the default envelope sender. A campaign may override it.
type SenderConfig struct {
	From    string `yaml:"from"`
	ReplyTo string `yaml:"reply_to"`
}

// SMTPConfig holds the outgoing relay settings.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Security           string        `yaml:"security"`
	Auth               string        `yaml:"auth"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	HeloName           string        `yaml:"helo_name"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string            `yaml:"api_key"`
	Tags   map[string]string `yaml:"tags"`
}

// GraphConfig holds Microsoft Graph client credentials. Sender.From must be
// the mailbox the application is allowed to send as.
type GraphConfig struct {
	TenantID        string `yaml:"tenant_id"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	SaveToSentItems bool   `yaml:"save_to_sent_items"`
}

// DispatchConfig tunes delivery.
type DispatchConfig struct {
	Concurrency     int    `yaml:"concurrency"`
	Bullet          string `yaml:"bullet"`
	MessageIDDomain string `yaml:"message_id_domain"`
}

// JournalConfig holds the delivery journal location.
type JournalConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()
	cfg.Provider = strings.ToLower(cfg.Provider)

	return cfg, nil
}

// Validate reports configuration that cannot select a provider.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", ProviderStdout, ProviderSMTP, ProviderSES, ProviderResend, ProviderGraph:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch concurrency must be positive, got %d", c.Dispatch.Concurrency)
	}
	return nil
}

// ResolvedProvider returns the configured provider, or the first configured
// transport when none is named: smtp, ses, resend and graph in that order,
// falling back to stdout.
func (c *Config) ResolvedProvider() string {
	switch {
	case c.Provider != "":
		return c.Provider
	case c.SMTPConfigured():
		return ProviderSMTP
	case c.SESConfigured():
		return ProviderSES
	case c.ResendConfigured():
		return ProviderResend
	case c.GraphConfigured():
		return ProviderGraph
	default:
		return ProviderStdout
	}
}

// SMTPConfigured returns true if a relay host and a sender are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.Sender.From != ""
}

// SESConfigured returns true if region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.Sender.From != ""
}

// ResendConfigured returns true if an API key and a sender are set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != "" && c.Sender.From != ""
}

// GraphConfigured returns true if all three client credentials and a sender
// are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" && c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" && c.Sender.From != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = defaultSMTPPort
	c.SMTP.Security = "starttls"
	c.SMTP.Timeout = defaultSMTPTimeout
	c.Dispatch.Concurrency = defaultConcurrency
	c.Dispatch.Bullet = "round"
	c.Journal.Path = defaultJournalPath
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SENDER_FROM"); v != "" {
		c.Sender.From = v
	}
	if v := os.Getenv("SENDER_REPLY_TO"); v != "" {
		c.Sender.ReplyTo = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_SECURITY"); v != "" {
		c.SMTP.Security = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_AUTH"); v != "" {
		c.SMTP.Auth = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_HELO_NAME"); v != "" {
		c.SMTP.HeloName = v
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.Timeout = d
		}
	}
	if v := os.Getenv("SMTP_INSECURE_SKIP_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SMTP.InsecureSkipVerify = b
		}
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_CONFIGURATION_SET"); v != "" {
		c.SES.ConfigurationSet = v
	}

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		c.Resend.APIKey = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SAVE_TO_SENT_ITEMS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Graph.SaveToSentItems = b
		}
	}

	if v := os.Getenv("DISPATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.Concurrency = n
		}
	}
	if v := os.Getenv("DISPATCH_BULLET"); v != "" {
		c.Dispatch.Bullet = strings.ToLower(v)
	}
	if v := os.Getenv("DISPATCH_MESSAGE_ID_DOMAIN"); v != "" {
		c.Dispatch.MessageIDDomain = v
	}

	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
