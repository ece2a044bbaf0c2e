package channels

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/notify"
)

const (
	channelsFileName = "channels.yaml"

	SlackWebhookFileName  = "slack-webhook-url"
	TelegramTokenFileName = "telegram-token"

	Slack    = "slack"
	Telegram = "telegram"
	Desktop  = "desktop"
)

// Config selects and configures notification channels
type Config struct {
	// Order lists channel names in the order they are tried
	Order []string `yaml:"order"`

	Slack    SlackConfig    `yaml:"slack"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// SlackConfig configures the Slack incoming webhook
type SlackConfig struct {
	// WebhookURLFile holds the webhook URL, relative paths are resolved in the config dir
	WebhookURLFile string `yaml:"webhookURLFile"`
}

// TelegramConfig configures the Telegram bot
type TelegramConfig struct {
	ChatID int64 `yaml:"chatID"`
	// TokenFile holds the bot token, relative paths are resolved in the config dir
	TokenFile string `yaml:"tokenFile"`
}

// Default returns the configuration used when no channels file exists
func Default() *Config {
	return &Config{
		Order:    []string{Slack, Telegram, Desktop},
		Slack:    SlackConfig{WebhookURLFile: SlackWebhookFileName},
		Telegram: TelegramConfig{TokenFile: TelegramTokenFileName},
	}
}

// Load loads the channel configuration from configDir, returns defaults if the file doesn't exist
func Load(configDir string) (*Config, error) {
	channelsPath := filepath.Join(configDir, channelsFileName)

	if _, err := os.Stat(channelsPath); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(channelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read channels file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse channels file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid channels file: %w", err)
	}

	return cfg, nil
}

// Validate checks that every listed channel is known and listed once
func (c *Config) Validate() error {
	if len(c.Order) == 0 {
		return fmt.Errorf("no channels listed in order")
	}
	seen := map[string]bool{}
	for _, name := range c.Order {
		switch name {
		case Slack, Telegram, Desktop:
		default:
			return fmt.Errorf("unknown channel %q (valid: %s, %s, %s)", name, Slack, Telegram, Desktop)
		}
		if seen[name] {
			return fmt.Errorf("channel %q listed more than once", name)
		}
		seen[name] = true
	}
	return nil
}

// Build creates the channels in configured order. Channels whose secrets are missing are
// still created and report themselves as not configured when used.
func (c *Config) Build(configDir, browser string, links notify.Linker) ([]notify.Channel, error) {
	var result []notify.Channel

	for _, name := range c.Order {
		switch name {
		case Slack:
			webhookURL, err := readSecret(configDir, c.Slack.WebhookURLFile)
			if err != nil {
				return nil, err
			}
			result = append(result, notify.NewSlackChannel(webhookURL, links))
		case Telegram:
			token, err := readSecret(configDir, c.Telegram.TokenFile)
			if err != nil {
				return nil, err
			}
			channel, err := notify.NewTelegramChannel(token, c.Telegram.ChatID, links)
			if err != nil {
				return nil, err
			}
			result = append(result, channel)
		case Desktop:
			result = append(result, notify.NewDesktopChannel(browser, links))
		default:
			return nil, fmt.Errorf("unknown channel %q", name)
		}
	}

	return result, nil
}

// readSecret returns the trimmed content of a secret file, empty if the file doesn't exist
func readSecret(configDir, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}
