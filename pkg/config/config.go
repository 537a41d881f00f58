// Package config loads the bridge configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

const (
	envConfigPath       = "PRESAGE_CONFIG"
	envStorePath        = "PRESAGE_STORE_PATH"
	envAccount          = "PRESAGE_ACCOUNT"
	envSignalCLIAddress = "PRESAGE_SIGNALCLI_ADDRESS"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID   = "TELEGRAM_CHAT_ID"
)

// Config is the root configuration. Comments are allowed in the file.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Bridge    BridgeConfig    `json:"bridge"`
	SignalCLI SignalCLIConfig `json:"signalcli"`
	Telegram  TelegramConfig  `json:"telegram"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging,omitempty"`

	// Path is the file the configuration was read from, empty when
	// defaults were used.
	Path string `json:"-"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// StoreConfig locates the session store.
type StoreConfig struct {
	Path string `json:"path"`
	// PassphraseEnv names the environment variable holding the store
	// passphrase. Empty leaves the store unsealed.
	PassphraseEnv string `json:"passphrase_env,omitempty"`
	// Migration is raise, drop or backup_and_drop.
	Migration string `json:"migration,omitempty"`
}

// Passphrase resolves the store passphrase from the environment.
func (c StoreConfig) Passphrase() string {
	if c.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.PassphraseEnv)
}

// BridgeConfig tunes sessions and message rendering.
type BridgeConfig struct {
	Account           uint64 `json:"account"`
	QueueCapacity     int    `json:"queue_capacity"`
	DeviceName        string `json:"device_name"`
	ServerEnvironment string `json:"server_environment"`
	ContactNames      *bool  `json:"contact_names,omitempty"`
	GroupNaming       string `json:"group_naming,omitempty"`
}

// ShowContactNames defaults to true when unset.
func (c BridgeConfig) ShowContactNames() bool {
	return c.ContactNames == nil || *c.ContactNames
}

// SignalCLIConfig points at a running signal-cli JSON-RPC daemon.
type SignalCLIConfig struct {
	Network            string `json:"network"`
	Address            string `json:"address"`
	DialTimeoutSeconds int    `json:"dial_timeout_seconds"`
}

// TelegramConfig configures the relay host. Messages are forwarded to
// ChatID; commands are accepted from that chat only, and from the senders in
// AllowFrom when it is set.
type TelegramConfig struct {
	Token     string   `json:"token"`
	ChatID    int64    `json:"chat_id"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// MetricsConfig exposes Prometheus metrics when Address is set.
type MetricsConfig struct {
	Address string `json:"address,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "presage-store", Migration: "raise"},
		Bridge: BridgeConfig{
			QueueCapacity:     32,
			DeviceName:        "presagebridge",
			ServerEnvironment: "production",
			GroupNaming:       "title",
		},
		SignalCLI: SignalCLIConfig{
			Network:            "unix",
			Address:            "/run/signal-cli/socket",
			DialTimeoutSeconds: 10,
		},
		Logging: LoggingConfig{Format: "text", Level: "info"},
	}
}

// LoadConfig resolves the config file, applies it over Default and then
// applies environment overrides. A missing file is not an error unless
// PRESAGE_CONFIG names it.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	switch {
	case errors.Is(err, errNoConfig):
	case err != nil:
		return nil, err
	default:
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(content), cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
		cfg.Path = configPath
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if value := strings.TrimSpace(os.Getenv(envStorePath)); value != "" {
		cfg.Store.Path = value
	}
	if value := strings.TrimSpace(os.Getenv(envAccount)); value != "" {
		account, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envAccount, err)
		}
		cfg.Bridge.Account = account
	}
	if value := strings.TrimSpace(os.Getenv(envSignalCLIAddress)); value != "" {
		cfg.SignalCLI.Address = value
	}
	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Telegram.Token = token
	}
	if value := strings.TrimSpace(os.Getenv(envTelegramChatID)); value != "" {
		chatID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envTelegramChatID, err)
		}
		cfg.Telegram.ChatID = chatID
	}
	return nil
}

var errNoConfig = errors.New("config file not found")

// findConfigPath resolves the active config file location.
//
// Precedence is PRESAGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	for _, candidate := range []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errNoConfig
}
