// Package config loads windowchat configuration from built-in defaults, an
// optional TOML file named by WINDOWCHAT_CONFIG, and environment variables,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	ctxpkg "github.com/stupiduntilnot/windowchat/internal/context"
	"github.com/stupiduntilnot/windowchat/internal/control"
	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderDummy  = "dummy"
)

const (
	CommanderTelegram = "telegram"
	CommanderDummy    = "dummy"
)

// Config holds configuration for the chat daemon.
type Config struct {
	Provider              string `toml:"provider"`
	Model                 string `toml:"model"`
	OpenAIURL             string `toml:"openai_url"`
	OpenAIAPIKey          string `toml:"openai_api_key"`
	OllamaURL             string `toml:"ollama_url"`
	DummyScript           string `toml:"dummy_script"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`

	WindowSize      int    `toml:"window_size"`
	Template        string `toml:"template"`
	TemplateFile    string `toml:"template_file"`
	MaxPromptTokens int    `toml:"max_prompt_tokens"`

	Generation modelpkg.GenerationParams `toml:"generation"`

	TurnTimeoutSeconds     int `toml:"turn_timeout_seconds"`
	CircuitThreshold       int `toml:"circuit_threshold"`
	CircuitCooldownSeconds int `toml:"circuit_cooldown_seconds"`

	DBPath     string `toml:"db_path"`
	ListenAddr string `toml:"listen_addr"`
	LogLevel   string `toml:"log_level"`

	Commander            string `toml:"commander"`
	TelegramToken        string `toml:"telegram_token"`
	TelegramAPIBase      string `toml:"telegram_api_base"`
	TelegramPollTimeout  int    `toml:"telegram_poll_timeout"`
	SleepSeconds         int    `toml:"sleep_seconds"`
	DropPending          bool   `toml:"drop_pending"`
	PendingWindowSeconds int64  `toml:"pending_window_seconds"`
	PendingMaxMessages   int    `toml:"pending_max_messages"`
	DummyPollScript      string `toml:"dummy_poll_script"`
	DummySendScript      string `toml:"dummy_send_script"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider:              ProviderOpenAI,
		Model:                 "lightblue/Jamba-v0.1-chat-multilingual",
		OpenAIURL:             "http://127.0.0.1:8000/v1/completions",
		OllamaURL:             "http://127.0.0.1:11434",
		DummyScript:           "echo",
		RequestTimeoutSeconds: 300,
		WindowSize:            3,
		Template:              ctxpkg.DefaultTemplate,
		Generation: modelpkg.GenerationParams{
			MaxNewTokens:      512,
			Temperature:       0.7,
			TopP:              0.95,
			RepetitionPenalty: 1.15,
		},
		TurnTimeoutSeconds:     int(control.DefaultPolicy().MaxWallTime.Seconds()),
		CircuitThreshold:       5,
		CircuitCooldownSeconds: 30,
		DBPath:                 "./windowchat.db",
		ListenAddr:             ":8080",
		LogLevel:               "info",
		Commander:              CommanderTelegram,
		TelegramAPIBase:        "https://api.telegram.org",
		TelegramPollTimeout:    30,
		SleepSeconds:           1,
		DropPending:            true,
		PendingWindowSeconds:   600,
		PendingMaxMessages:     50,
		DummySendScript:        "ok",
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("WINDOWCHAT_CONFIG"); path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if cfg.TemplateFile != "" {
		data, err := os.ReadFile(cfg.TemplateFile)
		if err != nil {
			return Config{}, fmt.Errorf("read template file %s: %w", cfg.TemplateFile, err)
		}
		cfg.Template = string(data)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes a TOML file over cfg. Keys absent from the file keep their
// current values.
func LoadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Provider = envOrDefault("WINDOWCHAT_PROVIDER", cfg.Provider)
	cfg.Model = envOrDefault("WINDOWCHAT_MODEL", cfg.Model)
	cfg.OpenAIURL = envOrDefault("OPENAI_COMPLETIONS_URL", cfg.OpenAIURL)
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OllamaURL = envOrDefault("OLLAMA_URL", cfg.OllamaURL)
	cfg.DummyScript = envOrDefault("WINDOWCHAT_DUMMY_SCRIPT", cfg.DummyScript)
	cfg.RequestTimeoutSeconds = envIntOrDefault("WINDOWCHAT_REQUEST_TIMEOUT_SECONDS", cfg.RequestTimeoutSeconds)

	cfg.WindowSize = envIntOrDefault("WINDOWCHAT_WINDOW_SIZE", cfg.WindowSize)
	cfg.Template = envOrDefault("WINDOWCHAT_TEMPLATE", cfg.Template)
	cfg.TemplateFile = envOrDefault("WINDOWCHAT_TEMPLATE_FILE", cfg.TemplateFile)
	cfg.MaxPromptTokens = envIntOrDefault("WINDOWCHAT_MAX_PROMPT_TOKENS", cfg.MaxPromptTokens)

	cfg.Generation.MaxNewTokens = envIntOrDefault("WINDOWCHAT_MAX_NEW_TOKENS", cfg.Generation.MaxNewTokens)
	cfg.Generation.Temperature = envFloatOrDefault("WINDOWCHAT_TEMPERATURE", cfg.Generation.Temperature)
	cfg.Generation.TopP = envFloatOrDefault("WINDOWCHAT_TOP_P", cfg.Generation.TopP)
	cfg.Generation.RepetitionPenalty = envFloatOrDefault("WINDOWCHAT_REPETITION_PENALTY", cfg.Generation.RepetitionPenalty)

	cfg.TurnTimeoutSeconds = envIntOrDefault("WINDOWCHAT_TURN_TIMEOUT_SECONDS", cfg.TurnTimeoutSeconds)
	cfg.CircuitThreshold = envIntOrDefault("WINDOWCHAT_CIRCUIT_THRESHOLD", cfg.CircuitThreshold)
	cfg.CircuitCooldownSeconds = envIntOrDefault("WINDOWCHAT_CIRCUIT_COOLDOWN_SECONDS", cfg.CircuitCooldownSeconds)

	cfg.DBPath = envOrDefault("WINDOWCHAT_DB_PATH", cfg.DBPath)
	cfg.ListenAddr = envOrDefault("WINDOWCHAT_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = envOrDefault("WINDOWCHAT_LOG_LEVEL", cfg.LogLevel)

	cfg.Commander = envOrDefault("WINDOWCHAT_COMMANDER", cfg.Commander)
	cfg.TelegramToken = envOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramToken)
	cfg.TelegramAPIBase = envOrDefault("TELEGRAM_API_BASE", cfg.TelegramAPIBase)
	cfg.TelegramPollTimeout = envIntOrDefault("TG_TIMEOUT", cfg.TelegramPollTimeout)
	cfg.SleepSeconds = envIntOrDefault("TG_SLEEP_SECONDS", cfg.SleepSeconds)
	cfg.DropPending = envBoolOrDefault("TG_DROP_PENDING", cfg.DropPending)
	cfg.PendingWindowSeconds = int64(envIntOrDefault("TG_PENDING_WINDOW_SECONDS", int(cfg.PendingWindowSeconds)))
	cfg.PendingMaxMessages = envIntOrDefault("TG_PENDING_MAX_MESSAGES", cfg.PendingMaxMessages)
	cfg.DummyPollScript = envOrDefault("WINDOWCHAT_DUMMY_POLL_SCRIPT", cfg.DummyPollScript)
	cfg.DummySendScript = envOrDefault("WINDOWCHAT_DUMMY_SEND_SCRIPT", cfg.DummySendScript)
}

// Validate rejects configurations the daemon cannot run with. Template
// syntax is checked when a session starts, not here.
func (c Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIURL == "" {
			errs = append(errs, errors.New("OPENAI_COMPLETIONS_URL is required when WINDOWCHAT_PROVIDER=openai"))
		}
	case ProviderOllama:
		if c.OllamaURL == "" {
			errs = append(errs, errors.New("OLLAMA_URL is required when WINDOWCHAT_PROVIDER=ollama"))
		}
	case ProviderDummy:
	default:
		errs = append(errs, fmt.Errorf("WINDOWCHAT_PROVIDER must be one of openai, ollama, dummy: got %q", c.Provider))
	}
	if c.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("WINDOWCHAT_WINDOW_SIZE must be >= 0: got %d", c.WindowSize))
	}
	if c.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("WINDOWCHAT_REQUEST_TIMEOUT_SECONDS must be > 0: got %d", c.RequestTimeoutSeconds))
	}
	if c.TurnTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("WINDOWCHAT_TURN_TIMEOUT_SECONDS must be >= 0: got %d", c.TurnTimeoutSeconds))
	}
	if c.MaxPromptTokens < 0 {
		errs = append(errs, fmt.Errorf("WINDOWCHAT_MAX_PROMPT_TOKENS must be >= 0: got %d", c.MaxPromptTokens))
	}
	switch c.Commander {
	case CommanderTelegram, CommanderDummy:
	default:
		errs = append(errs, fmt.Errorf("WINDOWCHAT_COMMANDER must be one of telegram, dummy: got %q", c.Commander))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("WINDOWCHAT_LOG_LEVEL must be one of debug, info, warn, error: got %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// ValidateTelegram checks the settings only the telegram transport needs.
func (c Config) ValidateTelegram() error {
	var errs []error
	if c.Commander == CommanderTelegram && c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required when WINDOWCHAT_COMMANDER=telegram"))
	}
	if c.TelegramPollTimeout < 0 {
		errs = append(errs, fmt.Errorf("TG_TIMEOUT must be >= 0: got %d", c.TelegramPollTimeout))
	}
	if c.SleepSeconds <= 0 {
		errs = append(errs, fmt.Errorf("TG_SLEEP_SECONDS must be > 0: got %d", c.SleepSeconds))
	}
	if c.PendingMaxMessages <= 0 {
		errs = append(errs, fmt.Errorf("TG_PENDING_MAX_MESSAGES must be > 0: got %d", c.PendingMaxMessages))
	}
	return errors.Join(errs...)
}

// TelegramURL returns the bot API base including the token.
func (c Config) TelegramURL() string {
	return fmt.Sprintf("%s/bot%s", strings.TrimRight(c.TelegramAPIBase, "/"), c.TelegramToken)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
