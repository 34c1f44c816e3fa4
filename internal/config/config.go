package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for ShopAssist.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Completion CompletionConfig `json:"completion"`
	Catalog    CatalogConfig    `json:"catalog"`
	Cart       CartConfig       `json:"cart"`
	Speech     SpeechConfig     `json:"speech"`
	History    HistoryConfig    `json:"history"`
	Flow       FlowConfig       `json:"flow"`
	Assistant  AssistantConfig  `json:"assistant"`
	Channel    ChannelConfig    `json:"channel"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	StoreName string `json:"storeName"`
}

// CompletionConfig configures the remote generation endpoint (OpenAI-compatible).
type CompletionConfig struct {
	Enabled     bool    `json:"enabled"`
	APIBase     string  `json:"apiBase"`
	APIKey      string  `json:"apiKey,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type CatalogConfig struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey,omitempty"`
}

type CartConfig struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey,omitempty"`
}

// SpeechConfig configures the capture (transcription) and synthesis backends.
type SpeechConfig struct {
	Enabled        bool   `json:"enabled"`
	CaptureAPIBase string `json:"captureApiBase,omitempty"`
	CaptureAPIKey  string `json:"captureApiKey,omitempty"`
	CaptureModel   string `json:"captureModel,omitempty"`
	SynthAPIBase   string `json:"synthApiBase,omitempty"`
	SynthAPIKey    string `json:"synthApiKey,omitempty"`
	SynthModel     string `json:"synthModel,omitempty"`
}

type HistoryConfig struct {
	DBPath string `json:"dbPath"`
}

// FlowConfig points at the category vocabulary file. Empty means built-in
// defaults.
type FlowConfig struct {
	VocabularyPath string `json:"vocabularyPath,omitempty"`
}

// AssistantConfig tunes orchestrator and dispatcher behavior.
type AssistantConfig struct {
	MaxCandidates      int     `json:"maxCandidates"`
	SuggestionChance   float64 `json:"suggestionChance"`   // probability of a delayed suggestion after showProduct/addToCart
	SuggestionDelayMs  int     `json:"suggestionDelayMs"`  // delay before a scheduled suggestion fires
	HistoryLimit       int     `json:"historyLimit"`       // messages of context per completion call
	RateLimitPerMinute float64 `json:"rateLimitPerMinute"` // completion call budget
	RateLimitBurst     int     `json:"rateLimitBurst"`
}

type ChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.shopassist).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopassist"
	}
	return filepath.Join(home, ".shopassist")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Flow.VocabularyPath = ExpandPath(cfg.Flow.VocabularyPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Assistant.MaxCandidates < 1 || cfg.Assistant.MaxCandidates > 50 {
		errs = append(errs, "assistant.maxCandidates must be between 1 and 50")
	}
	if cfg.Assistant.SuggestionChance < 0 || cfg.Assistant.SuggestionChance > 1 {
		errs = append(errs, "assistant.suggestionChance must be between 0 and 1")
	}
	if cfg.Assistant.HistoryLimit < 1 {
		errs = append(errs, "assistant.historyLimit must be >= 1")
	}
	if cfg.Channel.Port < 0 || cfg.Channel.Port > 65535 {
		errs = append(errs, "channel.port must be between 0 and 65535")
	}
	if cfg.Completion.Enabled && cfg.Completion.APIBase == "" {
		errs = append(errs, "completion.apiBase is required when completion is enabled")
	}
	if cfg.Completion.MaxTokens < 1 {
		errs = append(errs, "completion.maxTokens must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
