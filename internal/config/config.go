package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds runtime configuration. Secrets (API key, JWT secret) are read
// from the environment or from the config dir at runtime; never committed.
type Config struct {
	// OpenRouterAPIKey is set from env OPENROUTER_API_KEY or from config file.
	OpenRouterAPIKey string `json:"open_router_api_key"`
	// Model is the OpenRouter model id (e.g. openai/gpt-4o).
	Model string `json:"model"`
	// ListenAddr is the HTTP listen address (default :8080).
	ListenAddr string `json:"listen_addr"`
	// JWTSecret signs and verifies bearer tokens. Required for auth.
	JWTSecret string `json:"jwt_secret"`

	// ConfigDir is where config.json lives (e.g. ~/.config/taskchat or .taskchat).
	ConfigDir string `json:"-"` // set at runtime
	// DBPath is the path to taskchat.db.
	DBPath string `json:"-"`

	// MaxTurns bounds model round-trips per chat request (default 10).
	MaxTurns int `json:"max_turns"`
	// HistoryLimit is how many persisted messages are replayed into the model context (default 50).
	HistoryLimit int `json:"history_limit"`
	// ToolOutputMaxRunes caps tool result length fed back to the model (0 = no truncation).
	ToolOutputMaxRunes int `json:"tool_output_max_runes"`
}

// DefaultConfigDir returns the default config directory (project-local .taskchat if present, else ~/.config/taskchat).
func DefaultConfigDir() string {
	cwd, _ := os.Getwd()
	local := filepath.Join(cwd, ".taskchat")
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskchat")
}

// New builds config from env and optional config dir. ConfigDir can be empty to use default.
// In Docker, set TASKCHAT_CONFIG_DIR to a mounted path so the database persists.
func New(configDir string) *Config {
	if configDir == "" {
		if d := os.Getenv("TASKCHAT_CONFIG_DIR"); d != "" {
			configDir = d
		} else {
			configDir = DefaultConfigDir()
		}
	}

	cfg := &Config{
		OpenRouterAPIKey:   os.Getenv("OPENROUTER_API_KEY"),
		Model:              os.Getenv("TASKCHAT_MODEL"),
		ListenAddr:         os.Getenv("TASKCHAT_LISTEN_ADDR"),
		JWTSecret:          os.Getenv("TASKCHAT_JWT_SECRET"),
		ConfigDir:          configDir,
		DBPath:             filepath.Join(configDir, "taskchat.db"),
		MaxTurns:           envInt("TASKCHAT_MAX_TURNS", 10),
		HistoryLimit:       envInt("TASKCHAT_HISTORY_LIMIT", 50),
		ToolOutputMaxRunes: envInt("TASKCHAT_TOOL_OUTPUT_MAX_RUNES", 0),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	// Priority: env < config file. Keys present in config.json overwrite env values;
	// missing keys leave the env-derived fields untouched.
	configPath := filepath.Join(configDir, "config.json")
	if data, err := os.ReadFile(configPath); err == nil {
		_ = json.Unmarshal(data, cfg)
	}

	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return cfg
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
