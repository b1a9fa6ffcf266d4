package main

import (
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < .env file < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db" env:"DB"`     // database connection string
	Dev  bool   `json:"dev" env:"DEV"`   // dev mode: verbose logging, db dumps on errors
	Addr string `json:"addr" env:"ADDR"` // HTTP listen address

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir" env:"LOG_OUTPUT_DIR"`
	LogRequests  bool   `json:"log_requests" env:"LOG_REQUESTS"`
	LogDB        bool   `json:"log_db" env:"LOG_DB"`
	LogWS        bool   `json:"log_ws" env:"LOG_WS"`
	LogDebug     bool   `json:"log_debug" env:"LOG_DEBUG"`

	// Player decisions. Used when a session carries no credentials of its own.
	DecisionProvider    string        `json:"decision_provider" env:"DECISION_PROVIDER"`       // openai-compatible | openai | claude | gemini | groq | ollama
	DecisionURL         string        `json:"decision_url" env:"DECISION_URL"`                 // upstream base URL
	DecisionAPIKey      string        `json:"decision_api_key" env:"DECISION_API_KEY"`         // bearer credential
	DecisionTimeout     time.Duration `json:"decision_timeout" env:"DECISION_TIMEOUT"`         // per-call timeout
	DecisionTemperature string        `json:"decision_temperature" env:"DECISION_TEMPERATURE"` // float 0-2 as string
	DecisionHistory     int           `json:"decision_history" env:"DECISION_HISTORY"`         // prior messages sent per call
	Seed                uint64        `json:"seed" env:"SEED"`                                 // fallback randomizer seed, 0 = random

	// AI Storyteller
	StorytellerProvider    string `json:"storyteller_provider" env:"STORYTELLER_PROVIDER"`       // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string `json:"storyteller_model" env:"STORYTELLER_MODEL"`             // model name
	StorytellerOllamaURL   string `json:"storyteller_ollama_url" env:"STORYTELLER_OLLAMA_URL"`   // Ollama server URL
	StorytellerURL         string `json:"storyteller_url" env:"STORYTELLER_URL"`                 // base URL for openai-compatible
	StorytellerAPIKey      string `json:"storyteller_api_key" env:"STORYTELLER_API_KEY"`         // API key for openai-compatible
	StorytellerTemperature string `json:"storyteller_temperature" env:"STORYTELLER_TEMPERATURE"` // float 0-1 as string
	StorytellerThinking    string `json:"storyteller_thinking" env:"STORYTELLER_THINKING"`       // none | low | medium | high | auto
	GroqAPIKey             string `json:"groq_api_key" env:"GROQ_API_KEY"`                       // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

func defaultConfig() AppConfig {
	return AppConfig{
		DB:                   "file::memory:?cache=shared",
		Addr:                 ":8080",
		DecisionProvider:     providerOpenAICompatible,
		DecisionTimeout:      60 * time.Second,
		DecisionHistory:      10,
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → .env → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(envPath, configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: .env file, never overriding variables already in the environment
	if err := godotenv.Load(envPath); err == nil {
		log.Printf("Config: loaded environment from %s", envPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Config: failed to read %s: %v", envPath, err)
	}

	// Layer 2: env vars. Unset variables leave the defaults alone.
	if err := env.Parse(&cfg); err != nil {
		log.Printf("Config: failed to parse environment: %v", err)
	}

	// Layer 3: JSON config file. Only fields present in the file override env vars.
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	duration := func(key string, dst *time.Duration) {
		var s string
		str(key, &s)
		if s == "" {
			return
		}
		if d, err := time.ParseDuration(s); err == nil {
			*dst = d
		} else {
			log.Printf("Config: invalid %s %q: %v", key, s, err)
		}
	}
	str("db", &cfg.DB)
	boolean("dev", &cfg.Dev)
	str("addr", &cfg.Addr)
	str("log_output_dir", &cfg.LogOutputDir)
	boolean("log_requests", &cfg.LogRequests)
	boolean("log_db", &cfg.LogDB)
	boolean("log_ws", &cfg.LogWS)
	boolean("log_debug", &cfg.LogDebug)
	str("decision_provider", &cfg.DecisionProvider)
	str("decision_url", &cfg.DecisionURL)
	str("decision_api_key", &cfg.DecisionAPIKey)
	duration("decision_timeout", &cfg.DecisionTimeout)
	str("decision_temperature", &cfg.DecisionTemperature)
	integer("decision_history", &cfg.DecisionHistory)
	if v, ok := m["seed"]; ok {
		json.Unmarshal(v, &cfg.Seed)
	}
	str("storyteller_provider", &cfg.StorytellerProvider)
	str("storyteller_model", &cfg.StorytellerModel)
	str("storyteller_ollama_url", &cfg.StorytellerOllamaURL)
	str("storyteller_url", &cfg.StorytellerURL)
	str("storyteller_api_key", &cfg.StorytellerAPIKey)
	str("storyteller_temperature", &cfg.StorytellerTemperature)
	str("storyteller_thinking", &cfg.StorytellerThinking)
	str("groq_api_key", &cfg.GroqAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	envPath                *string
	configPath             *string
	db                     *string
	dev                    *bool
	addr                   *string
	logOutputDir           *string
	logRequests            *bool
	logDB                  *bool
	logWS                  *bool
	logDebug               *bool
	decisionProvider       *string
	decisionURL            *string
	decisionAPIKey         *string
	decisionTimeout        *time.Duration
	decisionTemperature    *string
	decisionHistory        *int
	seed                   *uint64
	storytellerProvider    *string
	storytellerModel       *string
	storytellerOllamaURL   *string
	storytellerURL         *string
	storytellerAPIKey      *string
	storytellerTemperature *string
	storytellerThinking    *string
	groqAPIKey             *string
}

// registerFlags registers all CLI flags on fs and returns pointers to their values.
// Call fs.Parse after this, then applyTo to layer them over the loaded config.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		envPath:                fs.String("env", ".env", "path to .env file"),
		configPath:             fs.String("config", "config.json", "path to JSON config file"),
		db:                     fs.String("db", "", "database connection string"),
		dev:                    fs.Bool("dev", false, "enable development mode (verbose logging, db dumps on error)"),
		addr:                   fs.String("addr", "", "HTTP listen address (e.g. :8080)"),
		logOutputDir:           fs.String("log-output-dir", "", "directory for extended log files"),
		logRequests:            fs.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:                  fs.Bool("log-db", false, "log database dumps"),
		logWS:                  fs.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:               fs.Bool("log-debug", false, "enable debug logging"),
		decisionProvider:       fs.String("decision-provider", "", "provider for player decisions (openai-compatible|openai|claude|gemini|groq|ollama)"),
		decisionURL:            fs.String("decision-url", "", "base URL for player decisions"),
		decisionAPIKey:         fs.String("decision-api-key", "", "API key for player decisions"),
		decisionTimeout:        fs.Duration("decision-timeout", 0, "timeout of one decision call"),
		decisionTemperature:    fs.String("decision-temperature", "", "sampling temperature for decisions"),
		decisionHistory:        fs.Int("decision-history", 0, "prior messages sent with each decision call"),
		seed:                   fs.Uint64("seed", 0, "fallback randomizer seed (0 = random)"),
		storytellerProvider:    fs.String("storyteller-provider", "", "AI storyteller provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		storytellerModel:       fs.String("storyteller-model", "", "AI storyteller model name"),
		storytellerOllamaURL:   fs.String("storyteller-ollama-url", "", "Ollama server URL"),
		storytellerURL:         fs.String("storyteller-url", "", "base URL for openai-compatible provider"),
		storytellerAPIKey:      fs.String("storyteller-api-key", "", "API key for storyteller provider"),
		storytellerTemperature: fs.String("storyteller-temperature", "", "sampling temperature 0-1"),
		storytellerThinking:    fs.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:             fs.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(fs *flag.FlagSet, cfg *AppConfig) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "decision-provider":
			cfg.DecisionProvider = *fv.decisionProvider
		case "decision-url":
			cfg.DecisionURL = *fv.decisionURL
		case "decision-api-key":
			cfg.DecisionAPIKey = *fv.decisionAPIKey
		case "decision-timeout":
			cfg.DecisionTimeout = *fv.decisionTimeout
		case "decision-temperature":
			cfg.DecisionTemperature = *fv.decisionTemperature
		case "decision-history":
			cfg.DecisionHistory = *fv.decisionHistory
		case "seed":
			cfg.Seed = *fv.seed
		case "storyteller-provider":
			cfg.StorytellerProvider = *fv.storytellerProvider
		case "storyteller-model":
			cfg.StorytellerModel = *fv.storytellerModel
		case "storyteller-ollama-url":
			cfg.StorytellerOllamaURL = *fv.storytellerOllamaURL
		case "storyteller-url":
			cfg.StorytellerURL = *fv.storytellerURL
		case "storyteller-api-key":
			cfg.StorytellerAPIKey = *fv.storytellerAPIKey
		case "storyteller-temperature":
			cfg.StorytellerTemperature = *fv.storytellerTemperature
		case "storyteller-thinking":
			cfg.StorytellerThinking = *fv.storytellerThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
