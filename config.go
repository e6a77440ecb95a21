package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"
	"time"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB   string `json:"db"`   // database connection string
	Dev  bool   `json:"dev"`  // dev mode: verbose logging
	Addr string `json:"addr"` // HTTP listen address

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogRequests  bool   `json:"log_requests"`
	LogWS        bool   `json:"log_ws"`
	LogGame      bool   `json:"log_game"`
	LogDebug     bool   `json:"log_debug"`

	// Phase deadlines, in seconds
	NightSeconds  int `json:"night_seconds"`
	VoteSeconds   int `json:"vote_seconds"`
	SpeechSeconds int `json:"speech_seconds"`
	HunterSeconds int `json:"hunter_seconds"`

	// Default role makeup; remaining seats become villagers
	Werewolves int `json:"werewolves"`
	Seers      int `json:"seers"`
	Witches    int `json:"witches"`
	Hunters    int `json:"hunters"`

	// AI behaviour
	AIMinDelayMS int `json:"ai_min_delay_ms"`
	AIMaxDelayMS int `json:"ai_max_delay_ms"`

	// RandomSeed makes role shuffles reproducible; 0 seeds from the clock
	RandomSeed int64 `json:"random_seed"`

	// Stale-room sweeper
	SweepSchedule  string `json:"sweep_schedule"`   // cron spec, empty disables
	RoomTTLMinutes int    `json:"room_ttl_minutes"` // idle minutes before an ended room is swept

	// AI Narrator
	NarratorProvider    string `json:"narrator_provider"`    // ollama | openai | claude | openai-compatible
	NarratorModel       string `json:"narrator_model"`       // model name
	NarratorOllamaURL   string `json:"narrator_ollama_url"`  // Ollama server URL
	NarratorURL         string `json:"narrator_url"`         // base URL for openai-compatible
	NarratorAPIKey      string `json:"narrator_api_key"`     // API key for openai-compatible
	NarratorTemperature string `json:"narrator_temperature"` // float 0-1 as string
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogWS:       cfg.LogWS,
		LogGame:     cfg.LogGame,
		Debug:       cfg.LogDebug,
	}
}

func (cfg AppConfig) nightTimeout() time.Duration {
	return time.Duration(cfg.NightSeconds) * time.Second
}

func (cfg AppConfig) voteTimeout() time.Duration {
	return time.Duration(cfg.VoteSeconds) * time.Second
}

func (cfg AppConfig) speechTimeout() time.Duration {
	return time.Duration(cfg.SpeechSeconds) * time.Second
}

func (cfg AppConfig) hunterTimeout() time.Duration {
	return time.Duration(cfg.HunterSeconds) * time.Second
}

func (cfg AppConfig) roleCounts() RoleCounts {
	return RoleCounts{
		Werewolves: cfg.Werewolves,
		Seers:      cfg.Seers,
		Witches:    cfg.Witches,
		Hunters:    cfg.Hunters,
	}
}

func (cfg AppConfig) aiDelayRange() (time.Duration, time.Duration) {
	return time.Duration(cfg.AIMinDelayMS) * time.Millisecond,
		time.Duration(cfg.AIMaxDelayMS) * time.Millisecond
}

func defaultConfig() AppConfig {
	return AppConfig{
		DB:                "file::memory:?cache=shared",
		Addr:              ":8080",
		NightSeconds:      120,
		VoteSeconds:       60,
		SpeechSeconds:     300,
		HunterSeconds:     30,
		Werewolves:        3,
		Seers:             1,
		Witches:           1,
		Hunters:           0,
		AIMinDelayMS:      500,
		AIMaxDelayMS:      2500,
		SweepSchedule:     "@every 10m",
		RoomTTLMinutes:    60,
		NarratorOllamaURL: "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: env vars
	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_REQUESTS"); ok {
		cfg.LogRequests = v
	}
	if v, ok := envBool("LOG_WS"); ok {
		cfg.LogWS = v
	}
	if v, ok := envBool("LOG_GAME"); ok {
		cfg.LogGame = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	envInt("NIGHT_SECONDS", &cfg.NightSeconds)
	envInt("VOTE_SECONDS", &cfg.VoteSeconds)
	envInt("SPEECH_SECONDS", &cfg.SpeechSeconds)
	envInt("HUNTER_SECONDS", &cfg.HunterSeconds)
	if v := envStr("SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}
	envInt("ROOM_TTL_MINUTES", &cfg.RoomTTLMinutes)
	if v := envStr("NARRATOR_PROVIDER"); v != "" {
		cfg.NarratorProvider = v
	}
	if v := envStr("NARRATOR_MODEL"); v != "" {
		cfg.NarratorModel = v
	}
	if v := envStr("NARRATOR_OLLAMA_URL"); v != "" {
		cfg.NarratorOllamaURL = v
	}
	if v := envStr("NARRATOR_URL"); v != "" {
		cfg.NarratorURL = v
	}
	if v := envStr("NARRATOR_API_KEY"); v != "" {
		cfg.NarratorAPIKey = v
	}
	if v := envStr("NARRATOR_TEMPERATURE"); v != "" {
		cfg.NarratorTemperature = v
	}

	// Layer 2: JSON config file — only fields present in the file override env vars
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
	str("db", &cfg.DB)
	boolean("dev", &cfg.Dev)
	str("addr", &cfg.Addr)
	str("log_output_dir", &cfg.LogOutputDir)
	boolean("log_requests", &cfg.LogRequests)
	boolean("log_ws", &cfg.LogWS)
	boolean("log_game", &cfg.LogGame)
	boolean("log_debug", &cfg.LogDebug)
	integer("night_seconds", &cfg.NightSeconds)
	integer("vote_seconds", &cfg.VoteSeconds)
	integer("speech_seconds", &cfg.SpeechSeconds)
	integer("hunter_seconds", &cfg.HunterSeconds)
	integer("werewolves", &cfg.Werewolves)
	integer("seers", &cfg.Seers)
	integer("witches", &cfg.Witches)
	integer("hunters", &cfg.Hunters)
	integer("ai_min_delay_ms", &cfg.AIMinDelayMS)
	integer("ai_max_delay_ms", &cfg.AIMaxDelayMS)
	if v, ok := m["random_seed"]; ok {
		json.Unmarshal(v, &cfg.RandomSeed)
	}
	str("sweep_schedule", &cfg.SweepSchedule)
	integer("room_ttl_minutes", &cfg.RoomTTLMinutes)
	str("narrator_provider", &cfg.NarratorProvider)
	str("narrator_model", &cfg.NarratorModel)
	str("narrator_ollama_url", &cfg.NarratorOllamaURL)
	str("narrator_url", &cfg.NarratorURL)
	str("narrator_api_key", &cfg.NarratorAPIKey)
	str("narrator_temperature", &cfg.NarratorTemperature)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath          *string
	db                  *string
	dev                 *bool
	addr                *string
	logOutputDir        *string
	logRequests         *bool
	logWS               *bool
	logGame             *bool
	logDebug            *bool
	nightSeconds        *int
	voteSeconds         *int
	speechSeconds       *int
	hunterSeconds       *int
	sweepSchedule       *string
	roomTTLMinutes      *int
	narratorProvider    *string
	narratorModel       *string
	narratorOllamaURL   *string
	narratorURL         *string
	narratorAPIKey      *string
	narratorTemperature *string
}

// registerFlags registers all CLI flags and returns pointers to their values.
// Call flag.Parse() after this, then applyTo to layer them over the loaded config.
func registerFlags() flagValues {
	return flagValues{
		configPath:          flag.String("config", "config.json", "path to JSON config file"),
		db:                  flag.String("db", "", "database connection string"),
		dev:                 flag.Bool("dev", false, "enable development mode (verbose logging)"),
		addr:                flag.String("addr", "", "HTTP listen address (e.g. :8080)"),
		logOutputDir:        flag.String("log-output-dir", "", "directory for extended log files"),
		logRequests:         flag.Bool("log-requests", false, "log HTTP requests and responses"),
		logWS:               flag.Bool("log-ws", false, "log WebSocket messages"),
		logGame:             flag.Bool("log-game", false, "log game-flow events"),
		logDebug:            flag.Bool("log-debug", false, "enable debug logging"),
		nightSeconds:        flag.Int("night-seconds", 0, "night phase deadline in seconds"),
		voteSeconds:         flag.Int("vote-seconds", 0, "vote phase deadline in seconds"),
		speechSeconds:       flag.Int("speech-seconds", 0, "per-speaker deadline in seconds"),
		hunterSeconds:       flag.Int("hunter-seconds", 0, "hunter revenge deadline in seconds"),
		sweepSchedule:       flag.String("sweep-schedule", "", "cron spec for the stale-room sweeper"),
		roomTTLMinutes:      flag.Int("room-ttl-minutes", 0, "idle minutes before an ended room is swept"),
		narratorProvider:    flag.String("narrator-provider", "", "AI narrator provider (ollama|openai|claude|openai-compatible)"),
		narratorModel:       flag.String("narrator-model", "", "AI narrator model name"),
		narratorOllamaURL:   flag.String("narrator-ollama-url", "", "Ollama server URL"),
		narratorURL:         flag.String("narrator-url", "", "base URL for openai-compatible provider"),
		narratorAPIKey:      flag.String("narrator-api-key", "", "API key for narrator provider"),
		narratorTemperature: flag.String("narrator-temperature", "", "sampling temperature 0-1"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(cfg *AppConfig) {
	flag.Visit(func(f *flag.Flag) {
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
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-game":
			cfg.LogGame = *fv.logGame
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "night-seconds":
			cfg.NightSeconds = *fv.nightSeconds
		case "vote-seconds":
			cfg.VoteSeconds = *fv.voteSeconds
		case "speech-seconds":
			cfg.SpeechSeconds = *fv.speechSeconds
		case "hunter-seconds":
			cfg.HunterSeconds = *fv.hunterSeconds
		case "sweep-schedule":
			cfg.SweepSchedule = *fv.sweepSchedule
		case "room-ttl-minutes":
			cfg.RoomTTLMinutes = *fv.roomTTLMinutes
		case "narrator-provider":
			cfg.NarratorProvider = *fv.narratorProvider
		case "narrator-model":
			cfg.NarratorModel = *fv.narratorModel
		case "narrator-ollama-url":
			cfg.NarratorOllamaURL = *fv.narratorOllamaURL
		case "narrator-url":
			cfg.NarratorURL = *fv.narratorURL
		case "narrator-api-key":
			cfg.NarratorAPIKey = *fv.narratorAPIKey
		case "narrator-temperature":
			cfg.NarratorTemperature = *fv.narratorTemperature
		}
	})
}
