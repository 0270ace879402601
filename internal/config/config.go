// Package config provides application configuration with support for command-line flags, environment variables, and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config holds the application configuration.
type Config struct {
	App           AppConfig
	Logger        LoggerConfig
	Metadata      MetadataConfig
	Library       LibraryConfig
	Server        ServerConfig
	Session       SessionConfig
	Captions      CaptionsConfig
	Transcription TranscriptionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// MetadataConfig holds the data directory layout.
type MetadataConfig struct {
	BasePath string
}

// TranscriptsPath is the badger directory holding transcript chunks.
func (m MetadataConfig) TranscriptsPath() string {
	return filepath.Join(m.BasePath, "transcripts")
}

// CatalogPath is the sqlite file holding books and transcription jobs.
func (m MetadataConfig) CatalogPath() string {
	return filepath.Join(m.BasePath, "catalog.db")
}

// SearchPath is the directory holding the transcript search index.
func (m MetadataConfig) SearchPath() string {
	return filepath.Join(m.BasePath, "search")
}

// CachePath is the scratch directory for extracted audio windows.
func (m MetadataConfig) CachePath() string {
	return filepath.Join(m.BasePath, "cache")
}

// LibraryConfig holds audiobook library configuration.
type LibraryConfig struct {
	AudiobookPath string // Optional
	Watch         bool   // Register new audio files automatically (default: false)
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        // default: 8080
	ReadTimeout    time.Duration // default: 15s
	WriteTimeout   time.Duration // default: 0 (SSE streams stay open)
	IdleTimeout    time.Duration // default: 60s
	AllowedOrigins []string      // CORS origins (default: *)
}

// SessionConfig holds playback session handle configuration.
type SessionConfig struct {
	// Hex-encoded PASETO v4 symmetric key (64 hex chars). Generated when empty.
	TokenKey      string
	TokenDuration time.Duration // default: 24h
}

// CaptionsConfig tunes the caption synchronization controller.
type CaptionsConfig struct {
	Enabled          bool
	DebounceInterval time.Duration // default: 3s
	MaxAttempts      int           // default: 2
	Lookback         time.Duration // default: 60s
	Lookahead        time.Duration // default: 300s
	MatchTolerance   time.Duration // default: 2s
	FetchTimeout     time.Duration // default: 0 (no timeout)
}

// TranscriptionConfig holds speech-to-text configuration.
type TranscriptionConfig struct {
	Enabled           bool
	Backend           string // whisper or openai
	WhisperPath       string // whisper CLI binary (default: auto-detect)
	Model             string
	Language          string        // BCP 47 tag (default: en)
	FFmpegPath        string        // default: auto-detect
	MaxConcurrent     int           // default: 1
	SegmentLength     time.Duration // default: 5m
	OpenAIKey         string
	RequestsPerMinute int // OpenAI throttle (default: 20)
}

// Transcription backends.
const (
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
)

// LoadConfig loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	return load(flag.CommandLine, os.Args[1:])
}

func load(fs *flag.FlagSet, args []string) (*Config, error) {
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	metadataPath := fs.String("metadata-path", "", "Base path for captions data")
	audiobookPath := fs.String("audiobook-path", "", "Path to audiobook library")
	serverPort := fs.String("port", "", "Server port (default: 8080)")
	transcriptionBackend := fs.String("transcription-backend", "", "Transcription backend (whisper, openai)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// A missing .env file is fine; real env vars are never overwritten.
	_ = godotenv.Load(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Metadata: MetadataConfig{
			BasePath: getConfigValue(*metadataPath, "METADATA_PATH", ""),
		},
		Library: LibraryConfig{
			AudiobookPath: getConfigValue(*audiobookPath, "AUDIOBOOK_PATH", ""),
			Watch:         getBoolConfigValue("", "LIBRARY_WATCH", false),
		},
		Server: ServerConfig{
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue("", "SERVER_ALLOWED_ORIGINS", "*")),
		},
		Session: SessionConfig{
			TokenKey: getConfigValue("", "SESSION_TOKEN_KEY", ""),
		},
		Captions: CaptionsConfig{
			Enabled:     getBoolConfigValue("", "CAPTIONS_ENABLED", true),
			MaxAttempts: getIntConfigValue("", "CAPTIONS_MAX_ATTEMPTS", 2),
		},
		Transcription: TranscriptionConfig{
			Enabled:           getBoolConfigValue("", "TRANSCRIPTION_ENABLED", true),
			Backend:           getConfigValue(*transcriptionBackend, "TRANSCRIPTION_BACKEND", BackendWhisper),
			WhisperPath:       getConfigValue("", "WHISPER_PATH", ""),
			Model:             getConfigValue("", "TRANSCRIPTION_MODEL", ""),
			Language:          getConfigValue("", "TRANSCRIPTION_LANGUAGE", "en"),
			FFmpegPath:        getConfigValue("", "FFMPEG_PATH", ""),
			MaxConcurrent:     getIntConfigValue("", "TRANSCRIPTION_MAX_CONCURRENT", 1),
			OpenAIKey:         getConfigValue("", "OPENAI_API_KEY", ""),
			RequestsPerMinute: getIntConfigValue("", "OPENAI_REQUESTS_PER_MINUTE", 20),
		},
	}

	durations := []struct {
		target *time.Duration
		envKey string
		def    string
	}{
		{&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT", "0s"},
		{&cfg.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Session.TokenDuration, "SESSION_TOKEN_DURATION", "24h"},
		{&cfg.Captions.DebounceInterval, "CAPTIONS_DEBOUNCE_INTERVAL", "3s"},
		{&cfg.Captions.Lookback, "CAPTIONS_LOOKBACK", "60s"},
		{&cfg.Captions.Lookahead, "CAPTIONS_LOOKAHEAD", "300s"},
		{&cfg.Captions.MatchTolerance, "CAPTIONS_MATCH_TOLERANCE", "2s"},
		{&cfg.Captions.FetchTimeout, "CAPTIONS_FETCH_TIMEOUT", "0s"},
		{&cfg.Transcription.SegmentLength, "TRANSCRIPTION_SEGMENT_LENGTH", "5m"},
	}
	for _, d := range durations {
		raw := getConfigValue("", d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.target = parsed
	}

	if err := cfg.expandMetadataPath(); err != nil {
		return nil, fmt.Errorf("invalid metadata path: %w", err)
	}
	if err := cfg.expandAudiobookPath(); err != nil {
		return nil, fmt.Errorf("invalid audiobook path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	case "":
		return errors.New("ENV is required")
	default:
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Metadata.BasePath == "" {
		return errors.New("metadata base path cannot be empty after expansion")
	}

	if c.Library.Watch && c.Library.AudiobookPath == "" {
		return errors.New("LIBRARY_WATCH requires AUDIOBOOK_PATH")
	}

	if c.Captions.DebounceInterval < 0 || c.Captions.Lookback < 0 || c.Captions.FetchTimeout < 0 {
		return errors.New("caption intervals must not be negative")
	}
	if c.Captions.Lookahead <= 0 || c.Captions.MatchTolerance <= 0 {
		return errors.New("caption lookahead and match tolerance must be positive")
	}
	if c.Captions.MaxAttempts < 1 {
		return fmt.Errorf("invalid CAPTIONS_MAX_ATTEMPTS: %d (must be at least 1)", c.Captions.MaxAttempts)
	}

	switch c.Transcription.Backend {
	case BackendWhisper:
	case BackendOpenAI:
		if c.Transcription.Enabled && c.Transcription.OpenAIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai backend")
		}
	default:
		return fmt.Errorf("invalid transcription backend: %s (must be whisper or openai)", c.Transcription.Backend)
	}

	if _, err := language.Parse(c.Transcription.Language); err != nil {
		return fmt.Errorf("invalid transcription language %q: %w", c.Transcription.Language, err)
	}
	if c.Transcription.MaxConcurrent < 1 {
		return fmt.Errorf("invalid TRANSCRIPTION_MAX_CONCURRENT: %d", c.Transcription.MaxConcurrent)
	}
	if c.Transcription.SegmentLength < 10*time.Second {
		return fmt.Errorf("TRANSCRIPTION_SEGMENT_LENGTH too short: %s", c.Transcription.SegmentLength)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned as-is.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandMetadataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	expanded, err := expandPath(c.Metadata.BasePath, filepath.Join(homeDir, "ListenUp", "captions"))
	if err != nil {
		return err
	}
	c.Metadata.BasePath = expanded
	return nil
}

func (c *Config) expandAudiobookPath() error {
	if c.Library.AudiobookPath == "" {
		return nil
	}
	expanded, err := expandPath(c.Library.AudiobookPath, "")
	if err != nil {
		return err
	}
	c.Library.AudiobookPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue accepts "true", "1", "yes" (case-insensitive) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
