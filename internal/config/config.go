package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/doobs/internal/recognition"
)

// EnvPrefix is the namespace prefix for all Doobs environment variables.
const EnvPrefix = "DOOBS_"

const (
	defaultNoSpeechTimeout   = 8 * time.Second
	defaultRestartDelay      = 100 * time.Millisecond
	defaultRestartMaxDelay   = 5 * time.Second
	defaultRestartResetAfter = 3 * time.Second
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr     string `yaml:"listen_addr"`
	LogLevel       string `yaml:"log_level"`
	Locale         string `yaml:"locale"`
	JournalPath    string `yaml:"journal_path"`
	JournalKeep    int    `yaml:"journal_keep"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	DeepgramModel       string `yaml:"deepgram_model"`
	DeepgramSmartFormat bool   `yaml:"deepgram_smart_format"`
	MicSampleRate       int    `yaml:"mic_sample_rate"`
	MicSampleRates      []int  `yaml:"mic_sample_rates"`
	NoSpeechTimeout     string `yaml:"no_speech_timeout"`

	RestartOnEnd       bool   `yaml:"restart_on_end"`
	RestartOnNoSpeech  bool   `yaml:"restart_on_no_speech"`
	RestartDelay       string `yaml:"restart_delay"`
	RestartMaxDelay    string `yaml:"restart_max_delay"`
	RestartMaxAttempts int    `yaml:"restart_max_attempts"`
	RestartResetAfter  string `yaml:"restart_reset_after"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:          "127.0.0.1:8080",
		LogLevel:            "info",
		Locale:              recognition.DefaultLocale,
		JournalPath:         "data/doobs.db",
		JournalKeep:         1000,
		MetricsEnabled:      true,
		DeepgramModel:       "nova-2",
		DeepgramSmartFormat: true,
		MicSampleRate:       16000,
		MicSampleRates:      []int{48000, 44100, 32000, 24000},
		NoSpeechTimeout:     "8s",
		RestartOnEnd:        true,
		RestartOnNoSpeech:   true,
		RestartDelay:        "100ms",
		RestartMaxDelay:     "5s",
		RestartMaxAttempts:  5,
		RestartResetAfter:   "3s",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// Settings returns the recognition settings for the configured locale.
func (c *Config) Settings() recognition.Settings {
	return recognition.DefaultSettings(c.Locale)
}

// ParsedNoSpeechTimeout returns NoSpeechTimeout as a time.Duration,
// falling back to 8s if the value is invalid.
func (c *Config) ParsedNoSpeechTimeout() time.Duration {
	return parseDuration(c.NoSpeechTimeout, defaultNoSpeechTimeout)
}

// RestartPolicy builds the automatic restart policy.
func (c *Config) RestartPolicy() recognition.RestartPolicy {
	return recognition.RestartPolicy{
		OnEnd:       c.RestartOnEnd,
		OnNoSpeech:  c.RestartOnNoSpeech,
		Delay:       parseDuration(c.RestartDelay, defaultRestartDelay),
		MaxDelay:    parseDuration(c.RestartMaxDelay, defaultRestartMaxDelay),
		MaxAttempts: c.RestartMaxAttempts,
		ResetAfter:  parseDuration(c.RestartResetAfter, defaultRestartResetAfter),
	}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	level, ok := parseLevel(c.LogLevel)
	if !ok {
		return slog.LevelInfo
	}
	return level
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Locale, "LOCALE")
	setString(&cfg.JournalPath, "JOURNAL_PATH")
	setInt(&cfg.JournalKeep, "JOURNAL_KEEP")
	setBool(&cfg.MetricsEnabled, "METRICS_ENABLED")
	setString(&cfg.DeepgramModel, "DEEPGRAM_MODEL")
	setBool(&cfg.DeepgramSmartFormat, "DEEPGRAM_SMART_FORMAT")
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	setString(&cfg.NoSpeechTimeout, "NO_SPEECH_TIMEOUT")
	setBool(&cfg.RestartOnEnd, "RESTART_ON_END")
	setBool(&cfg.RestartOnNoSpeech, "RESTART_ON_NO_SPEECH")
	setString(&cfg.RestartDelay, "RESTART_DELAY")
	setString(&cfg.RestartMaxDelay, "RESTART_MAX_DELAY")
	setInt(&cfg.RestartMaxAttempts, "RESTART_MAX_ATTEMPTS")
	setString(&cfg.RestartResetAfter, "RESTART_RESET_AFTER")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured; speech recognition is unavailable. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		warnings = append(warnings, fmt.Sprintf("Invalid log_level %q; using info.", cfg.LogLevel))
	}
	durations := []struct {
		key, value string
		fallback   time.Duration
	}{
		{"no_speech_timeout", cfg.NoSpeechTimeout, defaultNoSpeechTimeout},
		{"restart_delay", cfg.RestartDelay, defaultRestartDelay},
		{"restart_max_delay", cfg.RestartMaxDelay, defaultRestartMaxDelay},
		{"restart_reset_after", cfg.RestartResetAfter, defaultRestartResetAfter},
	}
	for _, d := range durations {
		if parsed, err := time.ParseDuration(d.value); err != nil || parsed <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q; using default %s.", d.key, d.value, d.fallback))
		}
	}
	if cfg.RestartMaxAttempts < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid restart_max_attempts %d; using default.", cfg.RestartMaxAttempts))
	}
	if strings.TrimSpace(cfg.Locale) == "" {
		cfg.Locale = recognition.DefaultLocale
	}

	return warnings
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseLevel(raw string) (slog.Level, bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, false
	}
	return level, true
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
