package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/doobs/internal/recognition"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "LOG_LEVEL", "LOCALE", "JOURNAL_PATH", "JOURNAL_KEEP",
		"METRICS_ENABLED", "DEEPGRAM_MODEL", "DEEPGRAM_SMART_FORMAT",
		"MIC_SAMPLE_RATE", "MIC_SAMPLE_RATES", "NO_SPEECH_TIMEOUT",
		"RESTART_ON_END", "RESTART_ON_NO_SPEECH", "RESTART_DELAY",
		"RESTART_MAX_DELAY", "RESTART_MAX_ATTEMPTS", "DEEPGRAM_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.Locale != "en-US" {
		t.Fatalf("expected default locale, got %q", cfg.Locale)
	}
	if cfg.JournalPath != "data/doobs.db" {
		t.Fatalf("expected default journal_path, got %q", cfg.JournalPath)
	}
	if !cfg.MetricsEnabled {
		t.Fatal("expected metrics enabled by default")
	}
	if cfg.ParsedNoSpeechTimeout() != 8*time.Second {
		t.Fatalf("expected default no_speech_timeout 8s, got %v", cfg.ParsedNoSpeechTimeout())
	}

	policy := cfg.RestartPolicy()
	want := recognition.RestartPolicy{
		OnEnd:       true,
		OnNoSpeech:  true,
		Delay:       100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 5,
		ResetAfter:  3 * time.Second,
	}
	if policy != want {
		t.Fatalf("unexpected default restart policy: got=%+v want=%+v", policy, want)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
listen_addr: 127.0.0.1:9000
log_level: debug
locale: de-DE
journal_path: /custom/journal.db
journal_keep: 50
metrics_enabled: false
deepgram_model: nova-3
deepgram_smart_format: false
mic_sample_rate: 48000
mic_sample_rates: [44100, 32000]
no_speech_timeout: 12s
restart_on_end: false
restart_delay: 250ms
restart_max_attempts: 2
restart_reset_after: 10s
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("expected yaml listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.SlogLevel())
	}
	if cfg.Settings().Locale != "de-DE" {
		t.Fatalf("expected yaml locale in settings, got %q", cfg.Settings().Locale)
	}
	if cfg.JournalPath != "/custom/journal.db" || cfg.JournalKeep != 50 {
		t.Fatalf("expected yaml journal settings, got %q/%d", cfg.JournalPath, cfg.JournalKeep)
	}
	if cfg.MetricsEnabled {
		t.Fatal("expected yaml to disable metrics")
	}
	if cfg.DeepgramModel != "nova-3" || cfg.DeepgramSmartFormat {
		t.Fatalf("expected yaml deepgram settings, got %q/%v", cfg.DeepgramModel, cfg.DeepgramSmartFormat)
	}
	if !reflect.DeepEqual(cfg.MicSampleRates, []int{44100, 32000}) {
		t.Fatalf("expected yaml mic_sample_rates, got %v", cfg.MicSampleRates)
	}
	if cfg.ParsedNoSpeechTimeout() != 12*time.Second {
		t.Fatalf("expected yaml no_speech_timeout, got %v", cfg.ParsedNoSpeechTimeout())
	}

	policy := cfg.RestartPolicy()
	if policy.OnEnd || !policy.OnNoSpeech {
		t.Fatalf("expected restart on no-speech only, got %+v", policy)
	}
	if policy.Delay != 250*time.Millisecond || policy.MaxAttempts != 2 || policy.ResetAfter != 10*time.Second {
		t.Fatalf("expected yaml restart timing, got %+v", policy)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
listen_addr: :7000
locale: fr-FR
metrics_enabled: true
`)

	clearEnv(t)
	t.Setenv(EnvPrefix+"LISTEN_ADDR", ":7777")
	t.Setenv(EnvPrefix+"LOCALE", "es-ES")
	t.Setenv(EnvPrefix+"METRICS_ENABLED", "false")
	t.Setenv(EnvPrefix+"RESTART_MAX_ATTEMPTS", "9")
	t.Setenv(EnvPrefix+"RESTART_ON_NO_SPEECH", "not-a-bool")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != ":7777" {
		t.Fatalf("expected env override for listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.Locale != "es-ES" {
		t.Fatalf("expected env override for locale, got %q", cfg.Locale)
	}
	if cfg.MetricsEnabled {
		t.Fatal("expected env override to disable metrics")
	}
	if cfg.RestartMaxAttempts != 9 {
		t.Fatalf("expected env override for restart_max_attempts, got %d", cfg.RestartMaxAttempts)
	}
	if !cfg.RestartOnNoSpeech {
		t.Fatal("expected unparsable bool to keep the default")
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "dg-secret" {
		t.Fatalf("expected deepgram key from env, got %q", cfg.DeepgramAPIKey)
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load(writeConfig(t, "deepgram_api_key: should-be-ignored\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "" {
		t.Fatalf("expected empty deepgram key (yaml should be ignored), got %q", cfg.DeepgramAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "Deepgram") {
		t.Fatalf("expected only the Deepgram warning when key is missing, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestInvalidDurationsWarn(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"NO_SPEECH_TIMEOUT", "not-a-duration")
	t.Setenv(EnvPrefix+"RESTART_DELAY", "-1s")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 2 ||
		!strings.Contains(warnings[0], "no_speech_timeout") ||
		!strings.Contains(warnings[1], "restart_delay") {
		t.Fatalf("expected duration warnings, got: %v", warnings)
	}
	if cfg.ParsedNoSpeechTimeout() != 8*time.Second {
		t.Fatalf("expected fallback to 8s, got %v", cfg.ParsedNoSpeechTimeout())
	}
	if cfg.RestartPolicy().Delay != 100*time.Millisecond {
		t.Fatalf("expected fallback restart delay, got %v", cfg.RestartPolicy().Delay)
	}
}

func TestInvalidLogLevelWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "chatty")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "log_level") {
		t.Fatalf("expected log_level warning, got: %v", warnings)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("expected info fallback, got %v", cfg.SlogLevel())
	}
}

func TestEmptyLocaleFallsBack(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load(writeConfig(t, "locale: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Locale != "en-US" {
		t.Fatalf("expected en-US fallback, got %q", cfg.Locale)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.JournalPath != "data/doobs.db" {
		t.Fatalf("expected defaults when config file missing, got journal_path=%q", cfg.JournalPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	path := writeConfig(t, ":::invalid yaml")
	clearEnv(t)

	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}

func TestSampleRateCandidatesDefault(t *testing.T) {
	cfg := defaults()
	got := cfg.SampleRateCandidates()
	want := []int{16000, 48000, 44100, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected default sample rates: got=%v want=%v", got, want)
	}
}

func TestSampleRateCandidatesEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATE", "48000")
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATES", "44100,16000,48000,abc,32000")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := cfg.SampleRateCandidates()
	want := []int{48000, 44100, 16000, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected env sample rates: got=%v want=%v", got, want)
	}
}

func TestParseSampleRates(t *testing.T) {
	got := parseSampleRates(" 16000,  ,invalid,0,-1,44100,16000 ")
	want := []int{16000, 44100}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parsed sample rates: got=%v want=%v", got, want)
	}
}
