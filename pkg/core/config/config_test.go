package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bellerr "github.com/msto63/bell/pkg/core/error"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"seconds", "30s", 30 * time.Second, false},
		{"milliseconds", "1500ms", 1500 * time.Millisecond, false},
		{"complex", "1m30s", 90 * time.Second, false},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && d.Duration != tt.expected {
				t.Errorf("UnmarshalText() = %v, want %v", d.Duration, tt.expected)
			}
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}

	if cfg.Session.SilenceDuration.Duration != 1500*time.Millisecond {
		t.Errorf("Session.SilenceDuration = %v, want 1.5s", cfg.Session.SilenceDuration.Duration)
	}
	if !cfg.Session.ContinuousMode || !cfg.Session.AutoPlayTTS {
		t.Error("ContinuousMode and AutoPlayTTS should default to true")
	}
	if cfg.Detector.VoiceEndFrames != 8 {
		t.Errorf("Detector.VoiceEndFrames = %v, want 8", cfg.Detector.VoiceEndFrames)
	}
	if cfg.Detector.MinThreshold != 0.006 || cfg.Detector.MaxThreshold != 0.020 {
		t.Errorf("threshold bounds = [%v, %v], want [0.006, 0.020]", cfg.Detector.MinThreshold, cfg.Detector.MaxThreshold)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/bell.toml")
	if err == nil {
		t.Error("Load() expected error for non-existent file")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bell.toml")
	content := `
[general]
log_level = "debug"

[session]
silence_duration = "2s"
continuous_mode = false
system_prompt = "Answer briefly."

[detector]
engine = "energy+webrtc"
webrtc_mode = 3

[llm]
model = "llama3.2:3b"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.General.LogLevel != "debug" {
		t.Errorf("General.LogLevel = %v, want debug", cfg.General.LogLevel)
	}
	if cfg.Session.SilenceDuration.Duration != 2*time.Second {
		t.Errorf("Session.SilenceDuration = %v, want 2s", cfg.Session.SilenceDuration.Duration)
	}
	if cfg.Session.ContinuousMode {
		t.Error("Session.ContinuousMode = true, want false")
	}
	if !cfg.Session.AutoPlayTTS {
		t.Error("Session.AutoPlayTTS should keep its default")
	}
	if cfg.Detector.Engine != "energy+webrtc" || cfg.Detector.WebRTCMode != 3 {
		t.Errorf("Detector = %+v", cfg.Detector)
	}
	if cfg.LLM.Model != "llama3.2:3b" {
		t.Errorf("LLM.Model = %v, want llama3.2:3b", cfg.LLM.Model)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %v, want 16000 (default)", cfg.Audio.SampleRate)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bell.yaml")
	content := `
session:
  silence_duration: 800ms
  max_tokens: 256
audio:
  sample_rate: 48000
journal:
  enabled: true
  path: /tmp/bell-test.db
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Session.SilenceDuration.Duration != 800*time.Millisecond {
		t.Errorf("Session.SilenceDuration = %v, want 800ms", cfg.Session.SilenceDuration.Duration)
	}
	if cfg.Session.MaxTokens != 256 {
		t.Errorf("Session.MaxTokens = %v, want 256", cfg.Session.MaxTokens)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("Audio.SampleRate = %v, want 48000", cfg.Audio.SampleRate)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/bell-test.db" {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"threshold above one", func(c *Config) { c.Session.SpeechThreshold = 1.5 }, "SpeechThreshold"},
		{"zero silence", func(c *Config) { c.Session.SilenceDuration = Duration{} }, "SilenceDuration"},
		{"unsupported sample rate", func(c *Config) { c.Audio.SampleRate = 44100 }, "SampleRate"},
		{"max below min", func(c *Config) { c.Detector.MaxThreshold = 0.001 }, "MaxThreshold"},
		{"calibration multiplier too high", func(c *Config) { c.Detector.CalibrationMultiplier = 9 }, "CalibrationMultiplier"},
		{"piper without model", func(c *Config) { c.TTS.Engine = "piper"; c.TTS.BinaryPath = "/usr/bin/piper" }, "ModelPath"},
		{"journal without path", func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" }, "Journal.Path"},
		{"bad listen address", func(c *Config) { c.Metrics.Listen = "not an address" }, "Listen"},
		{"unknown detector engine", func(c *Config) { c.Detector.Engine = "silero" }, "Engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !bellerr.HasCode(err, bellerr.CodeInvalidConfig) {
				t.Errorf("error code = %v, want INVALID_CONFIG", bellerr.GetCode(err))
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_expandEnvVars(t *testing.T) {
	t.Setenv("BELL_TEST_DATA", "/var/lib/bell")

	cfg := Default()
	cfg.Journal.Path = "$BELL_TEST_DATA/journal.db"
	cfg.expandEnvVars()

	if cfg.Journal.Path != "/var/lib/bell/journal.db" {
		t.Errorf("Journal.Path = %v, want /var/lib/bell/journal.db", cfg.Journal.Path)
	}
}

func TestLoadFromEnv_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("HOME", t.TempDir())

	originalWd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(originalWd)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.General.Name != "bell" {
		t.Errorf("General.Name = %v, want bell", cfg.General.Name)
	}
}

func TestLoadFromEnv_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, []byte("[session]\nmax_tokens = 42\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Session.MaxTokens != 42 {
		t.Errorf("Session.MaxTokens = %v, want 42", cfg.Session.MaxTokens)
	}
}
