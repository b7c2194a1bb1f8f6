// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     config
// Description: TOML/YAML configuration with defaults and validation
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	bellerr "github.com/msto63/bell/pkg/core/error"
)

// EnvConfigPath names the environment variable consulted by LoadFromEnv
const EnvConfigPath = "BELL_CONFIG"

// Config holds the complete application configuration
type Config struct {
	General  GeneralConfig  `toml:"general" yaml:"general"`
	Session  SessionConfig  `toml:"session" yaml:"session"`
	Detector DetectorConfig `toml:"detector" yaml:"detector"`
	Audio    AudioConfig    `toml:"audio" yaml:"audio"`
	STT      STTConfig      `toml:"stt" yaml:"stt"`
	LLM      LLMConfig      `toml:"llm" yaml:"llm"`
	TTS      TTSConfig      `toml:"tts" yaml:"tts"`
	Events   EventsConfig   `toml:"events" yaml:"events"`
	Journal  JournalConfig  `toml:"journal" yaml:"journal"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
	Hotkey   HotkeyConfig   `toml:"hotkey" yaml:"hotkey"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	Name      string `toml:"name" yaml:"name"`
	DataDir   string `toml:"data_dir" yaml:"data_dir"`
	LogLevel  string `toml:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `toml:"log_format" yaml:"log_format" validate:"oneof=json text"`
}

// SessionConfig holds the turn-taking parameters
type SessionConfig struct {
	SilenceDuration Duration `toml:"silence_duration" yaml:"silence_duration" validate:"gt=0"`
	SpeechThreshold float64  `toml:"speech_threshold" yaml:"speech_threshold" validate:"gte=0,lte=1"`
	AutoPlayTTS     bool     `toml:"auto_play_tts" yaml:"auto_play_tts"`
	ContinuousMode  bool     `toml:"continuous_mode" yaml:"continuous_mode"`
	LanguageHint    string   `toml:"language_hint" yaml:"language_hint"`
	SystemPrompt    string   `toml:"system_prompt" yaml:"system_prompt"`
	MaxTokens       int      `toml:"max_tokens" yaml:"max_tokens" validate:"gt=0"`
	Temperature     float64  `toml:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MinUtterance    Duration `toml:"min_utterance" yaml:"min_utterance" validate:"gte=0"`
	FrameQueueSize  int      `toml:"frame_queue_size" yaml:"frame_queue_size" validate:"gt=0"`
}

// DetectorConfig holds energy detector tuning
type DetectorConfig struct {
	Engine                   string   `toml:"engine" yaml:"engine" validate:"oneof=energy energy+webrtc"`
	WebRTCMode               int      `toml:"webrtc_mode" yaml:"webrtc_mode" validate:"gte=0,lte=3"`
	CalibrateOnStart         bool     `toml:"calibrate_on_start" yaml:"calibrate_on_start"`
	CalibrationFrames        int      `toml:"calibration_frames" yaml:"calibration_frames" validate:"gt=0"`
	CalibrationTimeout       Duration `toml:"calibration_timeout" yaml:"calibration_timeout" validate:"gt=0"`
	CalibrationMultiplier    float64  `toml:"calibration_multiplier" yaml:"calibration_multiplier" validate:"gte=1.5,lte=4"`
	PlaybackMultiplier       float64  `toml:"playback_multiplier" yaml:"playback_multiplier" validate:"gte=2,lte=5"`
	MinThreshold             float64  `toml:"min_threshold" yaml:"min_threshold" validate:"gt=0"`
	MaxThreshold             float64  `toml:"max_threshold" yaml:"max_threshold" validate:"gtfield=MinThreshold"`
	PlaybackMaxThreshold     float64  `toml:"playback_max_threshold" yaml:"playback_max_threshold" validate:"gt=0,lte=1"`
	VoiceStartFrames         int      `toml:"voice_start_frames" yaml:"voice_start_frames" validate:"gt=0"`
	VoiceEndFrames           int      `toml:"voice_end_frames" yaml:"voice_end_frames" validate:"gt=0"`
	PlaybackVoiceStartFrames int      `toml:"playback_voice_start_frames" yaml:"playback_voice_start_frames" validate:"gt=0"`
	PlaybackVoiceEndFrames   int      `toml:"playback_voice_end_frames" yaml:"playback_voice_end_frames" validate:"gt=0"`
}

// AudioConfig holds capture settings
type AudioConfig struct {
	SampleRate    int      `toml:"sample_rate" yaml:"sample_rate" validate:"oneof=8000 16000 32000 48000"`
	FrameDuration Duration `toml:"frame_duration" yaml:"frame_duration" validate:"gt=0"`
	InputDevice   string   `toml:"input_device" yaml:"input_device"`
}

// STTConfig holds speech-to-text backend settings
type STTConfig struct {
	Engine  string   `toml:"engine" yaml:"engine" validate:"oneof=whisper openai"`
	BaseURL string   `toml:"base_url" yaml:"base_url" validate:"required,url"`
	Model   string   `toml:"model" yaml:"model"`
	Timeout Duration `toml:"timeout" yaml:"timeout" validate:"gt=0"`
}

// LLMConfig holds language model backend settings
type LLMConfig struct {
	Engine  string   `toml:"engine" yaml:"engine" validate:"oneof=ollama"`
	BaseURL string   `toml:"base_url" yaml:"base_url" validate:"required,url"`
	Model   string   `toml:"model" yaml:"model" validate:"required"`
	Timeout Duration `toml:"timeout" yaml:"timeout" validate:"gt=0"`
}

// TTSConfig holds text-to-speech backend settings
type TTSConfig struct {
	Engine     string   `toml:"engine" yaml:"engine" validate:"oneof=piper none"`
	BinaryPath string   `toml:"binary_path" yaml:"binary_path" validate:"required_if=Engine piper"`
	ModelPath  string   `toml:"model_path" yaml:"model_path" validate:"required_if=Engine piper"`
	SampleRate int      `toml:"sample_rate" yaml:"sample_rate" validate:"gt=0"`
	Timeout    Duration `toml:"timeout" yaml:"timeout" validate:"gt=0"`
}

// EventsConfig holds the websocket event stream settings
type EventsConfig struct {
	Listen string `toml:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// JournalConfig holds the SQLite event journal settings
type JournalConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path" validate:"required_if=Enabled true"`
}

// MetricsConfig holds the Prometheus exporter settings
type MetricsConfig struct {
	Listen string `toml:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// HotkeyConfig holds the push-to-talk hotkey settings
type HotkeyConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Key     string `toml:"key" yaml:"key" validate:"oneof=space enter m t"`
}

// Duration wraps time.Duration for TOML and YAML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a duration scalar
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalYAML formats the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		General: GeneralConfig{
			Name:      "bell",
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Session: SessionConfig{
			SilenceDuration: Duration{1500 * time.Millisecond},
			SpeechThreshold: 0.1,
			AutoPlayTTS:     true,
			ContinuousMode:  true,
			LanguageHint:    "en",
			MaxTokens:       100,
			Temperature:     0.7,
			MinUtterance:    Duration{500 * time.Millisecond},
			FrameQueueSize:  64,
		},
		Detector: DetectorConfig{
			Engine:                   "energy",
			WebRTCMode:               2,
			CalibrateOnStart:         true,
			CalibrationFrames:        20,
			CalibrationTimeout:       Duration{5 * time.Second},
			CalibrationMultiplier:    2.5,
			PlaybackMultiplier:       3.0,
			MinThreshold:             0.006,
			MaxThreshold:             0.020,
			PlaybackMaxThreshold:     0.1,
			VoiceStartFrames:         1,
			VoiceEndFrames:           8,
			PlaybackVoiceStartFrames: 10,
			PlaybackVoiceEndFrames:   5,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			FrameDuration: Duration{100 * time.Millisecond},
			InputDevice:   "default",
		},
		STT: STTConfig{
			Engine:  "whisper",
			BaseURL: "http://localhost:8178",
			Timeout: Duration{30 * time.Second},
		},
		LLM: LLMConfig{
			Engine:  "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "mistral:7b",
			Timeout: Duration{120 * time.Second},
		},
		TTS: TTSConfig{
			Engine:     "none",
			SampleRate: 22050,
			Timeout:    Duration{30 * time.Second},
		},
		Journal: JournalConfig{
			Path: "./data/bell.db",
		},
		Hotkey: HotkeyConfig{
			Key: "space",
		},
	}
}

// Load loads configuration from a TOML or YAML file (chosen by extension)
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration from BELL_CONFIG or the default locations.
// Without any config file the built-in defaults are returned.
func LoadFromEnv() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return Load(path)
	}

	home, _ := os.UserHomeDir()
	defaultPaths := []string{
		"./configs/bell.toml",
		"./bell.toml",
		"./bell.yaml",
		filepath.Join(home, ".config", "bell", "config.toml"),
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}

	cfg := Default()
	return &cfg, nil
}

// Validate checks the configuration against its constraints
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
		} else {
			msgs = append(msgs, err.Error())
		}
		return bellerr.Newf(bellerr.CodeInvalidConfig, "invalid configuration: %s", strings.Join(msgs, "; ")).
			WithOperation("config.Validate")
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	return v
}

// applyDefaults fills values a file explicitly zeroed where zero is meaningless
func (c *Config) applyDefaults() {
	def := Default()

	if c.General.LogLevel == "" {
		c.General.LogLevel = def.General.LogLevel
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = def.General.LogFormat
	}
	if c.Session.LanguageHint == "" {
		c.Session.LanguageHint = def.Session.LanguageHint
	}
	if c.Session.FrameQueueSize == 0 {
		c.Session.FrameQueueSize = def.Session.FrameQueueSize
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = def.Audio.SampleRate
	}
	if c.Audio.FrameDuration.Duration == 0 {
		c.Audio.FrameDuration = def.Audio.FrameDuration
	}
	if c.Detector.Engine == "" {
		c.Detector.Engine = def.Detector.Engine
	}
	if c.TTS.Engine == "" {
		c.TTS.Engine = def.TTS.Engine
	}
	if c.Hotkey.Key == "" {
		c.Hotkey.Key = def.Hotkey.Key
	}
}

// expandEnvVars expands environment variables in path-like values
func (c *Config) expandEnvVars() {
	c.General.DataDir = os.ExpandEnv(c.General.DataDir)
	c.Journal.Path = os.ExpandEnv(c.Journal.Path)
	c.TTS.BinaryPath = os.ExpandEnv(c.TTS.BinaryPath)
	c.TTS.ModelPath = os.ExpandEnv(c.TTS.ModelPath)
	c.STT.BaseURL = os.ExpandEnv(c.STT.BaseURL)
	c.LLM.BaseURL = os.ExpandEnv(c.LLM.BaseURL)
}
