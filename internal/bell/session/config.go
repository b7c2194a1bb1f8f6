// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     session
// Description: Session configuration
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/msto63/bell/internal/bell/vad"
	bellerr "github.com/msto63/bell/pkg/core/error"
)

// Config holds the turn-taking parameters of one session
type Config struct {
	// SilenceDuration of trailing silence that ends an utterance
	SilenceDuration time.Duration `validate:"gt=0"`

	// SpeechThreshold is the detector threshold before calibration
	SpeechThreshold float64 `validate:"gte=0,lte=1"`

	AutoPlayTTS    bool
	ContinuousMode bool

	LanguageHint string
	SystemPrompt string
	MaxTokens    int     `validate:"gt=0"`
	Temperature  float64 `validate:"gte=0,lte=2"`

	SampleRate    int           `validate:"gt=0"`
	FrameDuration time.Duration `validate:"gt=0"`

	// MinUtterance is the shortest speech that is sent to STT
	MinUtterance time.Duration `validate:"gte=0"`

	FrameQueueSize int `validate:"gt=0"`

	// Per-stage timeouts; zero disables the timeout
	STTTimeout time.Duration `validate:"gte=0"`
	LLMTimeout time.Duration `validate:"gte=0"`
	TTSTimeout time.Duration `validate:"gte=0"`

	// ReadinessTimeout bounds the backend probe in Start
	ReadinessTimeout time.Duration `validate:"gte=0"`

	// Detector tuning; SampleRate, FrameDuration and InitialThreshold are
	// taken from the fields above. A zero value means vad.DefaultConfig.
	Detector vad.Config `validate:"-"`
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		SilenceDuration:  1500 * time.Millisecond,
		SpeechThreshold:  0.1,
		AutoPlayTTS:      true,
		ContinuousMode:   true,
		LanguageHint:     "en",
		MaxTokens:        100,
		Temperature:      0.7,
		SampleRate:       16000,
		FrameDuration:    100 * time.Millisecond,
		MinUtterance:     500 * time.Millisecond,
		FrameQueueSize:   64,
		STTTimeout:       30 * time.Second,
		LLMTimeout:       120 * time.Second,
		TTSTimeout:       30 * time.Second,
		ReadinessTimeout: 5 * time.Second,
		Detector:         vad.DefaultConfig(),
	}
}

// Validate checks the configuration and returns an INVALID_CONFIG error
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
		} else {
			msgs = append(msgs, err.Error())
		}
		return bellerr.Newf(bellerr.CodeInvalidConfig, "invalid session configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func (c Config) detectorConfig() vad.Config {
	d := c.Detector
	if d == (vad.Config{}) {
		d = vad.DefaultConfig()
	}
	d.SampleRate = c.SampleRate
	d.FrameDuration = c.FrameDuration
	d.InitialThreshold = c.SpeechThreshold
	return d
}
