// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     cmd
// Description: Builds session configuration and backends from the config file
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/msto63/bell/internal/bell/capability"
	"github.com/msto63/bell/internal/bell/events"
	"github.com/msto63/bell/internal/bell/llm"
	"github.com/msto63/bell/internal/bell/session"
	"github.com/msto63/bell/internal/bell/stt"
	"github.com/msto63/bell/internal/bell/tts"
	"github.com/msto63/bell/internal/bell/vad"
	"github.com/msto63/bell/pkg/core/config"
	"github.com/msto63/bell/pkg/core/health"
)

const engineEnergyWebRTC = "energy+webrtc"

// sessionConfig maps the file configuration onto the session's
func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()

	s := cfg.Session
	sc.SilenceDuration = s.SilenceDuration.Duration
	sc.SpeechThreshold = s.SpeechThreshold
	sc.AutoPlayTTS = s.AutoPlayTTS && cfg.TTS.Engine != "none"
	sc.ContinuousMode = s.ContinuousMode
	sc.LanguageHint = s.LanguageHint
	sc.SystemPrompt = s.SystemPrompt
	sc.MaxTokens = s.MaxTokens
	sc.Temperature = s.Temperature
	sc.MinUtterance = s.MinUtterance.Duration
	sc.FrameQueueSize = s.FrameQueueSize

	sc.SampleRate = cfg.Audio.SampleRate
	sc.FrameDuration = cfg.Audio.FrameDuration.Duration

	sc.STTTimeout = cfg.STT.Timeout.Duration
	sc.LLMTimeout = cfg.LLM.Timeout.Duration
	sc.TTSTimeout = cfg.TTS.Timeout.Duration

	d := cfg.Detector
	det := vad.DefaultConfig()
	det.CalibrateOnStart = d.CalibrateOnStart
	det.CalibrationFrames = d.CalibrationFrames
	det.CalibrationTimeout = d.CalibrationTimeout.Duration
	det.CalibrationMultiplier = d.CalibrationMultiplier
	det.PlaybackMultiplier = d.PlaybackMultiplier
	det.MinThreshold = d.MinThreshold
	det.MaxThreshold = d.MaxThreshold
	det.PlaybackMaxThreshold = d.PlaybackMaxThreshold
	det.VoiceStartFrames = d.VoiceStartFrames
	det.VoiceEndFrames = d.VoiceEndFrames
	det.PlaybackVoiceStartFrames = d.PlaybackVoiceStartFrames
	det.PlaybackVoiceEndFrames = d.PlaybackVoiceEndFrames
	sc.Detector = det

	return sc
}

// backends holds the speech and language services named in the config
type backends struct {
	stt capability.Transcriber
	llm capability.Generator
	tts capability.Synthesizer
}

func buildBackends(cfg *config.Config) (*backends, error) {
	b := &backends{}

	sttCfg := stt.Config{
		BaseURL:    cfg.STT.BaseURL,
		Model:      cfg.STT.Model,
		SampleRate: cfg.Audio.SampleRate,
		Timeout:    cfg.STT.Timeout.Duration,
	}
	switch cfg.STT.Engine {
	case "whisper":
		b.stt = stt.NewWhisperHTTP(sttCfg)
	case "openai":
		b.stt = stt.NewOpenAICompatible(sttCfg)
	default:
		return nil, fmt.Errorf("unknown stt engine: %s", cfg.STT.Engine)
	}

	switch cfg.LLM.Engine {
	case "ollama":
		b.llm = llm.NewOllama(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout.Duration,
		})
	default:
		return nil, fmt.Errorf("unknown llm engine: %s", cfg.LLM.Engine)
	}

	switch cfg.TTS.Engine {
	case "piper":
		p, err := tts.NewPiper(tts.Config{
			BinaryPath: cfg.TTS.BinaryPath,
			ModelPath:  cfg.TTS.ModelPath,
			SampleRate: cfg.TTS.SampleRate,
		})
		if err != nil {
			return nil, err
		}
		b.tts = p
	case "none":
	default:
		return nil, fmt.Errorf("unknown tts engine: %s", cfg.TTS.Engine)
	}

	return b, nil
}

// detectorGate returns the WebRTC confirmation gate when the config asks for it
func detectorGate(cfg *config.Config) (vad.Gate, error) {
	if cfg.Detector.Engine != engineEnergyWebRTC {
		return nil, nil
	}
	gate, err := vad.NewWebRTCGate(cfg.Audio.SampleRate, cfg.Detector.WebRTCMode)
	if err != nil {
		return nil, err
	}
	return gate, nil
}

// transcriptPrinter writes the conversation to w as it happens
func transcriptPrinter(w io.Writer) events.Listener {
	return func(ev events.Event) {
		switch ev.Type {
		case events.TypeTranscribed:
			fmt.Fprintf(w, "you> %s\n", ev.Text)
		case events.TypeResponded:
			fmt.Fprintf(w, "bell> %s\n", strings.TrimSpace(ev.Text))
		case events.TypeError:
			fmt.Fprintf(w, "error: %v\n", ev.Err)
		}
	}
}

// readiness registers a check for every backend that can be probed
func readiness(b *backends) *health.Registry {
	reg := health.NewRegistry()
	named := map[string]interface{}{
		"stt": b.stt,
		"llm": b.llm,
		"tts": b.tts,
	}
	for name, dep := range named {
		if rc, ok := dep.(capability.ReadinessChecker); ok {
			reg.Register(health.ErrorCheck(name, rc.Ready))
		}
	}
	return reg
}
