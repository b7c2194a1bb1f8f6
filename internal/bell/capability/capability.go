// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     capability
// Description: Interfaces to the audio devices and the speech/language backends
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

// Package capability declares what a voice session needs from the outside
// world. Audio is always little-endian signed 16-bit mono PCM.
package capability

import "context"

// Transcription is the result of speech-to-text
type Transcription struct {
	Text       string
	Language   string
	Confidence float32
}

// GenerateOptions tunes a single language model call
type GenerateOptions struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// Speech is synthesized audio
type Speech struct {
	Audio      []byte
	SampleRate int
}

// Transcriber converts an utterance to text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (Transcription, error)
}

// Generator produces a reply for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Synthesizer converts text to audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Speech, error)
}

// Capture delivers microphone frames. onFrame is called from the capture
// goroutine and must not block.
type Capture interface {
	RequestPermission(ctx context.Context) (bool, error)
	StartCapture(onFrame func(frame []byte)) error
	StopCapture() error
}

// Player plays audio and blocks until playback finished or was stopped
type Player interface {
	Play(ctx context.Context, audio []byte, sampleRate int) error
	Stop() error
}

// ReadinessChecker is implemented by backends that can be probed before use
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}
