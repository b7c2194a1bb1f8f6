// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     session
// Description: STT -> LLM -> TTS pipeline for one turn
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/msto63/bell/internal/bell/capability"
	"github.com/msto63/bell/internal/bell/events"
	"github.com/msto63/bell/internal/bell/metrics"
	"github.com/msto63/bell/internal/bell/vad"
	bellerr "github.com/msto63/bell/pkg/core/error"
	"github.com/msto63/bell/pkg/core/logging"
)

// errTurnCancelled is returned when the session stopped while a stage was in flight
var errTurnCancelled = errors.New("turn cancelled")

// Turn is the outcome of one processed utterance
type Turn struct {
	ID         string
	Transcript string
	Response   string

	// SpeechDetected is false when STT returned no text; nothing else ran
	SpeechDetected bool

	// SynthesizedAudio is the PCM16 reply audio, nil without TTS
	SynthesizedAudio []byte
	SampleRate       int

	// Spoken is set when the reply was played to the end
	Spoken bool
}

// Orchestrator runs a captured utterance through the capability pipeline
type Orchestrator struct {
	cfg      Config
	stt      capability.Transcriber
	llm      capability.Generator
	tts      capability.Synthesizer
	player   capability.Player
	sm       *StateMachine
	detector *vad.Detector
	metrics  *metrics.Metrics
	logger   *logging.Logger

	emit  func(events.Event)
	alive func() bool
}

// ProcessTurn transcribes audio, generates a reply and, if enabled, speaks it.
// Events are emitted as each stage completes. After every stage the session's
// liveness is checked; a stopped session discards the result.
func (o *Orchestrator) ProcessTurn(ctx context.Context, turnID string, audio []byte) (Turn, error) {
	turn := Turn{ID: turnID}
	log := o.logger.With("turn_id", turnID)

	o.emit(events.Event{Type: events.TypeProcessing, TurnID: turnID})

	sttCtx, cancel := stageContext(ctx, o.cfg.STTTimeout)
	start := time.Now()
	tr, err := o.stt.Transcribe(sttCtx, audio, o.cfg.LanguageHint)
	cancel()
	o.metrics.ObserveStage(metrics.StageSTT, time.Since(start), err)
	if !o.alive() {
		return turn, errTurnCancelled
	}
	if err != nil {
		return turn, wrapCode(err, bellerr.CodeProcessingFailed, "transcription failed", "stt")
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		log.Debug("No speech detected in utterance", "bytes", len(audio))
		return turn, nil
	}
	turn.SpeechDetected = true
	turn.Transcript = text
	o.emit(events.Event{Type: events.TypeTranscribed, TurnID: turnID, Text: text})

	llmCtx, cancel := stageContext(ctx, o.cfg.LLMTimeout)
	start = time.Now()
	reply, err := o.llm.Generate(llmCtx, text, capability.GenerateOptions{
		MaxTokens:    o.cfg.MaxTokens,
		Temperature:  o.cfg.Temperature,
		SystemPrompt: o.cfg.SystemPrompt,
	})
	cancel()
	o.metrics.ObserveStage(metrics.StageLLM, time.Since(start), err)
	if !o.alive() {
		return turn, errTurnCancelled
	}
	if err != nil {
		return turn, wrapCode(err, bellerr.CodeProcessingFailed, "generation failed", "llm")
	}

	turn.Response = strings.TrimSpace(reply)
	o.emit(events.Event{Type: events.TypeResponded, TurnID: turnID, Text: turn.Response})

	if o.cfg.AutoPlayTTS && turn.Response != "" {
		turn.Spoken = o.speak(ctx, log, &turn)
		if !o.alive() {
			return turn, errTurnCancelled
		}
	}

	o.emit(events.Event{
		Type:       events.TypeTurnCompleted,
		TurnID:     turnID,
		Transcript: turn.Transcript,
		Response:   turn.Response,
	})
	return turn, nil
}

// speak synthesizes and plays the reply. Failures are logged, never returned.
func (o *Orchestrator) speak(ctx context.Context, log *logging.Logger, turn *Turn) bool {
	ttsCtx, cancel := stageContext(ctx, o.cfg.TTSTimeout)
	start := time.Now()
	speech, err := o.tts.Synthesize(ttsCtx, turn.Response)
	cancel()
	o.metrics.ObserveStage(metrics.StageTTS, time.Since(start), err)
	if !o.alive() {
		return false
	}
	if err != nil {
		log.LogError(wrapCode(err, bellerr.CodePlaybackFailed, "synthesis failed", "tts"))
		return false
	}
	turn.SynthesizedAudio = speech.Audio
	turn.SampleRate = speech.SampleRate

	if !o.sm.Transition(StateSpeaking) {
		return false
	}
	o.emit(events.Event{Type: events.TypeSpeaking, TurnID: turn.ID})
	o.detector.NotifyPlaybackStarted()

	start = time.Now()
	err = o.player.Play(ctx, speech.Audio, speech.SampleRate)
	o.metrics.ObserveStage(metrics.StagePlayback, time.Since(start), err)
	if err != nil {
		if o.alive() {
			log.LogError(wrapCode(err, bellerr.CodePlaybackFailed, "playback failed", "play"))
		}
		return false
	}
	return true
}

func stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
