// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     stt
// Description: Whisper HTTP server client
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/msto63/bell/internal/bell/audio"
	"github.com/msto63/bell/internal/bell/capability"
	"github.com/msto63/bell/pkg/core/logging"
)

// WhisperHTTP posts WAV audio to a whisper.cpp style server
type WhisperHTTP struct {
	baseURL    string
	sampleRate int
	client     *http.Client
	logger     *logging.Logger
}

// NewWhisperHTTP creates a new Whisper HTTP client
func NewWhisperHTTP(cfg Config) *WhisperHTTP {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	return &WhisperHTTP{
		baseURL:    trimBaseURL(cfg.BaseURL),
		sampleRate: cfg.SampleRate,
		client:     newHTTPClient(cfg.Timeout),
		logger:     logging.New("bell-stt-whisper"),
	}
}

// Transcribe sends the PCM16 utterance as audio/wav with the language as query parameter
func (w *WhisperHTTP) Transcribe(ctx context.Context, pcm []byte, languageHint string) (capability.Transcription, error) {
	wavData, err := audio.EncodeWAV(pcm, w.sampleRate)
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to create WAV: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+transcriptionsPath, bytes.NewReader(wavData))
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	if languageHint != "" {
		q := req.URL.Query()
		q.Add("language", languageHint)
		req.URL.RawQuery = q.Encode()
	}

	w.logger.Debug("Sending transcription request", "url", req.URL.String(), "size", len(wavData))

	resp, err := w.client.Do(req)
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return capability.Transcription{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to decode response: %w", err)
	}

	lang := response.Language
	if lang == "" {
		lang = languageHint
	}
	// whisper.cpp reports no overall confidence
	return capability.Transcription{Text: response.Text, Language: lang, Confidence: 0.9}, nil
}

// Ready checks that the server answers
func (w *WhisperHTTP) Ready(ctx context.Context) error {
	return ready(ctx, w.client, w.baseURL, "/")
}
