// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     stt
// Description: OpenAI-compatible transcription client (vLLM, Voxtral)
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
	"mime/multipart"
	"net/http"
	"time"

	"github.com/msto63/bell/internal/bell/audio"
	"github.com/msto63/bell/internal/bell/capability"
	"github.com/msto63/bell/pkg/core/logging"
)

// OpenAICompatible uploads audio as multipart form to /v1/audio/transcriptions
type OpenAICompatible struct {
	baseURL    string
	model      string
	sampleRate int
	client     *http.Client
	logger     *logging.Logger
}

// NewOpenAICompatible creates a new client
func NewOpenAICompatible(cfg Config) *OpenAICompatible {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	return &OpenAICompatible{
		baseURL:    trimBaseURL(cfg.BaseURL),
		model:      cfg.Model,
		sampleRate: cfg.SampleRate,
		client:     newHTTPClient(cfg.Timeout),
		logger:     logging.New("bell-stt-openai"),
	}
}

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float32 `json:"duration"`
}

// Transcribe uploads the utterance and returns the verbose_json text
func (c *OpenAICompatible) Transcribe(ctx context.Context, pcm []byte, languageHint string) (capability.Transcription, error) {
	wavData, err := audio.EncodeWAV(pcm, c.sampleRate)
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to create WAV: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", c.model},
		{"language", languageHint},
		{"response_format", "verbose_json"},
		{"temperature", "0"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return capability.Transcription{}, fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := c.baseURL + transcriptionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug("Sending transcription request", "url", url, "size", len(wavData))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return capability.Transcription{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp transcriptionResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return capability.Transcription{}, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("Transcription complete",
		"duration", time.Since(start),
		"text_length", len(apiResp.Text),
		"language", apiResp.Language,
	)

	lang := apiResp.Language
	if lang == "" {
		lang = languageHint
	}
	return capability.Transcription{Text: apiResp.Text, Language: lang, Confidence: 1.0}, nil
}

// Ready checks the server's /health endpoint
func (c *OpenAICompatible) Ready(ctx context.Context) error {
	return ready(ctx, c.client, c.baseURL, "/health")
}
